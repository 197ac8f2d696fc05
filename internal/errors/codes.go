package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Connection failures
	ErrConnectionPermission ErrorCode = "connection_permission_denied"
	ErrConnectionPolicy     ErrorCode = "connection_policy_rejected"
	ErrConnectionTransport  ErrorCode = "connection_transport_failed"
	ErrConnectionTimeout    ErrorCode = "connection_timeout"
	ErrNotConnected         ErrorCode = "not_connected"

	// Subscription errors
	ErrSubscriptionPermission ErrorCode = "subscription_permission_denied"
	ErrSubscriptionPolicy     ErrorCode = "subscription_policy_rejected"
	ErrSubscriptionUnknown    ErrorCode = "subscription_unknown"
	ErrListenerAlreadySet     ErrorCode = "listener_already_set"

	// Store failures
	ErrStoreWrite  ErrorCode = "store_write_failed"
	ErrStoreRead   ErrorCode = "store_read_failed"
	ErrStoreDelete ErrorCode = "store_delete_failed"
	ErrStoreInit   ErrorCode = "store_init_failed"
	ErrStoreClose  ErrorCode = "store_close_failed"

	// Service and binding errors
	ErrClaimHeld      ErrorCode = "claim_held"
	ErrNotBound       ErrorCode = "not_bound"
	ErrServiceStopped ErrorCode = "service_stopped"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:               "Internal error occurred",
	ErrInvalidArgument:        "Invalid argument provided",
	ErrInvalidConfig:          "Invalid configuration",
	ErrReadConfig:             "Failed to read config file",
	ErrBindFlags:              "Failed to bind flags",
	ErrInvalidLogLevel:        "Invalid log level",
	ErrInitFailed:             "Initialization failed",
	ErrShutdownFailed:         "Shutdown failed",
	ErrConnectionPermission:   "Connection to sensing service denied: missing permission",
	ErrConnectionPolicy:       "Connection to sensing service rejected by SDK policy",
	ErrConnectionTransport:    "Connection to sensing service failed",
	ErrConnectionTimeout:      "Connection to sensing service timed out",
	ErrNotConnected:           "Sensing service is not connected",
	ErrSubscriptionPermission: "Tracker error: permission denied",
	ErrSubscriptionPolicy:     "Tracker error: SDK policy rejected",
	ErrSubscriptionUnknown:    "Tracker error: unknown",
	ErrListenerAlreadySet:     "Tracker already has an event listener",
	ErrStoreWrite:             "Failed to write records",
	ErrStoreRead:              "Failed to read records",
	ErrStoreDelete:            "Failed to delete records",
	ErrStoreInit:              "Failed to initialize record store",
	ErrStoreClose:             "Failed to close record store",
	ErrClaimHeld:              "Background execution claim is held by another process",
	ErrNotBound:               "Not bound to the collection service",
	ErrServiceStopped:         "Collection service host is closed",
	ErrOperationFailed:        "Operation failed",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
