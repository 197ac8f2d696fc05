package store

import "codeberg.org/iclab/ppglogger/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrStoreInit
	ErrStorageClose = errors.ErrStoreClose

	// Record Errors
	ErrWrite  = errors.ErrStoreWrite
	ErrRead   = errors.ErrStoreRead
	ErrDelete = errors.ErrStoreDelete
)

var errFactory = errors.New()

// phaseError is attached as data to schema and lifecycle failures.
type phaseError struct {
	Phase string
	Path  string `json:",omitempty"`
	Error string
}
