// Package sensing describes the health-tracking subsystem the daemon reads
// from: a connection handshake, trackers and their callbacks.
package sensing

import (
	"fmt"

	"codeberg.org/iclab/ppglogger/internal/errors"
)

// TrackerType selects a sensor stream.
type TrackerType string

const PPGContinuous TrackerType = "ppg_continuous"

// PPGType selects one PPG wavelength.
type PPGType string

const (
	PPGGreen PPGType = "green"
	PPGRed   PPGType = "red"
	PPGIR    PPGType = "ir"
)

// ParsePPGTypes maps channel names onto PPG types.
func ParsePPGTypes(names []string) ([]PPGType, error) {
	out := make([]PPGType, 0, len(names))
	for _, n := range names {
		switch t := PPGType(n); t {
		case PPGGreen, PPGRed, PPGIR:
			out = append(out, t)
		default:
			return nil, errors.New().WithMessage(errors.ErrInvalidArgument, fmt.Sprintf("unknown PPG channel %q", n))
		}
	}
	return out, nil
}

// ValueKey names one value inside a DataPoint.
type ValueKey string

const (
	KeyGreen       ValueKey = "ppg_green"
	KeyGreenStatus ValueKey = "green_status"
	KeyRed         ValueKey = "ppg_red"
	KeyRedStatus   ValueKey = "red_status"
	KeyIR          ValueKey = "ppg_ir"
	KeyIRStatus    ValueKey = "ir_status"
)

// DataPoint is one raw sample. Keys for channels the tracker was not asked
// for are absent.
type DataPoint struct {
	Timestamp int64
	Values    map[ValueKey]int32
}

// Value returns the value for key and whether it was reported.
func (p DataPoint) Value(key ValueKey) (int32, bool) {
	v, ok := p.Values[key]
	return v, ok
}

// TrackerError is the error kind a tracker reports on its event listener.
type TrackerError int

const (
	TrackerErrorUnknown TrackerError = iota
	TrackerErrorPermission
	TrackerErrorSDKPolicy
)

func (e TrackerError) String() string {
	switch e {
	case TrackerErrorPermission:
		return "permission"
	case TrackerErrorSDKPolicy:
		return "sdk_policy"
	default:
		return "unknown"
	}
}

// FailureReason classifies a failed connection handshake.
type FailureReason int

const (
	FailureTransport FailureReason = iota
	FailurePermission
	FailurePolicy
)

func (r FailureReason) String() string {
	switch r {
	case FailurePermission:
		return "permission"
	case FailurePolicy:
		return "policy"
	default:
		return "transport"
	}
}

// ConnectionError is passed to OnConnectionFailed.
type ConnectionError struct {
	Reason FailureReason
	Detail string
}

func (e *ConnectionError) Error() string {
	if e.Detail == "" {
		return "connection failed: " + e.Reason.String()
	}
	return fmt.Sprintf("connection failed: %s: %s", e.Reason, e.Detail)
}

// ConnectionListener receives handshake results. Callbacks arrive on
// subsystem goroutines.
type ConnectionListener interface {
	OnConnectionSuccess()
	OnConnectionEnded()
	OnConnectionFailed(err error)
}

// TrackerEventListener receives tracker events on subsystem goroutines.
type TrackerEventListener interface {
	OnDataReceived(points []DataPoint)
	OnError(err TrackerError)
	OnFlushCompleted()
}

// Tracker is a handle to one sensor stream.
type Tracker interface {
	// SetEventListener subscribes l. A tracker holds at most one listener.
	SetEventListener(l TrackerEventListener) error
	UnsetEventListener()
}

// Service is the health-tracking subsystem client.
type Service interface {
	// Connect starts the handshake and returns immediately.
	Connect(l ConnectionListener)
	Disconnect()
	Tracker(t TrackerType, ppgTypes ...PPGType) (Tracker, error)
}
