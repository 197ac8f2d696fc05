// Package collector turns tracker subscriptions into persisted records.
package collector

import (
	"sync"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/metrics"
	"codeberg.org/iclab/ppglogger/internal/sensing"
)

var errFactory = errors.New()

// Collector owns one tracker subscription.
type Collector interface {
	Name() string
	// Start attaches the listener. Calling it while attached is a no-op.
	Start() error
	// Stop detaches the listener. Calling it while detached is a no-op.
	Stop() error
	// OnData handles one batch delivered by the tracker.
	OnData(points []sensing.DataPoint)
}

// TrackerSource hands out trackers while connected.
type TrackerSource interface {
	Tracker(typ sensing.TrackerType, ppgTypes ...sensing.PPGType) (sensing.Tracker, error)
}

// tracker is the subscription half shared by every Collector variant.
// The variant supplies OnDataReceived through listener.
type tracker struct {
	name     string
	handle   sensing.Tracker
	listener sensing.TrackerEventListener
	log      logger.Logger
	metrics  metrics.Recorder

	mu       sync.Mutex
	attached bool
}

func newTracker(name string, src TrackerSource, typ sensing.TrackerType, ppgTypes []sensing.PPGType,
	log logger.Logger, rec metrics.Recorder,
) (*tracker, error) {
	handle, err := src.Tracker(typ, ppgTypes...)
	if err != nil {
		return nil, err
	}
	return &tracker{
		name:    name,
		handle:  handle,
		log:     log,
		metrics: rec,
	}, nil
}

func (t *tracker) Name() string {
	return t.name
}

func (t *tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.attached {
		return nil
	}
	if err := t.handle.SetEventListener(t.listener); err != nil {
		t.log.ErrorWithCode(err).Msg("Failed to attach tracker listener")
		return err
	}
	t.attached = true

	t.log.Info().Msg("Collector started")
	return nil
}

func (t *tracker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.attached {
		return nil
	}
	t.handle.UnsetEventListener()
	t.attached = false

	t.log.Info().Msg("Collector stopped")
	return nil
}

// Attached reports whether the listener is set.
func (t *tracker) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attached
}

// OnError logs and counts a subscription error. The subscription stays attached.
func (t *tracker) OnError(e sensing.TrackerError) {
	err := subscriptionError(e)
	t.metrics.SubscriptionError(t.name, e.String())
	t.log.ErrorWithCode(err).Str("kind", e.String()).Msg("Tracker reported an error")
}

func (t *tracker) OnFlushCompleted() {
	t.metrics.FlushCompleted(t.name)
	t.log.Debug().Msg("Tracker flush completed")
}

func subscriptionError(e sensing.TrackerError) errors.Error {
	switch e {
	case sensing.TrackerErrorPermission:
		return errFactory.New(errors.ErrSubscriptionPermission)
	case sensing.TrackerErrorSDKPolicy:
		return errFactory.New(errors.ErrSubscriptionPolicy)
	default:
		return errFactory.New(errors.ErrSubscriptionUnknown)
	}
}
