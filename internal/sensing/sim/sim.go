// Package sim is an in-process health-tracking service producing synthetic
// PPG batches. Connection failures can be injected for testing.
package sim

import (
	"math"
	"sync"
	"time"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/sensing"
)

// Sample spacing of a 25 Hz PPG stream.
const sampleSpacingMs = 40

var errFactory = errors.New()

type Config struct {
	// BatchInterval between synthetic batches. Zero disables emission;
	// batches are then only delivered through Tracker.Deliver.
	BatchInterval time.Duration
	BatchSize     int
	ConnectDelay  time.Duration
	// FailConnect makes every handshake fail: "permission", "policy" or
	// "transport". Empty means succeed.
	FailConnect string
	// ManualConnect leaves handshakes pending until Succeed or Fail is called.
	ManualConnect bool
}

// Service implements sensing.Service.
type Service struct {
	cfg Config
	log logger.Logger
	now func() time.Time

	mu        sync.Mutex
	listener  sensing.ConnectionListener
	pending   *time.Timer
	connected bool
	trackers  []*Tracker
}

var _ sensing.Service = (*Service)(nil)

func New(cfg Config, log logger.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &Service{cfg: cfg, log: log, now: time.Now}
}

func (s *Service) Connect(l sensing.ConnectionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.listener = l

	if s.cfg.ManualConnect {
		return
	}

	s.pending = time.AfterFunc(s.cfg.ConnectDelay, func() {
		if s.cfg.FailConnect != "" {
			s.Fail(reasonOf(s.cfg.FailConnect))
			return
		}
		s.Succeed()
	})
}

// Succeed completes the pending handshake.
func (s *Service) Succeed() {
	s.mu.Lock()
	l := s.listener
	s.pending = nil
	if l != nil {
		s.connected = true
	}
	s.mu.Unlock()

	if l != nil {
		s.log.Debug().Msg("Simulated handshake succeeded")
		l.OnConnectionSuccess()
	}
}

// Fail fails the pending handshake with reason.
func (s *Service) Fail(reason sensing.FailureReason) {
	s.mu.Lock()
	l := s.listener
	s.pending = nil
	s.connected = false
	s.mu.Unlock()

	if l != nil {
		s.log.Debug().Str("reason", reason.String()).Msg("Simulated handshake failed")
		l.OnConnectionFailed(&sensing.ConnectionError{Reason: reason, Detail: "simulated"})
	}
}

// End drops an established connection from the service side.
func (s *Service) End() {
	s.mu.Lock()
	l := s.listener
	s.connected = false
	trackers := s.trackers
	s.trackers = nil
	s.mu.Unlock()

	for _, t := range trackers {
		t.UnsetEventListener()
	}
	if l != nil {
		l.OnConnectionEnded()
	}
}

func (s *Service) Disconnect() {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.listener = nil
	s.connected = false
	trackers := s.trackers
	s.trackers = nil
	s.mu.Unlock()

	for _, t := range trackers {
		t.UnsetEventListener()
	}
}

func (s *Service) Tracker(typ sensing.TrackerType, ppgTypes ...sensing.PPGType) (sensing.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, errFactory.New(errors.ErrNotConnected)
	}
	if typ != sensing.PPGContinuous {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "unsupported tracker type "+string(typ))
	}
	if len(ppgTypes) == 0 {
		ppgTypes = []sensing.PPGType{sensing.PPGGreen, sensing.PPGRed, sensing.PPGIR}
	}

	t := &Tracker{svc: s, types: ppgTypes}
	s.trackers = append(s.trackers, t)
	return t, nil
}

// Trackers returns every tracker handed out since the last connect.
func (s *Service) Trackers() []*Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Tracker(nil), s.trackers...)
}

func reasonOf(name string) sensing.FailureReason {
	switch name {
	case "permission":
		return sensing.FailurePermission
	case "policy":
		return sensing.FailurePolicy
	default:
		return sensing.FailureTransport
	}
}

// Tracker implements sensing.Tracker.
type Tracker struct {
	svc   *Service
	types []sensing.PPGType

	mu       sync.Mutex
	listener sensing.TrackerEventListener
	stop     chan struct{}
	done     chan struct{}
}

func (t *Tracker) SetEventListener(l sensing.TrackerEventListener) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return errFactory.New(errors.ErrListenerAlreadySet)
	}
	t.listener = l

	if t.svc.cfg.BatchInterval > 0 {
		t.stop = make(chan struct{})
		t.done = make(chan struct{})
		go t.emit(t.stop, t.done)
	}
	return nil
}

func (t *Tracker) UnsetEventListener() {
	t.mu.Lock()
	t.listener = nil
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// HasListener reports whether a listener is attached.
func (t *Tracker) HasListener() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listener != nil
}

// Deliver hands points to the listener as one batch.
func (t *Tracker) Deliver(points []sensing.DataPoint) {
	if l := t.current(); l != nil {
		l.OnDataReceived(points)
	}
}

// DeliverError reports e to the listener.
func (t *Tracker) DeliverError(e sensing.TrackerError) {
	if l := t.current(); l != nil {
		l.OnError(e)
	}
}

// DeliverFlushCompleted signals a flush completion to the listener.
func (t *Tracker) DeliverFlushCompleted() {
	if l := t.current(); l != nil {
		l.OnFlushCompleted()
	}
}

func (t *Tracker) current() sensing.TrackerEventListener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listener
}

func (t *Tracker) emit(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.svc.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.Deliver(t.Synthesize(t.svc.now(), t.svc.cfg.BatchSize))
		}
	}
}

// Synthesize builds n samples ending at end, spaced at 25 Hz, carrying a
// pulse-like waveform on every requested channel.
func (t *Tracker) Synthesize(end time.Time, n int) []sensing.DataPoint {
	points := make([]sensing.DataPoint, n)
	last := end.UnixMilli()
	for i := range points {
		ts := last - int64(n-1-i)*sampleSpacingMs
		phase := 2 * math.Pi * 1.2 * float64(ts) / 1000
		values := make(map[sensing.ValueKey]int32, 2*len(t.types))
		for _, typ := range t.types {
			switch typ {
			case sensing.PPGGreen:
				values[sensing.KeyGreen] = wave(2_000_000, 40_000, phase)
				values[sensing.KeyGreenStatus] = 0
			case sensing.PPGRed:
				values[sensing.KeyRed] = wave(1_500_000, 25_000, phase+0.3)
				values[sensing.KeyRedStatus] = 0
			case sensing.PPGIR:
				values[sensing.KeyIR] = wave(1_800_000, 30_000, phase+0.6)
				values[sensing.KeyIRStatus] = 0
			}
		}
		points[i] = sensing.DataPoint{Timestamp: ts, Values: values}
	}
	return points
}

func wave(base, amp float64, phase float64) int32 {
	return int32(base + amp*math.Sin(phase))
}
