// Package connection owns the handshake with the sensing service and
// publishes whether it is connected.
package connection

import (
	"context"
	"sync"
	"time"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/metrics"
	"codeberg.org/iclab/ppglogger/internal/sensing"
	"codeberg.org/iclab/ppglogger/internal/signal"
)

type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "CONNECTED"
	}
	return "DISCONNECTED"
}

const DefaultTimeout = 10 * time.Second

var errFactory = errors.New()

// Supervisor drives one handshake at a time. It never retries on its own;
// see RetryConnect.
type Supervisor struct {
	svc     sensing.Service
	timeout time.Duration
	log     logger.Logger
	metrics metrics.Recorder
	state   *signal.Cell[State]

	mu      sync.Mutex
	gen     uint64
	pending *attempt
	lastErr error
}

func New(svc sensing.Service, timeout time.Duration, log logger.Logger, rec metrics.Recorder) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Supervisor{
		svc:     svc,
		timeout: timeout,
		log:     log,
		metrics: rec,
		state:   signal.NewCell(Disconnected),
	}
}

// attempt is the listener handed to the sensing service for one Connect.
// Callbacks from an attempt that is no longer current are ignored.
type attempt struct {
	sup   *Supervisor
	gen   uint64
	timer *time.Timer
	done  chan struct{}
	err   error
}

func (a *attempt) OnConnectionSuccess() {
	a.sup.resolve(a, Connected, nil)
}

func (a *attempt) OnConnectionFailed(err error) {
	a.sup.resolve(a, Disconnected, classify(err))
}

func (a *attempt) OnConnectionEnded() {
	a.sup.ended(a)
}

// Connect starts a handshake and returns immediately. A pending handshake is
// abandoned.
func (s *Supervisor) Connect() {
	a := s.begin()
	s.svc.Connect(a)
}

// ConnectAndWait starts a handshake and blocks until it resolves or ctx is
// done. It returns nil once connected.
func (s *Supervisor) ConnectAndWait(ctx context.Context) error {
	a := s.begin()
	s.svc.Connect(a)

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) begin() *attempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abandonLocked(errFactory.WithMessage(errors.ErrConnectionTransport, "superseded by a new handshake"))
	s.gen++
	a := &attempt{sup: s, gen: s.gen, done: make(chan struct{})}
	a.timer = time.AfterFunc(s.timeout, func() { s.expire(a) })
	s.pending = a

	s.log.Debug().Uint64("attempt", a.gen).Msg("Connecting to sensing service")
	return a
}

// Disconnect abandons any pending handshake and tears the connection down.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.abandonLocked(errFactory.New(errors.ErrNotConnected))
	s.gen++
	s.setLocked(Disconnected)
	s.mu.Unlock()

	s.svc.Disconnect()
	s.log.Info().Msg("Disconnected from sensing service")
}

func (s *Supervisor) State() *signal.Cell[State] {
	return s.state
}

func (s *Supervisor) Current() State {
	return s.state.Load()
}

// LastError returns the classified failure of the latest failed handshake.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Tracker obtains a tracker from the sensing service. It fails unless the
// supervisor is connected.
func (s *Supervisor) Tracker(typ sensing.TrackerType, ppgTypes ...sensing.PPGType) (sensing.Tracker, error) {
	if s.Current() != Connected {
		return nil, errFactory.New(errors.ErrNotConnected)
	}
	return s.svc.Tracker(typ, ppgTypes...)
}

func (s *Supervisor) resolve(a *attempt, st State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.gen != s.gen || s.pending != a {
		s.log.Debug().Uint64("attempt", a.gen).Msg("Ignoring callback from stale handshake")
		return
	}
	s.finishLocked(a, err)
	s.setLocked(st)

	if err != nil {
		s.lastErr = err
		s.log.ErrorWithCode(err).Msg("Connection to sensing service failed")
		return
	}
	s.log.Info().Msg("Connected to sensing service")
}

func (s *Supervisor) ended(a *attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.gen != s.gen {
		return
	}
	if s.pending == a {
		s.finishLocked(a, errFactory.WithMessage(errors.ErrConnectionTransport, "connection ended during handshake"))
	}
	s.setLocked(Disconnected)
	s.log.Warn().Msg("Connection to sensing service ended")
}

func (s *Supervisor) expire(a *attempt) {
	s.mu.Lock()
	if s.pending != a {
		s.mu.Unlock()
		return
	}
	err := errFactory.New(errors.ErrConnectionTimeout)
	s.finishLocked(a, err)
	s.lastErr = err
	s.gen++
	s.setLocked(Disconnected)
	s.mu.Unlock()

	s.log.Warn().Dur("timeout", s.timeout).Msg("Handshake with sensing service timed out")
	s.svc.Disconnect()
}

func (s *Supervisor) finishLocked(a *attempt, err error) {
	a.timer.Stop()
	a.err = err
	close(a.done)
	s.pending = nil
}

func (s *Supervisor) abandonLocked(err error) {
	if s.pending != nil {
		s.finishLocked(s.pending, err)
	}
}

func (s *Supervisor) setLocked(st State) {
	s.state.Store(st)
	s.metrics.ConnectionState(st == Connected)
}

func classify(err error) error {
	code := errors.ErrConnectionTransport

	var connErr *sensing.ConnectionError
	if errors.As(err, &connErr) {
		switch connErr.Reason {
		case sensing.FailurePermission:
			code = errors.ErrConnectionPermission
		case sensing.FailurePolicy:
			code = errors.ErrConnectionPolicy
		}
	}

	return errFactory.Wrap(code, err)
}
