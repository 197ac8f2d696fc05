// Package control is the client side of the collection service: it binds,
// derives ServiceState and turns start, stop and flush intents into calls.
package control

import (
	"context"
	"sync"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/service"
	"codeberg.org/iclab/ppglogger/internal/signal"
)

type ServiceState int

const (
	Disconnected ServiceState = iota
	Ready
	Running
)

func (s ServiceState) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	default:
		return "DISCONNECTED"
	}
}

var errFactory = errors.New()

// Runner starts and stops collection as a unit.
type Runner interface {
	Start() error
	Stop() error
}

// Binder registers service connections.
type Binder interface {
	Bind(conn service.Connection) error
	Unbind(conn service.Connection)
}

// Flusher deletes every stored record.
type Flusher interface {
	DeleteAll(ctx context.Context) error
}

type Controller struct {
	runner Runner
	binder Binder
	store  Flusher
	log    logger.Logger
	state  *signal.Cell[ServiceState]

	mu      sync.Mutex
	bound   bool
	binding bool
	token   *bindToken
}

func New(runner Runner, binder Binder, store Flusher, log logger.Logger) *Controller {
	return &Controller{
		runner: runner,
		binder: binder,
		store:  store,
		log:    log,
		state:  signal.NewCell(Disconnected),
	}
}

// bindToken identifies one bind request so callbacks for a cancelled
// request can be told apart from the current one.
type bindToken struct {
	c *Controller
}

func (t *bindToken) OnServiceConnected(h service.Handle) {
	t.c.onServiceConnected(t, h)
}

func (t *bindToken) OnServiceDisconnected() {
	t.c.onServiceDisconnected(t)
}

func (c *Controller) State() *signal.Cell[ServiceState] {
	return c.state
}

func (c *Controller) Current() ServiceState {
	return c.state.Load()
}

// BindService asks the host for a connection. It is a no-op while bound or
// binding.
func (c *Controller) BindService() error {
	c.mu.Lock()
	if c.bound || c.binding {
		c.mu.Unlock()
		return nil
	}
	tok := &bindToken{c: c}
	c.token = tok
	c.binding = true
	c.mu.Unlock()

	if err := c.binder.Bind(tok); err != nil {
		c.mu.Lock()
		if c.token == tok {
			c.token = nil
			c.binding = false
		}
		c.mu.Unlock()
		c.log.ErrorWithCode(err).Msg("Failed to bind collection service")
		return err
	}

	c.log.Debug().Msg("Bind requested")
	return nil
}

// UnbindService drops the connection or a pending bind. ServiceState is
// left as it is.
func (c *Controller) UnbindService() {
	c.mu.Lock()
	if !c.bound && !c.binding {
		c.mu.Unlock()
		return
	}
	tok := c.token
	c.token = nil
	c.bound = false
	c.binding = false
	c.mu.Unlock()

	c.binder.Unbind(tok)
	c.log.Debug().Msg("Service unbound")
}

// Start starts collection. It needs a bound service.
func (c *Controller) Start() error {
	if c.Current() == Disconnected {
		return errFactory.New(errors.ErrNotBound)
	}

	if err := c.runner.Start(); err != nil {
		return err
	}
	if !c.storeUnlessDisconnected(Running) {
		c.log.Warn().Msg("Service disconnected while starting")
		return nil
	}
	c.log.Info().Msg("Collection started")

	return nil
}

// Stop stops collection, reports READY and unbinds. When the service fails
// to stop the collectors are detached anyway, so READY is still reported
// but the binding is kept.
func (c *Controller) Stop() error {
	if err := c.runner.Stop(); err != nil {
		c.storeUnlessDisconnected(Ready)
		c.log.ErrorWithCode(err).Msg("Collection stopped with errors")
		return err
	}

	c.storeUnlessDisconnected(Ready)
	c.log.Info().Msg("Collection stopped")
	c.UnbindService()

	return nil
}

// storeUnlessDisconnected sets st unless a disconnect callback got there
// first.
func (c *Controller) storeUnlessDisconnected(st ServiceState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Load() == Disconnected {
		return false
	}
	c.state.Store(st)
	return true
}

// Flush deletes every stored record. ServiceState does not change.
func (c *Controller) Flush(ctx context.Context) error {
	if err := c.store.DeleteAll(ctx); err != nil {
		c.log.ErrorWithCode(err).Msg("Flush failed")
		return err
	}
	c.log.Info().Msg("Records flushed")
	return nil
}

func (c *Controller) onServiceConnected(tok *bindToken, h service.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != tok {
		return
	}
	c.bound = true
	c.binding = false

	if h.IsRunning() {
		c.state.Store(Running)
	} else {
		c.state.Store(Ready)
	}
	c.log.Debug().Str("state", c.state.Load().String()).Msg("Service bound")
}

func (c *Controller) onServiceDisconnected(tok *bindToken) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != tok {
		return
	}
	c.token = nil
	c.bound = false
	c.binding = false
	c.state.Store(Disconnected)
	c.log.Warn().Msg("Service disconnected")
}
