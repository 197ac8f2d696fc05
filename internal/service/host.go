package service

import (
	"sync"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
)

var errFactory = errors.New()

// Factory builds the service instance on first use.
type Factory func() *Service

// Connection receives bind results on the host's dispatcher goroutine.
type Connection interface {
	OnServiceConnected(h Handle)
	OnServiceDisconnected()
}

// Host owns the single service instance. It creates it on the first start
// or bind and discards it once it is stopped with nobody bound. Bind and
// drop callbacks are delivered in order from one dispatcher goroutine.
type Host struct {
	factory Factory
	log     logger.Logger

	mu       sync.Mutex
	instance *Service
	bindings map[Connection]struct{}
	tasks    []func()
	closed   bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func NewHost(factory Factory, log logger.Logger) *Host {
	h := &Host{
		factory:  factory,
		log:      log,
		bindings: make(map[Connection]struct{}),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go h.dispatch()

	return h
}

// StartService creates the instance if needed and starts it.
func (h *Host) StartService() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errFactory.New(errors.ErrServiceStopped)
	}
	inst := h.ensureLocked()
	h.mu.Unlock()

	return inst.OnStart()
}

// StopService stops the instance. It is discarded unless a client is bound.
func (h *Host) StopService() error {
	h.mu.Lock()
	inst := h.instance
	h.mu.Unlock()

	if inst == nil {
		return nil
	}
	err := inst.OnStop()

	h.mu.Lock()
	h.releaseIfIdleLocked()
	h.mu.Unlock()

	return err
}

// Bind registers conn and schedules OnServiceConnected. The callback is
// skipped if conn is unbound before it runs.
func (h *Host) Bind(conn Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errFactory.New(errors.ErrServiceStopped)
	}
	inst := h.ensureLocked()
	h.bindings[conn] = struct{}{}

	h.postLocked(func() {
		h.mu.Lock()
		_, bound := h.bindings[conn]
		current := h.instance == inst
		h.mu.Unlock()

		if bound && current {
			conn.OnServiceConnected(inst)
		}
	})

	return nil
}

// Unbind forgets conn. No callback is delivered.
func (h *Host) Unbind(conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.bindings, conn)
	h.releaseIfIdleLocked()
}

// Drop simulates losing the service: the instance is stopped and discarded
// and every bound client receives OnServiceDisconnected. After Close the
// callbacks run on the calling goroutine.
func (h *Host) Drop() {
	h.mu.Lock()
	inst := h.instance
	h.instance = nil
	conns := make([]Connection, 0, len(h.bindings))
	for c := range h.bindings {
		conns = append(conns, c)
	}
	clear(h.bindings)
	h.mu.Unlock()

	if inst != nil {
		if err := inst.OnStop(); err != nil {
			h.log.ErrorWithCode(err).Msg("Failed to stop dropped service")
		}
	}

	h.log.Warn().Int("clients", len(conns)).Msg("Service connection dropped")

	h.mu.Lock()
	closed := h.closed
	if !closed {
		for _, c := range conns {
			h.postLocked(c.OnServiceDisconnected)
		}
	}
	h.mu.Unlock()

	// The dispatcher is gone once closed.
	if closed {
		for _, c := range conns {
			c.OnServiceDisconnected()
		}
	}
}

// Running reports whether an instance exists and is running.
func (h *Host) Running() bool {
	h.mu.Lock()
	inst := h.instance
	h.mu.Unlock()
	return inst != nil && inst.IsRunning()
}

// Sync blocks until every callback scheduled before the call has run.
func (h *Host) Sync() {
	ch := make(chan struct{})

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.postLocked(func() { close(ch) })
	h.mu.Unlock()

	<-ch
}

// Close runs pending callbacks and stops the dispatcher. Later start and
// bind requests fail.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.closed = true
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

func (h *Host) ensureLocked() *Service {
	if h.instance == nil {
		h.instance = h.factory()
		h.log.Debug().Msg("Service instance created")
	}
	return h.instance
}

func (h *Host) releaseIfIdleLocked() {
	if h.instance == nil || len(h.bindings) > 0 || h.instance.IsRunning() {
		return
	}
	h.instance = nil
	h.log.Debug().Msg("Service instance destroyed")
}

func (h *Host) postLocked(task func()) {
	h.tasks = append(h.tasks, task)
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Host) dispatch() {
	defer close(h.done)

	for {
		select {
		case <-h.wake:
			h.runPending()
		case <-h.quit:
			h.runPending()
			return
		}
	}
}

func (h *Host) runPending() {
	for {
		h.mu.Lock()
		if len(h.tasks) == 0 {
			h.mu.Unlock()
			return
		}
		task := h.tasks[0]
		h.tasks[0] = nil
		h.tasks = h.tasks[1:]
		h.mu.Unlock()

		task()
	}
}
