// Package app wires the collection stack together and runs it until the
// context is cancelled.
package app

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"codeberg.org/iclab/ppglogger/internal/api"
	"codeberg.org/iclab/ppglogger/internal/collector"
	"codeberg.org/iclab/ppglogger/internal/config"
	"codeberg.org/iclab/ppglogger/internal/connection"
	"codeberg.org/iclab/ppglogger/internal/control"
	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/metrics"
	"codeberg.org/iclab/ppglogger/internal/orchestrator"
	"codeberg.org/iclab/ppglogger/internal/pid"
	"codeberg.org/iclab/ppglogger/internal/sensing"
	"codeberg.org/iclab/ppglogger/internal/sensing/sim"
	"codeberg.org/iclab/ppglogger/internal/service"
	"codeberg.org/iclab/ppglogger/internal/store"
)

const shutdownTimeout = 5 * time.Second

var errFactory = errors.New()

type Option func(*App)

// WithLogger sets the root logger components derive from.
func WithLogger(l logger.Logger) Option {
	return func(a *App) {
		a.log = l
	}
}

type App struct {
	cfg      *config.Config
	log      logger.Logger
	channels []sensing.PPGType

	store      *store.Store
	sensing    *sim.Service
	supervisor *connection.Supervisor
	metrics    *metrics.Prom
	claim      *pid.Claim

	host    *service.Host
	writers []*collector.Writer
	orch    *orchestrator.Orchestrator
	ctrl    *control.Controller

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// New opens the record store and prepares the sensing connection. Nothing
// is collected until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, ready: make(chan struct{})}
	for _, opt := range opts {
		opt(a)
	}

	channels, err := sensing.ParsePPGTypes(cfg.PPGChannels)
	if err != nil {
		return nil, err
	}
	a.channels = channels

	a.store, err = store.Open(ctx, store.Config{
		DBPath:    cfg.Database,
		BackupDir: cfg.BackupDir,
	}, a.component("store"))
	if err != nil {
		return nil, err
	}

	a.metrics = metrics.New()
	a.sensing = sim.New(sim.Config{
		BatchInterval: cfg.Sim.BatchInterval,
		BatchSize:     cfg.Sim.BatchSize,
		ConnectDelay:  cfg.Sim.ConnectDelay,
		FailConnect:   cfg.Sim.FailConnect,
	}, a.component("sensing"))
	a.supervisor = connection.New(a.sensing, cfg.ConnectTimeout, a.component("connection"), a.metrics)
	a.claim = pid.NewClaim(cfg.PIDFile)

	return a, nil
}

func (a *App) component(name string) logger.Logger {
	if a.log != nil {
		return a.log.With(name)
	}
	return logger.Component(name)
}

// Addr returns the control surface address once Run is serving.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Ready is closed once Run is serving.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

func (a *App) Store() *store.Store {
	return a.store
}

// Run connects to the sensing service, binds the collection service and
// serves the control surface until ctx is done. The store is closed on
// return.
func (a *App) Run(ctx context.Context) error {
	log := a.component("app")
	defer a.closeStore(log)

	err := connection.RetryConnect(ctx, a.supervisor, connection.RetryPolicy{
		Retries: a.cfg.ConnectRetries,
	}, log)
	if err != nil {
		log.ErrorWithCode(err).Msg("Failed to connect to sensing service")
		return err
	}
	defer a.supervisor.Disconnect()

	stopWatch := a.watchConnection(log)
	defer stopWatch()

	if err := a.buildCollection(); err != nil {
		return err
	}
	defer a.host.Close()
	defer a.closeWriters()

	if err := a.ctrl.BindService(); err != nil {
		return err
	}
	a.host.Sync()

	if a.cfg.Autostart {
		if err := a.ctrl.Start(); err != nil {
			log.ErrorWithCode(err).Msg("Failed to start collection")
			return err
		}
		log.Info().Msg("Collection started")
	}

	err = a.serve(ctx, log)
	a.shutdown(log)

	return err
}

func (a *App) buildCollection() error {
	policy := collector.ParsePolicy(string(a.cfg.QueuePolicy))
	writer := collector.NewWriter(collector.PPGName, a.store, a.cfg.QueueCapacity, policy,
		a.component("writer."+collector.PPGName), a.metrics)
	a.writers = append(a.writers, writer)

	ppg, err := collector.NewPPG(a.supervisor, writer, a.channels,
		a.component("collector."+collector.PPGName), a.metrics)
	if err != nil {
		return err
	}
	collectors := []collector.Collector{ppg}

	svcLog := a.component("service")
	a.host = service.NewHost(func() *service.Service {
		return service.New(a.orch.Collectors(), a.claim, svcLog, a.metrics)
	}, a.component("host"))
	a.orch = orchestrator.New(collectors, a.host, a.component("orchestrator"))
	a.ctrl = control.New(a.orch, a.host, a.store, a.component("control"))

	return nil
}

func (a *App) serve(ctx context.Context, log logger.Logger) error {
	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	srv := &http.Server{
		Handler: api.New(api.Deps{
			Controller: a.ctrl,
			Connection: a.supervisor,
			Records:    a.store,
			Gatherer:   a.metrics.Gatherer(),
			Log:        a.component("api"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()
	close(a.ready)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("Serving control surface")

	select {
	case err := <-errCh:
		return errFactory.Wrap(errors.ErrOperationFailed, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

// shutdown detaches every collector and stops the service. Both are no-ops
// when collection is not running.
func (a *App) shutdown(log logger.Logger) {
	if err := a.orch.Stop(); err != nil {
		log.ErrorWithCode(err).Msg("Failed to stop collection")
	} else if err := a.orch.StopErrors(); err != nil {
		log.Warn().Err(err).Msg("Collectors reported errors on stop")
	}
	a.ctrl.UnbindService()
}

func (a *App) closeWriters() {
	for _, w := range a.writers {
		w.Close()
	}
}

func (a *App) closeStore(log logger.Logger) {
	if err := a.store.Close(); err != nil {
		log.ErrorWithCode(err).Msg("Failed to close store")
	}
}

func (a *App) watchConnection(log logger.Logger) func() {
	states, cancel := a.supervisor.State().Subscribe()
	go func() {
		for st := range states {
			if st == connection.Disconnected {
				log.Warn().Msg("Sensing service connection lost")
				continue
			}
			log.Debug().Str("state", st.String()).Msg("Sensing service connection")
		}
	}()
	return cancel
}
