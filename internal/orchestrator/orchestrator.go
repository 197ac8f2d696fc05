// Package orchestrator starts and stops the collection service as a unit.
package orchestrator

import (
	"fmt"
	"sync"

	"codeberg.org/iclab/ppglogger/internal/collector"
	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
)

var errFactory = errors.New()

// ServiceRunner starts and stops the foreground collection service.
type ServiceRunner interface {
	StartService() error
	StopService() error
}

type Orchestrator struct {
	collectors []collector.Collector
	runner     ServiceRunner
	log        logger.Logger

	mu       sync.Mutex
	stopErrs error
}

// New fixes the collector list for the lifetime of the orchestrator.
func New(collectors []collector.Collector, runner ServiceRunner, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		collectors: append([]collector.Collector(nil), collectors...),
		runner:     runner,
		log:        log,
	}
}

// Collectors returns the collector list in start order.
func (o *Orchestrator) Collectors() []collector.Collector {
	return append([]collector.Collector(nil), o.collectors...)
}

// Start asks the runner to start the service. The service starts the
// collectors itself.
func (o *Orchestrator) Start() error {
	if err := o.runner.StartService(); err != nil {
		o.log.ErrorWithCode(err).Msg("Failed to start collection service")
		return err
	}
	o.log.Info().Int("collectors", len(o.collectors)).Msg("Collection service start requested")
	return nil
}

// Stop asks the runner to stop the service, then stops every collector in
// order, even when the service stop failed. Collector failures are logged
// and kept in StopErrors. A failed service stop is returned joined with
// them.
func (o *Orchestrator) Stop() error {
	svcErr := o.runner.StopService()
	if svcErr != nil {
		o.log.ErrorWithCode(svcErr).Msg("Failed to stop collection service")
	}

	var errs []error
	for _, c := range o.collectors {
		if err := stopCollector(c); err != nil {
			o.log.ErrorWithCode(err).Str("collector", c.Name()).Msg("Failed to stop collector")
			errs = append(errs, err)
		}
	}
	collectorErrs := errors.Join(errs...)

	o.mu.Lock()
	o.stopErrs = collectorErrs
	o.mu.Unlock()

	o.log.Info().Int("failed", len(errs)).Msg("Collection stopped")

	if svcErr != nil {
		return errors.Join(svcErr, collectorErrs)
	}
	return nil
}

// StopErrors returns the collector failures of the latest Stop, or nil.
func (o *Orchestrator) StopErrors() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopErrs
}

func stopCollector(c collector.Collector) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errFactory.WithMessage(errors.ErrOperationFailed,
				fmt.Sprintf("collector %s panicked on stop: %v", c.Name(), r))
		}
	}()
	return c.Stop()
}
