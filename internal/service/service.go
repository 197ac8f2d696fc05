// Package service hosts the foreground collection service: a process-wide
// instance that keeps collectors attached while no client is watching.
package service

import (
	"sync"

	"codeberg.org/iclab/ppglogger/internal/collector"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/metrics"
)

// Claim is the background-execution claim held while running.
type Claim interface {
	Acquire() error
	Release() error
}

// Handle is what a bound client sees of the service.
type Handle interface {
	IsRunning() bool
}

type Service struct {
	collectors []collector.Collector
	claim      Claim
	log        logger.Logger
	metrics    metrics.Recorder

	mu      sync.Mutex
	running bool
}

func New(collectors []collector.Collector, claim Claim, log logger.Logger, rec metrics.Recorder) *Service {
	return &Service{
		collectors: collectors,
		claim:      claim,
		log:        log,
		metrics:    rec,
	}
}

// OnStart takes the claim, starts every collector and marks the service
// running. A collector that fails to start is logged and skipped. Calling it
// again while running is harmless.
func (s *Service) OnStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claim.Acquire(); err != nil {
		s.log.ErrorWithCode(err).Msg("Failed to acquire background execution claim")
		return err
	}

	started := 0
	for _, c := range s.collectors {
		if err := c.Start(); err != nil {
			s.log.ErrorWithCode(err).Str("collector", c.Name()).Msg("Failed to start collector")
			continue
		}
		started++
	}

	s.running = true
	s.metrics.ServiceRunning(true)
	s.log.Info().
		Int("collectors", len(s.collectors)).
		Int("started", started).
		Msg("Collection service running")

	return nil
}

// OnStop releases the claim and clears the running flag. Collectors are
// stopped by the orchestrator.
func (s *Service) OnStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.claim.Release()
	if err != nil {
		s.log.ErrorWithCode(err).Msg("Failed to release background execution claim")
	}

	if s.running {
		s.log.Info().Msg("Collection service stopped")
	}
	s.running = false
	s.metrics.ServiceRunning(false)

	return err
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
