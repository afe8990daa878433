// Package scheduler periodically drives settlement runs and formation
// checks for every live agreement.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/logging"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/repository"
)

// Runner is the orchestrator surface the scheduler drives.
type Runner interface {
	RunSettlement(ctx context.Context, agreementID, period string) error
	CheckFormation(ctx context.Context, agreementID string) error
}

// Scheduler ticks at a fixed interval. Each tick re-invokes the
// idempotent settlement entry points, so a missed or doubled tick is
// harmless.
type Scheduler struct {
	repo     repository.Repository
	runner   Runner
	interval time.Duration
	logger   *logging.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func New(repo repository.Repository, runner Runner, interval time.Duration, logger *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		repo:     repo,
		runner:   runner,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", "interval", s.interval.String())
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-progress tick to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Tick runs one scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) {
	period := time.Now().UTC().Format("2006-01-02")

	forming, err := s.repo.ListAgreementsByStatus(ctx, models.StatusForming)
	if err != nil {
		s.logger.Error("failed to list forming agreements", logging.Error(err))
	}
	for _, a := range forming {
		if err := s.runner.CheckFormation(ctx, a.ID); err != nil {
			s.logger.Error("formation check failed", logging.AgreementID(a.ID), logging.Error(err))
		}
	}

	for _, status := range []models.AgreementStatus{models.StatusActive, models.StatusSettling, models.StatusPartiallySettled} {
		agreements, err := s.repo.ListAgreementsByStatus(ctx, status)
		if err != nil {
			s.logger.Error("failed to list agreements", logging.Status(string(status)), logging.Error(err))
			continue
		}
		for _, a := range agreements {
			if err := s.runner.RunSettlement(ctx, a.ID, period); err != nil {
				s.logger.Error("settlement run failed", logging.AgreementID(a.ID), logging.Error(err))
			}
		}
	}
}
