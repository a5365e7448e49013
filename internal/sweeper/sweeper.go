// Package sweeper runs the correlator sweep on a cron schedule.
package sweeper

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/correlator"
)

// Sweeper is the scheduled side of Correlator.Sweep.
type Sweeper interface {
	Sweep(ctx context.Context, p correlator.SweepPolicy) (*correlator.SweepResult, error)
}

// Scheduler periodically fails records stuck waiting for a provider event and requeues
// transcripts that never reached the indexer.
type Scheduler struct {
	cron     *cron.Cron
	target   Sweeper
	policy   correlator.SweepPolicy
	schedule string
	logger   *zap.Logger
}

// New creates a scheduler that sweeps target on schedule (standard cron syntax or
// descriptors such as "@every 1m").
func New(target Sweeper, schedule string, policy correlator.SweepPolicy, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		target:   target,
		policy:   policy,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started", zap.String("schedule", s.schedule), zap.Duration("stage_timeout", s.policy.StageTimeout), zap.Duration("requeue_after", s.policy.RequeueAfter))
	return nil
}

// RunOnce performs a single sweep and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) *correlator.SweepResult {
	res, err := s.target.Sweep(ctx, s.policy)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return res
	}
	if len(res.Failed) > 0 || len(res.Requeued) > 0 {
		s.logger.Info("sweep finished", zap.Strings("failed", res.Failed), zap.Strings("requeued", res.Requeued))
	}
	return res
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
