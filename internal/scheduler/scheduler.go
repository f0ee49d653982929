package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pricewatch/pricewatch/internal/models"
	"github.com/pricewatch/pricewatch/internal/runner"
)

// Starter admits runs; in production this is the run coordinator.
type Starter interface {
	Start(ctx context.Context, regionID int64) (*models.Run, error)
}

// RegionSource resolves the default region for scheduled runs.
type RegionSource interface {
	FirstRegion(ctx context.Context) (*models.RegionProfile, error)
}

// Scheduler triggers one collection run per day at a fixed UTC time. A
// trigger that finds the run slot occupied or no region configured is
// skipped, never queued.
type Scheduler struct {
	starter Starter
	regions RegionSource
	cron    *cron.Cron
	spec    string
	logger  *slog.Logger
}

func New(starter Starter, regions RegionSource, hourUTC, minuteUTC int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		starter: starter,
		regions: regions,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		spec:    fmt.Sprintf("%d %d * * *", minuteUTC, hourUTC),
		logger:  logger.With("component", "scheduler"),
	}
}

// Start registers the daily trigger and begins the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule daily run: %w", err)
	}

	s.cron.Start()
	s.logger.Info("daily trigger scheduled", "spec", s.spec)
	return nil
}

// Stop halts the cron loop and waits for a trigger in flight.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

// RunOnce performs a single trigger: resolve the default region and admit
// a run. All failure modes are logged and skipped.
func (s *Scheduler) RunOnce(ctx context.Context) {
	region, err := s.regions.FirstRegion(ctx)
	if err != nil {
		s.logger.Error("scheduled trigger failed to resolve region", "error", err)
		return
	}
	if region == nil {
		s.logger.Warn("scheduled trigger skipped: no region profile configured")
		return
	}

	run, err := s.starter.Start(ctx, region.ID)
	if err != nil {
		if errors.Is(err, runner.ErrRunLimitReached) {
			s.logger.Warn("scheduled trigger skipped: a run is already in progress")
			return
		}
		s.logger.Error("scheduled trigger failed to start run", "error", err)
		return
	}

	s.logger.Info("scheduled run started", "run_id", run.ID, "region", region.Name)
}
