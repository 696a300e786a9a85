package viva

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 2 * time.Minute

// Sweeper runs SweepIdle on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	svc    *Service
	logger *slog.Logger
}

// NewSweeper schedules idle sweeps. schedule is a standard five-field cron
// expression or a descriptor such as "@every 5m".
func NewSweeper(svc *Service, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cronLog := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLog)), cron.WithLogger(cronLog))

	sw := &Sweeper{cron: c, svc: svc, logger: logger}
	if _, err := c.AddFunc(schedule, sw.run); err != nil {
		return nil, fmt.Errorf("schedule sweeper %q: %w", schedule, err)
	}
	return sw, nil
}

func (sw *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	rep, err := sw.svc.SweepIdle(ctx)
	if err != nil {
		sw.logger.Error("idle sweep failed", "error", err)
		return
	}
	if rep.Abandoned > 0 || rep.Purged > 0 {
		sw.logger.Info("idle sweep", "abandoned", rep.Abandoned, "purged", rep.Purged)
	}
}

// Start begins running the schedule in its own goroutine.
func (sw *Sweeper) Start() {
	sw.cron.Start()
}

// Stop halts the schedule and returns a context done when a running sweep
// finishes.
func (sw *Sweeper) Stop() context.Context {
	return sw.cron.Stop()
}
