package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweep deletes decisions older than the configured retention window and
// reports how many rows went away. A non-positive retention keeps
// everything.
func (h *ServerHandler) Sweep(ctx context.Context) (int, error) {
	if h.ServerConfig.RetentionDays <= 0 {
		return 0, nil
	}
	retention := time.Duration(h.ServerConfig.RetentionDays) * 24 * time.Hour

	deleted, err := h.Store.DeleteOlderThan(ctx, retention)
	if err != nil {
		h.Log.Error("Retention sweep failed", "error", err)
		return 0, err
	}
	if deleted > 0 {
		h.Log.Info("Retention sweep removed stale decisions", "deleted", deleted, "retentionDays", h.ServerConfig.RetentionDays)
	}
	return deleted, nil
}

// InitializeSchedules starts the cron jobs (currently just the retention
// sweep) and returns the runner so the caller can stop it on shutdown.
func (h *ServerHandler) InitializeSchedules() (*cron.Cron, error) {
	c := cron.New()

	var sweepJob cron.Job
	sweepJob = cron.FuncJob(func() { h.Sweep(context.Background()) })
	sweepJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(sweepJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(h.ServerConfig.SweepSchedule, sweepJob); err != nil {
		return nil, fmt.Errorf("schedule retention sweep %q: %w", h.ServerConfig.SweepSchedule, err)
	}

	h.Log.Info("Adding retention sweep scheduler", "schedule", h.ServerConfig.SweepSchedule, "retentionDays", h.ServerConfig.RetentionDays)
	c.Start()
	return c, nil
}
