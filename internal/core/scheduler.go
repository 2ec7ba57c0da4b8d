package core

// scheduler.go runs the rollback retention sweep.
//
// Snapshots of jobs whose rollback window has closed are marked expired so
// they no longer count as reversible. The sweep is context-aware for graceful
// shutdown and never stops the application when a single pass fails.

import (
	"context"
	"time"
)

// RetentionConfig configures the retention scheduler.
type RetentionConfig struct {
	CheckInterval time.Duration // How often to run (default: 1h)
}

// StartRetentionScheduler expires closed rollback windows. It runs once
// immediately, then every CheckInterval until ctx is cancelled.
func (o *Orchestrator) StartRetentionScheduler(ctx context.Context, cfg RetentionConfig) {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	o.logger.Info("retention scheduler started",
		"interval", cfg.CheckInterval.String(),
		"rollback_window", o.window.String(),
	)

	o.runRetention(ctx)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			o.runRetention(ctx)
		}
	}
}

// runRetention performs one sweep.
func (o *Orchestrator) runRetention(ctx context.Context) {
	start := time.Now()
	expired, err := o.ExpireRollbacks(ctx)
	if err != nil {
		o.logger.Error("retention sweep failed", "error", err)
		return
	}
	o.logger.Info("retention sweep completed",
		"snapshots_expired", expired,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
