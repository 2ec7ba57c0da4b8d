package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/zakakatz/embrTimeOff-sub000/internal/config"
	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
	"github.com/zakakatz/embrTimeOff-sub000/internal/logging"
	"github.com/zakakatz/embrTimeOff-sub000/internal/store/memstore"
	"github.com/zakakatz/embrTimeOff-sub000/internal/store/postgres"
)

// app holds the pipeline wired for one command invocation.
type app struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	orch  *core.Orchestrator
	rules *core.RuleManager

	closers []func() error
}

func loadConfig(opts *globalOptions, requireDB bool) (*config.Config, error) {
	// Missing .env is fine; the environment may already be set.
	_ = godotenv.Load(opts.EnvFile)
	logging.Setup(opts.LogLevel, "text")

	if requireDB {
		return config.Load()
	}
	return config.Parse()
}

func openApp(ctx context.Context, opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(opts, !opts.DryRun)
	if err != nil {
		return nil, err
	}
	core.RunTimeout = cfg.Import.RunTimeout

	a := &app{cfg: cfg}
	fallback, closeFallback, err := logging.NewFallback(cfg.Logging.AuditFallbackPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeFallback)

	var store core.Store
	if opts.DryRun {
		store = memstore.New()
		slog.Info("dry run: using in-memory store")
	} else {
		pool, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			a.close()
			return nil, err
		}
		a.pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		store = postgres.New(pool)
	}

	audit := core.NewAuditLogger(fallback, nil)
	a.orch = core.NewOrchestrator(store, audit, core.OrchestratorConfig{
		MaxFileSize:    cfg.Import.MaxFileSize,
		RollbackWindow: cfg.Import.RollbackWindow,
		Logger:         slog.Default(),
	})
	a.rules = core.NewRuleManager(store, audit, nil)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close", "error", err)
		}
	}
}
