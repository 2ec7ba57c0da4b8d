package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/zakakatz/embrTimeOff-sub000/internal/blobstore"
	"github.com/zakakatz/embrTimeOff-sub000/internal/config"
	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
	"github.com/zakakatz/embrTimeOff-sub000/internal/logging"
	"github.com/zakakatz/embrTimeOff-sub000/internal/queue"
	"github.com/zakakatz/embrTimeOff-sub000/internal/store/postgres"
	"github.com/zakakatz/embrTimeOff-sub000/internal/web"
	"github.com/zakakatz/embrTimeOff-sub000/internal/worker"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	core.RunTimeout = cfg.Import.RunTimeout

	ctx := context.Background()
	pool, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(pool); err != nil {
			slog.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		if v, dirty, err := postgres.MigrationVersion(pool); err == nil {
			slog.Info("database schema ready", "version", v, "dirty", dirty)
		}
	}

	fallback, closeFallback, err := logging.NewFallback(cfg.Logging.AuditFallbackPath)
	if err != nil {
		slog.Error("failed to open audit fallback log", "error", err)
		os.Exit(1)
	}
	defer closeFallback()

	store := postgres.New(pool)
	audit := core.NewAuditLogger(fallback, nil)
	orch := core.NewOrchestrator(store, audit, core.OrchestratorConfig{
		MaxFileSize:    cfg.Import.MaxFileSize,
		RollbackWindow: cfg.Import.RollbackWindow,
		Logger:         slog.Default(),
		Metrics:        core.NewMetrics(prometheus.DefaultRegisterer),
	})
	rules := core.NewRuleManager(store, audit, nil)
	limiterJobs := core.NewJobLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	runner := core.NewRunner(orch, limiterJobs, slog.Default())

	if cfg.Rules.SeedFile != "" {
		system := core.Actor{ID: "system", Role: "system", Capabilities: []core.Capability{core.CapRulesManage}}
		created, conflicts, err := rules.ImportFile(ctx, system, cfg.Rules.SeedFile)
		if err != nil {
			slog.Error("failed to seed mapping rules", "file", cfg.Rules.SeedFile, "error", err)
			os.Exit(1)
		}
		slog.Info("mapping rules seeded", "created", created, "skipped", len(conflicts))
	}

	var blobs blobstore.Storage = blobstore.NewMemoryStorage()
	if cfg.Storage.Enabled() {
		s3, err := blobstore.NewS3Storage(blobstore.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			slog.Error("failed to create upload storage", "error", err)
			os.Exit(1)
		}
		blobs = s3
		slog.Info("archiving uploads to S3", "bucket", cfg.Storage.Bucket)
	}

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	deps := web.Deps{
		Config:       cfg,
		Orchestrator: orch,
		Runner:       runner,
		Rules:        rules,
		Blobs:        blobs,
		Gatherer:     prometheus.DefaultGatherer,
		Health:       pool.Ping,
	}

	workerDone := make(chan struct{})
	close(workerDone)
	if cfg.Redis.Enabled() {
		opts := queue.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			DLQSuffix: cfg.Redis.DLQSuffix,
		}
		rdb, err := queue.Connect(ctx, opts)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()

		deps.Producer = queue.NewProducer(rdb, opts)
		if store, err := sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "employee_import_rate"}); err != nil {
			slog.Warn("redis rate limit store unavailable, falling back to memory", "error", err)
		} else {
			deps.RateStore = store
		}

		w := worker.New(orch, blobs, limiterJobs, slog.Default())
		consumer := queue.NewConsumer(rdb, opts, slog.Default())
		workerDone = make(chan struct{})
		go func() {
			defer close(workerDone)
			if err := w.Start(jobCtx, consumer); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("queue worker stopped", "error", err)
			}
		}()
	}

	server := web.NewServer(deps)

	// Start retention scheduler
	go orch.StartRetentionScheduler(jobCtx, core.RetentionConfig{
		CheckInterval: cfg.Retention.CheckInterval,
	})

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first so no new runs start
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		drainRuns(shutdownCtx, runner)

		// Stop background jobs
		cancelJobs()
		if workerDone != nil {
			select {
			case <-workerDone:
			case <-time.After(5 * time.Second):
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
	slog.Info("server stopped")
}
