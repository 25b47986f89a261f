package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"replay-ingest/internal/ingest"
	"replay-ingest/internal/platform/config"
	"replay-ingest/internal/platform/logger"
	"replay-ingest/internal/platform/metrics"
	"replay-ingest/internal/platform/otel"
	"replay-ingest/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const serviceName = "replay-ingest"

func main() {
	_ = config.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		log.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}

	facts, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer facts.Close()

	met := metrics.New()
	repo := ingest.NewInMemoryRepository()
	pipeline := ingest.NewPipeline(repo, facts, ingest.Config{
		Workers:            cfg.Workers,
		JobTimeout:         cfg.JobTimeout,
		GoalFrameTolerance: cfg.GoalFrameTolerance,
		FilterSize:         cfg.DuplicateFilter,
	}, log, met)
	if err := pipeline.Load(ctx); err != nil {
		log.Error("load duplicate filter", "error", err)
		os.Exit(1)
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := pipeline.Run(ctx); err != nil {
			log.Error("netstream workers stopped", "error", err)
		}
	}()

	h := ingest.NewHandler(pipeline, log, met, cfg.MaxUploadBytes())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			queued, running := pipeline.Gauges()
			met.SetQueueDepth(queued)
			met.SetRunningJobs(running)
		}).ServeHTTP(w, r)
	})
	h.Mount(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"db_path", cfg.DBPath,
		"workers", cfg.Workers,
		"job_timeout", cfg.JobTimeout,
		"log_level", cfg.LogLevel,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		log.Warn("netstream jobs still running at shutdown deadline")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", "error", err)
	}

	log.Info("server stopped")
}
