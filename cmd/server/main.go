package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/segyhp/microlend-ledger/internal/app"
	"github.com/segyhp/microlend-ledger/internal/config"
	"github.com/segyhp/microlend-ledger/internal/observability"
	"github.com/segyhp/microlend-ledger/internal/scheduler"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Fatal("failed to initialize tracer", zap.Error(err))
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("closing connections", zap.Error(err))
		}
	}()

	// The in-memory store lives in this process, so the periodic jobs must too.
	var jobs *cron.Cron
	if cfg.Storage.Backend == config.StorageBackendMemory {
		jobs, err = scheduler.New(cfg.Scheduler, cfg.Location(), scheduler.Jobs{
			Late: a.Status,
			Heal: a.Clients,
		}, logger)
		if err != nil {
			logger.Fatal("failed to schedule jobs", zap.Error(err))
		}
		jobs.Start()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Server.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if jobs != nil {
		select {
		case <-jobs.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduled jobs still running at shutdown")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	if err := shutdownTracer(flushCtx); err != nil {
		logger.Warn("flushing traces", zap.Error(err))
	}

	logger.Info("server exited")
}
