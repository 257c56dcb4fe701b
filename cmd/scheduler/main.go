package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	if cfg.Storage.Backend == config.StorageBackendMemory {
		log.Fatalf("The scheduler needs a shared store; STORAGE_BACKEND=%s only works inside the server", cfg.Storage.Backend)
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format).Named("scheduler")
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName+"-scheduler")
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

	c, err := scheduler.New(cfg.Scheduler, cfg.Location(), scheduler.Jobs{
		Late: a.Status,
		Heal: a.Clients,
	}, logger)
	if err != nil {
		logger.Fatal("failed to schedule jobs", zap.Error(err))
	}

	// Start the scheduler
	c.Start()
	logger.Info("scheduler started")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down scheduler")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	select {
	case <-c.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("jobs still running at shutdown")
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	if err := shutdownTracer(flushCtx); err != nil {
		logger.Warn("flushing traces", zap.Error(err))
	}

	logger.Info("scheduler stopped")
}
