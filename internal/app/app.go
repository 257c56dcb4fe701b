// Package app assembles the ledger's storage, cache, services and HTTP router from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/microlend-ledger/internal/cache"
	"github.com/segyhp/microlend-ledger/internal/config"
	"github.com/segyhp/microlend-ledger/internal/database"
	"github.com/segyhp/microlend-ledger/internal/handler"
	"github.com/segyhp/microlend-ledger/internal/ledger"
	"github.com/segyhp/microlend-ledger/internal/observability"
	"github.com/segyhp/microlend-ledger/internal/repository"
	"github.com/segyhp/microlend-ledger/internal/repository/memory"
	"github.com/segyhp/microlend-ledger/internal/service"
	"github.com/segyhp/microlend-ledger/internal/upload"
)

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Store   repository.Store
	Redis   *redis.Client

	Loans    *service.LoanService
	Payments *service.PaymentService
	Clients  *service.ClientService
	Status   *service.StatusService

	closers []func() error
}

// New connects the configured backends and builds the services on top of them.
// Call Close to release the connections.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if err := a.initStore(); err != nil {
		_ = a.Close()
		return nil, err
	}

	loanCache, err := a.initCache(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var uploader upload.Uploader = upload.Disabled{}
	if cfg.Upload.BaseURL != "" {
		uploader = upload.NewHTTPUploader(cfg.Upload.BaseURL, cfg.Upload.Token, cfg.Upload.Timeout)
	} else {
		logger.Warn("upload service not configured; receipts cannot be stored",
			zap.String("receipt_policy", cfg.Ledger.ReceiptPolicy))
	}

	opts := service.Options{
		Logger:  logger,
		Metrics: a.Metrics,
		Cache:   loanCache,
		Retry: service.RetryPolicy{
			MaxRetries:     cfg.Ledger.MaxConflictRetries,
			InitialBackoff: cfg.Ledger.InitialBackoff,
		},
		HealGrace: cfg.Ledger.HealGrace,
	}
	reconciler := ledger.NewReconciler(logger)

	a.Clients = service.NewClientService(a.Store, opts)
	a.Loans = service.NewLoanService(a.Store, a.Clients, reconciler, opts)
	a.Payments = service.NewPaymentService(a.Store, reconciler, uploader, service.ReceiptOptions{
		Policy: cfg.Ledger.ReceiptPolicy,
		Folder: cfg.Ledger.ReceiptFolder,
	}, opts)
	a.Status = service.NewStatusService(a.Store, cfg.Scheduler.Concurrency, opts)

	return a, nil
}

func (a *App) initStore() error {
	if a.Config.Storage.Backend == config.StorageBackendMemory {
		a.Logger.Warn("using in-memory storage; data is lost on restart")
		a.Store = memory.NewStore()
		return nil
	}

	db, err := database.Connect(a.Config.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if a.Config.Database.AutoMigrate {
		if err := database.Migrate(db, a.Logger); err != nil {
			return err
		}
	}

	a.Store = repository.NewSQLStore(db)
	a.Logger.Info("connected to database", zap.String("driver", a.Config.Database.Driver))
	return nil
}

func (a *App) initCache(ctx context.Context) (cache.LoanCache, error) {
	if !a.Config.Redis.Enabled {
		return cache.NewMemoryLoanCache(a.Config.Redis.CacheTTL), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", a.Config.Redis.Addr, err)
	}

	a.Redis = client
	a.Logger.Info("connected to redis", zap.String("addr", a.Config.Redis.Addr))
	return cache.NewRedisLoanCache(client, a.Config.Redis.CacheTTL), nil
}

// Router builds the HTTP surface over the app's services.
func (a *App) Router() http.Handler {
	return handler.NewRouter(handler.RouterConfig{
		Logger:         a.Logger,
		Metrics:        a.Metrics,
		JWTSecret:      a.Config.Auth.JWTSecret,
		RateLimitRPS:   a.Config.RateLimit.RPS,
		RateLimitBurst: a.Config.RateLimit.Burst,
	}, handler.Handlers{
		Loans:    handler.NewLoanHandler(a.Loans),
		Payments: handler.NewPaymentHandler(a.Payments),
		Clients:  handler.NewClientHandler(a.Clients),
		Health:   handler.NewHealthHandler(a.Store, a.Redis, a.Metrics, a.Config.Health.Timeout),
	})
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
