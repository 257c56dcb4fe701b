package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/segyhp/microlend-ledger/internal/auth"
	"github.com/segyhp/microlend-ledger/internal/cache"
	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/observability"
	"github.com/segyhp/microlend-ledger/internal/repository"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
	"github.com/segyhp/microlend-ledger/pkg/validation"
)

var tracer = otel.Tracer("service/ledger")

// RetryPolicy bounds the optimistic-concurrency retries of a write.
type RetryPolicy struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
}

// Options carries the collaborators shared by every service. Zero values get defaults.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Cache   cache.LoanCache
	Retry   RetryPolicy
	Now     func() time.Time

	// HealGrace makes the aggregate heal skip clients whose loans changed this recently.
	HealGrace time.Duration
}

type base struct {
	store     repository.Store
	cache     cache.LoanCache
	logger    *zap.Logger
	metrics   *observability.Metrics
	retry     RetryPolicy
	now       func() time.Time
	validator *validator.Validate
}

func newBase(store repository.Store, opts Options) base {
	b := base{
		store:     store,
		cache:     opts.Cache,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		retry:     opts.Retry,
		now:       opts.Now,
		validator: validation.New(),
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.metrics == nil {
		b.metrics = observability.NewMetrics()
	}
	if b.retry.MaxRetries == 0 {
		b.retry.MaxRetries = 5
	}
	if b.retry.InitialBackoff <= 0 {
		b.retry.InitialBackoff = 20 * time.Millisecond
	}
	if b.now == nil {
		b.now = func() time.Time { return time.Now().UTC() }
	}
	return b
}

// withRetry runs fn until it stops failing with repository.ErrVersionConflict or the retry
// budget runs out. Any other error ends the loop at once. A conflict that survives every
// attempt is returned as a conflict BusinessError.
func (b *base) withRetry(ctx context.Context, operation, resource, id string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.retry.InitialBackoff
	eb.MaxInterval = 50 * b.retry.InitialBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, b.retry.MaxRetries), ctx)

	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			b.metrics.IncrConflictRetry(operation)
			b.logger.Debug("write conflict, retrying",
				zap.String("operation", operation),
				zap.String(resource+"_id", id))
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	if errors.Is(err, repository.ErrVersionConflict) {
		b.logger.Warn("write conflict persisted after retries",
			zap.String("operation", operation),
			zap.String(resource+"_id", id),
			zap.Uint64("max_retries", b.retry.MaxRetries))
		return customError.WrapConflict(resource, id, err)
	}
	return classify(err)
}

// classify leaves BusinessErrors and context errors alone and wraps anything else from the
// store as a dependency error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var be *customError.BusinessError
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return customError.WrapDatabaseError(err)
}

// loadLoan reads a loan and enforces owner scoping when a caller identity is present.
// Conflicts pass through untouched so withRetry can see them.
func loadLoan(ctx context.Context, repos repository.Repositories, id string) (*domain.Loan, error) {
	loan, err := repos.Loans.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, customError.WrapLoanNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	if !visibleTo(ctx, loan) {
		return nil, customError.WrapLoanNotFound(id)
	}
	return loan, nil
}

func loadPayment(ctx context.Context, repos repository.Repositories, id string) (*domain.Payment, error) {
	p, err := repos.Payments.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, customError.WrapPaymentNotFound(id)
	}
	return p, err
}

func visibleTo(ctx context.Context, loan *domain.Loan) bool {
	owner := ownerScope(ctx)
	return owner == "" || loan.OwnerID == owner
}

// ownerScope is the owner id reads are restricted to, or "" for admins and when auth is off.
func ownerScope(ctx context.Context) string {
	if auth.IsAdmin(ctx) {
		return ""
	}
	return auth.OwnerFromContext(ctx)
}

// invalidate drops a loan from the cache after a committed write. Failures only log: the
// entry expires on its own.
func (b *base) invalidate(ctx context.Context, loanID string) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Invalidate(ctx, loanID); err != nil {
		b.logger.Warn("cache invalidation failed", zap.String("loan_id", loanID), zap.Error(err))
	}
}

// observe records the duration of an operation; use as defer b.observe("op", time.Now()).
func (b *base) observe(operation string, start time.Time) {
	b.metrics.RecordDuration(operation, time.Since(start))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
