package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/ledger"
	"github.com/segyhp/microlend-ledger/internal/repository"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
)

// StatusService runs the periodic active -> late sweep.
type StatusService struct {
	base
	concurrency int
}

func NewStatusService(store repository.Store, concurrency int, opts Options) *StatusService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &StatusService{base: newBase(store, opts), concurrency: concurrency}
}

// MarkLateLoans moves every active loan whose next payment date is before now to late.
// Each loan is written on its own; a failure on one loan is logged and reported in the
// joined error without stopping the others.
func (s *StatusService) MarkLateLoans(ctx context.Context, now time.Time) (marked int, err error) {
	ctx, span := tracer.Start(ctx, "StatusService.MarkLateLoans")
	defer func() { endSpan(span, err) }()
	defer s.observe("mark_late", time.Now())

	candidates, err := s.store.Repos().Loans.List(ctx, repository.LoanFilter{
		Status:    domain.LoanStatusActive,
		DueBefore: now,
	})
	if err != nil {
		return 0, customError.WrapDatabaseError(err)
	}

	var (
		count atomic.Int64
		mu    sync.Mutex
		errs  []error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, candidate := range candidates {
		id := candidate.ID
		g.Go(func() error {
			changed, err := s.markLate(ctx, id, now)
			if err != nil {
				s.logger.Error("marking loan late failed", zap.String("loan_id", id), zap.Error(err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			if changed {
				count.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	marked = int(count.Load())
	s.metrics.AddLateMarked(marked)
	s.logger.Info("late sweep finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("marked", marked),
		zap.Int("failed", len(errs)))
	return marked, errors.Join(errs...)
}

// markLate re-reads the loan inside a transaction so a payment confirmed since the listing
// is seen before the status is written.
func (s *StatusService) markLate(ctx context.Context, id string, now time.Time) (bool, error) {
	changed := false
	err := s.withRetry(ctx, "mark_late", "loan", id, func() error {
		changed = false
		return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			loan, err := repos.Loans.GetByID(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			updated, ok := ledger.MarkLate(loan, now)
			if !ok {
				return nil
			}
			updated.UpdatedAt = s.now()
			if err := repos.Loans.Update(ctx, updated); err != nil {
				return err
			}
			changed = true
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.invalidate(ctx, id)
		s.logger.Info("loan marked late", zap.String("loan_id", id))
	}
	return changed, nil
}
