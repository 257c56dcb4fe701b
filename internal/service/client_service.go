package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/repository"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
)

// ClientService maintains the per-client loan count and total debt. Only LoanService
// writes through it; the ledger never does.
type ClientService struct {
	base
	healGrace time.Duration
}

func NewClientService(store repository.Store, opts Options) *ClientService {
	return &ClientService{base: newBase(store, opts), healGrace: opts.HealGrace}
}

// IncrementLoanCount adds delta to the client's loan count.
func (s *ClientService) IncrementLoanCount(ctx context.Context, clientID string, delta int) (*domain.ClientAggregate, error) {
	return s.Adjust(ctx, clientID, delta, decimal.Zero)
}

// AdjustTotalDebt adds delta to the client's total debt.
func (s *ClientService) AdjustTotalDebt(ctx context.Context, clientID string, delta decimal.Decimal) (*domain.ClientAggregate, error) {
	return s.Adjust(ctx, clientID, 0, delta)
}

// Adjust applies both deltas in one atomic write.
func (s *ClientService) Adjust(ctx context.Context, clientID string, loans int, debt decimal.Decimal) (*domain.ClientAggregate, error) {
	agg, err := s.store.Repos().Clients.Adjust(ctx, clientID, loans, debt)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	s.logger.Debug("client aggregate adjusted",
		zap.String("client_id", clientID),
		zap.Int("loans_delta", loans),
		zap.String("debt_delta", debt.String()),
		zap.Int("loans", agg.Loans),
		zap.String("total_debt", agg.TotalDebt.String()))
	return agg, nil
}

// Get returns the stored aggregate of a client. Non-admin callers only see clients they
// hold at least one loan for.
func (s *ClientService) Get(ctx context.Context, clientID string) (*domain.ClientAggregate, error) {
	if owner := ownerScope(ctx); owner != "" {
		owned, err := s.store.Repos().Loans.List(ctx, repository.LoanFilter{OwnerID: owner, ClientID: clientID})
		if err != nil {
			return nil, customError.WrapDatabaseError(err)
		}
		if len(owned) == 0 {
			return nil, customError.WrapClientNotFound(clientID)
		}
	}

	agg, err := s.store.Repos().Clients.Get(ctx, clientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, customError.WrapClientNotFound(clientID)
	}
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return agg, nil
}

// Reconcile recomputes every aggregate from the loans table and rewrites the ones that
// drifted. It returns how many aggregates were rewritten.
//
// The pass runs serializable so an adjustment committed while it reads forces a retry
// instead of being overwritten. Clients with a loan written inside the heal grace window
// are skipped: their aggregate adjustment may still be in flight.
func (s *ClientService) Reconcile(ctx context.Context) (healed int, err error) {
	ctx, span := tracer.Start(ctx, "ClientService.Reconcile")
	defer func() { endSpan(span, err) }()
	defer s.observe("reconcile_clients", time.Now())

	err = s.withRetry(ctx, "reconcile_clients", "client", "*", func() error {
		return s.store.WithinTxIsolation(ctx, sql.LevelSerializable, func(ctx context.Context, repos repository.Repositories) error {
			healed, err = s.heal(ctx, repos)
			return err
		})
	})
	if err != nil {
		return 0, err
	}

	s.metrics.AddAggregateHeals(healed)
	return healed, nil
}

func (s *ClientService) heal(ctx context.Context, repos repository.Repositories) (int, error) {
	loans, err := repos.Loans.List(ctx, repository.LoanFilter{})
	if err != nil {
		return 0, err
	}
	stored, err := repos.Clients.List(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	settling := make(map[string]bool)
	want := make(map[string]*domain.ClientAggregate)
	for _, loan := range loans {
		if s.healGrace > 0 && loan.UpdatedAt.After(now.Add(-s.healGrace)) {
			settling[loan.ClientID] = true
		}
		agg, ok := want[loan.ClientID]
		if !ok {
			agg = &domain.ClientAggregate{ClientID: loan.ClientID, TotalDebt: decimal.Zero}
			want[loan.ClientID] = agg
		}
		agg.Loans++
		agg.TotalDebt = agg.TotalDebt.Add(loan.TotalAmount)
	}

	have := make(map[string]*domain.ClientAggregate, len(stored))
	for _, agg := range stored {
		have[agg.ClientID] = agg
		if _, ok := want[agg.ClientID]; !ok {
			want[agg.ClientID] = &domain.ClientAggregate{ClientID: agg.ClientID, TotalDebt: decimal.Zero}
		}
	}

	healed := 0
	for clientID, expected := range want {
		if settling[clientID] {
			s.logger.Debug("client aggregate skipped, loan changed recently", zap.String("client_id", clientID))
			continue
		}
		current, ok := have[clientID]
		if ok && current.Loans == expected.Loans && current.TotalDebt.Equal(expected.TotalDebt) {
			continue
		}
		expected.UpdatedAt = now
		if err := repos.Clients.Replace(ctx, expected); err != nil {
			return 0, err
		}
		healed++
		s.logger.Info("client aggregate healed",
			zap.String("client_id", clientID),
			zap.Int("loans", expected.Loans),
			zap.String("total_debt", expected.TotalDebt.String()))
	}
	return healed, nil
}
