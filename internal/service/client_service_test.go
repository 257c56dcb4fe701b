package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/microlend-ledger/internal/auth"
	"github.com/segyhp/microlend-ledger/internal/config"
	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/mocks"
	"github.com/segyhp/microlend-ledger/internal/observability"
	"github.com/segyhp/microlend-ledger/internal/repository"
	"github.com/segyhp/microlend-ledger/internal/service"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
)

func TestClientService_Adjustments(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()

	_, err := f.clients.IncrementLoanCount(ctx, "client-1", 2)
	require.NoError(t, err)
	agg, err := f.clients.AdjustTotalDebt(ctx, "client-1", dec("150.50"))
	require.NoError(t, err)

	assert.Equal(t, 2, agg.Loans)
	assert.True(t, agg.TotalDebt.Equal(dec("150.5")))

	_, err = f.clients.Get(ctx, "nobody")
	assert.ErrorIs(t, err, customError.ErrClientNotFound)
}

func TestClientService_Reconcile(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	f.createLoan(t, "client-1", "1000", "10", 12)
	f.createLoan(t, "client-1", "500", "0", 1)
	f.createLoan(t, "client-2", "1000", "10", 12)

	clients := f.store.Repos().Clients
	_, err := clients.Adjust(ctx, "client-1", 3, dec("99"))
	require.NoError(t, err)
	_, err = clients.Adjust(ctx, "ghost", 1, dec("50"))
	require.NoError(t, err)

	healed, err := f.clients.Reconcile(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, healed)

	one, err := f.clients.Get(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 2, one.Loans)
	assert.True(t, one.TotalDebt.Equal(dec("2700")))

	ghost, err := f.clients.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Zero(t, ghost.Loans)
	assert.True(t, ghost.TotalDebt.IsZero())

	two, err := f.clients.Get(ctx, "client-2")
	require.NoError(t, err)
	assert.True(t, two.TotalDebt.Equal(dec("2200")))

	healed, err = f.clients.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, healed)
	assert.Equal(t, float64(2), f.metrics.Snapshot().AggregateHeals)
}

func TestClientService_GetScopedToOwner(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	owner := auth.WithRole(auth.WithOwner(ctx, "owner-1"), auth.RoleOwner)
	_, err := f.loans.CreateLoan(owner, loanRequest("client-1", "1000", "10", 12))
	require.NoError(t, err)

	agg, err := f.clients.Get(owner, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Loans)

	stranger := auth.WithRole(auth.WithOwner(ctx, "owner-2"), auth.RoleOwner)
	_, err = f.clients.Get(stranger, "client-1")
	assert.ErrorIs(t, err, customError.ErrClientNotFound)

	admin := auth.WithRole(auth.WithOwner(ctx, "owner-2"), auth.RoleAdmin)
	agg, err = f.clients.Get(admin, "client-1")
	require.NoError(t, err)
	assert.True(t, agg.TotalDebt.Equal(dec("2200")))
}

func TestClientService_ReconcileSkipsRecentlyChangedClients(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	f.createLoan(t, "client-1", "1000", "10", 12)

	clients := f.store.Repos().Clients
	_, err := clients.Adjust(ctx, "client-1", 4, dec("1"))
	require.NoError(t, err)
	_, err = clients.Adjust(ctx, "ghost", 1, dec("50"))
	require.NoError(t, err)

	settling := service.NewClientService(f.store, service.Options{
		Metrics:   observability.NewMetrics(),
		Now:       func() time.Time { return testNow.Add(30 * time.Second) },
		HealGrace: time.Minute,
	})
	healed, err := settling.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, healed)

	one, err := f.clients.Get(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 5, one.Loans)

	settled := service.NewClientService(f.store, service.Options{
		Metrics:   observability.NewMetrics(),
		Now:       func() time.Time { return testNow.Add(2 * time.Minute) },
		HealGrace: time.Minute,
	})
	healed, err = settled.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, healed)

	one, err = f.clients.Get(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 1, one.Loans)
	assert.True(t, one.TotalDebt.Equal(dec("2200")))
}

func TestClientService_ReconcileRetriesSerializationFailure(t *testing.T) {
	store := mocks.NewMockStore()
	f := newFixtureWithStore(t, store, config.ReceiptPolicyStrict)
	ctx := context.Background()
	loans := []*domain.Loan{{ID: "loan-1", ClientID: "client-1", TotalAmount: dec("2200")}}

	store.Loans.On("List", mock.Anything, repository.LoanFilter{}).Return(nil, repository.ErrVersionConflict).Once()
	store.Loans.On("List", mock.Anything, repository.LoanFilter{}).Return(loans, nil).Once()
	store.Clients.On("List", mock.Anything).Return([]*domain.ClientAggregate{}, nil).Once()
	store.Clients.On("Replace", mock.Anything, mock.MatchedBy(func(agg *domain.ClientAggregate) bool {
		return agg.ClientID == "client-1" && agg.Loans == 1 && agg.TotalDebt.Equal(dec("2200"))
	})).Return(nil).Once()

	healed, err := f.clients.Reconcile(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, healed)
	assert.Equal(t, float64(1), f.metrics.Snapshot().ConflictRetries)
	store.Loans.AssertExpectations(t)
	store.Clients.AssertExpectations(t)
}
