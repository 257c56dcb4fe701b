package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/microlend-ledger/internal/cache"
	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/ledger"
	"github.com/segyhp/microlend-ledger/internal/mocks"
	"github.com/segyhp/microlend-ledger/internal/observability"
	"github.com/segyhp/microlend-ledger/internal/repository"
	"github.com/segyhp/microlend-ledger/internal/repository/memory"
	"github.com/segyhp/microlend-ledger/internal/service"
)

var (
	testStart = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	testNow   = time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	store    repository.Store
	metrics  *observability.Metrics
	uploader *mocks.MockUploader
	clients  *service.ClientService
	loans    *service.LoanService
	payments *service.PaymentService
	status   *service.StatusService
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.NewStore(), policy)
}

func newFixtureWithStore(t *testing.T, store repository.Store, policy string) *fixture {
	t.Helper()
	metrics := observability.NewMetrics()
	opts := service.Options{
		Metrics: metrics,
		Cache:   cache.NewMemoryLoanCache(time.Minute),
		Retry:   service.RetryPolicy{MaxRetries: 2, InitialBackoff: time.Millisecond},
		Now:     func() time.Time { return testNow },
	}
	reconciler := ledger.NewReconciler(nil)
	uploader := new(mocks.MockUploader)
	clients := service.NewClientService(store, opts)

	return &fixture{
		store:    store,
		metrics:  metrics,
		uploader: uploader,
		clients:  clients,
		loans:    service.NewLoanService(store, clients, reconciler, opts),
		payments: service.NewPaymentService(store, reconciler, uploader,
			service.ReceiptOptions{Policy: policy, Folder: "receipts"}, opts),
		status: service.NewStatusService(store, 4, opts),
	}
}

func loanRequest(clientID, principal, rate string, months int) *domain.CreateLoanRequest {
	return &domain.CreateLoanRequest{
		ClientID: clientID,
		LoanTerms: domain.LoanTerms{
			Principal:        decimal.RequireFromString(principal),
			InterestRate:     decimal.RequireFromString(rate),
			TermMonths:       months,
			PaymentFrequency: domain.FrequencyMonthly,
			StartDate:        testStart,
		},
	}
}

func (f *fixture) createLoan(t *testing.T, clientID, principal, rate string, months int) *domain.Loan {
	t.Helper()
	loan, err := f.loans.CreateLoan(context.Background(), loanRequest(clientID, principal, rate, months))
	require.NoError(t, err)
	return loan
}

func (f *fixture) createPayment(t *testing.T, loanID, amount string) *domain.Payment {
	t.Helper()
	p, err := f.payments.CreatePayment(context.Background(), &domain.CreatePaymentRequest{
		LoanID: loanID,
		Amount: decimal.RequireFromString(amount),
		Method: domain.PaymentMethodCash,
	}, nil)
	require.NoError(t, err)
	return p
}

func (f *fixture) pay(t *testing.T, loanID, amount string) *domain.Payment {
	t.Helper()
	p := f.createPayment(t, loanID, amount)
	confirmed, err := f.payments.ConfirmPayment(context.Background(), p.ID)
	require.NoError(t, err)
	return confirmed
}

func (f *fixture) reload(t *testing.T, loanID string) *domain.Loan {
	t.Helper()
	loan, err := f.store.Repos().Loans.GetByID(context.Background(), loanID)
	require.NoError(t, err)
	return loan
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
