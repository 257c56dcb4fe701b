package mocks

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/repository"
)

type MockLoanRepository struct {
	mock.Mock
}

func (m *MockLoanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	args := m.Called(ctx, loan)
	return args.Error(0)
}

func (m *MockLoanRepository) GetByID(ctx context.Context, id string) (*domain.Loan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Loan), args.Error(1)
}

func (m *MockLoanRepository) List(ctx context.Context, filter repository.LoanFilter) ([]*domain.Loan, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Loan), args.Error(1)
}

func (m *MockLoanRepository) Update(ctx context.Context, loan *domain.Loan) error {
	args := m.Called(ctx, loan)
	return args.Error(0)
}

func (m *MockLoanRepository) Delete(ctx context.Context, id string, version int64) error {
	args := m.Called(ctx, id, version)
	return args.Error(0)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) ListByLoan(ctx context.Context, loanID string) ([]*domain.Payment, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) Update(ctx context.Context, payment *domain.Payment, from domain.PaymentStatus) error {
	args := m.Called(ctx, payment, from)
	return args.Error(0)
}

func (m *MockPaymentRepository) Delete(ctx context.Context, id string, status domain.PaymentStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockPaymentRepository) DeleteByLoan(ctx context.Context, loanID string) (int64, error) {
	args := m.Called(ctx, loanID)
	return args.Get(0).(int64), args.Error(1)
}

type MockClientRepository struct {
	mock.Mock
}

func (m *MockClientRepository) Get(ctx context.Context, clientID string) (*domain.ClientAggregate, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ClientAggregate), args.Error(1)
}

func (m *MockClientRepository) Adjust(ctx context.Context, clientID string, loans int, debt decimal.Decimal) (*domain.ClientAggregate, error) {
	args := m.Called(ctx, clientID, loans, debt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ClientAggregate), args.Error(1)
}

func (m *MockClientRepository) Replace(ctx context.Context, agg *domain.ClientAggregate) error {
	args := m.Called(ctx, agg)
	return args.Error(0)
}

func (m *MockClientRepository) List(ctx context.Context) ([]*domain.ClientAggregate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ClientAggregate), args.Error(1)
}

// MockStore hands out the same mock repositories inside and outside transactions.
// WithinTx simply calls fn; Ping is mocked.
type MockStore struct {
	mock.Mock
	Loans    *MockLoanRepository
	Payments *MockPaymentRepository
	Clients  *MockClientRepository
}

func NewMockStore() *MockStore {
	return &MockStore{
		Loans:    new(MockLoanRepository),
		Payments: new(MockPaymentRepository),
		Clients:  new(MockClientRepository),
	}
}

func (m *MockStore) Repos() repository.Repositories {
	return repository.Repositories{Loans: m.Loans, Payments: m.Payments, Clients: m.Clients}
}

func (m *MockStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return fn(ctx, m.Repos())
}

func (m *MockStore) WithinTxIsolation(ctx context.Context, _ sql.IsolationLevel, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return fn(ctx, m.Repos())
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
