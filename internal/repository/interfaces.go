package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/microlend-ledger/internal/domain"
)

var (
	// ErrNotFound is returned when no record matches the given id.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a conditional write finds the record changed
	// since it was read (loan version or payment status no longer match).
	ErrVersionConflict = errors.New("record version conflict")
	// ErrDuplicate is returned when creating a record whose id already exists.
	ErrDuplicate = errors.New("duplicate record")
)

// LoanFilter selects loans by equality on the non-empty fields.
// A non-zero DueBefore keeps only loans whose next payment date is before it.
type LoanFilter struct {
	OwnerID   string
	ClientID  string
	Status    domain.LoanStatus
	DueBefore time.Time
}

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// Create inserts a new loan at version 1
	Create(ctx context.Context, loan *domain.Loan) error

	// GetByID retrieves a loan by its id
	GetByID(ctx context.Context, id string) (*domain.Loan, error)

	// List returns loans matching filter, oldest first
	List(ctx context.Context, filter LoanFilter) ([]*domain.Loan, error)

	// Update writes every mutable field if the stored version still equals loan.Version,
	// then bumps loan.Version. A stale version yields ErrVersionConflict.
	Update(ctx context.Context, loan *domain.Loan) error

	// Delete removes the loan if its stored version equals version
	Delete(ctx context.Context, id string, version int64) error
}

// PaymentRepository defines the interface for payment data operations
type PaymentRepository interface {
	// Create creates a new payment record
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by its id
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// ListByLoan retrieves all payments for a loan ordered by payment date
	ListByLoan(ctx context.Context, loanID string) ([]*domain.Payment, error)

	// Update writes the payment only if its stored status is still from
	Update(ctx context.Context, payment *domain.Payment, from domain.PaymentStatus) error

	// Delete removes the payment only if its stored status is still status
	Delete(ctx context.Context, id string, status domain.PaymentStatus) error

	// DeleteByLoan removes every payment of a loan and returns how many were removed
	DeleteByLoan(ctx context.Context, loanID string) (int64, error)
}

// ClientRepository stores the denormalized per-client aggregates
type ClientRepository interface {
	// Get retrieves a client's aggregate
	Get(ctx context.Context, clientID string) (*domain.ClientAggregate, error)

	// Adjust atomically adds the deltas to a client's aggregate, creating it when missing
	Adjust(ctx context.Context, clientID string, loans int, debt decimal.Decimal) (*domain.ClientAggregate, error)

	// Replace overwrites a client's aggregate with recomputed values
	Replace(ctx context.Context, agg *domain.ClientAggregate) error

	// List returns every stored aggregate
	List(ctx context.Context) ([]*domain.ClientAggregate, error)
}

// Repositories groups the repositories that share one connection or transaction.
type Repositories struct {
	Loans    LoanRepository
	Payments PaymentRepository
	Clients  ClientRepository
}

// Store hands out repositories outside a transaction and runs units of work inside one.
type Store interface {
	Repos() Repositories

	// WithinTx runs fn in a transaction that commits when fn returns nil and rolls back
	// otherwise. fn must only use the repositories it is given.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	// WithinTxIsolation is WithinTx at the given isolation level. Serialization failures
	// surface as ErrVersionConflict so callers can retry them.
	WithinTxIsolation(ctx context.Context, level sql.IsolationLevel, fn func(ctx context.Context, repos Repositories) error) error

	Ping(ctx context.Context) error
}
