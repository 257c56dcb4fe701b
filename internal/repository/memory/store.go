// Package memory is an in-process repository.Store with the same conditional-write
// semantics as the PostgreSQL store. It backs local runs and service tests.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/repository"
)

type dataset struct {
	loans    map[string]domain.Loan
	payments map[string]domain.Payment
	clients  map[string]domain.ClientAggregate
}

func newDataset() *dataset {
	return &dataset{
		loans:    make(map[string]domain.Loan),
		payments: make(map[string]domain.Payment),
		clients:  make(map[string]domain.ClientAggregate),
	}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		loans:    make(map[string]domain.Loan, len(d.loans)),
		payments: make(map[string]domain.Payment, len(d.payments)),
		clients:  make(map[string]domain.ClientAggregate, len(d.clients)),
	}
	for k, v := range d.loans {
		c.loans[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.clients {
		c.clients[k] = v
	}
	return c
}

// Store keeps records as values so callers never share memory with it.
// Transactions are serialized: WithinTx holds the store lock, works on a copy of the
// data and swaps it in on success.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

func NewStore() *Store {
	return &Store{data: newDataset()}
}

func (s *Store) Repos() repository.Repositories {
	return s.reposFor(nil)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(ctx, s.reposFor(work)); err != nil {
		return err
	}
	s.data = work
	return nil
}

// WithinTxIsolation is WithinTx: memory transactions are already serialized.
func (s *Store) WithinTxIsolation(ctx context.Context, _ sql.IsolationLevel, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return s.WithinTx(ctx, fn)
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) reposFor(tx *dataset) repository.Repositories {
	v := &view{store: s, tx: tx}
	return repository.Repositories{
		Loans:    &loanRepository{v},
		Payments: &paymentRepository{v},
		Clients:  &clientRepository{v},
	}
}

// view runs a callback either on a transaction's working copy or, outside a transaction,
// on the committed data under the store lock.
type view struct {
	store *Store
	tx    *dataset
}

func (v *view) do(ctx context.Context, fn func(d *dataset) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.data)
}

type loanRepository struct{ *view }

func (r *loanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	return r.do(ctx, func(d *dataset) error {
		if _, ok := d.loans[loan.ID]; ok {
			return repository.ErrDuplicate
		}
		loan.Version = 1
		d.loans[loan.ID] = *loan
		return nil
	})
}

func (r *loanRepository) GetByID(ctx context.Context, id string) (*domain.Loan, error) {
	var out domain.Loan
	err := r.do(ctx, func(d *dataset) error {
		loan, ok := d.loans[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *loanRepository) List(ctx context.Context, filter repository.LoanFilter) ([]*domain.Loan, error) {
	var out []*domain.Loan
	err := r.do(ctx, func(d *dataset) error {
		for _, loan := range d.loans {
			if !matches(loan, filter) {
				continue
			}
			l := loan
			out = append(out, &l)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func matches(loan domain.Loan, f repository.LoanFilter) bool {
	switch {
	case f.OwnerID != "" && loan.OwnerID != f.OwnerID:
		return false
	case f.ClientID != "" && loan.ClientID != f.ClientID:
		return false
	case f.Status != "" && loan.Status != f.Status:
		return false
	case !f.DueBefore.IsZero() && !loan.NextPaymentDate.Before(f.DueBefore):
		return false
	}
	return true
}

func (r *loanRepository) Update(ctx context.Context, loan *domain.Loan) error {
	return r.do(ctx, func(d *dataset) error {
		stored, ok := d.loans[loan.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if stored.Version != loan.Version {
			return repository.ErrVersionConflict
		}
		updated := *loan
		updated.Version = stored.Version + 1
		updated.CreatedAt = stored.CreatedAt
		updated.ClientID = stored.ClientID
		updated.OwnerID = stored.OwnerID
		d.loans[loan.ID] = updated
		loan.Version = updated.Version
		return nil
	})
}

func (r *loanRepository) Delete(ctx context.Context, id string, version int64) error {
	return r.do(ctx, func(d *dataset) error {
		stored, ok := d.loans[id]
		if !ok {
			return repository.ErrNotFound
		}
		if stored.Version != version {
			return repository.ErrVersionConflict
		}
		delete(d.loans, id)
		return nil
	})
}

type paymentRepository struct{ *view }

func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	return r.do(ctx, func(d *dataset) error {
		if _, ok := d.payments[payment.ID]; ok {
			return repository.ErrDuplicate
		}
		d.payments[payment.ID] = *payment
		return nil
	})
}

func (r *paymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	var out domain.Payment
	err := r.do(ctx, func(d *dataset) error {
		p, ok := d.payments[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *paymentRepository) ListByLoan(ctx context.Context, loanID string) ([]*domain.Payment, error) {
	var out []*domain.Payment
	err := r.do(ctx, func(d *dataset) error {
		for _, p := range d.payments {
			if p.LoanID == loanID {
				cp := p
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.PaymentDate.Equal(b.PaymentDate) {
			return a.PaymentDate.Before(b.PaymentDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, err
}

func (r *paymentRepository) Update(ctx context.Context, payment *domain.Payment, from domain.PaymentStatus) error {
	return r.do(ctx, func(d *dataset) error {
		stored, ok := d.payments[payment.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if stored.Status != from {
			return repository.ErrVersionConflict
		}
		updated := *payment
		updated.LoanID = stored.LoanID
		updated.CreatedAt = stored.CreatedAt
		d.payments[payment.ID] = updated
		return nil
	})
}

func (r *paymentRepository) Delete(ctx context.Context, id string, status domain.PaymentStatus) error {
	return r.do(ctx, func(d *dataset) error {
		stored, ok := d.payments[id]
		if !ok {
			return repository.ErrNotFound
		}
		if stored.Status != status {
			return repository.ErrVersionConflict
		}
		delete(d.payments, id)
		return nil
	})
}

func (r *paymentRepository) DeleteByLoan(ctx context.Context, loanID string) (int64, error) {
	var n int64
	err := r.do(ctx, func(d *dataset) error {
		for id, p := range d.payments {
			if p.LoanID == loanID {
				delete(d.payments, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

type clientRepository struct{ *view }

func (r *clientRepository) Get(ctx context.Context, clientID string) (*domain.ClientAggregate, error) {
	var out domain.ClientAggregate
	err := r.do(ctx, func(d *dataset) error {
		agg, ok := d.clients[clientID]
		if !ok {
			return repository.ErrNotFound
		}
		out = agg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *clientRepository) Adjust(ctx context.Context, clientID string, loans int, debt decimal.Decimal) (*domain.ClientAggregate, error) {
	var out domain.ClientAggregate
	err := r.do(ctx, func(d *dataset) error {
		agg, ok := d.clients[clientID]
		if !ok {
			agg = domain.ClientAggregate{ClientID: clientID, TotalDebt: decimal.Zero}
		}
		agg.Loans += loans
		agg.TotalDebt = agg.TotalDebt.Add(debt)
		agg.Version++
		agg.UpdatedAt = time.Now().UTC()
		d.clients[clientID] = agg
		out = agg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *clientRepository) Replace(ctx context.Context, agg *domain.ClientAggregate) error {
	return r.do(ctx, func(d *dataset) error {
		stored := d.clients[agg.ClientID]
		agg.Version = stored.Version + 1
		d.clients[agg.ClientID] = *agg
		return nil
	})
}

func (r *clientRepository) List(ctx context.Context) ([]*domain.ClientAggregate, error) {
	var out []*domain.ClientAggregate
	err := r.do(ctx, func(d *dataset) error {
		for _, agg := range d.clients {
			a := agg
			out = append(out, &a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, err
}
