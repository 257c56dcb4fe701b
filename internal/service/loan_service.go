package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/segyhp/microlend-ledger/internal/amortization"
	"github.com/segyhp/microlend-ledger/internal/auth"
	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/export"
	"github.com/segyhp/microlend-ledger/internal/ledger"
	"github.com/segyhp/microlend-ledger/internal/repository"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
	"github.com/segyhp/microlend-ledger/pkg/utils"
	"github.com/segyhp/microlend-ledger/pkg/validation"
)

const cacheName = "loan"

// LoanService owns the loan aggregate: creation, term changes, deletion and the read side.
type LoanService struct {
	base
	clients    *ClientService
	reconciler *ledger.Reconciler
}

func NewLoanService(store repository.Store, clients *ClientService, reconciler *ledger.Reconciler, opts Options) *LoanService {
	return &LoanService{
		base:       newBase(store, opts),
		clients:    clients,
		reconciler: reconciler,
	}
}

// CreateLoan validates terms, runs the calculator and persists a fresh active loan. The client
// aggregate is updated after the loan is stored; if that fails the loan is still returned
// together with a CLIENT_AGGREGATE_OUT_OF_SYNC error.
func (s *LoanService) CreateLoan(ctx context.Context, req *domain.CreateLoanRequest) (loan *domain.Loan, err error) {
	ctx, span := tracer.Start(ctx, "LoanService.CreateLoan")
	defer func() { endSpan(span, err) }()
	defer s.observe("create_loan", time.Now())

	if err := validation.Struct(s.validator, req); err != nil {
		return nil, err
	}
	a, err := amortization.ComputeTerms(req.LoanTerms)
	if err != nil {
		return nil, err
	}

	now := s.now()
	start := req.StartDate
	if start.IsZero() {
		start = utils.StartOfDay(now)
	}
	owner := req.OwnerID
	if owner == "" {
		owner = auth.OwnerFromContext(ctx)
	}

	loan = &domain.Loan{
		ID:                uuid.NewString(),
		ClientID:          req.ClientID,
		OwnerID:           owner,
		Principal:         req.Principal,
		InterestRate:      req.InterestRate,
		TermMonths:        req.TermMonths,
		PaymentFrequency:  req.PaymentFrequency,
		StartDate:         start,
		PaidAmount:        decimal.Zero,
		RemainingBalance:  a.TotalAmount,
		CompletedPayments: 0,
		PaymentProgress:   decimal.Zero,
		NextPaymentDate:   start,
		Status:            domain.LoanStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	loan.ApplyAmortization(a)

	if err := s.store.Repos().Loans.Create(ctx, loan); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	s.logger.Info("loan created",
		zap.String("loan_id", loan.ID),
		zap.String("client_id", loan.ClientID),
		zap.String("total_amount", loan.TotalAmount.String()),
		zap.Int("total_payments", loan.TotalPayments))

	if err := s.adjustClient(ctx, loan.ClientID, 1, loan); err != nil {
		return loan, err
	}
	return loan, nil
}

// UpdateLoanTerms re-runs the calculator for new terms and re-derives the ledger fields
// from the loan's existing paid amount. Completed loans are rejected.
func (s *LoanService) UpdateLoanTerms(ctx context.Context, id string, req *domain.UpdateLoanTermsRequest) (loan *domain.Loan, err error) {
	ctx, span := tracer.Start(ctx, "LoanService.UpdateLoanTerms")
	defer func() { endSpan(span, err) }()
	defer s.observe("update_terms", time.Now())

	if err := validation.Struct(s.validator, req); err != nil {
		return nil, err
	}
	a, err := amortization.ComputeTerms(req.LoanTerms)
	if err != nil {
		return nil, err
	}

	previousTotal := a.TotalAmount
	err = s.withRetry(ctx, "update_terms", "loan", id, func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			current, err := loadLoan(ctx, repos, id)
			if err != nil {
				return err
			}
			if current.IsCompleted() {
				s.logger.Warn("terms change attempted on completed loan", zap.String("loan_id", id))
				return customError.WrapLoanCompleted(id)
			}

			previousTotal = current.TotalAmount
			res := s.reconciler.Rederive(current, req.LoanTerms, a)

			current.Principal = req.Principal
			current.InterestRate = req.InterestRate
			current.TermMonths = req.TermMonths
			current.PaymentFrequency = req.PaymentFrequency
			if !req.StartDate.IsZero() {
				current.StartDate = req.StartDate
			}
			current.ApplyAmortization(a)
			res.ApplyTo(current)
			current.UpdatedAt = s.now()

			if err := repos.Loans.Update(ctx, current); err != nil {
				return err
			}
			loan = current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)

	s.logger.Info("loan terms updated",
		zap.String("loan_id", id),
		zap.String("total_amount", loan.TotalAmount.String()),
		zap.String("status", string(loan.Status)),
		zap.Int64("version", loan.Version))

	if delta := loan.TotalAmount.Sub(previousTotal); !delta.IsZero() {
		if _, err := s.clients.AdjustTotalDebt(ctx, loan.ClientID, delta); err != nil {
			s.logger.Error("client aggregate update failed after terms change",
				zap.String("loan_id", id), zap.String("client_id", loan.ClientID), zap.Error(err))
			return loan, customError.WrapClientAggregateError(loan.ClientID, err)
		}
	}
	return loan, nil
}

// DeleteLoan removes a loan and every payment recorded against it in one transaction, then
// takes the loan out of its client's aggregate.
func (s *LoanService) DeleteLoan(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "LoanService.DeleteLoan")
	defer func() { endSpan(span, err) }()
	defer s.observe("delete_loan", time.Now())

	var (
		deleted  *domain.Loan
		payments int64
	)
	err = s.withRetry(ctx, "delete_loan", "loan", id, func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			loan, err := loadLoan(ctx, repos, id)
			if err != nil {
				return err
			}
			if payments, err = repos.Payments.DeleteByLoan(ctx, id); err != nil {
				return err
			}
			if err := repos.Loans.Delete(ctx, id, loan.Version); err != nil {
				return err
			}
			deleted = loan
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, id)

	s.logger.Info("loan deleted",
		zap.String("loan_id", id),
		zap.String("client_id", deleted.ClientID),
		zap.Int64("payments_removed", payments))

	return s.adjustClient(ctx, deleted.ClientID, -1, deleted)
}

// adjustClient applies sign times the loan's count and total to the client aggregate in
// one write.
func (s *LoanService) adjustClient(ctx context.Context, clientID string, sign int, loan *domain.Loan) error {
	debt := loan.TotalAmount
	if sign < 0 {
		debt = debt.Neg()
	}
	if _, err := s.clients.Adjust(ctx, clientID, sign, debt); err != nil {
		s.logger.Error("client aggregate update failed",
			zap.String("loan_id", loan.ID), zap.String("client_id", clientID), zap.Error(err))
		return customError.WrapClientAggregateError(clientID, err)
	}
	return nil
}

// GetLoan reads a loan through the cache. Cache failures fall back to the store.
func (s *LoanService) GetLoan(ctx context.Context, id string) (*domain.Loan, error) {
	if s.cache != nil {
		loan, ok, err := s.cache.Get(ctx, id)
		switch {
		case err != nil:
			s.logger.Warn("loan cache read failed", zap.String("loan_id", id), zap.Error(err))
		case ok && visibleTo(ctx, loan):
			s.metrics.IncrCacheHit(cacheName)
			return loan, nil
		}
		s.metrics.IncrCacheMiss(cacheName)
	}

	loan, err := loadLoan(ctx, s.store.Repos(), id)
	if err != nil {
		return nil, classify(err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, loan); err != nil {
			s.logger.Warn("loan cache write failed", zap.String("loan_id", id), zap.Error(err))
		}
	}
	return loan, nil
}

// GetLoanDetails returns the presented loan with its payments.
func (s *LoanService) GetLoanDetails(ctx context.Context, id string) (*domain.LoanDetailsResponse, error) {
	var (
		loan     *domain.Loan
		payments []*domain.Payment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		loan, err = s.GetLoan(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = s.store.Repos().Payments.ListByLoan(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, classify(err)
	}

	if payments == nil {
		payments = []*domain.Payment{}
	}
	return &domain.LoanDetailsResponse{Loan: loan.Presented(), Payments: payments}, nil
}

// ListLoans lists the caller's loans, optionally narrowed to one client or status.
func (s *LoanService) ListLoans(ctx context.Context, clientID string, status domain.LoanStatus) ([]*domain.Loan, error) {
	loans, err := s.store.Repos().Loans.List(ctx, repository.LoanFilter{
		OwnerID:  ownerScope(ctx),
		ClientID: clientID,
		Status:   status,
	})
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	if loans == nil {
		loans = []*domain.Loan{}
	}
	return loans, nil
}

// GetSchedule builds the installment schedule of a loan as of now.
func (s *LoanService) GetSchedule(ctx context.Context, id string) (*domain.ScheduleResponse, error) {
	loan, err := s.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.ScheduleResponse{
		LoanID:   loan.ID,
		Schedule: amortization.BuildSchedule(loan, s.now()),
	}, nil
}

// Statement renders a loan statement and returns it with its content type.
func (s *LoanService) Statement(ctx context.Context, id, format string) ([]byte, string, error) {
	if format != export.FormatPDF && format != export.FormatXLSX {
		return nil, "", customError.WrapInvalidInput("format must be pdf or xlsx")
	}

	loan, err := s.GetLoan(ctx, id)
	if err != nil {
		return nil, "", err
	}
	payments, err := s.store.Repos().Payments.ListByLoan(ctx, id)
	if err != nil {
		return nil, "", customError.WrapDatabaseError(err)
	}

	now := s.now()
	doc, err := export.Render(&export.Statement{
		Loan:        loan.Presented(),
		Schedule:    amortization.BuildSchedule(loan, now),
		Payments:    payments,
		GeneratedAt: now,
	}, format)
	if err != nil {
		return nil, "", err
	}
	return doc, export.ContentType(format), nil
}

// Preview runs the calculator and schedule for terms without storing anything.
func (s *LoanService) Preview(_ context.Context, req *domain.PreviewRequest) (*domain.PreviewResponse, error) {
	if err := validation.Struct(s.validator, req); err != nil {
		return nil, err
	}
	return amortization.Preview(req.LoanTerms, s.now())
}
