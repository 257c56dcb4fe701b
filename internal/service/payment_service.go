package service

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/microlend-ledger/internal/config"
	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/ledger"
	"github.com/segyhp/microlend-ledger/internal/repository"
	"github.com/segyhp/microlend-ledger/internal/upload"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
	"github.com/segyhp/microlend-ledger/pkg/validation"
)

// ReceiptOptions controls how receipt uploads interact with payment writes.
type ReceiptOptions struct {
	// Policy is config.ReceiptPolicyStrict or config.ReceiptPolicyBestEffort.
	Policy string
	Folder string
}

// PaymentService records payments and moves them through pending -> confirmed/rejected.
// Confirmations and corrections of confirmed payments go through the reconciler and are
// written together with the loan in one transaction.
type PaymentService struct {
	base
	reconciler *ledger.Reconciler
	uploader   upload.Uploader
	receipts   ReceiptOptions
	sanitizer  *bluemonday.Policy
}

func NewPaymentService(
	store repository.Store,
	reconciler *ledger.Reconciler,
	uploader upload.Uploader,
	receipts ReceiptOptions,
	opts Options,
) *PaymentService {
	if uploader == nil {
		uploader = upload.Disabled{}
	}
	if receipts.Policy == "" {
		receipts.Policy = config.ReceiptPolicyStrict
	}
	if receipts.Folder == "" {
		receipts.Folder = "receipts"
	}
	return &PaymentService{
		base:       newBase(store, opts),
		reconciler: reconciler,
		uploader:   uploader,
		receipts:   receipts,
		sanitizer:  bluemonday.StrictPolicy(),
	}
}

// CreatePayment records a pending payment. A receipt, when given, is uploaded first; under
// the strict policy a failed upload fails the call, under best effort the payment is stored
// with ReceiptMissing set.
func (s *PaymentService) CreatePayment(ctx context.Context, req *domain.CreatePaymentRequest, receipt *domain.Receipt) (payment *domain.Payment, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.CreatePayment")
	defer func() { endSpan(span, err) }()
	defer s.observe("create_payment", time.Now())

	if err := validation.Struct(s.validator, req); err != nil {
		return nil, err
	}

	loan, err := loadLoan(ctx, s.store.Repos(), req.LoanID)
	if err != nil {
		return nil, classify(err)
	}
	if loan.IsCompleted() {
		s.logger.Warn("payment recorded against completed loan rejected", zap.String("loan_id", loan.ID))
		return nil, customError.WrapLoanCompleted(loan.ID)
	}

	now := s.now()
	payment = &domain.Payment{
		ID:            uuid.NewString(),
		LoanID:        loan.ID,
		Amount:        req.Amount,
		PaymentDate:   req.PaymentDate,
		Method:        req.Method,
		Status:        domain.PaymentStatusPending,
		AppliedAmount: decimal.Zero,
		Notes:         strings.TrimSpace(s.sanitizer.Sanitize(req.Notes)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = now
	}

	if receipt != nil {
		url, err := s.upload(ctx, *receipt, loan.ID)
		switch {
		case err == nil:
			payment.ReceiptImage = url
		case s.receipts.Policy == config.ReceiptPolicyBestEffort:
			s.logger.Warn("receipt upload failed, recording payment without it",
				zap.String("payment_id", payment.ID), zap.Error(err))
			payment.ReceiptMissing = true
		default:
			return nil, err
		}
	}

	if err := s.store.Repos().Payments.Create(ctx, payment); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	s.logger.Info("payment recorded",
		zap.String("payment_id", payment.ID),
		zap.String("loan_id", payment.LoanID),
		zap.String("amount", payment.Amount.String()),
		zap.Bool("receipt_missing", payment.ReceiptMissing))
	return payment, nil
}

func (s *PaymentService) upload(ctx context.Context, receipt domain.Receipt, loanID string) (string, error) {
	folder := path.Join(s.receipts.Folder, loanID)
	url, err := s.uploader.Upload(ctx, receipt, folder)
	if err != nil {
		s.metrics.IncrUpload("failed")
		return "", customError.WrapUploadError(folder, err)
	}
	s.metrics.IncrUpload("ok")
	return url, nil
}

// GetPayment returns one payment, scoped to the caller's loans.
func (s *PaymentService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	repos := s.store.Repos()
	p, err := loadPayment(ctx, repos, id)
	if err != nil {
		return nil, classify(err)
	}
	if _, err := loadLoan(ctx, repos, p.LoanID); err != nil {
		if customError.IsKind(err, customError.KindNotFound) {
			return nil, customError.WrapPaymentNotFound(id)
		}
		return nil, classify(err)
	}
	return p, nil
}

// ListPayments returns the payments of a loan ordered by payment date.
func (s *PaymentService) ListPayments(ctx context.Context, loanID string) ([]*domain.Payment, error) {
	repos := s.store.Repos()
	if _, err := loadLoan(ctx, repos, loanID); err != nil {
		return nil, classify(err)
	}
	payments, err := repos.Payments.ListByLoan(ctx, loanID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	if payments == nil {
		payments = []*domain.Payment{}
	}
	return payments, nil
}

// UpdateStatus confirms or rejects a payment. Confirming an already confirmed payment and
// rejecting an already rejected one are no-ops.
func (s *PaymentService) UpdateStatus(ctx context.Context, id string, req *domain.UpdatePaymentStatusRequest) (*domain.Payment, error) {
	if err := validation.Struct(s.validator, req); err != nil {
		return nil, err
	}
	if req.Status == domain.PaymentStatusConfirmed {
		return s.ConfirmPayment(ctx, id)
	}
	return s.RejectPayment(ctx, id)
}

// ConfirmPayment applies a pending payment to its loan's ledger. The payment status and the
// loan's balance fields are written in one transaction, conditional on the loan version and
// on the payment still being pending.
func (s *PaymentService) ConfirmPayment(ctx context.Context, id string) (payment *domain.Payment, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.ConfirmPayment")
	defer func() { endSpan(span, err) }()
	defer s.observe("confirm_payment", time.Now())

	var (
		loanID   string
		applied  bool
		overpaid decimal.Decimal
	)
	err = s.withRetry(ctx, "confirm_payment", "payment", id, func() error {
		applied = false
		return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			p, err := loadPayment(ctx, repos, id)
			if err != nil {
				return err
			}
			loan, err := loadLoan(ctx, repos, p.LoanID)
			if err != nil {
				return err
			}
			switch p.Status {
			case domain.PaymentStatusConfirmed:
				payment = p
				return nil
			case domain.PaymentStatusRejected:
				return customError.WrapIllegalPaymentStatus(id, string(p.Status), string(domain.PaymentStatusConfirmed))
			}

			res, err := s.reconciler.ApplyConfirmedPayment(loan, p.Amount)
			if err != nil {
				return err
			}
			res.ApplyTo(loan)
			overpaid = res.Overpayment
			loan.UpdatedAt = s.now()
			if err := repos.Loans.Update(ctx, loan); err != nil {
				return err
			}

			p.Status = domain.PaymentStatusConfirmed
			p.AppliedAmount = p.Amount
			p.UpdatedAt = loan.UpdatedAt
			if err := repos.Payments.Update(ctx, p, domain.PaymentStatusPending); err != nil {
				return err
			}

			payment, loanID, applied = p, loan.ID, true
			return nil
		})
	})
	if err != nil {
		s.countRejected(err)
		return nil, err
	}
	if !applied {
		return payment, nil
	}

	s.invalidate(ctx, loanID)
	s.metrics.IncrReconciliation("applied")
	s.reportOverpayment(loanID, id, overpaid)
	s.logger.Info("payment confirmed",
		zap.String("payment_id", id),
		zap.String("loan_id", loanID),
		zap.String("amount", payment.Amount.String()))
	return payment, nil
}

// reportOverpayment flags confirmed money beyond the loan total. The loan still completes;
// the excess is left for an operator to refund.
func (s *PaymentService) reportOverpayment(loanID, paymentID string, overpaid decimal.Decimal) {
	if !overpaid.IsPositive() {
		return
	}
	s.metrics.IncrReconciliation("overpaid")
	s.logger.Warn("payment overpays loan",
		zap.String("loan_id", loanID),
		zap.String("payment_id", paymentID),
		zap.String("overpayment", overpaid.String()))
}

// countRejected counts ledger applications the reconciler refused.
func (s *PaymentService) countRejected(err error) {
	if errors.Is(err, customError.ErrLoanCompleted) || errors.Is(err, customError.ErrNegativePaidAmount) {
		s.metrics.IncrReconciliation("rejected")
	}
}

// RejectPayment marks a pending payment rejected. The ledger is not touched.
func (s *PaymentService) RejectPayment(ctx context.Context, id string) (payment *domain.Payment, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.RejectPayment")
	defer func() { endSpan(span, err) }()

	err = s.withRetry(ctx, "reject_payment", "payment", id, func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			p, err := loadPayment(ctx, repos, id)
			if err != nil {
				return err
			}
			switch p.Status {
			case domain.PaymentStatusRejected:
				payment = p
				return nil
			case domain.PaymentStatusConfirmed:
				return customError.WrapIllegalPaymentStatus(id, string(p.Status), string(domain.PaymentStatusRejected))
			}
			if _, err := loadLoan(ctx, repos, p.LoanID); err != nil {
				return err
			}

			p.Status = domain.PaymentStatusRejected
			p.UpdatedAt = s.now()
			if err := repos.Payments.Update(ctx, p, domain.PaymentStatusPending); err != nil {
				return err
			}
			payment = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment rejected", zap.String("payment_id", id), zap.String("loan_id", payment.LoanID))
	return payment, nil
}

// CorrectAmount changes a payment's amount. For a confirmed payment the difference between
// the new amount and what was already applied goes through the reconciler in the same
// transaction as the payment write.
func (s *PaymentService) CorrectAmount(ctx context.Context, id string, req *domain.CorrectPaymentAmountRequest) (payment *domain.Payment, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.CorrectAmount")
	defer func() { endSpan(span, err) }()
	defer s.observe("correct_payment", time.Now())

	if err := validation.Struct(s.validator, req); err != nil {
		return nil, err
	}

	var (
		loanID   string
		overpaid decimal.Decimal
	)
	err = s.withRetry(ctx, "correct_payment", "payment", id, func() error {
		loanID, overpaid = "", decimal.Zero
		return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			p, err := loadPayment(ctx, repos, id)
			if err != nil {
				return err
			}
			if p.Status == domain.PaymentStatusRejected {
				return customError.NewBusinessError(
					customError.KindIllegalTransition,
					customError.ErrCodeIllegalPaymentStatus,
					"Rejected payment "+id+" cannot be corrected",
					customError.ErrIllegalPaymentStatus,
				)
			}
			loan, err := loadLoan(ctx, repos, p.LoanID)
			if err != nil {
				return err
			}

			now := s.now()
			if p.Status == domain.PaymentStatusConfirmed {
				delta := req.Amount.Sub(p.AppliedAmount)
				if !delta.IsZero() {
					res, err := s.reconciler.ApplyConfirmedPayment(loan, delta)
					if err != nil {
						return err
					}
					res.ApplyTo(loan)
					overpaid = res.Overpayment
					loan.UpdatedAt = now
					if err := repos.Loans.Update(ctx, loan); err != nil {
						return err
					}
					loanID = loan.ID
				}
				p.AppliedAmount = req.Amount
			}

			p.Amount = req.Amount
			p.UpdatedAt = now
			if err := repos.Payments.Update(ctx, p, p.Status); err != nil {
				return err
			}
			payment = p
			return nil
		})
	})
	if err != nil {
		s.countRejected(err)
		return nil, err
	}

	if loanID != "" {
		s.invalidate(ctx, loanID)
		s.metrics.IncrReconciliation("corrected")
		s.reportOverpayment(loanID, id, overpaid)
	}
	s.logger.Info("payment amount corrected",
		zap.String("payment_id", id),
		zap.String("amount", payment.Amount.String()),
		zap.String("status", string(payment.Status)))
	return payment, nil
}

// AttachReceipt uploads a receipt for an existing payment and stores its URL. The upload must
// succeed regardless of the receipt policy.
func (s *PaymentService) AttachReceipt(ctx context.Context, id string, receipt domain.Receipt) (payment *domain.Payment, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.AttachReceipt")
	defer func() { endSpan(span, err) }()

	current, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	url, err := s.upload(ctx, receipt, current.LoanID)
	if err != nil {
		return nil, err
	}

	err = s.withRetry(ctx, "attach_receipt", "payment", id, func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
			p, err := loadPayment(ctx, repos, id)
			if err != nil {
				return err
			}
			p.ReceiptImage = url
			p.ReceiptMissing = false
			p.UpdatedAt = s.now()
			if err := repos.Payments.Update(ctx, p, p.Status); err != nil {
				return err
			}
			payment = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("receipt attached", zap.String("payment_id", id), zap.String("receipt", url))
	return payment, nil
}

// DeletePayment removes a pending payment. Confirmed and rejected payments are part of the
// audit trail and cannot be deleted.
func (s *PaymentService) DeletePayment(ctx context.Context, id string) error {
	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if !p.Deletable() {
		return customError.WrapPaymentNotDeletable(id, string(p.Status))
	}

	err = s.store.Repos().Payments.Delete(ctx, id, domain.PaymentStatusPending)
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return customError.WrapPaymentNotDeletable(id, "no longer pending")
	case errors.Is(err, repository.ErrNotFound):
		return customError.WrapPaymentNotFound(id)
	case err != nil:
		return customError.WrapDatabaseError(err)
	}

	s.logger.Info("payment deleted", zap.String("payment_id", id), zap.String("loan_id", p.LoanID))
	return nil
}
