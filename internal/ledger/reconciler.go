// Package ledger applies confirmed payments to a loan's balance fields and owns the
// late -> active and * -> completed status edges.
//
// Functions here are pure over the loan they are given: they compute a Result and
// leave persisting it (in one compare-and-swap write) to the caller.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/microlend-ledger/internal/domain"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
	"github.com/segyhp/microlend-ledger/pkg/utils"
)

var maxProgress = decimal.NewFromInt(100)

// Result is the full set of ledger fields produced by one reconciliation.
type Result struct {
	PaidAmount        decimal.Decimal
	RemainingBalance  decimal.Decimal
	CompletedPayments int
	PaymentProgress   decimal.Decimal
	NextPaymentDate   time.Time
	Status            domain.LoanStatus

	// Informational only, not stored.
	AmountDue   decimal.Decimal
	Overpayment decimal.Decimal
}

// ApplyTo writes the stored ledger fields onto loan.
func (r Result) ApplyTo(loan *domain.Loan) {
	loan.PaidAmount = r.PaidAmount
	loan.RemainingBalance = r.RemainingBalance
	loan.CompletedPayments = r.CompletedPayments
	loan.PaymentProgress = r.PaymentProgress
	loan.NextPaymentDate = r.NextPaymentDate
	loan.Status = r.Status
}

type Reconciler struct {
	logger *zap.Logger
}

func NewReconciler(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger}
}

// ApplyConfirmedPayment adds delta to the loan's paid amount and re-derives every ledger field.
// delta is the full amount on first confirmation, or new-minus-applied on a correction.
func (r *Reconciler) ApplyConfirmedPayment(loan *domain.Loan, delta decimal.Decimal) (Result, error) {
	if loan.IsCompleted() {
		r.logger.Warn("ledger change attempted on completed loan",
			zap.String("loan_id", loan.ID),
			zap.String("delta", delta.String()),
			zap.String("paid_amount", loan.PaidAmount.String()))
		return Result{}, customError.WrapLoanCompleted(loan.ID)
	}

	newPaid := loan.PaidAmount.Add(delta)
	if newPaid.IsNegative() {
		r.logger.Warn("ledger change would make paid amount negative",
			zap.String("loan_id", loan.ID),
			zap.String("delta", delta.String()))
		return Result{}, customError.WrapNegativePaidAmount(loan.ID, newPaid.String())
	}

	res := derive(loan, loan.Amortization(), newPaid, false)

	switch {
	case !res.RemainingBalance.IsPositive():
		res.Status = domain.LoanStatusCompleted
	case loan.Status == domain.LoanStatusLate && delta.IsPositive():
		res.Status = domain.LoanStatusActive
	default:
		res.Status = loan.Status
	}
	if res.Status == domain.LoanStatusCompleted {
		res.AmountDue = decimal.Zero
	}

	r.logger.Debug("payment reconciled",
		zap.String("loan_id", loan.ID),
		zap.String("delta", delta.String()),
		zap.String("paid_amount", res.PaidAmount.String()),
		zap.Int("completed_payments", res.CompletedPayments),
		zap.String("status", string(res.Status)))

	return res, nil
}

// Rederive recomputes ledger fields from the loan's existing paid amount against new terms.
// The paid amount is never reset.
func (r *Reconciler) Rederive(loan *domain.Loan, terms domain.LoanTerms, a domain.Amortization) Result {
	shadow := *loan
	startChanged := !terms.StartDate.IsZero() && !terms.StartDate.Equal(loan.StartDate)
	if startChanged {
		shadow.StartDate = terms.StartDate
	}
	shadow.PaymentFrequency = terms.PaymentFrequency

	res := derive(&shadow, a, loan.PaidAmount, startChanged || terms.PaymentFrequency != loan.PaymentFrequency)
	if !res.RemainingBalance.IsPositive() {
		res.Status = domain.LoanStatusCompleted
		res.AmountDue = decimal.Zero
	} else {
		res.Status = loan.Status
	}
	return res
}

// MarkLate moves an active loan with an outstanding balance to late once its next payment
// date has passed. It reports whether anything changed; late and completed loans are left alone.
func MarkLate(loan *domain.Loan, now time.Time) (*domain.Loan, bool) {
	if loan.Status != domain.LoanStatusActive {
		return loan, false
	}
	if !loan.RemainingBalance.IsPositive() || !utils.IsDateOverdue(loan.NextPaymentDate, now) {
		return loan, false
	}
	updated := *loan
	updated.Status = domain.LoanStatusLate
	return &updated, true
}

// derive computes the non-status fields for paid against amortization a. When reschedule
// is set the next payment date is rebuilt from the start date instead of advanced.
func derive(loan *domain.Loan, a domain.Amortization, paid decimal.Decimal, reschedule bool) Result {
	remaining := utils.MaxZero(a.TotalAmount.Sub(paid))

	completed := loan.CompletedPayments
	if installment := a.PaymentAmount.Round(2); installment.IsPositive() {
		completed = utils.FloorDiv(paid, installment)
		if completed > a.TotalPayments {
			completed = a.TotalPayments
		}
	}
	// Rounded installments can leave the floor one short once the total is covered.
	if !remaining.IsPositive() {
		completed = a.TotalPayments
	}

	progress := utils.Percent(paid, a.TotalAmount)
	if progress.GreaterThan(maxProgress) {
		progress = maxProgress
	}

	return Result{
		PaidAmount:        paid,
		RemainingBalance:  remaining,
		CompletedPayments: completed,
		PaymentProgress:   progress,
		NextPaymentDate:   nextPaymentDate(loan, completed, reschedule),
		AmountDue:         domain.AmountDue(a.PaymentAmount, paid, remaining, completed),
		Overpayment:       utils.MaxZero(paid.Sub(a.TotalAmount)),
	}
}

// nextPaymentDate moves only when the number of completed periods changes. It is always
// anchored on the start date so month-end dates do not drift across repeated advances,
// and a decrease in completed periods rebuilds it rather than leaving it ahead.
func nextPaymentDate(loan *domain.Loan, completed int, reschedule bool) time.Time {
	if !reschedule && completed == loan.CompletedPayments && !loan.NextPaymentDate.IsZero() {
		return loan.NextPaymentDate
	}
	return loan.PaymentFrequency.Advance(loan.StartDate, completed)
}
