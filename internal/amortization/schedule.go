package amortization

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/pkg/utils"
)

// BuildSchedule lays out one installment per payment period for loan.
// Amounts are rounded to currency precision; the last installment absorbs the rounding
// remainder so the rows add up to the rounded total amount. Row status reflects the
// loan's paid amount as of now.
func BuildSchedule(loan *domain.Loan, now time.Time) []*domain.Installment {
	if loan.TotalPayments <= 0 {
		return nil
	}

	installment := loan.InstallmentAmount()
	total := utils.RoundCurrency(loan.TotalAmount)
	remainingPaid := loan.PaidAmount

	schedule := make([]*domain.Installment, 0, loan.TotalPayments)
	allocated := decimal.Zero

	for n := 1; n <= loan.TotalPayments; n++ {
		due := installment
		if n == loan.TotalPayments {
			due = total.Sub(allocated)
		}
		allocated = allocated.Add(due)

		dueDate := loan.PaymentFrequency.Advance(loan.StartDate, n-1)

		var status string
		switch {
		case remainingPaid.GreaterThanOrEqual(due):
			status = domain.ScheduleStatusPaid
		case remainingPaid.IsPositive():
			status = domain.ScheduleStatusPartial
		case utils.IsDateOverdue(dueDate, now):
			status = domain.ScheduleStatusOverdue
		default:
			status = domain.ScheduleStatusPending
		}
		remainingPaid = utils.MaxZero(remainingPaid.Sub(due))

		schedule = append(schedule, &domain.Installment{
			Number:    n,
			DueAmount: due,
			DueDate:   dueDate,
			Status:    status,
		})
	}

	return schedule
}

// Preview computes the amortization and schedule for terms that are not yet a loan.
func Preview(terms domain.LoanTerms, now time.Time) (*domain.PreviewResponse, error) {
	a, err := ComputeTerms(terms)
	if err != nil {
		return nil, err
	}
	start := terms.StartDate
	if start.IsZero() {
		start = utils.StartOfDay(now)
	}
	loan := &domain.Loan{
		PaymentFrequency: terms.PaymentFrequency,
		StartDate:        start,
		PaidAmount:       decimal.Zero,
	}
	loan.ApplyAmortization(a)
	return &domain.PreviewResponse{
		Amortization: a,
		Schedule:     BuildSchedule(loan, start),
	}, nil
}
