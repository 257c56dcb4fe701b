package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state of a loan's ledger.
type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "active"
	LoanStatusLate      LoanStatus = "late"
	LoanStatusCompleted LoanStatus = "completed"
)

// Frequency is how often installments fall due.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

var paymentsPerMonth = map[Frequency]decimal.Decimal{
	FrequencyWeekly:   decimal.NewFromInt(52).Div(decimal.NewFromInt(12)),
	FrequencyBiweekly: decimal.NewFromInt(26).Div(decimal.NewFromInt(12)),
	FrequencyMonthly:  decimal.NewFromInt(1),
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	_, ok := paymentsPerMonth[f]
	return ok
}

// PaymentsPerMonth returns the number of installments per month for f.
func (f Frequency) PaymentsPerMonth() (decimal.Decimal, bool) {
	ppm, ok := paymentsPerMonth[f]
	return ppm, ok
}

// Advance moves t forward by n payment intervals. Monthly intervals are calendar months.
func (f Frequency) Advance(t time.Time, n int) time.Time {
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7*n)
	case FrequencyBiweekly:
		return t.AddDate(0, 0, 14*n)
	default:
		return t.AddDate(0, n, 0)
	}
}

// LoanTerms are the borrower-agreed inputs of a loan.
type LoanTerms struct {
	Principal        decimal.Decimal `json:"principal" validate:"decimal_gt=0"`
	InterestRate     decimal.Decimal `json:"interest_rate" validate:"decimal_gte=0"`
	TermMonths       int             `json:"term_months" validate:"gt=0"`
	PaymentFrequency Frequency       `json:"payment_frequency" validate:"required,oneof=weekly biweekly monthly"`
	StartDate        time.Time       `json:"start_date"`
}

// Amortization is the calculator output for a set of terms.
type Amortization struct {
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalPayments int             `json:"total_payments"`
}

// Loan represents a loan entity
type Loan struct {
	ID       string `json:"id" db:"id"`
	ClientID string `json:"client_id" db:"client_id"`
	OwnerID  string `json:"owner_id" db:"owner_id"`

	Principal        decimal.Decimal `json:"principal" db:"principal"`
	InterestRate     decimal.Decimal `json:"interest_rate" db:"interest_rate"`
	TermMonths       int             `json:"term_months" db:"term_months"`
	PaymentFrequency Frequency       `json:"payment_frequency" db:"payment_frequency"`
	StartDate        time.Time       `json:"start_date" db:"start_date"`

	PaymentAmount decimal.Decimal `json:"payment_amount" db:"payment_amount"`
	TotalInterest decimal.Decimal `json:"total_interest" db:"total_interest"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	TotalPayments int             `json:"total_payments" db:"total_payments"`

	PaidAmount        decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	RemainingBalance  decimal.Decimal `json:"remaining_balance" db:"remaining_balance"`
	CompletedPayments int             `json:"completed_payments" db:"completed_payments"`
	PaymentProgress   decimal.Decimal `json:"payment_progress" db:"payment_progress"`
	NextPaymentDate   time.Time       `json:"next_payment_date" db:"next_payment_date"`
	Status            LoanStatus      `json:"status" db:"status"`

	// Version is the optimistic concurrency token, bumped on every write.
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Terms returns the loan's current terms.
func (l *Loan) Terms() LoanTerms {
	return LoanTerms{
		Principal:        l.Principal,
		InterestRate:     l.InterestRate,
		TermMonths:       l.TermMonths,
		PaymentFrequency: l.PaymentFrequency,
		StartDate:        l.StartDate,
	}
}

// ApplyAmortization copies calculator output onto the loan.
func (l *Loan) ApplyAmortization(a Amortization) {
	l.PaymentAmount = a.PaymentAmount
	l.TotalInterest = a.TotalInterest
	l.TotalAmount = a.TotalAmount
	l.TotalPayments = a.TotalPayments
}

// Amortization returns the loan's stored derived terms.
func (l *Loan) Amortization() Amortization {
	return Amortization{
		PaymentAmount: l.PaymentAmount,
		TotalInterest: l.TotalInterest,
		TotalAmount:   l.TotalAmount,
		TotalPayments: l.TotalPayments,
	}
}

// IsCompleted reports whether the ledger is closed.
func (l *Loan) IsCompleted() bool {
	return l.Status == LoanStatusCompleted
}

// InstallmentAmount is the per-period amount presented to the borrower.
func (l *Loan) InstallmentAmount() decimal.Decimal {
	return l.PaymentAmount.Round(2)
}

// DTOs for requests and responses

type CreateLoanRequest struct {
	ClientID string `json:"client_id" validate:"required"`
	OwnerID  string `json:"-"`
	LoanTerms
}

type UpdateLoanTermsRequest struct {
	LoanTerms
}

// LoanView is the presentation form of a loan, rounded to currency precision.
type LoanView struct {
	ID                string          `json:"id"`
	ClientID          string          `json:"client_id"`
	Principal         decimal.Decimal `json:"principal"`
	InterestRate      decimal.Decimal `json:"interest_rate"`
	TermMonths        int             `json:"term_months"`
	PaymentFrequency  Frequency       `json:"payment_frequency"`
	StartDate         time.Time       `json:"start_date"`
	PaymentAmount     decimal.Decimal `json:"payment_amount"`
	TotalInterest     decimal.Decimal `json:"total_interest"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	TotalPayments     int             `json:"total_payments"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	RemainingBalance  decimal.Decimal `json:"remaining_balance"`
	CompletedPayments int             `json:"completed_payments"`
	PaymentProgress   decimal.Decimal `json:"payment_progress"`
	AmountDue         decimal.Decimal `json:"amount_due"`
	NextPaymentDate   time.Time       `json:"next_payment_date"`
	Status            LoanStatus      `json:"status"`
	Version           int64           `json:"version"`
}

// AmountDue is what brings the loan up to date through the next installment: the
// installments owed after completed periods minus what was paid, capped at remaining.
func AmountDue(installment, paid, remaining decimal.Decimal, completed int) decimal.Decimal {
	due := installment.Mul(decimal.NewFromInt(int64(completed + 1))).Sub(paid)
	if due.IsNegative() {
		return decimal.Zero
	}
	if due.GreaterThan(remaining) {
		return remaining
	}
	return due
}

// Presented rounds every money field to 2 decimals for display.
func (l *Loan) Presented() LoanView {
	due := decimal.Zero
	if !l.IsCompleted() {
		due = AmountDue(l.PaymentAmount, l.PaidAmount, l.RemainingBalance, l.CompletedPayments)
	}
	return LoanView{
		ID:                l.ID,
		ClientID:          l.ClientID,
		Principal:         l.Principal.Round(2),
		InterestRate:      l.InterestRate,
		TermMonths:        l.TermMonths,
		PaymentFrequency:  l.PaymentFrequency,
		StartDate:         l.StartDate,
		PaymentAmount:     l.PaymentAmount.Round(2),
		TotalInterest:     l.TotalInterest.Round(2),
		TotalAmount:       l.TotalAmount.Round(2),
		TotalPayments:     l.TotalPayments,
		PaidAmount:        l.PaidAmount.Round(2),
		RemainingBalance:  l.RemainingBalance.Round(2),
		CompletedPayments: l.CompletedPayments,
		PaymentProgress:   l.PaymentProgress.Round(2),
		AmountDue:         due.Round(2),
		NextPaymentDate:   l.NextPaymentDate,
		Status:            l.Status,
		Version:           l.Version,
	}
}

type LoanDetailsResponse struct {
	Loan     LoanView   `json:"loan"`
	Payments []*Payment `json:"payments"`
}
