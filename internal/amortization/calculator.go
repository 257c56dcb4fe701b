// Package amortization turns loan terms into a simple-interest payment schedule.
package amortization

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/segyhp/microlend-ledger/internal/domain"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// Compute derives payment amount, total interest, total amount and number of payments.
// Interest is simple: principal * rate/100 * termMonths. Results are not rounded.
func Compute(principal, interestRatePercent decimal.Decimal, termMonths int, frequency domain.Frequency) (domain.Amortization, error) {
	if !principal.IsPositive() {
		return domain.Amortization{}, customError.WrapInvalidLoanTerms(
			fmt.Sprintf("principal must be greater than 0, got %s", principal))
	}
	if interestRatePercent.IsNegative() {
		return domain.Amortization{}, customError.WrapInvalidLoanTerms(
			fmt.Sprintf("interest rate must not be negative, got %s", interestRatePercent))
	}
	if termMonths <= 0 {
		return domain.Amortization{}, customError.WrapInvalidLoanTerms(
			fmt.Sprintf("term must be at least 1 month, got %d", termMonths))
	}
	perMonth, ok := frequency.PaymentsPerMonth()
	if !ok {
		return domain.Amortization{}, customError.WrapUnknownFrequency(string(frequency))
	}

	months := decimal.NewFromInt(int64(termMonths))
	rate := interestRatePercent.Div(hundred)
	totalInterest := principal.Mul(rate).Mul(months)
	totalAmount := principal.Add(totalInterest)

	totalPayments := int(months.Mul(perMonth).Round(0).IntPart())
	if totalPayments < 1 {
		totalPayments = 1
	}

	return domain.Amortization{
		PaymentAmount: totalAmount.Div(decimal.NewFromInt(int64(totalPayments))),
		TotalInterest: totalInterest,
		TotalAmount:   totalAmount,
		TotalPayments: totalPayments,
	}, nil
}

// ComputeTerms is Compute over a LoanTerms value.
func ComputeTerms(terms domain.LoanTerms) (domain.Amortization, error) {
	return Compute(terms.Principal, terms.InterestRate, terms.TermMonths, terms.PaymentFrequency)
}
