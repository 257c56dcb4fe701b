package repository

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/segyhp/microlend-ledger/internal/domain"
)

const loanColumns = `id, client_id, owner_id, principal, interest_rate, term_months, payment_frequency,
		start_date, payment_amount, total_interest, total_amount, total_payments, paid_amount,
		remaining_balance, completed_payments, payment_progress, next_payment_date, status,
		version, created_at, updated_at`

type loanRepository struct {
	db sqlx.ExtContext
}

func (r *loanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	query := `
		INSERT INTO loans (` + loanColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	loan.Version = 1
	_, err := r.db.ExecContext(ctx, query,
		loan.ID,
		loan.ClientID,
		loan.OwnerID,
		loan.Principal,
		loan.InterestRate,
		loan.TermMonths,
		loan.PaymentFrequency,
		loan.StartDate,
		loan.PaymentAmount,
		loan.TotalInterest,
		loan.TotalAmount,
		loan.TotalPayments,
		loan.PaidAmount,
		loan.RemainingBalance,
		loan.CompletedPayments,
		loan.PaymentProgress,
		loan.NextPaymentDate,
		loan.Status,
		loan.Version,
		loan.CreatedAt,
		loan.UpdatedAt,
	)

	return translate(err)
}

func (r *loanRepository) GetByID(ctx context.Context, id string) (*domain.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE id = $1
	`

	var loan domain.Loan
	if err := sqlx.GetContext(ctx, r.db, &loan, query, id); err != nil {
		return nil, translate(err)
	}

	return &loan, nil
}

func (r *loanRepository) List(ctx context.Context, filter LoanFilter) ([]*domain.Loan, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, clause+" $"+strconv.Itoa(len(args)))
	}
	if filter.OwnerID != "" {
		add("owner_id =", filter.OwnerID)
	}
	if filter.ClientID != "" {
		add("client_id =", filter.ClientID)
	}
	if filter.Status != "" {
		add("status =", filter.Status)
	}
	if !filter.DueBefore.IsZero() {
		add("next_payment_date <", filter.DueBefore)
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	var loans []*domain.Loan
	if err := sqlx.SelectContext(ctx, r.db, &loans, query, args...); err != nil {
		return nil, translate(err)
	}

	return loans, nil
}

func (r *loanRepository) Update(ctx context.Context, loan *domain.Loan) error {
	query := `
		UPDATE loans
		SET principal = $3, interest_rate = $4, term_months = $5, payment_frequency = $6, start_date = $7,
			payment_amount = $8, total_interest = $9, total_amount = $10, total_payments = $11,
			paid_amount = $12, remaining_balance = $13, completed_payments = $14, payment_progress = $15,
			next_payment_date = $16, status = $17, updated_at = $18, version = version + 1
		WHERE id = $1 AND version = $2
	`

	res, err := r.db.ExecContext(ctx, query,
		loan.ID,
		loan.Version,
		loan.Principal,
		loan.InterestRate,
		loan.TermMonths,
		loan.PaymentFrequency,
		loan.StartDate,
		loan.PaymentAmount,
		loan.TotalInterest,
		loan.TotalAmount,
		loan.TotalPayments,
		loan.PaidAmount,
		loan.RemainingBalance,
		loan.CompletedPayments,
		loan.PaymentProgress,
		loan.NextPaymentDate,
		loan.Status,
		loan.UpdatedAt,
	)
	if err != nil {
		return translate(err)
	}
	if err := conditionalResult(ctx, r.db, res, "loans", loan.ID); err != nil {
		return err
	}

	loan.Version++
	return nil
}

func (r *loanRepository) Delete(ctx context.Context, id string, version int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM loans WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return translate(err)
	}
	return conditionalResult(ctx, r.db, res, "loans", id)
}
