package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/segyhp/microlend-ledger/internal/domain"
)

const paymentColumns = `id, loan_id, amount, payment_date, method, status, applied_amount,
		receipt_image, receipt_missing, notes, created_at, updated_at`

type paymentRepository struct {
	db sqlx.ExtContext
}

func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.LoanID,
		payment.Amount,
		payment.PaymentDate,
		payment.Method,
		payment.Status,
		payment.AppliedAmount,
		payment.ReceiptImage,
		payment.ReceiptMissing,
		payment.Notes,
		payment.CreatedAt,
		payment.UpdatedAt,
	)

	return translate(err)
}

func (r *paymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1
	`

	var payment domain.Payment
	if err := sqlx.GetContext(ctx, r.db, &payment, query, id); err != nil {
		return nil, translate(err)
	}

	return &payment, nil
}

func (r *paymentRepository) ListByLoan(ctx context.Context, loanID string) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE loan_id = $1
		ORDER BY payment_date, created_at, id
	`

	var payments []*domain.Payment
	if err := sqlx.SelectContext(ctx, r.db, &payments, query, loanID); err != nil {
		return nil, translate(err)
	}

	return payments, nil
}

func (r *paymentRepository) Update(ctx context.Context, payment *domain.Payment, from domain.PaymentStatus) error {
	query := `
		UPDATE payments
		SET amount = $3, payment_date = $4, method = $5, status = $6, applied_amount = $7,
			receipt_image = $8, receipt_missing = $9, notes = $10, updated_at = $11
		WHERE id = $1 AND status = $2
	`

	res, err := r.db.ExecContext(ctx, query,
		payment.ID,
		from,
		payment.Amount,
		payment.PaymentDate,
		payment.Method,
		payment.Status,
		payment.AppliedAmount,
		payment.ReceiptImage,
		payment.ReceiptMissing,
		payment.Notes,
		payment.UpdatedAt,
	)
	if err != nil {
		return translate(err)
	}

	return conditionalResult(ctx, r.db, res, "payments", payment.ID)
}

func (r *paymentRepository) Delete(ctx context.Context, id string, status domain.PaymentStatus) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE id = $1 AND status = $2`, id, status)
	if err != nil {
		return translate(err)
	}
	return conditionalResult(ctx, r.db, res, "payments", id)
}

func (r *paymentRepository) DeleteByLoan(ctx context.Context, loanID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE loan_id = $1`, loanID)
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}
