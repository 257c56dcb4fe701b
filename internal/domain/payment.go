package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the review state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusRejected  PaymentStatus = "rejected"
)

// PaymentMethod is how the borrower paid.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodOther        PaymentMethod = "other"
)

// Payment is one payment event against a loan.
type Payment struct {
	ID          string          `json:"id" db:"id"`
	LoanID      string          `json:"loan_id" db:"loan_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	PaymentDate time.Time       `json:"payment_date" db:"payment_date"`
	Method      PaymentMethod   `json:"method" db:"method"`
	Status      PaymentStatus   `json:"status" db:"status"`
	// AppliedAmount is what this payment has contributed to the loan ledger so far.
	// Zero unless the payment is confirmed.
	AppliedAmount  decimal.Decimal `json:"applied_amount" db:"applied_amount"`
	ReceiptImage   string          `json:"receipt_image,omitempty" db:"receipt_image"`
	ReceiptMissing bool            `json:"receipt_missing" db:"receipt_missing"`
	Notes          string          `json:"notes,omitempty" db:"notes"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// Deletable reports whether the payment may be removed without touching the ledger.
func (p *Payment) Deletable() bool {
	return p.Status == PaymentStatusPending
}

// Receipt is a file to be stored by the upload service.
type Receipt struct {
	Filename    string
	ContentType string
	Data        []byte
}

type CreatePaymentRequest struct {
	LoanID      string          `json:"loan_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"decimal_gt=0"`
	PaymentDate time.Time       `json:"payment_date"`
	Method      PaymentMethod   `json:"method" validate:"required,oneof=cash bank_transfer card other"`
	Notes       string          `json:"notes" validate:"max=1000"`
}

type UpdatePaymentStatusRequest struct {
	Status PaymentStatus `json:"status" validate:"required,oneof=confirmed rejected"`
}

type CorrectPaymentAmountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"decimal_gt=0"`
}
