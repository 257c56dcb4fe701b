package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Business logic constants
const (
	ScheduleStatusPending = "pending"
	ScheduleStatusPartial = "partial"
	ScheduleStatusPaid    = "paid"
	ScheduleStatusOverdue = "overdue"
)

// Installment represents one row of a loan's payment schedule
type Installment struct {
	Number    int             `json:"number"`
	DueAmount decimal.Decimal `json:"due_amount"`
	DueDate   time.Time       `json:"due_date"`
	Status    string          `json:"status"` // pending, partial, paid, overdue
}

type ScheduleResponse struct {
	LoanID   string         `json:"loan_id"`
	Schedule []*Installment `json:"schedule"`
}

type PreviewRequest struct {
	LoanTerms
}

type PreviewResponse struct {
	Amortization Amortization   `json:"amortization"`
	Schedule     []*Installment `json:"schedule"`
}
