package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClientAggregate is the denormalized projection of a client's loans.
type ClientAggregate struct {
	ClientID  string          `json:"client_id" db:"client_id"`
	Loans     int             `json:"loans" db:"loans"`
	TotalDebt decimal.Decimal `json:"total_debt" db:"total_debt"`
	Version   int64           `json:"version" db:"version"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
