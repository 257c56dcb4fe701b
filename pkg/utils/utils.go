package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RoundCurrency rounds an amount to currency precision (2 decimals).
// Only call this at presentation boundaries, never on stored values.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns part/whole*100, or zero when whole is not positive.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

// MaxZero clamps negative amounts to zero.
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// FloorDiv returns floor(a/b) as an int. b must be positive.
func FloorDiv(a, b decimal.Decimal) int {
	return int(a.Div(b).Floor().IntPart())
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsDateOverdue checks if a due date is strictly before now
func IsDateOverdue(dueDate, now time.Time) bool {
	return now.After(dueDate)
}

// DecimalFromString converts string to decimal.Decimal
func DecimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
