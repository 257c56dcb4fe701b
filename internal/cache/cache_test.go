package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/microlend-ledger/internal/domain"
)

func sampleLoan() *domain.Loan {
	return &domain.Loan{
		ID:               "loan-1",
		ClientID:         "client-1",
		PaymentAmount:    decimal.RequireFromString("183.3333333333333333"),
		TotalAmount:      decimal.NewFromInt(2200),
		PaidAmount:       decimal.RequireFromString("183.33"),
		PaymentFrequency: domain.FrequencyMonthly,
		Status:           domain.LoanStatusActive,
		Version:          3,
	}
}

func TestRedisLoanCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisLoanCache(client, time.Minute)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "loan-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, sampleLoan()))
	assert.True(t, mr.Exists("loan:loan-1"))
	assert.Equal(t, time.Minute, mr.TTL("loan:loan-1"))

	got, found, err := c.Get(ctx, "loan-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.PaymentAmount.Equal(sampleLoan().PaymentAmount))
	assert.Equal(t, int64(3), got.Version)

	require.NoError(t, c.Invalidate(ctx, "loan-1"))
	_, found, err = c.Get(ctx, "loan-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisLoanCache_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisLoanCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sampleLoan()))
	mr.FastForward(2 * time.Minute)

	_, found, err := c.Get(ctx, "loan-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisLoanCache_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisLoanCache(client, time.Minute)
	mr.Close()

	_, _, err := c.Get(context.Background(), "loan-1")
	assert.Error(t, err)
}

func TestMemoryLoanCache(t *testing.T) {
	c := NewMemoryLoanCache(time.Minute)
	ctx := context.Background()

	loan := sampleLoan()
	require.NoError(t, c.Set(ctx, loan))
	loan.PaidAmount = decimal.NewFromInt(999)

	got, found, err := c.Get(ctx, "loan-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.PaidAmount.Equal(decimal.RequireFromString("183.33")), "cache keeps its own copy")

	require.NoError(t, c.Invalidate(ctx, "loan-1"))
	_, found, _ = c.Get(ctx, "loan-1")
	assert.False(t, found)
}
