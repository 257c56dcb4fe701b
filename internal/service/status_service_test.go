package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/microlend-ledger/internal/config"
	"github.com/segyhp/microlend-ledger/internal/domain"
)

func TestStatusService_MarkLateLoans(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	overdue := f.createLoan(t, "client-1", "1000", "10", 12)
	current := f.createLoan(t, "client-2", "1000", "10", 12)
	f.pay(t, current.ID, "400")
	settled := f.createLoan(t, "client-3", "500", "0", 1)
	f.pay(t, settled.ID, "500")

	sweep := testStart.AddDate(0, 1, 14)

	marked, err := f.status.MarkLateLoans(ctx, sweep)

	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.Equal(t, domain.LoanStatusLate, f.reload(t, overdue.ID).Status)
	assert.Equal(t, domain.LoanStatusActive, f.reload(t, current.ID).Status, "next date is Mar 1")
	assert.Equal(t, domain.LoanStatusCompleted, f.reload(t, settled.ID).Status)
	assert.Equal(t, float64(1), f.metrics.Snapshot().LateMarked)

	again, err := f.status.MarkLateLoans(ctx, sweep)
	require.NoError(t, err)
	assert.Zero(t, again, "late loans are not candidates")
}

func TestStatusService_PaymentReactivatesLateLoan(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	_, err := f.status.MarkLateLoans(context.Background(), testStart.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Equal(t, domain.LoanStatusLate, f.reload(t, loan.ID).Status)

	f.pay(t, loan.ID, "183.33")

	got := f.reload(t, loan.ID)
	assert.Equal(t, domain.LoanStatusActive, got.Status)
	assert.Equal(t, testStart.AddDate(0, 1, 0), got.NextPaymentDate)
}

func TestStatusService_NoCandidates(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)

	marked, err := f.status.MarkLateLoans(context.Background(), testNow)

	require.NoError(t, err)
	assert.Zero(t, marked)
}
