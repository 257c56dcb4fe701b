package service_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/microlend-ledger/internal/auth"
	"github.com/segyhp/microlend-ledger/internal/config"
	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/mocks"
	"github.com/segyhp/microlend-ledger/internal/repository"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
)

func TestLoanService_CreateLoan(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()

	loan := f.createLoan(t, "client-1", "1000", "10", 12)

	assert.NotEmpty(t, loan.ID)
	assert.Equal(t, domain.LoanStatusActive, loan.Status)
	assert.True(t, loan.TotalAmount.Equal(dec("2200")))
	assert.True(t, loan.TotalInterest.Equal(dec("1200")))
	assert.Equal(t, 12, loan.TotalPayments)
	assert.Equal(t, "183.33", loan.InstallmentAmount().StringFixed(2))
	assert.True(t, loan.RemainingBalance.Equal(dec("2200")))
	assert.True(t, loan.PaidAmount.IsZero())
	assert.Equal(t, testStart, loan.NextPaymentDate)
	assert.Equal(t, int64(1), loan.Version)

	agg, err := f.clients.Get(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Loans)
	assert.True(t, agg.TotalDebt.Equal(dec("2200")))
}

func TestLoanService_CreateLoan_DefaultsStartDate(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	req := loanRequest("client-1", "1000", "10", 12)
	req.StartDate = time.Time{}

	loan, err := f.loans.CreateLoan(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, testStart, loan.StartDate)
	assert.Equal(t, testStart, loan.NextPaymentDate)
}

func TestLoanService_CreateLoan_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *domain.CreateLoanRequest)
	}{
		{"zero principal", func(r *domain.CreateLoanRequest) { r.Principal = dec("0") }},
		{"negative rate", func(r *domain.CreateLoanRequest) { r.InterestRate = dec("-1") }},
		{"zero term", func(r *domain.CreateLoanRequest) { r.TermMonths = 0 }},
		{"unknown frequency", func(r *domain.CreateLoanRequest) { r.PaymentFrequency = "daily" }},
		{"missing client", func(r *domain.CreateLoanRequest) { r.ClientID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.ReceiptPolicyStrict)
			req := loanRequest("client-1", "1000", "10", 12)
			tt.mutate(req)

			loan, err := f.loans.CreateLoan(context.Background(), req)

			assert.Nil(t, loan)
			assert.True(t, customError.IsKind(err, customError.KindValidation), "got %v", err)
			_, err = f.clients.Get(context.Background(), "client-1")
			assert.True(t, customError.IsKind(err, customError.KindNotFound))
		})
	}
}

func TestLoanService_CreateLoan_ClientAggregateFailure(t *testing.T) {
	store := mocks.NewMockStore()
	f := newFixtureWithStore(t, store, config.ReceiptPolicyStrict)
	store.Loans.On("Create", mock.Anything, mock.Anything).Return(nil)
	store.Clients.On("Adjust", mock.Anything, "client-1", 1, mock.Anything).
		Return(nil, errors.New("connection reset"))

	loan, err := f.loans.CreateLoan(context.Background(), loanRequest("client-1", "1000", "10", 12))

	require.Error(t, err)
	require.NotNil(t, loan, "the committed loan is still returned")
	assert.True(t, loan.TotalAmount.Equal(dec("2200")))
	var be *customError.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, customError.ErrCodeClientAggregateOutOfSync, be.Code)
	assert.Equal(t, customError.KindDependency, be.Kind)
	store.Loans.AssertExpectations(t)
}

func TestLoanService_CreateLoan_AdjustsAggregateInOneWrite(t *testing.T) {
	store := mocks.NewMockStore()
	f := newFixtureWithStore(t, store, config.ReceiptPolicyStrict)
	store.Loans.On("Create", mock.Anything, mock.Anything).Return(nil)
	store.Clients.On("Adjust", mock.Anything, "client-1", 1, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(dec("2200"))
	})).Return(&domain.ClientAggregate{ClientID: "client-1", Loans: 1, TotalDebt: dec("2200")}, nil).Once()

	_, err := f.loans.CreateLoan(context.Background(), loanRequest("client-1", "1000", "10", 12))

	require.NoError(t, err)
	store.Clients.AssertNumberOfCalls(t, "Adjust", 1)
	store.Clients.AssertExpectations(t)
}

func TestLoanService_DeleteLoan_ClientAggregateFailure(t *testing.T) {
	store := mocks.NewMockStore()
	f := newFixtureWithStore(t, store, config.ReceiptPolicyStrict)
	loan := &domain.Loan{ID: "loan-1", ClientID: "client-1", TotalAmount: dec("2200"), Status: domain.LoanStatusActive, Version: 3}
	store.Loans.On("GetByID", mock.Anything, "loan-1").Return(loan, nil).Once()
	store.Payments.On("DeleteByLoan", mock.Anything, "loan-1").Return(int64(2), nil).Once()
	store.Loans.On("Delete", mock.Anything, "loan-1", int64(3)).Return(nil).Once()
	store.Clients.On("Adjust", mock.Anything, "client-1", -1, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(dec("-2200"))
	})).Return(nil, errors.New("connection reset")).Once()

	err := f.loans.DeleteLoan(context.Background(), "loan-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, customError.ErrClientAggregateOutOfSync)
	assert.True(t, customError.IsKind(err, customError.KindDependency))
	store.Loans.AssertExpectations(t)
	store.Payments.AssertExpectations(t)
	store.Clients.AssertExpectations(t)
}

func TestLoanService_UpdateLoanTerms_KeepsPaidAmount(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	f.pay(t, loan.ID, "183.33")

	req := &domain.UpdateLoanTermsRequest{LoanTerms: loan.Terms()}
	req.TermMonths = 24

	updated, err := f.loans.UpdateLoanTerms(ctx, loan.ID, req)

	require.NoError(t, err)
	assert.True(t, updated.TotalAmount.Equal(dec("3400")))
	assert.Equal(t, 24, updated.TotalPayments)
	assert.True(t, updated.PaidAmount.Equal(dec("183.33")))
	assert.True(t, updated.RemainingBalance.Equal(dec("3216.67")))
	assert.Equal(t, 1, updated.CompletedPayments)
	assert.Equal(t, testStart.AddDate(0, 1, 0), updated.NextPaymentDate)
	assert.Equal(t, domain.LoanStatusActive, updated.Status)

	agg, err := f.clients.Get(ctx, "client-1")
	require.NoError(t, err)
	assert.True(t, agg.TotalDebt.Equal(dec("3400")))
	assert.Equal(t, 1, agg.Loans)
}

func TestLoanService_UpdateLoanTerms_ShrinkingTotalCompletes(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	f.pay(t, loan.ID, "1000")

	req := &domain.UpdateLoanTermsRequest{LoanTerms: loan.Terms()}
	req.InterestRate = dec("0")

	updated, err := f.loans.UpdateLoanTerms(context.Background(), loan.ID, req)

	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusCompleted, updated.Status)
	assert.True(t, updated.RemainingBalance.IsZero())
	assert.True(t, updated.PaidAmount.Equal(dec("1000")))
}

func TestLoanService_UpdateLoanTerms_CompletedLoanRejected(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "500", "0", 1)
	f.pay(t, loan.ID, "500")

	req := &domain.UpdateLoanTermsRequest{LoanTerms: loan.Terms()}
	req.TermMonths = 2

	_, err := f.loans.UpdateLoanTerms(context.Background(), loan.ID, req)

	assert.True(t, customError.IsKind(err, customError.KindIllegalTransition))
	assert.ErrorIs(t, err, customError.ErrLoanCompleted)
}

func TestLoanService_UpdateLoanTerms_NotFound(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	req := &domain.UpdateLoanTermsRequest{LoanTerms: loanRequest("c", "1000", "10", 12).LoanTerms}

	_, err := f.loans.UpdateLoanTerms(context.Background(), "missing", req)

	assert.ErrorIs(t, err, customError.ErrLoanNotFound)
}

func TestLoanService_DeleteLoan_CascadesPayments(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	confirmed := f.pay(t, loan.ID, "183.33")
	pending := f.createPayment(t, loan.ID, "50")

	require.NoError(t, f.loans.DeleteLoan(ctx, loan.ID))

	_, err := f.loans.GetLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, customError.ErrLoanNotFound)
	for _, id := range []string{confirmed.ID, pending.ID} {
		_, err := f.store.Repos().Payments.GetByID(ctx, id)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	}

	agg, err := f.clients.Get(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 0, agg.Loans)
	assert.True(t, agg.TotalDebt.IsZero())

	assert.ErrorIs(t, f.loans.DeleteLoan(ctx, loan.ID), customError.ErrLoanNotFound)
}

func TestLoanService_GetLoan_ReadsThroughCache(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	loan := f.createLoan(t, "client-1", "1000", "10", 12)

	_, err := f.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	_, err = f.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, f.metrics.Snapshot().CacheHitRate, 1e-9)

	f.pay(t, loan.ID, "183.33")

	got, err := f.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.Equal(dec("183.33")), "confirmation invalidates the cached loan")
}

func TestLoanService_OwnerScoping(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	alice := auth.WithOwner(context.Background(), "alice")
	bob := auth.WithOwner(context.Background(), "bob")

	mine, err := f.loans.CreateLoan(alice, loanRequest("client-1", "1000", "10", 12))
	require.NoError(t, err)
	_, err = f.loans.CreateLoan(bob, loanRequest("client-2", "500", "5", 6))
	require.NoError(t, err)

	list, err := f.loans.ListLoans(alice, "", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	_, err = f.loans.GetLoan(bob, mine.ID)
	assert.ErrorIs(t, err, customError.ErrLoanNotFound)

	all, err := f.loans.ListLoans(context.Background(), "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLoanService_GetLoanDetails(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	f.pay(t, loan.ID, "183.33")
	f.createPayment(t, loan.ID, "20")

	details, err := f.loans.GetLoanDetails(context.Background(), loan.ID)

	require.NoError(t, err)
	assert.Equal(t, "183.33", details.Loan.PaidAmount.StringFixed(2))
	assert.Equal(t, "8.33", details.Loan.PaymentProgress.StringFixed(2))
	assert.Len(t, details.Payments, 2)
}

func TestLoanService_GetSchedule(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	f.pay(t, loan.ID, "183.33")

	schedule, err := f.loans.GetSchedule(context.Background(), loan.ID)

	require.NoError(t, err)
	require.Len(t, schedule.Schedule, 12)
	assert.Equal(t, domain.ScheduleStatusPaid, schedule.Schedule[0].Status)
	assert.Equal(t, testStart.AddDate(0, 1, 0), schedule.Schedule[1].DueDate)
}

func TestLoanService_Statement(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	f.pay(t, loan.ID, "183.33")

	doc, contentType, err := f.loans.Statement(context.Background(), loan.ID, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))

	_, _, err = f.loans.Statement(context.Background(), loan.ID, "csv")
	assert.True(t, customError.IsKind(err, customError.KindValidation))
}

func TestLoanService_Preview(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)

	preview, err := f.loans.Preview(context.Background(), &domain.PreviewRequest{
		LoanTerms: loanRequest("", "1000", "10", 12).LoanTerms,
	})

	require.NoError(t, err)
	assert.True(t, preview.Amortization.TotalAmount.Equal(dec("2200")))
	assert.Len(t, preview.Schedule, 12)

	loans, err := f.loans.ListLoans(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, loans, "preview stores nothing")
}
