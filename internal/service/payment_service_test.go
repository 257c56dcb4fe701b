package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/microlend-ledger/internal/config"
	"github.com/segyhp/microlend-ledger/internal/domain"
	"github.com/segyhp/microlend-ledger/internal/mocks"
	"github.com/segyhp/microlend-ledger/internal/repository"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
)

func TestPaymentService_ConfirmAppliesToLedger(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "1000", "10", 12)

	p := f.pay(t, loan.ID, "183.33")

	assert.Equal(t, domain.PaymentStatusConfirmed, p.Status)
	assert.True(t, p.AppliedAmount.Equal(dec("183.33")))

	got := f.reload(t, loan.ID)
	assert.True(t, got.PaidAmount.Equal(dec("183.33")))
	assert.True(t, got.RemainingBalance.Equal(dec("2016.67")))
	assert.Equal(t, 1, got.CompletedPayments)
	assert.Equal(t, "8.33", got.PaymentProgress.StringFixed(2))
	assert.Equal(t, testStart.AddDate(0, 1, 0), got.NextPaymentDate)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, float64(1), f.metrics.Snapshot().ReconciliationsApplied)
}

func TestPaymentService_ConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	p := f.pay(t, loan.ID, "100")

	again, err := f.payments.ConfirmPayment(context.Background(), p.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusConfirmed, again.Status)
	assert.True(t, f.reload(t, loan.ID).PaidAmount.Equal(dec("100")), "second confirmation applies nothing")
}

func TestPaymentService_StatusTransitions(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	loan := f.createLoan(t, "client-1", "1000", "10", 12)

	rejected := f.createPayment(t, loan.ID, "100")
	_, err := f.payments.UpdateStatus(ctx, rejected.ID, &domain.UpdatePaymentStatusRequest{Status: domain.PaymentStatusRejected})
	require.NoError(t, err)
	_, err = f.payments.UpdateStatus(ctx, rejected.ID, &domain.UpdatePaymentStatusRequest{Status: domain.PaymentStatusRejected})
	require.NoError(t, err, "rejecting twice is a no-op")
	_, err = f.payments.UpdateStatus(ctx, rejected.ID, &domain.UpdatePaymentStatusRequest{Status: domain.PaymentStatusConfirmed})
	assert.ErrorIs(t, err, customError.ErrIllegalPaymentStatus)

	confirmed := f.pay(t, loan.ID, "100")
	_, err = f.payments.UpdateStatus(ctx, confirmed.ID, &domain.UpdatePaymentStatusRequest{Status: domain.PaymentStatusRejected})
	assert.ErrorIs(t, err, customError.ErrIllegalPaymentStatus)

	_, err = f.payments.UpdateStatus(ctx, confirmed.ID, &domain.UpdatePaymentStatusRequest{Status: domain.PaymentStatusPending})
	assert.True(t, customError.IsKind(err, customError.KindValidation))

	assert.True(t, f.reload(t, loan.ID).PaidAmount.Equal(dec("100")), "only the confirmed payment counts")
}

func TestPaymentService_CorrectAmount(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	confirmed := f.pay(t, loan.ID, "183.33")
	pending := f.createPayment(t, loan.ID, "40")

	corrected, err := f.payments.CorrectAmount(ctx, confirmed.ID, &domain.CorrectPaymentAmountRequest{Amount: dec("100")})
	require.NoError(t, err)
	assert.True(t, corrected.Amount.Equal(dec("100")))
	assert.True(t, corrected.AppliedAmount.Equal(dec("100")))

	got := f.reload(t, loan.ID)
	assert.True(t, got.PaidAmount.Equal(dec("100")))
	assert.Equal(t, 0, got.CompletedPayments)
	assert.Equal(t, testStart, got.NextPaymentDate)

	_, err = f.payments.CorrectAmount(ctx, pending.ID, &domain.CorrectPaymentAmountRequest{Amount: dec("45")})
	require.NoError(t, err)
	assert.True(t, f.reload(t, loan.ID).PaidAmount.Equal(dec("100")), "pending corrections leave the ledger alone")

	confirmedPending, err := f.payments.ConfirmPayment(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, confirmedPending.AppliedAmount.Equal(dec("45")))
	assert.True(t, f.reload(t, loan.ID).PaidAmount.Equal(dec("145")))

	_, err = f.payments.CorrectAmount(ctx, confirmed.ID, &domain.CorrectPaymentAmountRequest{Amount: dec("0")})
	assert.True(t, customError.IsKind(err, customError.KindValidation))
}

func TestPaymentService_OverpaymentCompletesLoan(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	loan := f.createLoan(t, "client-1", "500", "0", 1)
	late := f.createPayment(t, loan.ID, "10")

	f.pay(t, loan.ID, "600")

	got := f.reload(t, loan.ID)
	assert.Equal(t, domain.LoanStatusCompleted, got.Status)
	assert.True(t, got.RemainingBalance.IsZero())
	assert.True(t, got.PaidAmount.Equal(dec("600")))
	assert.Equal(t, "100.00", got.PaymentProgress.StringFixed(2))
	assert.Equal(t, 1, got.CompletedPayments)

	snap := f.metrics.Snapshot()
	assert.Equal(t, float64(1), snap.ReconciliationsOverpaid)

	_, err := f.payments.ConfirmPayment(ctx, late.ID)
	assert.ErrorIs(t, err, customError.ErrLoanCompleted)
	assert.Equal(t, float64(1), f.metrics.Snapshot().ReconciliationsRejected)

	stillPending, err := f.payments.GetPayment(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, stillPending.Status)
	assert.True(t, stillPending.AppliedAmount.IsZero())
	assert.True(t, f.reload(t, loan.ID).PaidAmount.Equal(dec("600")))

	_, err = f.payments.CreatePayment(ctx, &domain.CreatePaymentRequest{
		LoanID: loan.ID, Amount: dec("5"), Method: domain.PaymentMethodCash,
	}, nil)
	assert.True(t, customError.IsKind(err, customError.KindIllegalTransition))
}

func TestPaymentService_RoundedInstallmentsCompleteLoan(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "200", "0", 3)

	f.pay(t, loan.ID, "66.67")
	f.pay(t, loan.ID, "66.67")
	f.pay(t, loan.ID, "66.66")

	got := f.reload(t, loan.ID)
	assert.Equal(t, domain.LoanStatusCompleted, got.Status)
	assert.Equal(t, 3, got.CompletedPayments)
	assert.Equal(t, got.TotalPayments, got.CompletedPayments)
	assert.Equal(t, testStart.AddDate(0, 3, 0), got.NextPaymentDate)
	assert.True(t, got.Presented().AmountDue.IsZero())
	assert.Zero(t, f.metrics.Snapshot().ReconciliationsOverpaid)
}

func TestPaymentService_CorrectionOverpays(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "500", "0", 1)
	p := f.pay(t, loan.ID, "400")

	_, err := f.payments.CorrectAmount(context.Background(), p.ID, &domain.CorrectPaymentAmountRequest{Amount: dec("550")})

	require.NoError(t, err)
	got := f.reload(t, loan.ID)
	assert.Equal(t, domain.LoanStatusCompleted, got.Status)
	assert.True(t, got.PaidAmount.Equal(dec("550")))
	assert.Equal(t, float64(1), f.metrics.Snapshot().ReconciliationsOverpaid)
}

func TestPaymentService_ConcurrentConfirmations(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "1000", "10", 12)

	payments := make([]*domain.Payment, 10)
	for i := range payments {
		payments[i] = f.createPayment(t, loan.ID, "100.01")
	}

	var wg sync.WaitGroup
	errs := make([]error, len(payments))
	for i, p := range payments {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.payments.ConfirmPayment(context.Background(), p.ID)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	got := f.reload(t, loan.ID)
	assert.True(t, got.PaidAmount.Equal(dec("1000.1")), "got %s", got.PaidAmount)
	assert.Equal(t, 5, got.CompletedPayments)
	assert.Equal(t, int64(11), got.Version)
}

func TestPaymentService_ConfirmRetriesConflicts(t *testing.T) {
	store := mocks.NewMockStore()
	f := newFixtureWithStore(t, store, config.ReceiptPolicyStrict)
	ctx := context.Background()

	loanFor := func() *domain.Loan {
		return &domain.Loan{
			ID: "loan-1", ClientID: "client-1", PaymentFrequency: domain.FrequencyMonthly,
			StartDate: testStart, NextPaymentDate: testStart,
			PaymentAmount: dec("100"), TotalAmount: dec("1000"), TotalPayments: 10,
			PaidAmount: decimal.Zero, RemainingBalance: dec("1000"), PaymentProgress: decimal.Zero,
			Status: domain.LoanStatusActive, Version: 3,
		}
	}
	payment := &domain.Payment{ID: "pay-1", LoanID: "loan-1", Amount: dec("100"), Status: domain.PaymentStatusPending}

	store.Payments.On("GetByID", mock.Anything, "pay-1").Return(payment, nil)
	store.Loans.On("GetByID", mock.Anything, "loan-1").Return(loanFor(), nil).Once()
	store.Loans.On("GetByID", mock.Anything, "loan-1").Return(loanFor(), nil).Once()
	store.Loans.On("Update", mock.Anything, mock.Anything).Return(repository.ErrVersionConflict).Once()
	store.Loans.On("Update", mock.Anything, mock.Anything).Return(nil).Once()
	store.Payments.On("Update", mock.Anything, payment, domain.PaymentStatusPending).Return(nil)

	got, err := f.payments.ConfirmPayment(ctx, "pay-1")

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusConfirmed, got.Status)
	updated := store.Loans.Calls[len(store.Loans.Calls)-1].Arguments.Get(1).(*domain.Loan)
	assert.True(t, updated.PaidAmount.Equal(dec("100")), "the retry starts from a fresh read")
	assert.Equal(t, float64(1), f.metrics.Snapshot().ConflictRetries)
	store.Loans.AssertExpectations(t)
}

func TestPaymentService_ConfirmConflictExhausted(t *testing.T) {
	store := mocks.NewMockStore()
	f := newFixtureWithStore(t, store, config.ReceiptPolicyStrict)

	loan := &domain.Loan{
		ID: "loan-1", PaymentFrequency: domain.FrequencyMonthly, StartDate: testStart,
		PaymentAmount: dec("100"), TotalAmount: dec("1000"), TotalPayments: 10,
		PaidAmount: decimal.Zero, RemainingBalance: dec("1000"), Status: domain.LoanStatusActive,
	}
	store.Payments.On("GetByID", mock.Anything, "pay-1").
		Return(&domain.Payment{ID: "pay-1", LoanID: "loan-1", Amount: dec("100"), Status: domain.PaymentStatusPending}, nil)
	store.Loans.On("GetByID", mock.Anything, "loan-1").Return(loan, nil)
	store.Loans.On("Update", mock.Anything, mock.Anything).Return(repository.ErrVersionConflict)

	_, err := f.payments.ConfirmPayment(context.Background(), "pay-1")

	require.Error(t, err)
	assert.True(t, customError.IsKind(err, customError.KindConflict))
	assert.True(t, customError.Retryable(err))
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
	store.Loans.AssertNumberOfCalls(t, "Update", 3)
	store.Payments.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_ReceiptPolicies(t *testing.T) {
	receipt := &domain.Receipt{Filename: "r.png", ContentType: "image/png", Data: []byte("png")}

	t.Run("uploaded", func(t *testing.T) {
		f := newFixture(t, config.ReceiptPolicyStrict)
		loan := f.createLoan(t, "client-1", "1000", "10", 12)
		f.uploader.On("Upload", mock.Anything, *receipt, "receipts/"+loan.ID).
			Return("https://cdn.example.com/r.png", nil)

		p, err := f.payments.CreatePayment(context.Background(), &domain.CreatePaymentRequest{
			LoanID: loan.ID, Amount: dec("10"), Method: domain.PaymentMethodCard,
		}, receipt)

		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/r.png", p.ReceiptImage)
		assert.False(t, p.ReceiptMissing)
	})

	t.Run("strict failure stores nothing", func(t *testing.T) {
		f := newFixture(t, config.ReceiptPolicyStrict)
		loan := f.createLoan(t, "client-1", "1000", "10", 12)
		f.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("503"))

		_, err := f.payments.CreatePayment(context.Background(), &domain.CreatePaymentRequest{
			LoanID: loan.ID, Amount: dec("10"), Method: domain.PaymentMethodCard,
		}, receipt)

		assert.ErrorIs(t, err, customError.ErrUploadFailed)
		assert.True(t, customError.IsKind(err, customError.KindDependency))
		list, err := f.payments.ListPayments(context.Background(), loan.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.Equal(t, float64(1), f.metrics.Snapshot().UploadsFailed)
	})

	t.Run("best effort marks missing", func(t *testing.T) {
		f := newFixture(t, config.ReceiptPolicyBestEffort)
		loan := f.createLoan(t, "client-1", "1000", "10", 12)
		f.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("503"))

		p, err := f.payments.CreatePayment(context.Background(), &domain.CreatePaymentRequest{
			LoanID: loan.ID, Amount: dec("10"), Method: domain.PaymentMethodCard,
		}, receipt)

		require.NoError(t, err)
		assert.True(t, p.ReceiptMissing)
		assert.Empty(t, p.ReceiptImage)
	})
}

func TestPaymentService_AttachReceipt(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyBestEffort)
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	p := f.pay(t, loan.ID, "50")
	receipt := domain.Receipt{Filename: "r.jpg", ContentType: "image/jpeg", Data: []byte("jpg")}
	f.uploader.On("Upload", mock.Anything, receipt, "receipts/"+loan.ID).Return("https://cdn.example.com/r.jpg", nil)

	got, err := f.payments.AttachReceipt(context.Background(), p.ID, receipt)

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/r.jpg", got.ReceiptImage)
	assert.Equal(t, domain.PaymentStatusConfirmed, got.Status)
	assert.True(t, f.reload(t, loan.ID).PaidAmount.Equal(dec("50")))
}

func TestPaymentService_SanitizesNotes(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	loan := f.createLoan(t, "client-1", "1000", "10", 12)

	p, err := f.payments.CreatePayment(context.Background(), &domain.CreatePaymentRequest{
		LoanID: loan.ID, Amount: dec("10"), Method: domain.PaymentMethodCash,
		Notes: `<b>paid</b> at <a href="javascript:alert(1)">branch</a>`,
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "paid at branch", p.Notes)
}

func TestPaymentService_DeletePayment(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)
	ctx := context.Background()
	loan := f.createLoan(t, "client-1", "1000", "10", 12)
	pending := f.createPayment(t, loan.ID, "10")
	confirmed := f.pay(t, loan.ID, "20")

	rejected := f.createPayment(t, loan.ID, "30")
	_, err := f.payments.RejectPayment(ctx, rejected.ID)
	require.NoError(t, err)
	before := f.reload(t, loan.ID)

	require.NoError(t, f.payments.DeletePayment(ctx, pending.ID))
	_, err = f.payments.GetPayment(ctx, pending.ID)
	assert.ErrorIs(t, err, customError.ErrPaymentNotFound)

	after := f.reload(t, loan.ID)
	assert.True(t, after.PaidAmount.Equal(dec("20")))
	assert.True(t, after.PaidAmount.Equal(before.PaidAmount))
	assert.Equal(t, before.Version, after.Version)

	err = f.payments.DeletePayment(ctx, rejected.ID)
	assert.ErrorIs(t, err, customError.ErrPaymentNotDeletable)
	assert.True(t, customError.IsKind(err, customError.KindIllegalTransition))

	err = f.payments.DeletePayment(ctx, confirmed.ID)
	assert.ErrorIs(t, err, customError.ErrPaymentNotDeletable)
	assert.True(t, customError.IsKind(err, customError.KindIllegalTransition))

	assert.ErrorIs(t, f.payments.DeletePayment(ctx, "missing"), customError.ErrPaymentNotFound)
}

func TestPaymentService_CreatePayment_UnknownLoan(t *testing.T) {
	f := newFixture(t, config.ReceiptPolicyStrict)

	_, err := f.payments.CreatePayment(context.Background(), &domain.CreatePaymentRequest{
		LoanID: "missing", Amount: dec("10"), Method: domain.PaymentMethodCash,
	}, nil)

	assert.ErrorIs(t, err, customError.ErrLoanNotFound)
}
