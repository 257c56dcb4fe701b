package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/segyhp/microlend-ledger/internal/domain"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
	"github.com/segyhp/microlend-ledger/pkg/response"
)

const maxBodyBytes = 1 << 20

// LoanService is the loan side the HTTP layer needs.
type LoanService interface {
	CreateLoan(ctx context.Context, req *domain.CreateLoanRequest) (*domain.Loan, error)
	UpdateLoanTerms(ctx context.Context, id string, req *domain.UpdateLoanTermsRequest) (*domain.Loan, error)
	DeleteLoan(ctx context.Context, id string) error
	GetLoanDetails(ctx context.Context, id string) (*domain.LoanDetailsResponse, error)
	ListLoans(ctx context.Context, clientID string, status domain.LoanStatus) ([]*domain.Loan, error)
	GetSchedule(ctx context.Context, id string) (*domain.ScheduleResponse, error)
	Statement(ctx context.Context, id, format string) ([]byte, string, error)
	Preview(ctx context.Context, req *domain.PreviewRequest) (*domain.PreviewResponse, error)
}

// PaymentService is the payment side the HTTP layer needs.
type PaymentService interface {
	CreatePayment(ctx context.Context, req *domain.CreatePaymentRequest, receipt *domain.Receipt) (*domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ListPayments(ctx context.Context, loanID string) ([]*domain.Payment, error)
	UpdateStatus(ctx context.Context, id string, req *domain.UpdatePaymentStatusRequest) (*domain.Payment, error)
	CorrectAmount(ctx context.Context, id string, req *domain.CorrectPaymentAmountRequest) (*domain.Payment, error)
	AttachReceipt(ctx context.Context, id string, receipt domain.Receipt) (*domain.Payment, error)
	DeletePayment(ctx context.Context, id string) error
}

// ClientService exposes the client aggregates.
type ClientService interface {
	Get(ctx context.Context, clientID string) (*domain.ClientAggregate, error)
	Reconcile(ctx context.Context) (int, error)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			response.BadRequest(w, "Request body is required", customError.WrapInvalidInput("empty body"))
			return false
		}
		response.BadRequest(w, "Invalid request body", customError.WrapInvalidInput(err.Error()))
		return false
	}
	return true
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
