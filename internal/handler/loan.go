package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/segyhp/microlend-ledger/internal/auth"
	"github.com/segyhp/microlend-ledger/internal/domain"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
	"github.com/segyhp/microlend-ledger/pkg/response"
)

type LoanHandler struct {
	loans LoanService
}

func NewLoanHandler(loans LoanService) *LoanHandler {
	return &LoanHandler{loans: loans}
}

// CreateLoan handles POST /api/v1/loans
func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLoanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OwnerID = auth.OwnerFromContext(r.Context())

	loan, err := h.loans.CreateLoan(r.Context(), &req)
	if err != nil {
		if loan != nil && errors.Is(err, customError.ErrClientAggregateOutOfSync) {
			// The loan is stored; report it alongside the aggregate failure.
			response.JSON(w, http.StatusAccepted, map[string]any{
				"loan":    loan.Presented(),
				"warning": err.Error(),
			})
			return
		}
		response.FromError(w, err)
		return
	}

	response.Created(w, loan.Presented())
}

// ListLoans handles GET /api/v1/loans?client_id=&status=
func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loans, err := h.loans.ListLoans(r.Context(), q.Get("client_id"), domain.LoanStatus(q.Get("status")))
	if err != nil {
		response.FromError(w, err)
		return
	}

	views := make([]domain.LoanView, 0, len(loans))
	for _, loan := range loans {
		views = append(views, loan.Presented())
	}
	response.Success(w, views)
}

// GetLoan handles GET /api/v1/loans/{loanId}
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	details, err := h.loans.GetLoanDetails(r.Context(), pathVar(r, "loanId"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, details)
}

// UpdateLoanTerms handles PUT /api/v1/loans/{loanId}
func (h *LoanHandler) UpdateLoanTerms(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateLoanTermsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	loan, err := h.loans.UpdateLoanTerms(r.Context(), pathVar(r, "loanId"), &req)
	if err != nil {
		if loan != nil && errors.Is(err, customError.ErrClientAggregateOutOfSync) {
			response.JSON(w, http.StatusAccepted, map[string]any{
				"loan":    loan.Presented(),
				"warning": err.Error(),
			})
			return
		}
		response.FromError(w, err)
		return
	}
	response.Success(w, loan.Presented())
}

// DeleteLoan handles DELETE /api/v1/loans/{loanId}
func (h *LoanHandler) DeleteLoan(w http.ResponseWriter, r *http.Request) {
	if err := h.loans.DeleteLoan(r.Context(), pathVar(r, "loanId")); err != nil {
		if errors.Is(err, customError.ErrClientAggregateOutOfSync) {
			response.JSON(w, http.StatusAccepted, map[string]any{"warning": err.Error()})
			return
		}
		response.FromError(w, err)
		return
	}
	response.NoContent(w)
}

// GetSchedule handles GET /api/v1/loans/{loanId}/schedule
func (h *LoanHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.loans.GetSchedule(r.Context(), pathVar(r, "loanId"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, schedule)
}

// GetStatement handles GET /api/v1/loans/{loanId}/statement?format=pdf|xlsx
func (h *LoanHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pdf"
	}
	loanID := pathVar(r, "loanId")

	doc, contentType, err := h.loans.Statement(r.Context(), loanID, format)
	if err != nil {
		response.FromError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="statement-%s.%s"`, loanID, format))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// Preview handles POST /api/v1/calculator/preview
func (h *LoanHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req domain.PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	preview, err := h.loans.Preview(r.Context(), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, preview)
}
