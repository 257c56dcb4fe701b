package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/microlend-ledger/internal/domain"
	customError "github.com/segyhp/microlend-ledger/pkg/errors"
	"github.com/segyhp/microlend-ledger/pkg/response"
)

const (
	maxReceiptBytes = 10 << 20
	receiptField    = "receipt"
)

type PaymentHandler struct {
	payments PaymentService
}

func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// CreatePayment handles POST /api/v1/loans/{loanId}/payments. The body is JSON, or
// multipart/form-data with the payment fields and an optional "receipt" file.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var (
		req     domain.CreatePaymentRequest
		receipt *domain.Receipt
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		parsed, file, err := parseMultipartPayment(w, r)
		if err != nil {
			response.FromError(w, err)
			return
		}
		req, receipt = *parsed, file
	} else if !decodeJSON(w, r, &req) {
		return
	}
	req.LoanID = pathVar(r, "loanId")

	payment, err := h.payments.CreatePayment(r.Context(), &req, receipt)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, payment)
}

func parseMultipartPayment(w http.ResponseWriter, r *http.Request) (*domain.CreatePaymentRequest, *domain.Receipt, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReceiptBytes+maxBodyBytes)
	if err := r.ParseMultipartForm(maxReceiptBytes); err != nil {
		return nil, nil, customError.WrapInvalidInput("invalid multipart body: " + err.Error())
	}

	req := &domain.CreatePaymentRequest{
		Method: domain.PaymentMethod(r.FormValue("method")),
		Notes:  r.FormValue("notes"),
	}
	amount, err := decimal.NewFromString(r.FormValue("amount"))
	if err != nil {
		return nil, nil, customError.WrapInvalidPaymentAmount(r.FormValue("amount"))
	}
	req.Amount = amount
	if raw := r.FormValue("payment_date"); raw != "" {
		if req.PaymentDate, err = time.Parse(time.RFC3339, raw); err != nil {
			return nil, nil, customError.WrapInvalidInput("payment_date must be RFC3339")
		}
	}

	file, header, err := r.FormFile(receiptField)
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil, nil
	}
	if err != nil {
		return nil, nil, customError.WrapInvalidInput("invalid receipt file: " + err.Error())
	}
	defer file.Close()

	receipt, err := readReceipt(file, header)
	if err != nil {
		return nil, nil, err
	}
	return req, receipt, nil
}

func readReceipt(file multipart.File, header *multipart.FileHeader) (*domain.Receipt, error) {
	data, err := io.ReadAll(io.LimitReader(file, maxReceiptBytes+1))
	if err != nil {
		return nil, customError.WrapInvalidInput("reading receipt: " + err.Error())
	}
	if len(data) > maxReceiptBytes {
		return nil, customError.WrapInvalidInput("receipt exceeds 10MB")
	}
	if len(data) == 0 {
		return nil, customError.WrapInvalidInput("receipt is empty")
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &domain.Receipt{Filename: header.Filename, ContentType: contentType, Data: data}, nil
}

// ListPayments handles GET /api/v1/loans/{loanId}/payments
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.ListPayments(r.Context(), pathVar(r, "loanId"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, payments)
}

// GetPayment handles GET /api/v1/payments/{paymentId}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.payments.GetPayment(r.Context(), pathVar(r, "paymentId"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, payment)
}

// UpdateStatus handles PATCH /api/v1/payments/{paymentId}/status
func (h *PaymentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdatePaymentStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	payment, err := h.payments.UpdateStatus(r.Context(), pathVar(r, "paymentId"), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, payment)
}

// CorrectAmount handles PATCH /api/v1/payments/{paymentId}/amount
func (h *PaymentHandler) CorrectAmount(w http.ResponseWriter, r *http.Request) {
	var req domain.CorrectPaymentAmountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	payment, err := h.payments.CorrectAmount(r.Context(), pathVar(r, "paymentId"), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, payment)
}

// AttachReceipt handles POST /api/v1/payments/{paymentId}/receipt (multipart, field "receipt")
func (h *PaymentHandler) AttachReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReceiptBytes+maxBodyBytes)
	if err := r.ParseMultipartForm(maxReceiptBytes); err != nil {
		response.BadRequest(w, "Invalid multipart body", customError.WrapInvalidInput(err.Error()))
		return
	}
	file, header, err := r.FormFile(receiptField)
	if err != nil {
		response.BadRequest(w, "Receipt file is required", customError.WrapInvalidInput(err.Error()))
		return
	}
	defer file.Close()

	receipt, err := readReceipt(file, header)
	if err != nil {
		response.FromError(w, err)
		return
	}

	payment, err := h.payments.AttachReceipt(r.Context(), pathVar(r, "paymentId"), *receipt)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, payment)
}

// DeletePayment handles DELETE /api/v1/payments/{paymentId}
func (h *PaymentHandler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.payments.DeletePayment(r.Context(), pathVar(r, "paymentId")); err != nil {
		response.FromError(w, err)
		return
	}
	response.NoContent(w)
}
