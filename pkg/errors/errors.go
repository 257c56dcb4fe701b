package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a BusinessError so callers can decide whether to retry.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindIllegalTransition Kind = "illegal_transition"
	KindConflict          Kind = "conflict"
	KindDependency        Kind = "dependency"
)

// Domain errors
var (
	ErrLoanNotFound             = errors.New("loan not found")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrClientNotFound           = errors.New("client aggregate not found")
	ErrInvalidLoanTerms         = errors.New("invalid loan terms")
	ErrUnknownFrequency         = errors.New("unknown payment frequency")
	ErrInvalidPaymentAmount     = errors.New("invalid payment amount")
	ErrInvalidInput             = errors.New("invalid input")
	ErrNegativePaidAmount       = errors.New("paid amount cannot become negative")
	ErrPaymentNotDeletable      = errors.New("payment is not deletable")
	ErrIllegalPaymentStatus     = errors.New("illegal payment status transition")
	ErrLoanCompleted            = errors.New("loan is completed")
	ErrConcurrentUpdate         = errors.New("concurrent update")
	ErrDatabase                 = errors.New("database operation failed")
	ErrCache                    = errors.New("cache operation failed")
	ErrUploadFailed             = errors.New("receipt upload failed")
	ErrClientAggregateOutOfSync = errors.New("client aggregate out of sync")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(kind Kind, code, message string, err error) *BusinessError {
	return &BusinessError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the kind of the first BusinessError in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsKind reports whether err carries a BusinessError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller may retry the operation that produced err.
// Validation and illegal-transition errors never are.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindDependency:
		return true
	default:
		return false
	}
}

// Error codes
const (
	ErrCodeLoanNotFound             = "LOAN_NOT_FOUND"
	ErrCodePaymentNotFound          = "PAYMENT_NOT_FOUND"
	ErrCodeClientNotFound           = "CLIENT_NOT_FOUND"
	ErrCodeInvalidLoanTerms         = "INVALID_LOAN_TERMS"
	ErrCodeUnknownFrequency         = "UNKNOWN_FREQUENCY"
	ErrCodeInvalidPaymentAmount     = "INVALID_PAYMENT_AMOUNT"
	ErrCodeInvalidInput             = "INVALID_INPUT"
	ErrCodeNegativePaidAmount       = "NEGATIVE_PAID_AMOUNT"
	ErrCodePaymentNotDeletable      = "PAYMENT_NOT_DELETABLE"
	ErrCodeIllegalPaymentStatus     = "ILLEGAL_PAYMENT_STATUS"
	ErrCodeLoanCompleted            = "LOAN_COMPLETED"
	ErrCodeConcurrentUpdate         = "CONCURRENT_UPDATE"
	ErrCodeDatabaseError            = "DATABASE_ERROR"
	ErrCodeCacheError               = "CACHE_ERROR"
	ErrCodeUploadFailed             = "UPLOAD_FAILED"
	ErrCodeClientAggregateOutOfSync = "CLIENT_AGGREGATE_OUT_OF_SYNC"
)

func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan with ID %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapPaymentNotFound(paymentID string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodePaymentNotFound,
		fmt.Sprintf("Payment with ID %s not found", paymentID),
		ErrPaymentNotFound,
	)
}

func WrapClientNotFound(clientID string) *BusinessError {
	return NewBusinessError(
		KindNotFound,
		ErrCodeClientNotFound,
		fmt.Sprintf("Client with ID %s has no aggregate record", clientID),
		ErrClientNotFound,
	)
}

func WrapInvalidLoanTerms(message string) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodeInvalidLoanTerms, message, ErrInvalidLoanTerms)
}

func WrapUnknownFrequency(frequency string) *BusinessError {
	return NewBusinessError(
		KindValidation,
		ErrCodeUnknownFrequency,
		fmt.Sprintf("Payment frequency %q is not one of weekly, biweekly, monthly", frequency),
		ErrUnknownFrequency,
	)
}

func WrapInvalidPaymentAmount(amount string) *BusinessError {
	return NewBusinessError(
		KindValidation,
		ErrCodeInvalidPaymentAmount,
		fmt.Sprintf("Invalid payment amount: %s", amount),
		ErrInvalidPaymentAmount,
	)
}

func WrapInvalidInput(message string) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodeInvalidInput, message, ErrInvalidInput)
}

func WrapNegativePaidAmount(loanID, paid string) *BusinessError {
	return NewBusinessError(
		KindValidation,
		ErrCodeNegativePaidAmount,
		fmt.Sprintf("Loan %s would end with paid amount %s", loanID, paid),
		ErrNegativePaidAmount,
	)
}

func WrapPaymentNotDeletable(paymentID, status string) *BusinessError {
	return NewBusinessError(
		KindIllegalTransition,
		ErrCodePaymentNotDeletable,
		fmt.Sprintf("Payment %s is %s and cannot be deleted", paymentID, status),
		ErrPaymentNotDeletable,
	)
}

func WrapIllegalPaymentStatus(paymentID, from, to string) *BusinessError {
	return NewBusinessError(
		KindIllegalTransition,
		ErrCodeIllegalPaymentStatus,
		fmt.Sprintf("Payment %s cannot move from %s to %s", paymentID, from, to),
		ErrIllegalPaymentStatus,
	)
}

func WrapLoanCompleted(loanID string) *BusinessError {
	return NewBusinessError(
		KindIllegalTransition,
		ErrCodeLoanCompleted,
		fmt.Sprintf("Loan with ID %s is completed and accepts no further ledger changes", loanID),
		ErrLoanCompleted,
	)
}

func WrapConflict(resource, id string, err error) *BusinessError {
	if err == nil {
		err = ErrConcurrentUpdate
	}
	return NewBusinessError(
		KindConflict,
		ErrCodeConcurrentUpdate,
		fmt.Sprintf("%s %s was modified concurrently, retry the request", resource, id),
		err,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		KindDependency,
		ErrCodeDatabaseError,
		"database operation failed",
		fmt.Errorf("%w: %w", ErrDatabase, err),
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		KindDependency,
		ErrCodeCacheError,
		"Cache operation failed",
		fmt.Errorf("%w: %w", ErrCache, err),
	)
}

func WrapUploadError(folder string, err error) *BusinessError {
	return NewBusinessError(
		KindDependency,
		ErrCodeUploadFailed,
		fmt.Sprintf("Receipt upload to %s failed", folder),
		fmt.Errorf("%w: %w", ErrUploadFailed, err),
	)
}

func WrapClientAggregateError(clientID string, err error) *BusinessError {
	return NewBusinessError(
		KindDependency,
		ErrCodeClientAggregateOutOfSync,
		fmt.Sprintf("Loan committed but aggregate for client %s was not updated", clientID),
		fmt.Errorf("%w: %w", ErrClientAggregateOutOfSync, err),
	)
}
