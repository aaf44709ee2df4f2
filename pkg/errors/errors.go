package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation       = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal         = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrStoreUnavailable = NewError("STORE_UNAVAILABLE", "backing store unavailable", http.StatusServiceUnavailable)
)

// Codes that should never be retried: the input itself is wrong.
var nonRetryableCodes = map[string]bool{
	"VALIDATION_ERROR": true,
	"NOT_FOUND":        true,
}

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

// Error is the application error type: a stable code for machines, a
// message for humans, an HTTP status for the API layer and optional
// structured details.
type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if detail, ok := e.Details["message"].(string); ok && detail != "" {
		msg = detail
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether a retry could plausibly succeed. An
// explicit marker wins, then the cause's own classification, then the
// error code.
func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}

	var retryableErr RetryableError
	if e.Cause != nil && errors.As(e.Cause, &retryableErr) {
		return retryableErr.IsRetryable()
	}
	var fatalErr FatalError
	if e.Cause != nil && errors.As(e.Cause, &fatalErr) {
		return !fatalErr.IsFatal()
	}

	return !nonRetryableCodes[e.Code]
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

// WithCause and WithDetail copy the error so the shared sentinel values
// above are never mutated.

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	if err.Details == nil {
		err.Details = make(map[string]interface{})
	}
	err.Details[key] = value
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func IsStoreUnavailable(err error) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == ErrStoreUnavailable.Code
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}
	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}
	return response
}
