package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the pipeline's failure taxonomy. Retryability is the
// load-bearing property: transient source and channel failures retry with
// backoff, parse and transition errors never do.
var (
	ErrTransientSource   = NewError("TRANSIENT_SOURCE", "mailbox temporarily unreachable", http.StatusServiceUnavailable).AsRetryable()
	ErrParse             = NewError("PARSE_ERROR", "malformed source message", http.StatusBadRequest).AsFatal()
	ErrAnalysis          = NewError("ANALYSIS_ERROR", "analysis service failure", http.StatusBadGateway).AsRetryable()
	ErrChannelSend       = NewError("CHANNEL_SEND_FAILURE", "notification channel delivery failed", http.StatusBadGateway).AsRetryable()
	ErrChannelDisabled   = NewError("CHANNEL_DISABLED", "notification channel is disabled", http.StatusConflict).AsFatal()
	ErrInvalidTransition = NewError("INVALID_TRANSITION", "ticket lifecycle transition not allowed", http.StatusConflict).AsFatal()
	ErrNotFound          = NewError("NOT_FOUND", "resource not found", http.StatusNotFound).AsFatal()
	ErrValidation        = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest).AsFatal()
	ErrInternal          = NewError("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

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
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return true
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
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

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func IsParse(err error) bool             { return Is(err, ErrParse) }
func IsInvalidTransition(err error) bool { return Is(err, ErrInvalidTransition) }
func IsNotFound(err error) bool          { return Is(err, ErrNotFound) }

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
