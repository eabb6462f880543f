package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelRetryability(t *testing.T) {
	assert.True(t, ErrTransientSource.IsRetryable())
	assert.True(t, ErrAnalysis.IsRetryable())
	assert.True(t, ErrChannelSend.IsRetryable())

	assert.True(t, ErrParse.IsFatal())
	assert.True(t, ErrInvalidTransition.IsFatal())
	assert.True(t, ErrChannelDisabled.IsFatal())
}

func TestWithCausePreservesRetryability(t *testing.T) {
	err := ErrAnalysis.WithCause(errors.New("upstream timeout"))
	assert.True(t, err.IsRetryable())
	assert.Contains(t, err.Error(), "upstream timeout")

	fatal := ErrAnalysis.WithCause(errors.New("bad request")).AsFatal()
	assert.True(t, fatal.IsFatal())

	// The sentinel itself must stay untouched.
	assert.True(t, ErrAnalysis.IsRetryable())
}

func TestWithDetailCopies(t *testing.T) {
	base := ErrInvalidTransition.WithDetail("status", "new")
	derived := base.WithDetail("event", "notified")

	assert.Len(t, base.Details, 1)
	assert.Len(t, derived.Details, 2)
	assert.Empty(t, ErrInvalidTransition.Details)
}

func TestIsMatchesWrappedErrors(t *testing.T) {
	err := fmt.Errorf("processing: %w", ErrParse.WithCause(errors.New("bad mime")))
	assert.True(t, IsParse(err))
	assert.False(t, IsNotFound(err))
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(ErrNotFound))
	assert.Equal(t, http.StatusConflict, ToHTTPStatus(ErrInvalidTransition))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(errors.New("plain")))
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrInvalidTransition.WithDetail("status", "new"))
	assert.Equal(t, "INVALID_TRANSITION", resp["error_code"])
	assert.Contains(t, resp, "details")

	resp = ToErrorResponse(errors.New("plain"))
	assert.Equal(t, "INTERNAL_ERROR", resp["error_code"])
}
