package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrescoError_Format(t *testing.T) {
	err := NewError(ErrCodeValidation, "bad graph")
	assert.Equal(t, "[VALIDATION_ERROR] bad graph", err.Error())

	err = NewErrorf(ErrCodeExecution, "attempt %d failed", 3).WithNode("crop-1")
	assert.Equal(t, "[EXECUTION_ERROR] node crop-1: attempt 3 failed", err.Error())

	err = NewError(ErrCodeDanglingEdge, "no such target").WithEdge("e7")
	assert.Equal(t, "[DANGLING_EDGE] edge e7: no such target", err.Error())
}

func TestFrescoError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewError(ErrCodeUnavailable, "backend down").WithCause(cause)

	assert.ErrorIs(t, err, cause)

	var ferr *FrescoError
	require.True(t, errors.As(error(err), &ferr))
	assert.Equal(t, ErrCodeUnavailable, ferr.Code)
}

func TestFrescoError_Details(t *testing.T) {
	err := NewError(ErrCodeQuota, "rate limited").
		WithDetails(map[string]any{"retry_after_ms": 1200})
	assert.Equal(t, 1200, err.Details["retry_after_ms"])
}

func TestFrescoError_IsRetryable(t *testing.T) {
	tests := []struct {
		code      string
		retryable bool
	}{
		{ErrCodeQuota, true},
		{ErrCodeTimeout, true},
		{ErrCodeUnavailable, true},
		{ErrCodeValidation, false},
		{ErrCodeAuth, false},
		{ErrCodeNotFound, false},
		{ErrCodeCircuitOpen, false},
		{ErrCodeVault, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.retryable, NewError(tt.code, "x").IsRetryable())
		})
	}
}
