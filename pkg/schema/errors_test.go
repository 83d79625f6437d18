package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MessageFormats(t *testing.T) {
	plain := NewError(ErrCodeNotFound, "execution not found")
	assert.Equal(t, "[NOT_FOUND] execution not found", plain.Error())

	withStep := NewErrorf(ErrCodeStepFailed, "tool %q failed", "http.request").WithStep("fetch")
	assert.Equal(t, `[STEP_FAILED] step fetch: tool "http.request" failed`, withStep.Error())
}

func TestError_UnwrapChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrCodeStepFailed, "tool failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("dispatch: %w", err)
	got, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeStepFailed, got.Code)
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError(ErrCodePaused, "execution paused"))
	assert.True(t, IsCode(err, ErrCodePaused))
	assert.False(t, IsCode(err, ErrCodeCancelled))
	assert.False(t, IsCode(errors.New("plain"), ErrCodePaused))
	assert.False(t, IsCode(nil, ErrCodePaused))
}

func TestError_WithDetails(t *testing.T) {
	err := NewError(ErrCodeValidation, "bad definition").
		WithDetails(map[string]any{"error_count": 2})
	assert.Equal(t, 2, err.Details["error_count"])
}
