package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps/0/toolName", ErrCodeValidation, "toolName is required")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps/0/toolName", r.Errors[0].Path)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_WarningsStayValid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("steps/1", ErrCodeValidation, "empty else branch")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	assert.Nil(t, r.ToError())
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")

	r2 := &ValidationResult{}
	r2.AddError("steps/0", ErrCodeValidation, "err2")
	r2.AddWarning("steps/1", ErrCodeValidation, "warn")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 1)
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "first problem")
	r.AddError("steps/3", ErrCodeValidation, "second problem")

	err := r.ToError()
	require.NotNil(t, err)

	verr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, verr.Code)
	assert.Contains(t, verr.Message, "2 errors")
	assert.Equal(t, 2, verr.Details["error_count"])
}
