package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeDatabaseError, "connection failed"),
			expected: "[DATABASE_ERROR] connection failed",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeStorageError, "upload failed", errors.New("network timeout")),
			expected: "[STORAGE_ERROR] upload failed: network timeout",
		},
		{
			name:     "formatted",
			err:      Newf(CodeInvalidData, "length %d exceeds %d", 9, 4),
			expected: "[INVALID_DATA] length 9 exceeds 4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeAnalysisError, "analysis failed", underlying)

	assert.Equal(t, underlying, err.Unwrap())
	assert.ErrorIs(t, err, underlying)
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeTruncated, "header")
	err2 := New(CodeTruncated, "payload")
	err3 := New(CodeInvalidKind, "kind 9")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
	assert.True(t, errors.Is(fmt.Errorf("decode: %w", err1), ErrTruncated))
}

func TestIsMissingMandatoryStream(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"sentinel", ErrMissingMandatoryStream, true},
		{"wrapped", Wrap(CodeMissingMandatoryStream, "exception", ErrStreamNotPresent), true},
		{"other", ErrUnsupportedCPU, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsMissingMandatoryStream(tt.err))
		})
	}
}

func TestIsDatabaseAndStorageError(t *testing.T) {
	assert.True(t, IsDatabaseError(Wrap(CodeDatabaseError, "query", errors.New("x"))))
	assert.False(t, IsDatabaseError(ErrStorageError))
	assert.True(t, IsStorageError(ErrStorageError))
	assert.True(t, IsEmptyFileError(ErrEmptyFile))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, CodeInvalidData, GetErrorCode(ErrInvalidData))
	assert.Equal(t, CodeStreamNotPresent, GetErrorCode(fmt.Errorf("thread list: %w", ErrStreamNotPresent)))
	assert.Equal(t, CodeUnknown, GetErrorCode(errors.New("plain")))
	assert.Equal(t, CodeUnknown, GetErrorCode(nil))
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, "stream truncated", GetErrorMessage(ErrStreamTruncated))
	assert.Equal(t, "plain", GetErrorMessage(errors.New("plain")))
	assert.Equal(t, "", GetErrorMessage(nil))
}
