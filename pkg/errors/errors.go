// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown = "UNKNOWN_ERROR"

	// Wire protocol.
	CodeTruncated   = "TRUNCATED"
	CodeInvalidKind = "INVALID_KIND"
	CodeInvalidData = "INVALID_DATA"
	CodeClosed      = "CONNECTION_CLOSED"
	CodeBadReply    = "UNEXPECTED_REPLY"

	// Minidump processing.
	CodeNotAMinidump           = "NOT_A_MINIDUMP"
	CodeStreamNotPresent       = "STREAM_NOT_PRESENT"
	CodeStreamTruncated        = "STREAM_TRUNCATED"
	CodeMissingMandatoryStream = "MISSING_MANDATORY_STREAM"
	CodeUnsupportedCPU         = "UNSUPPORTED_CPU"

	// Service.
	CodeDatabaseError = "DATABASE_ERROR"
	CodeStorageError  = "STORAGE_ERROR"
	CodeAnalysisError = "ANALYSIS_ERROR"
	CodeEmptyFile     = "EMPTY_FILE"
	CodeNotFound      = "NOT_FOUND"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Common error instances.
var (
	ErrTruncated              = New(CodeTruncated, "buffer truncated")
	ErrInvalidKind            = New(CodeInvalidKind, "invalid message kind")
	ErrInvalidData            = New(CodeInvalidData, "invalid message data")
	ErrNotAMinidump           = New(CodeNotAMinidump, "not a minidump")
	ErrStreamNotPresent       = New(CodeStreamNotPresent, "stream not present")
	ErrStreamTruncated        = New(CodeStreamTruncated, "stream truncated")
	ErrMissingMandatoryStream = New(CodeMissingMandatoryStream, "missing mandatory stream")
	ErrUnsupportedCPU         = New(CodeUnsupportedCPU, "unsupported cpu")
	ErrDatabaseError          = New(CodeDatabaseError, "database error")
	ErrStorageError           = New(CodeStorageError, "storage error")
	ErrAnalysisError          = New(CodeAnalysisError, "analysis error")
	ErrEmptyFile              = New(CodeEmptyFile, "empty file")
	ErrNotFound               = New(CodeNotFound, "resource not found")
	ErrConfigError            = New(CodeConfigError, "configuration error")
)

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
}

// IsStorageError checks if the error is a storage error.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorageError)
}

// IsMissingMandatoryStream checks if analysis failed because a required stream is absent.
func IsMissingMandatoryStream(err error) bool {
	return errors.Is(err, ErrMissingMandatoryStream)
}

// IsEmptyFileError checks if the error is an empty file error.
func IsEmptyFileError(err error) bool {
	return errors.Is(err, ErrEmptyFile)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
