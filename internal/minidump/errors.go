package minidump

import (
	"fmt"

	apperrors "github.com/crash-analysis/pkg/errors"
)

var (
	// ErrNotAMinidump is returned by Parse for input without a valid header.
	ErrNotAMinidump = apperrors.ErrNotAMinidump
	// ErrStreamNotPresent is returned when the directory has no such stream.
	ErrStreamNotPresent = apperrors.ErrStreamNotPresent
	// ErrStreamTruncated is returned when a stream or a structure it points
	// to extends past the available bytes.
	ErrStreamTruncated = apperrors.ErrStreamTruncated
	// ErrUnsupportedCPU is returned when a context cannot be decoded for
	// the dump's architecture.
	ErrUnsupportedCPU = apperrors.ErrUnsupportedCPU
)

func notAMinidump(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.CodeNotAMinidump, format, args...)
}

func notPresent(t StreamType) error {
	return apperrors.Newf(apperrors.CodeStreamNotPresent, "%s stream not present", t)
}

func streamTruncated(what string, off, need, have int) error {
	return apperrors.Wrap(apperrors.CodeStreamTruncated, what,
		fmt.Errorf("need %d bytes at offset %#x, have %d", need, off, have))
}
