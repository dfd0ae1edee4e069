package ipc

import (
	"fmt"

	apperrors "github.com/crash-analysis/pkg/errors"
)

// Codec errors. Compare with errors.Is; decoding failures carry detail in
// the message but keep the sentinel's code.
var (
	ErrTruncated       = apperrors.ErrTruncated
	ErrInvalidKind     = apperrors.ErrInvalidKind
	ErrInvalidData     = apperrors.ErrInvalidData
	ErrUnexpectedReply = apperrors.New(apperrors.CodeBadReply, "unexpected reply kind")
	ErrClosed          = apperrors.New(apperrors.CodeClosed, "connection closed")
)

func invalidData(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.CodeInvalidData, format, args...)
}

func invalidKind(b byte) error {
	return apperrors.Newf(apperrors.CodeInvalidKind, "invalid message kind %d", b)
}

func truncated(have, want int) error {
	return apperrors.Wrap(apperrors.CodeTruncated, "buffer truncated", fmt.Errorf("have %d bytes, header needs %d", have, want))
}
