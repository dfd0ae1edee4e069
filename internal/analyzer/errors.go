package analyzer

import (
	apperrors "github.com/crash-analysis/pkg/errors"
)

var (
	// ErrMissingMandatoryStream is returned when the dump lacks SystemInfo
	// or Exception.
	ErrMissingMandatoryStream = apperrors.ErrMissingMandatoryStream

	// ErrAnalysisFailed is returned when analysis cannot complete.
	ErrAnalysisFailed = apperrors.ErrAnalysisError
)

func missingStream(name string, err error) error {
	return apperrors.Wrap(apperrors.CodeMissingMandatoryStream, name+" stream is required", err)
}
