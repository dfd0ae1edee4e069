package report

import (
	"context"

	"github.com/crash-analysis/internal/analyzer"
	"github.com/crash-analysis/internal/minidump"
)

// AnalyzeFile analyzes the minidump at dumpPath and merges the result into
// the .extra document at extraPath.
func AnalyzeFile(ctx context.Context, dumpPath, extraPath string, opts analyzer.Options) (*StackTraces, error) {
	dump, err := minidump.Open(dumpPath)
	if err != nil {
		return nil, err
	}
	r, err := analyzer.Analyze(ctx, dump, opts)
	if err != nil {
		return nil, err
	}
	st := Build(r)
	if err := MergeIntoExtra(extraPath, st); err != nil {
		return nil, err
	}
	return st, nil
}
