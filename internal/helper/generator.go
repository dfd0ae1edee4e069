package helper

import (
	"context"
	"errors"
)

// ErrGenerateUnsupported is returned by the default Generator.
var ErrGenerateUnsupported = errors.New("minidump generation is not supported on this platform")

// Generator captures a minidump of a live process into dir and returns its
// path.
type Generator interface {
	GenerateMinidump(ctx context.Context, pid, threadID uint32, dir string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, pid, threadID uint32, dir string) (string, error)

// GenerateMinidump calls f.
func (f GeneratorFunc) GenerateMinidump(ctx context.Context, pid, threadID uint32, dir string) (string, error) {
	return f(ctx, pid, threadID, dir)
}

type unsupportedGenerator struct{}

func (unsupportedGenerator) GenerateMinidump(context.Context, uint32, uint32, string) (string, error) {
	return "", ErrGenerateUnsupported
}
