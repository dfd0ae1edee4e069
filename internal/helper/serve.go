//go:build unix

package helper

import (
	"context"

	"github.com/crash-analysis/internal/ipc"
)

var _ ipc.Handler = (*Helper)(nil)

// ListenAndServe serves h on a unix socket at path until ctx is done.
func (h *Helper) ListenAndServe(ctx context.Context, path string) error {
	srv, err := ipc.Listen(path, h, h.logger)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}
