//go:build unix

package helper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crash-analysis/internal/ipc"
	"github.com/crash-analysis/internal/testutil"
)

func TestHelper_ListenAndServe(t *testing.T) {
	dir, err := os.MkdirTemp("", "helper")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "h.sock")
	reportDir := filepath.Join(dir, "reports")

	registry := NewRegistry()
	registry.Register(7, testutil.WriteFile(t, dir, "pending.dmp", crashDump()))
	h := New(Config{DumpDir: dir}, registry)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ListenAndServe(ctx, socket) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("helper did not stop")
		}
	}()

	var conn *ipc.Conn
	require.Eventually(t, func() bool {
		conn, err = ipc.Dial(ctx, socket)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	client := ipc.NewClient(conn)
	defer client.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	pid, err := client.Initialize(ctx, reportDir, nil, "release", w)
	require.NoError(t, err)
	assert.Equal(t, uint32(os.Getpid()), pid)

	path, err := client.TransferMinidump(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(reportDir, "pending.dmp"), path)
	assert.True(t, testutil.FileExists(t, path))

	_, err = client.TransferMinidump(ctx, 7)
	assert.Error(t, err)
}
