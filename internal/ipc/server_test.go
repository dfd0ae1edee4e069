//go:build unix

package ipc

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu           sync.Mutex
	endpointData string
	dumps        map[uint32]string
}

func (h *recordingHandler) Initialize(ctx context.Context, req *Initialize) (*InitializeReply, error) {
	if f := req.Endpoint.Take(); f != nil {
		defer f.Close()
		data, _ := io.ReadAll(f)
		h.mu.Lock()
		h.endpointData = string(data)
		h.mu.Unlock()
	}
	return &InitializeReply{Pid: 777}, nil
}

func (h *recordingHandler) TransferMinidump(ctx context.Context, req *TransferMinidump) (*TransferMinidumpReply, error) {
	if path, ok := h.dumps[req.Pid]; ok {
		return &TransferMinidumpReply{Path: path}, nil
	}
	return &TransferMinidumpReply{Error: "no minidump"}, nil
}

func (h *recordingHandler) GenerateMinidump(ctx context.Context, req *GenerateMinidump) (*GenerateMinidumpReply, error) {
	return nil, errors.New("generator crashed")
}

func (h *recordingHandler) WindowsErrorReporting(ctx context.Context, req *WindowsErrorReporting) (*WindowsErrorReportingReply, error) {
	return &WindowsErrorReportingReply{Handled: len(req.ExceptionRecord) > 0}, nil
}

func startServer(t *testing.T, h Handler) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	srv, err := Listen(filepath.Join(dir, "h.sock"), h, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func dialClient(t *testing.T, srv *Server) *Client {
	t.Helper()
	conn, err := Dial(context.Background(), srv.Addr())
	require.NoError(t, err)
	client := NewClient(conn)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServer_RequestReply(t *testing.T) {
	h := &recordingHandler{dumps: map[uint32]string{42: "/var/crash/42.dmp"}}
	srv := startServer(t, h)
	client := dialClient(t, srv)
	ctx := context.Background()

	endpointPath := filepath.Join(t.TempDir(), "ep")
	require.NoError(t, os.WriteFile(endpointPath, []byte("server-endpoint"), 0600))
	endpoint, err := os.Open(endpointPath)
	require.NoError(t, err)

	pid, err := client.Initialize(ctx, "/var/crash", nil, "release", endpoint)
	require.NoError(t, err)
	assert.Equal(t, uint32(777), pid)
	h.mu.Lock()
	assert.Equal(t, "server-endpoint", h.endpointData)
	h.mu.Unlock()

	path, err := client.TransferMinidump(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "/var/crash/42.dmp", path)

	_, err = client.TransferMinidump(ctx, 43)
	assert.EqualError(t, err, "no minidump")

	handled, err := client.ReportException(ctx, 42, 1, []byte{1}, nil)
	require.NoError(t, err)
	assert.True(t, handled)
}

func TestServer_HandlerErrorClosesConnection(t *testing.T) {
	srv := startServer(t, &recordingHandler{})
	client := dialClient(t, srv)

	_, err := client.GenerateMinidump(context.Background(), 1, 1)
	assert.Error(t, err)
}

func TestServer_ConcurrentClients(t *testing.T) {
	h := &recordingHandler{dumps: map[uint32]string{1: "a", 2: "b", 3: "c"}}
	srv := startServer(t, h)

	var wg sync.WaitGroup
	for pid := uint32(1); pid <= 3; pid++ {
		client := dialClient(t, srv)
		wg.Add(1)
		go func(pid uint32) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				path, err := client.TransferMinidump(context.Background(), pid)
				assert.NoError(t, err)
				assert.Equal(t, h.dumps[pid], path)
			}
		}(pid)
	}
	wg.Wait()
}
