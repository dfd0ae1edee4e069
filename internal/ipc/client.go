//go:build unix

package ipc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Client issues requests to a crash helper. Calls are serialized; the
// protocol does not support more than one outstanding request.
type Client struct {
	mu   sync.Mutex
	conn *Conn
}

// NewClient wraps conn.
func NewClient(conn *Conn) *Client {
	return &Client{conn: conn}
}

// Call sends req and waits for the matching reply.
func (c *Client) Call(ctx context.Context, req Message) (Message, error) {
	if req.Kind().IsReply() {
		return nil, fmt.Errorf("call: %s is a reply kind", req.Kind())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetDeadline(ctx); err != nil {
		return nil, err
	}
	if err := c.conn.Send(req); err != nil {
		return nil, err
	}
	reply, err := c.conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("%s reply: %w", req.Kind(), err)
	}
	if reply.Kind() != req.Kind().Reply() {
		return nil, fmt.Errorf("%w: sent %s, got %s", ErrUnexpectedReply, req.Kind(), reply.Kind())
	}
	return reply, nil
}

// Initialize registers the report directory and hands over the endpoint.
// It returns the helper's pid.
func (c *Client) Initialize(ctx context.Context, path string, platformData []byte, releaseChannel string, endpoint *os.File) (uint32, error) {
	reply, err := c.Call(ctx, &Initialize{
		Path:           path,
		PlatformData:   platformData,
		ReleaseChannel: releaseChannel,
		Endpoint:       NewAncillaryData(endpoint),
	})
	if err != nil {
		return 0, err
	}
	return reply.(*InitializeReply).Pid, nil
}

// TransferMinidump returns the path of the minidump recorded for pid.
func (c *Client) TransferMinidump(ctx context.Context, pid uint32) (string, error) {
	reply, err := c.Call(ctx, &TransferMinidump{Pid: pid})
	if err != nil {
		return "", err
	}
	r := reply.(*TransferMinidumpReply)
	if r.Error != "" {
		return "", errors.New(r.Error)
	}
	return r.Path, nil
}

// GenerateMinidump asks the helper to capture thread tid of pid.
func (c *Client) GenerateMinidump(ctx context.Context, pid, tid uint32) (string, error) {
	reply, err := c.Call(ctx, &GenerateMinidump{Pid: pid, ThreadID: tid})
	if err != nil {
		return "", err
	}
	r := reply.(*GenerateMinidumpReply)
	if r.Error != "" {
		return "", errors.New(r.Error)
	}
	return r.Path, nil
}

// ReportException forwards a WER exception and reports whether the helper
// handled it.
func (c *Client) ReportException(ctx context.Context, pid, tid uint32, record, threadContext []byte) (bool, error) {
	reply, err := c.Call(ctx, &WindowsErrorReporting{Pid: pid, ThreadID: tid, ExceptionRecord: record, Context: threadContext})
	if err != nil {
		return false, err
	}
	return reply.(*WindowsErrorReportingReply).Handled, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
