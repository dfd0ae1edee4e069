//go:build unix

package ipc

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b, err := Pair()
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestConn_SendRecv(t *testing.T) {
	a, b := newPair(t)

	msgs := []Message{
		&TransferMinidump{Pid: 1},
		&GenerateMinidumpReply{Path: "/tmp/x.dmp"},
		&WindowsErrorReporting{Pid: 2, ThreadID: 3, ExceptionRecord: make([]byte, 10000)},
	}
	go func() {
		for _, m := range msgs {
			_ = a.Send(m)
		}
	}()

	for _, want := range msgs {
		got, err := b.Recv()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestConn_AccumulatesPartialReads(t *testing.T) {
	a, b := newPair(t)

	header, payload, _ := Encode(&TransferMinidumpReply{Path: "/var/crash/split.dmp"})
	frame := append(header, payload...)

	go func() {
		for _, c := range frame {
			_, _ = a.conn.Write([]byte{c})
			time.Sleep(time.Millisecond)
		}
	}()

	got, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, "/var/crash/split.dmp", got.(*TransferMinidumpReply).Path)
}

func TestConn_PassesDescriptor(t *testing.T) {
	a, b := newPair(t)

	path := filepath.Join(t.TempDir(), "endpoint")
	require.NoError(t, os.WriteFile(path, []byte("endpoint-data"), 0600))
	f, err := os.Open(path)
	require.NoError(t, err)

	require.NoError(t, a.Send(&Initialize{Path: "/reports", Endpoint: NewAncillaryData(f)}))

	got, err := b.Recv()
	require.NoError(t, err)
	init := got.(*Initialize)
	received := init.Endpoint.Take()
	require.NotNil(t, received)
	defer received.Close()

	data, err := io.ReadAll(received)
	require.NoError(t, err)
	assert.Equal(t, "endpoint-data", string(data))
}

func TestConn_PeerClosed(t *testing.T) {
	a, b := newPair(t)
	require.NoError(t, a.Close())

	_, err := b.Recv()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConn_TruncatedFrame(t *testing.T) {
	a, b := newPair(t)

	header, payload, _ := Encode(&GenerateMinidump{Pid: 1, ThreadID: 2})
	_, err := a.conn.Write(append(header, payload[:3]...))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = b.Recv()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestConn_RejectsOversizedPayload(t *testing.T) {
	a, b := newPair(t)

	_, err := a.conn.Write(Header{Kind: KindInitialize, Size: MaxPayloadSize + 1}.Bytes())
	require.NoError(t, err)

	_, err = b.Recv()
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestConn_RecvUnblocksOnLocalClose(t *testing.T) {
	a, _ := newPair(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Recv()
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestConn_RecvKeepsPartialFrameAcrossDeadline(t *testing.T) {
	a, b := newPair(t)

	header, payload, _ := Encode(&TransferMinidumpReply{Path: "/var/crash/late.dmp"})
	frame := append(header, payload...)
	_, err := a.conn.Write(frame[:HeaderSize+2])
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, b.SetDeadline(ctx))
	_, err = b.Recv()
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	require.NoError(t, b.SetDeadline(context.Background()))
	_, err = a.conn.Write(frame[HeaderSize+2:])
	require.NoError(t, err)
	got, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, "/var/crash/late.dmp", got.(*TransferMinidumpReply).Path)
}

func TestClient_Deadline(t *testing.T) {
	a, _ := newPair(t)
	client := NewClient(a)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.TransferMinidump(ctx, 1)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestClient_RejectsMismatchedReply(t *testing.T) {
	a, b := newPair(t)
	client := NewClient(a)

	go func() {
		if _, err := b.Recv(); err == nil {
			_ = b.Send(&GenerateMinidumpReply{Path: "wrong"})
		}
	}()

	_, err := client.TransferMinidump(context.Background(), 5)
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestClient_RejectsReplyAsRequest(t *testing.T) {
	a, _ := newPair(t)
	_, err := NewClient(a).Call(context.Background(), &InitializeReply{})
	assert.Error(t, err)
}
