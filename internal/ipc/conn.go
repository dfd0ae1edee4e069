//go:build unix

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// MaxPayloadSize bounds the payload a Conn accepts from its peer.
const MaxPayloadSize = 16 << 20

const readChunk = 4096

// Conn exchanges framed messages over a unix stream socket, passing
// ancillary descriptors with SCM_RIGHTS.
type Conn struct {
	conn *net.UnixConn

	readMu sync.Mutex
	buf    []byte
	fds    []int

	writeMu sync.Mutex
}

// NewConn wraps an established unix socket connection.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{conn: c}
}

// Dial connects to a helper listening at path.
func Dial(ctx context.Context, path string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return NewConn(c.(*net.UnixConn)), nil
}

// Pair returns two connected Conns backed by a socketpair.
func Pair() (*Conn, *Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	a, err := fileConn(fds[0], "ipc-pair-a")
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := fileConn(fds[1], "ipc-pair-b")
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

func fileConn(fd int, name string) (*Conn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("file conn: %w", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("file conn: not a unix socket")
	}
	return NewConn(uc), nil
}

// SetDeadline applies ctx's deadline, if any, to both directions.
func (c *Conn) SetDeadline(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	return c.conn.SetDeadline(deadline)
}

// Send writes msg and its ancillary descriptor. The descriptor is taken and
// closed locally once it has been handed to the kernel.
func (c *Conn) Send(msg Message) error {
	header, payload, anc := Encode(msg)
	frame := append(header, payload...)

	var oob []byte
	if f := anc.Take(); f != nil {
		defer f.Close()
		oob = unix.UnixRights(int(f.Fd()))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, _, err := c.conn.WriteMsgUnix(frame, oob, nil)
	if err != nil {
		return fmt.Errorf("write %s: %w", msg.Kind(), err)
	}
	for n < len(frame) {
		m, err := c.conn.Write(frame[n:])
		if err != nil {
			return fmt.Errorf("write %s: %w", msg.Kind(), err)
		}
		n += m
	}
	return nil
}

// Recv blocks until a complete message has arrived. Reads are accumulated
// until the header's payload size is available. Descriptors received while
// a message is being read are bound to that message.
func (c *Conn) Recv() (Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if err := c.fill(HeaderSize); err != nil {
		return nil, err
	}
	h, err := DecodeHeader(c.buf)
	if err != nil {
		c.dropFDs()
		return nil, err
	}
	if h.Size > MaxPayloadSize {
		c.dropFDs()
		return nil, invalidData("payload size %d exceeds limit %d", h.Size, MaxPayloadSize)
	}
	total := HeaderSize + int(h.Size)
	if err := c.fill(total); err != nil {
		return nil, err
	}

	payload := c.buf[HeaderSize:total]
	anc := c.takeAncillary()
	msg, err := Decode(h.Kind, payload, anc)
	c.buf = append(c.buf[:0], c.buf[total:]...)
	return msg, err
}

func (c *Conn) fill(n int) error {
	tmp := make([]byte, readChunk)
	oob := make([]byte, unix.CmsgSpace(4*4))
	for len(c.buf) < n {
		rn, oobn, _, _, err := c.conn.ReadMsgUnix(tmp, oob)
		if oobn > 0 {
			c.collectFDs(oob[:oobn])
		}
		if rn > 0 {
			c.buf = append(c.buf, tmp[:rn]...)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if err != nil || (rn == 0 && oobn == 0) {
			if len(c.buf) == 0 {
				return ErrClosed
			}
			return truncated(len(c.buf), n)
		}
	}
	return nil
}

func (c *Conn) collectFDs(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		c.fds = append(c.fds, fds...)
	}
}

func (c *Conn) takeAncillary() *AncillaryData {
	if len(c.fds) == 0 {
		return nil
	}
	fd := c.fds[0]
	for _, extra := range c.fds[1:] {
		unix.Close(extra)
	}
	c.fds = nil
	unix.CloseOnExec(fd)
	return NewAncillaryData(os.NewFile(uintptr(fd), "ipc-ancillary"))
}

func (c *Conn) dropFDs() {
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
}

// Close closes the connection and any undelivered descriptors.
func (c *Conn) Close() error {
	err := c.conn.Close()
	c.readMu.Lock()
	c.dropFDs()
	c.readMu.Unlock()
	return err
}
