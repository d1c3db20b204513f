package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/VaXeS13/MP-sub001/internal/terminal/frame"
)

const (
	defaultTCPTimeout = 60 * time.Second
	pingTimeout       = 5 * time.Second
	// maxFrameSize bounds a reply frame; anything larger is a protocol
	// violation, not a big message.
	maxFrameSize = 4096
)

// TCP is the raw byte channel to a LAN-attached terminal. Frames are
// delimited by the STX/ETX/LRC protocol from the frame package.
type TCP struct {
	addr    string
	timeout time.Duration

	conn   net.Conn
	reader *bufio.Reader
}

var _ Transport = (*TCP)(nil)

// NewTCP builds a channel for a "host:port" terminal address.
func NewTCP(addr string, timeout time.Duration) *TCP {
	if timeout <= 0 {
		timeout = defaultTCPTimeout
	}
	return &TCP{addr: addr, timeout: timeout}
}

// Connect dials the terminal. The context bounds the dial only; per-exchange
// deadlines are set in SendAndReceive.
func (t *TCP) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: t.timeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("connecting to terminal %s: %w", t.addr, err)
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	return nil
}

// SendAndReceive writes one frame and reads the terminal's reply frame.
func (t *TCP) SendAndReceive(ctx context.Context, payload []byte) ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("tcp transport: not connected")
	}
	if err := t.conn.SetDeadline(t.deadline(ctx)); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}
	if _, err := t.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("writing frame to %s: %w", t.addr, err)
	}
	return t.readFrame()
}

// readFrame consumes bytes through ETX plus the trailing LRC byte. Framing
// validation itself is the frame package's job.
func (t *TCP) readFrame() ([]byte, error) {
	buf := make([]byte, 0, 128)
	for {
		b, err := t.reader.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading frame from %s: %w", t.addr, err)
		}
		buf = append(buf, b)
		if b == frame.ETX {
			lrc, err := t.reader.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("reading frame LRC from %s: %w", t.addr, err)
			}
			return append(buf, lrc), nil
		}
		if len(buf) > maxFrameSize {
			return nil, fmt.Errorf("%w: no ETX within %d bytes", frame.ErrMalformed, maxFrameSize)
		}
	}
}

// Ping probes terminal liveness with an ENQ/ACK exchange.
func (t *TCP) Ping(ctx context.Context) error {
	if t.conn == nil {
		return fmt.Errorf("tcp transport: not connected")
	}
	deadline := time.Now().Add(pingTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}
	if _, err := t.conn.Write([]byte{frame.ENQ}); err != nil {
		return fmt.Errorf("pinging terminal %s: %w", t.addr, err)
	}
	b, err := t.reader.ReadByte()
	if err != nil {
		return fmt.Errorf("reading ping reply from %s: %w", t.addr, err)
	}
	if b != frame.ACK {
		return fmt.Errorf("terminal %s replied 0x%02X to ENQ, want ACK", t.addr, b)
	}
	return nil
}

func (t *TCP) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

// Close tears the connection down. Safe to call when never connected.
func (t *TCP) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	return err
}
