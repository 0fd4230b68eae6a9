package protocol

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// Conn buffers a network connection and speaks the framing layer of the
// server protocol. It is not goroutine-safe; callers must serialize access.
type Conn struct {
	nc net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

// NewConn wraps an established network connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc: nc,
		br: bufio.NewReader(nc),
		bw: bufio.NewWriter(nc),
	}
}

// SetDeadline applies the context deadline (or clears the deadline if the
// context has none) to the underlying connection.
func (c *Conn) SetDeadline(ctx context.Context) error {
	d, ok := ctx.Deadline()
	if !ok {
		return c.nc.SetDeadline(time.Time{})
	}
	return c.nc.SetDeadline(d)
}

// RemoteAddr returns the remote address of the underlying connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// Close closes the underlying connection. Buffered but unflushed writes are
// discarded.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// ReadFrame reads bytes up to the next unescaped NUL terminator, removes
// escape prefixes and returns the payload without the terminator.
func (c *Conn) ReadFrame() ([]byte, error) {
	var buf []byte
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case nulByte:
			return buf, nil
		case escByte:
			nb, err := c.br.ReadByte()
			if err != nil {
				return nil, err
			}
			if nb == nulByte || nb == escByte {
				buf = append(buf, nb)
			} else {
				// 0xFF not followed by an escapeable byte is literal data.
				buf = append(buf, b, nb)
			}
		default:
			buf = append(buf, b)
		}
	}
}

// ReadString reads a frame and returns it as a string.
func (c *Conn) ReadString() (string, error) {
	frame, err := c.ReadFrame()
	if err != nil {
		return "", err
	}
	return string(frame), nil
}

// ReadByte returns the next raw byte from the connection.
func (c *Conn) ReadByte() (byte, error) {
	return c.br.ReadByte()
}

// ReadAvailable reads whatever the server sends without interpreting frames,
// waiting up to wait for the first bytes and up to idle between chunks. A
// timeout after at least one byte arrived is a normal end of input.
func (c *Conn) ReadAvailable(wait, idle time.Duration) ([]byte, error) {
	var (
		out []byte
		buf [4096]byte
	)
	timeout := wait
	for {
		if err := c.nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return out, err
		}
		n, err := c.br.Read(buf[:])
		out = append(out, buf[:n]...)
		if err != nil {
			c.nc.SetReadDeadline(time.Time{})
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && len(out) > 0 {
				return out, nil
			}
			return out, err
		}
		timeout = idle
	}
}

// WriteByte buffers a single raw byte.
func (c *Conn) WriteByte(b byte) error {
	return c.bw.WriteByte(b)
}

// Write buffers raw bytes without terminator or escaping.
func (c *Conn) Write(p []byte) (int, error) {
	return c.bw.Write(p)
}

// WriteOpcode buffers a request opcode.
func (c *Conn) WriteOpcode(op Opcode) error {
	return c.bw.WriteByte(byte(op))
}

// WriteString buffers s followed by the NUL terminator. Protocol strings
// (commands, names, ids) are sent verbatim; only input streams are escaped.
func (c *Conn) WriteString(s string) error {
	if _, err := c.bw.WriteString(s); err != nil {
		return err
	}
	return c.bw.WriteByte(nulByte)
}

// WriteEscaped streams r to the connection with 0x00/0xFF escaping applied,
// followed by the NUL terminator.
func (c *Conn) WriteEscaped(r io.Reader) error {
	var (
		in  [4096]byte
		out []byte
	)
	for {
		n, err := r.Read(in[:])
		if n > 0 {
			out = Escape(out[:0], in[:n])
			if _, werr := c.bw.Write(out); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return c.bw.WriteByte(nulByte)
}

// Flush writes any buffered request bytes to the connection.
func (c *Conn) Flush() error {
	return c.bw.Flush()
}
