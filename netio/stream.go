// Package netio provides the byte-stream primitives every higher layer in
// this proxy is built on: exact-length reads, line reads, "whatever is
// available right now" reads, and buffered writes over a net.Conn. It plays
// the role the teacher's raw io.ReadFull(conn, ...) calls in
// proxy/mysql/conn.go and proxy/postgres/conn.go play, generalized into an
// explicit type so cfb.Stream and framedstream.Stream can wrap it.
package netio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// readAvailableBufSize bounds a single ReadAvailable call. It is not a
// framing limit — callers that need an exact byte count use ReadExact.
const readAvailableBufSize = 64 * 1024

// Stream wraps a net.Conn with the read/write primitives specified for the
// byte-stream layer. All reads go through a single bufio.Reader so that
// ReadUntilNewline, ReadExact, and ReadAvailable observe one consistent
// buffered view of the connection.
type Stream struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// New wraps conn. conn is never nil.
func New(conn net.Conn) *Stream {
	return &Stream{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

// Conn returns the underlying connection, for callers (e.g. socks5, httpjoin)
// that need the raw net.Conn to dial further or inspect addresses.
func (s *Stream) Conn() net.Conn {
	return s.conn
}

// ReadExact reads exactly n bytes, returning an unexpected-EOF error if the
// peer closes mid-read.
func (s *Stream) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("netio: read exact: %w", io.EOF)
		}
		return nil, fmt.Errorf("netio: read exact: %w", io.ErrUnexpectedEOF)
	}
	return buf, nil
}

// ReadByte reads a single byte; convenience for the variable-length-integer
// reader, which must discover its own length one byte at a time.
func (s *Stream) ReadByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("netio: read byte: %w", io.ErrUnexpectedEOF)
	}
	return b, nil
}

// ReadUntilNewline reads up to and including the next '\n', inclusive of the
// terminator, as required for HTTP request-line and header parsing.
func (s *Stream) ReadUntilNewline() ([]byte, error) {
	line, err := s.r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("netio: read line: %w", io.ErrUnexpectedEOF)
	}
	return line, nil
}

// ReadAvailable reads whatever bytes are presently available, up to an
// internal cap, and returns a zero-length slice (not an error) on EOF. This
// is the primitive the bidirectional pipe in interceptor uses: it never
// waits for a specific count.
func (s *Stream) ReadAvailable() ([]byte, error) {
	buf := make([]byte, readAvailableBufSize)
	n, err := s.r.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("netio: read available: %w", err)
	}
	return buf[:n], nil
}

// Write queues bytes for sending; it does not block on the network (buffered
// via bufio.Writer). Call Flush to guarantee delivery.
func (s *Stream) Write(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return fmt.Errorf("netio: write: %w", err)
	}
	return nil
}

// Flush blocks until all buffered bytes reach the OS socket buffer.
func (s *Stream) Flush() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("netio: flush: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// IsClosed reports whether err represents a clean close of either end of the
// connection rather than a genuine transport failure — the Go rendering of
// proxy/mysql/conn.go's isClosedErr, reused by every receive loop in this
// repo (mitm, interceptor, httpjoin).
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return strings.Contains(netErr.Err.Error(), "closed")
	}
	return strings.Contains(err.Error(), "closed")
}
