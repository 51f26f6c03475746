package transport

import (
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"
)

// DialTCP connects to a serial-over-IP bridge named "tcp://host:port".
func DialTCP(cfg Config) (Transport, error) {
	addr := strings.TrimPrefix(cfg.Port, tcpScheme)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &OpError{Op: "open", Port: cfg.Port, Err: err}
	}

	return NewConn(conn, cfg.Port, cfg.WriteTimeout), nil
}

// NewConn wraps an established stream connection as a Transport.
// writeTimeout bounds each Write; zero disables the write deadline.
func NewConn(conn net.Conn, name string, writeTimeout time.Duration) Transport {
	return &connTransport{conn: conn, name: name, writeTimeout: writeTimeout}
}

type connTransport struct {
	conn         net.Conn
	name         string
	writeTimeout time.Duration
	closed       atomic.Bool
}

func (t *connTransport) Read(p []byte, timeout time.Duration) (int, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, t.opError("read", err)
	}

	n, err := t.conn.Read(p)
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		return n, t.opError("read", err)
	}

	return n, nil
}

func (t *connTransport) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return 0, t.opError("write", err)
		}
	}

	for written := 0; written < len(p); {
		n, err := t.conn.Write(p[written:])
		written += n

		if err != nil {
			return written, t.opError("write", err)
		}
	}

	return len(p), nil
}

func (t *connTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return t.opError("close", err)
	}

	return nil
}

func (t *connTransport) opError(op string, err error) error {
	if t.closed.Load() || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return &OpError{Op: op, Port: t.name, Err: err}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
