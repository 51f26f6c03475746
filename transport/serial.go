package transport

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abrant-ru/vendista/internal/timer"
	"github.com/tarm/serial"
)

// serialPollTimeout is the driver-level read timeout of an opened port. It
// bounds how long the background reader stays blocked after Close.
const serialPollTimeout = 50 * time.Millisecond

// OpenSerial opens a local serial port with the configured line parameters.
func OpenSerial(cfg Config) (Transport, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		ReadTimeout: serialPollTimeout,
		Size:        byte(cfg.DataBits), //nolint:gosec // validated to [5, 8]
		Parity:      serial.Parity(cfg.Parity),
		StopBits:    serial.StopBits(cfg.StopBits),
	})
	if err != nil {
		return nil, &OpError{Op: "open", Port: cfg.Port, Err: err}
	}

	// Discard whatever the terminal sent before we were listening.
	_ = port.Flush()

	return newStreamTransport(cfg.Port, port), nil
}

// rxChunk carries either received bytes or the error that ended the reader.
type rxChunk struct {
	data []byte
	err  error
}

// streamTransport adapts a blocking io.ReadWriteCloser, whose reads time out
// at the driver level, to the per-call Read timeout of Transport.
//
// A background goroutine owns the Read side and hands chunks over a channel,
// so Read can wait with any timeout.
type streamTransport struct {
	name string
	rwc  io.ReadWriteCloser

	rx      chan rxChunk
	pending []byte

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func newStreamTransport(name string, rwc io.ReadWriteCloser) *streamTransport {
	t := &streamTransport{
		name: name,
		rwc:  rwc,
		rx:   make(chan rxChunk, 16),
		done: make(chan struct{}),
	}

	t.wg.Add(1)
	go t.readLoop()

	return t
}

func (t *streamTransport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, 256)
	for {
		n, err := t.rwc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case t.rx <- rxChunk{data: chunk}:
			case <-t.done:
				return
			}
		}

		if err == nil {
			continue
		}
		if t.closed.Load() {
			return
		}
		// A driver read timeout surfaces as a zero-byte EOF on POSIX systems.
		if n == 0 && errors.Is(err, io.EOF) {
			continue
		}

		select {
		case t.rx <- rxChunk{err: err}:
		case <-t.done:
		}

		return
	}
}

func (t *streamTransport) Read(p []byte, timeout time.Duration) (int, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}

	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]

		return n, nil
	}

	c, res := timer.Receive[rxChunk](t.done, t.rx, timeout)
	switch res {
	case timer.Stopped:
		return 0, ErrClosed
	case timer.Expired:
		return 0, nil
	}

	if c.err != nil {
		return 0, &OpError{Op: "read", Port: t.name, Err: c.err}
	}
	n := copy(p, c.data)
	t.pending = c.data[n:]

	return n, nil
}

func (t *streamTransport) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}

	for written := 0; written < len(p); {
		n, err := t.rwc.Write(p[written:])
		written += n

		if err != nil {
			return written, &OpError{Op: "write", Port: t.name, Err: err}
		}
	}

	return len(p), nil
}

func (t *streamTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)

		if err := t.rwc.Close(); err != nil {
			t.closeErr = &OpError{Op: "close", Port: t.name, Err: err}
		}

		t.wg.Wait()
	})

	return t.closeErr
}
