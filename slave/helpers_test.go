package slave

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/abrant-ru/vendista/logger"
	"github.com/abrant-ru/vendista/transport"
)

// responder produces the raw bytes a fake device sends back for the n-th
// write (1-based). req is the decoded request.
type responder func(req Frame, n int) []byte

// fakeDevice is an in-memory payment terminal implementing transport.Transport.
type fakeDevice struct {
	layout Layout

	mu       sync.Mutex
	rx       []byte
	requests []Frame
	wires    [][]byte
	respond  responder
	writeErr func(n int) error

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*fakeDevice)(nil)

func newFakeDevice(respond responder) *fakeDevice {
	return &fakeDevice{
		layout:  DefaultLayout(),
		respond: respond,
		notify:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

func (d *fakeDevice) Read(p []byte, timeout time.Duration) (int, error) {
	tm := time.NewTimer(timeout)
	defer tm.Stop()

	for {
		d.mu.Lock()
		if len(d.rx) > 0 {
			n := copy(p, d.rx)
			d.rx = d.rx[n:]
			d.mu.Unlock()

			return n, nil
		}
		d.mu.Unlock()

		select {
		case <-d.closed:
			return 0, transport.ErrClosed
		case <-d.notify:
		case <-tm.C:
			return 0, nil
		}
	}
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()

	n := len(d.wires) + 1
	if d.writeErr != nil {
		if err := d.writeErr(n); err != nil {
			d.mu.Unlock()
			return 0, err
		}
	}

	wire := append([]byte(nil), p...)
	d.wires = append(d.wires, wire)

	req, _, err := d.layout.Decode(wire)
	if err == nil {
		d.requests = append(d.requests, req)
		if d.respond != nil {
			d.rx = append(d.rx, d.respond(req, n)...)
		}
	}
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}

	return len(p), nil
}

func (d *fakeDevice) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

// Requests returns a copy of the decoded requests written so far.
func (d *fakeDevice) Requests() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Frame(nil), d.requests...)
}

// Wires returns a copy of the raw writes so far.
func (d *fakeDevice) Wires() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([][]byte(nil), d.wires...)
}

func (d *fakeDevice) opener() transport.Opener {
	return func(transport.Config) (transport.Transport, error) {
		return d, nil
	}
}

// encodeFrame encodes with DefaultLayout. Responders run on the engine
// goroutine, so it panics instead of failing the test.
func encodeFrame(cmd Command, seq uint8, payload []byte) []byte {
	wire, err := DefaultLayout().Encode(Frame{Command: cmd, Sequence: seq, Payload: payload})
	if err != nil {
		panic(err)
	}

	return wire
}

// ackAll answers every request with an Ack carrying its sequence id.
func ackAll() responder {
	return func(req Frame, _ int) []byte {
		return encodeFrame(CmdAck, req.Sequence, nil)
	}
}

func corrupt(wire []byte) []byte {
	out := append([]byte(nil), wire...)
	out[len(out)-1] ^= 0xFF

	return out
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func newMockLogger() *logger.MockLogger {
	m := logger.NewMockLogger()
	m.On("Debug", mock.Anything, mock.Anything)
	m.On("Info", mock.Anything, mock.Anything)
	m.On("Warn", mock.Anything, mock.Anything)
	m.On("Error", mock.Anything, mock.Anything)
	m.On("With", mock.Anything)

	return m
}

// fastOptions shortens every protocol timer so tests run in milliseconds.
func fastOptions(dev *fakeDevice, extra ...Option) []Option {
	opts := []Option{
		WithTransportOpener(dev.opener()),
		WithPollInterval(10 * time.Millisecond),
		WithResponseTimeout(30 * time.Millisecond),
		WithReadTimeout(5 * time.Millisecond),
		WithLogger(newMockLogger()),
	}

	return append(opts, extra...)
}

func startTerminal(t *testing.T, dev *fakeDevice, events *EventQueue, extra ...Option) *Terminal {
	t.Helper()

	term, err := NewTerminal(transport.DefaultConfig("fake0"), events, fastOptions(dev, extra...)...)
	require.NoError(t, err)
	require.NoError(t, term.Start(context.Background()))

	t.Cleanup(func() { _ = term.Stop() })

	return term
}

func waitEvent(t *testing.T, q *EventQueue, timeout time.Duration) Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ev, err := q.Wait(ctx)
	require.NoError(t, err, "no event within %v", timeout)

	return ev
}

// waitEventType skips events of other types until one of typ arrives.
func waitEventType(t *testing.T, q *EventQueue, typ EventType, timeout time.Duration) Event {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		require.Positive(t, remaining, "no %s event within %v", typ, timeout)

		ev := waitEvent(t, q, remaining)
		if ev.Type == typ {
			return ev
		}
	}
}

// drainEvents returns every event currently queued.
func drainEvents(q *EventQueue) []Event {
	var out []Event
	for {
		ev, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func countType(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}

	return n
}
