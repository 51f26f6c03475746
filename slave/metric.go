package slave

import (
	"sync/atomic"
)

// TerminalMetrics contains atomic metrics for a terminal link.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type TerminalMetrics struct {
	// FrameSendCount indicates the number of frames written, retries included.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of frames decoded with a valid checksum.
	FrameRecvCount atomic.Uint64
	// RetryCount indicates the number of requests re-sent after a failed attempt.
	RetryCount atomic.Uint64

	// ChecksumErrCount indicates the number of checksum failures, buffer
	// overflows included.
	ChecksumErrCount atomic.Uint64
	// TimeoutCount indicates the number of response windows that closed
	// without a matching reply.
	TimeoutCount atomic.Uint64
	// SequenceErrCount indicates the number of replies with a foreign sequence id.
	SequenceErrCount atomic.Uint64
	// DesyncByteCount indicates the number of bytes discarded while
	// searching for a start marker.
	DesyncByteCount atomic.Uint64
	// StaleFrameCount indicates the number of frames received with no
	// request outstanding.
	StaleFrameCount atomic.Uint64

	// FaultCount indicates the number of times the retry budget was exhausted.
	FaultCount atomic.Uint64
	// TransportErrCount indicates the number of fatal transport failures.
	TransportErrCount atomic.Uint64
	// EventCount indicates the number of events handed to the event queue.
	EventCount atomic.Uint64
	// CommandCount indicates the number of caller commands resolved.
	CommandCount atomic.Uint64

	// StateGauge holds the current session State.
	StateGauge atomic.Int32
}

func (m *TerminalMetrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *TerminalMetrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *TerminalMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *TerminalMetrics) incFailure(cause failure) {
	switch cause {
	case failTimeout:
		m.TimeoutCount.Add(1)
	case failChecksum:
		m.ChecksumErrCount.Add(1)
	case failSequence:
		m.SequenceErrCount.Add(1)
	}
}

func (m *TerminalMetrics) addDesyncBytes(n int) {
	m.DesyncByteCount.Add(uint64(n)) //nolint:gosec // n > 0
}

func (m *TerminalMetrics) incStaleFrameCount() {
	m.StaleFrameCount.Add(1)
}

func (m *TerminalMetrics) incFaultCount() {
	m.FaultCount.Add(1)
}

func (m *TerminalMetrics) incTransportErrCount() {
	m.TransportErrCount.Add(1)
}

func (m *TerminalMetrics) incEventCount() {
	m.EventCount.Add(1)
}

func (m *TerminalMetrics) incCommandCount() {
	m.CommandCount.Add(1)
}

func (m *TerminalMetrics) setState(s State) {
	m.StateGauge.Store(int32(s))
}

// State returns the last recorded session state.
func (m *TerminalMetrics) State() State {
	return State(m.StateGauge.Load())
}
