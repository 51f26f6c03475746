package slave

import "errors"

// Codec errors.
var (
	// ErrNeedMoreData indicates that the buffer holds an incomplete frame.
	ErrNeedMoreData = errors.New("slave: need more data")

	// ErrDesynchronized indicates that the buffer does not start with a frame.
	// The consumed count returned with it is the number of bytes to discard.
	ErrDesynchronized = errors.New("slave: frame desynchronized")

	// ErrInvalidLength indicates a length field outside the layout's bounds.
	// It is always reported together with ErrDesynchronized.
	ErrInvalidLength = errors.New("slave: invalid frame length")

	// ErrChecksum indicates a complete frame whose checksum does not match.
	ErrChecksum = errors.New("slave: checksum mismatch")

	// ErrPayloadTooLarge indicates a payload longer than the layout allows.
	ErrPayloadTooLarge = errors.New("slave: payload too large")

	// ErrInvalidLayout indicates an inconsistent Layout.
	ErrInvalidLayout = errors.New("slave: invalid layout")
)

// Session errors.
var (
	// ErrResponseTimeout indicates that no reply arrived within the response window.
	ErrResponseTimeout = errors.New("slave: response timeout")

	// ErrSequenceMismatch indicates a reply carrying another request's sequence id.
	ErrSequenceMismatch = errors.New("slave: sequence mismatch")

	// ErrBufferOverflow indicates that the receive buffer exceeded its limit
	// without yielding a frame.
	ErrBufferOverflow = errors.New("slave: receive buffer overflow")

	// ErrRetriesExhausted indicates that a request failed on every attempt.
	ErrRetriesExhausted = errors.New("slave: retries exhausted")

	// ErrUnknownCommand indicates a valid frame with an unrecognized command code.
	ErrUnknownCommand = errors.New("slave: unknown command")

	// ErrMalformedPayload indicates a known command whose payload is too short.
	ErrMalformedPayload = errors.New("slave: malformed payload")

	// ErrTransport indicates that the byte channel itself failed.
	ErrTransport = errors.New("slave: transport failure")
)

// Terminal errors.
var (
	// ErrAlreadyStarted is returned by Start on a running terminal.
	ErrAlreadyStarted = errors.New("slave: terminal already started")

	// ErrNotStarted is returned when a command is issued to a stopped terminal.
	ErrNotStarted = errors.New("slave: terminal not started")

	// ErrTerminalStopped completes commands that were pending when the
	// terminal stopped.
	ErrTerminalStopped = errors.New("slave: terminal stopped")

	// ErrStopTimeout is returned by Stop when the engine did not exit in time.
	ErrStopTimeout = errors.New("slave: stop timeout")

	// ErrCommandQueueFull is returned when the command queue has no room.
	ErrCommandQueueFull = errors.New("slave: command queue full")

	// ErrInvalidAmount is returned for amounts the payload field cannot carry.
	ErrInvalidAmount = errors.New("slave: invalid amount")
)
