package slave

import (
	"fmt"
	"time"
)

// State is the session state of a terminal link.
type State int32

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateFaulted:
		return "Faulted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// failure is the cause of a failed attempt.
type failure uint8

const (
	failNone failure = iota
	failTimeout
	failChecksum
	failSequence
)

func (f failure) String() string {
	switch f {
	case failTimeout:
		return "timeout"
	case failChecksum:
		return "checksum"
	case failSequence:
		return "sequence"
	default:
		return "none"
	}
}

func (f failure) err() error {
	switch f {
	case failTimeout:
		return ErrResponseTimeout
	case failChecksum:
		return ErrChecksum
	case failSequence:
		return ErrSequenceMismatch
	default:
		return nil
	}
}

func (f failure) code() ErrorCode {
	switch f {
	case failTimeout:
		return CodeTimeoutExhausted
	case failChecksum:
		return CodeChecksumExhausted
	case failSequence:
		return CodeSequenceExhausted
	default:
		return CodeNone
	}
}

// outcome tells the engine what to do after a session input.
type outcome uint8

const (
	// outcomeAccepted: the reply matched; dispatch it.
	outcomeAccepted outcome = iota
	// outcomeRetry: write the retained request again.
	outcomeRetry
	// outcomeFaulted: the retry budget is exhausted; publish one error.
	outcomeFaulted
	// outcomeProbeFailed: a probe from Faulted failed; stay quiet.
	outcomeProbeFailed
	// outcomeIgnored: no request is outstanding; drop the input.
	outcomeIgnored
)

// session is the request/response bookkeeping of one link. It is owned by the
// engine goroutine and never shared.
type session struct {
	maxRetries      int
	responseTimeout time.Duration

	state        State
	lastSequence uint8 // last sequence id handed out
	pending      uint8 // sequence id of the outstanding request
	command      Command
	request      []byte // encoded outstanding request, resent on retry
	retries      int
	probing      bool
	deadline     time.Time
	lastActivity time.Time
	lastFailure  failure
}

func newSession(maxRetries int, responseTimeout time.Duration) *session {
	return &session{
		maxRetries:      maxRetries,
		responseTimeout: responseTimeout,
		state:           StateIdle,
	}
}

// nextSequence returns the sequence id for the next request. It wraps at 256.
func (s *session) nextSequence() uint8 {
	s.lastSequence++
	return s.lastSequence
}

// begin records that request, carrying seq, has been written.
// A request issued from Faulted is a probe and gets a single attempt.
func (s *session) begin(cmd Command, seq uint8, request []byte, now time.Time) {
	s.probing = s.state == StateFaulted
	s.state = StateAwaitingResponse
	s.pending = seq
	s.command = cmd
	s.request = request
	s.retries = 0
	s.lastFailure = failNone
	s.deadline = now.Add(s.responseTimeout)
	s.lastActivity = now
}

// receive feeds a decoded frame.
func (s *session) receive(f Frame, now time.Time) outcome {
	if s.state != StateAwaitingResponse {
		return outcomeIgnored
	}
	if f.Sequence != s.pending {
		return s.fail(failSequence, now)
	}

	s.state = StateIdle
	s.retries = 0
	s.probing = false
	s.request = nil
	s.lastFailure = failNone
	s.lastActivity = now

	return outcomeAccepted
}

// fail charges one failed attempt to the outstanding request.
func (s *session) fail(cause failure, now time.Time) outcome {
	if s.state != StateAwaitingResponse {
		return outcomeIgnored
	}

	s.lastFailure = cause
	s.lastActivity = now

	if s.probing {
		s.toFaulted()
		return outcomeProbeFailed
	}

	s.retries++
	if s.retries >= s.maxRetries {
		s.toFaulted()
		return outcomeFaulted
	}

	s.deadline = now.Add(s.responseTimeout)

	return outcomeRetry
}

func (s *session) toFaulted() {
	s.state = StateFaulted
	s.pending = 0
	s.request = nil
	s.probing = false
}

// expired reports whether the response window of the outstanding request has
// closed.
func (s *session) expired(now time.Time) bool {
	return s.state == StateAwaitingResponse && !now.Before(s.deadline)
}

// remaining returns the time left in the response window.
func (s *session) remaining(now time.Time) time.Duration {
	if s.state != StateAwaitingResponse {
		return 0
	}
	if d := s.deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// abort drops the outstanding request without charging it.
func (s *session) abort() {
	if s.state == StateAwaitingResponse {
		if s.probing {
			s.state = StateFaulted
		} else {
			s.state = StateIdle
		}
	}
	s.request = nil
	s.probing = false
}

// exhaustedError describes the failure that exhausted the retry budget.
func (s *session) exhaustedError() error {
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, s.command, s.maxRetries, s.lastFailure.err())
}
