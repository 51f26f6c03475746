package slave

import (
	"fmt"
	"strings"
	"time"
)

// EventType is the kind of an Event. The set is closed; consumers are
// expected to switch over every value.
type EventType uint8

const (
	EventCardAuthRequest EventType = iota + 1
	EventCardAuthResult
	EventCardRead
	EventCashInserted
	EventStatus
	EventTouch
	EventReboot
	EventServerPacket
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventCardAuthRequest:
		return "CARD_AUTH_REQUEST"
	case EventCardAuthResult:
		return "CARD_AUTH_RESULT"
	case EventCardRead:
		return "CARD_READ"
	case EventCashInserted:
		return "CASH_INSERTED"
	case EventStatus:
		return "STATUS"
	case EventTouch:
		return "TOUCH"
	case EventReboot:
		return "REBOOT"
	case EventServerPacket:
		return "SERVER_PACKET"
	case EventError:
		return "ERROR"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(t))
	}
}

// IsMonetary reports whether events of this type may carry an Amount.
func (t EventType) IsMonetary() bool {
	switch t {
	case EventCardAuthRequest, EventCardAuthResult, EventCashInserted:
		return true
	default:
		return false
	}
}

// ErrorCode classifies an EventError.
type ErrorCode uint8

const (
	CodeNone ErrorCode = iota
	CodeChecksumExhausted
	CodeTimeoutExhausted
	CodeSequenceExhausted
	CodeUnknownCommand
	CodeMalformedPayload
	CodeTransportFailure
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNone:
		return "NONE"
	case CodeChecksumExhausted:
		return "CHECKSUM_EXHAUSTED"
	case CodeTimeoutExhausted:
		return "TIMEOUT_EXHAUSTED"
	case CodeSequenceExhausted:
		return "SEQUENCE_EXHAUSTED"
	case CodeUnknownCommand:
		return "UNKNOWN_COMMAND"
	case CodeMalformedPayload:
		return "MALFORMED_PAYLOAD"
	case CodeTransportFailure:
		return "TRANSPORT_FAILURE"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint8(c))
	}
}

// Event is a business occurrence reported by a terminal. Fields beyond the
// common header are set only for the types noted on them. Events are not
// modified after they are published.
type Event struct {
	Type     EventType
	Sender   *Terminal
	Time     time.Time
	Command  Command
	Sequence uint8

	// Amount in minor currency units. Monetary types only, and nil when the
	// frame did not carry one.
	Amount *int64

	// Approved is the authorization outcome of EventCardAuthResult.
	Approved bool

	// CardStatus and CardNumber belong to EventCardRead. CardNumber is masked
	// except for the first and last four digits. EventCardAuthResult carries
	// the number of the card read for the current payment, if any.
	CardStatus CardStatus
	CardNumber string

	// ConnectState belongs to EventStatus.
	ConnectState ConnectState

	// Code and Err belong to EventError.
	Code ErrorCode
	Err  error

	// RawPayload is the frame payload, kept for diagnostics.
	RawPayload []byte
}

// SenderID returns the ID of the originating terminal, or "" when unset.
func (e Event) SenderID() string {
	if e.Sender == nil {
		return ""
	}
	return e.Sender.ID()
}

func (e Event) String() string {
	var sb strings.Builder

	sb.WriteString(e.Type.String())
	if id := e.SenderID(); id != "" {
		sb.WriteString(" terminal=")
		sb.WriteString(id)
	}

	switch e.Type {
	case EventCardAuthResult:
		fmt.Fprintf(&sb, " approved=%t", e.Approved)
	case EventCardRead:
		fmt.Fprintf(&sb, " status=%s", e.CardStatus)
		if e.CardNumber != "" {
			fmt.Fprintf(&sb, " card=%s", e.CardNumber)
		}
	case EventStatus:
		fmt.Fprintf(&sb, " state=%s", e.ConnectState)
	case EventError:
		fmt.Fprintf(&sb, " code=%s", e.Code)
		if e.Err != nil {
			fmt.Fprintf(&sb, " err=%q", e.Err.Error())
		}
	}

	if e.Amount != nil {
		fmt.Fprintf(&sb, " amount=%d", *e.Amount)
	}

	return sb.String()
}

func newErrorEvent(sender *Terminal, now time.Time, code ErrorCode, err error) Event {
	return Event{
		Type:   EventError,
		Sender: sender,
		Time:   now,
		Code:   code,
		Err:    err,
	}
}
