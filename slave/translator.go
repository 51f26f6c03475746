package slave

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	cardNumberSize = 8 // BCD digits, two per byte
	amountSize     = 4
)

// translator maps validated inbound frames to events. It holds no state.
type translator struct {
	order binary.ByteOrder
}

// translate returns the event carried by f. ok is false for frames that carry
// no business event, such as Ack.
func (tr translator) translate(f Frame, sender *Terminal, now time.Time) (ev Event, ok bool) {
	ev = Event{
		Sender:     sender,
		Time:       now,
		Command:    f.Command,
		Sequence:   f.Sequence,
		RawPayload: bytes.Clone(f.Payload),
	}
	p := f.Payload

	switch f.Command {
	case CmdAck:
		return Event{}, false

	case CmdTouch:
		ev.Type = EventTouch

	case CmdRebootReport:
		ev.Type = EventReboot

	case CmdPacketToServer, CmdPacketToMaster:
		ev.Type = EventServerPacket

	case CmdCardReadResult:
		if len(p) < 1+cardNumberSize {
			return tr.malformed(ev, len(p), 1+cardNumberSize), true
		}
		ev.Type = EventCardRead
		ev.CardStatus = CardStatus(p[0])
		if ev.CardStatus == CardFound {
			ev.CardNumber = maskCardNumber(p[1 : 1+cardNumberSize])
		}

	case CmdCardAuthResult:
		// The amount is optional: [result] or [result][amount].
		if len(p) < 1 {
			return tr.malformed(ev, len(p), 1), true
		}
		if len(p) > 1 && len(p) < 1+amountSize {
			return tr.malformed(ev, len(p), 1+amountSize), true
		}
		ev.Type = EventCardAuthResult
		ev.Approved = p[0] == 1
		if len(p) >= 1+amountSize {
			ev.Amount = tr.amount(p[1:])
		}

	case CmdConnectStateReport:
		if len(p) < 1 {
			return tr.malformed(ev, len(p), 1), true
		}
		ev.Type = EventStatus
		ev.ConnectState = ConnectState(p[0])

	case CmdCardAuthRequest, CmdCashInserted:
		if len(p) < amountSize {
			return tr.malformed(ev, len(p), amountSize), true
		}
		ev.Type = EventCardAuthRequest
		if f.Command == CmdCashInserted {
			ev.Type = EventCashInserted
		}
		ev.Amount = tr.amount(p)

	default:
		ev.Type = EventError
		ev.Code = CodeUnknownCommand
		ev.Err = fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, uint8(f.Command))
	}

	return ev, true
}

func (tr translator) malformed(ev Event, got, want int) Event {
	ev.Type = EventError
	ev.Code = CodeMalformedPayload
	ev.Err = fmt.Errorf("%w: %s payload has %d bytes, want at least %d", ErrMalformedPayload, ev.Command, got, want)

	return ev
}

func (tr translator) amount(p []byte) *int64 {
	v := int64(tr.order.Uint32(p[:amountSize]))
	return &v
}

// maskCardNumber renders BCD card digits as "1234********5678".
func maskCardNumber(bcd []byte) string {
	digits := hex.EncodeToString(bcd)
	if len(digits) < 8 {
		return digits
	}

	masked := []byte(digits)
	for i := 4; i < len(masked)-4; i++ {
		masked[i] = '*'
	}

	return string(masked)
}
