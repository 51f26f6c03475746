package slave

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslator(t *testing.T) {
	tr := translator{order: binary.LittleEndian}
	now := time.Now()
	sender := &Terminal{id: "t1"}

	amount := func(v int64) *int64 { return &v }

	tests := []struct {
		name  string
		frame Frame
		want  Event
	}{
		{
			name:  "touch",
			frame: Frame{Command: CmdTouch},
			want:  Event{Type: EventTouch},
		},
		{
			name:  "reboot report",
			frame: Frame{Command: CmdRebootReport},
			want:  Event{Type: EventReboot},
		},
		{
			name:  "packet to server",
			frame: Frame{Command: CmdPacketToServer, Payload: []byte{1, 2}},
			want:  Event{Type: EventServerPacket},
		},
		{
			name:  "card read found",
			frame: Frame{Command: CmdCardReadResult, Payload: []byte{2, 0x12, 0x34, 0x56, 0x78, 0x90, 0x12, 0x34, 0x56}},
			want:  Event{Type: EventCardRead, CardStatus: CardFound, CardNumber: "1234********3456"},
		},
		{
			name:  "card read not found",
			frame: Frame{Command: CmdCardReadResult, Payload: make([]byte, 9)},
			want:  Event{Type: EventCardRead, CardStatus: CardNotFound},
		},
		{
			name:  "auth approved with amount",
			frame: Frame{Command: CmdCardAuthResult, Payload: append([]byte{1}, le32(500)...)},
			want:  Event{Type: EventCardAuthResult, Approved: true, Amount: amount(500)},
		},
		{
			name:  "auth declined without amount",
			frame: Frame{Command: CmdCardAuthResult, Payload: []byte{0}},
			want:  Event{Type: EventCardAuthResult},
		},
		{
			name:  "connect state",
			frame: Frame{Command: CmdConnectStateReport, Payload: []byte{9}},
			want:  Event{Type: EventStatus, ConnectState: ConnectServerConnected},
		},
		{
			name:  "card auth request",
			frame: Frame{Command: CmdCardAuthRequest, Payload: le32(12345)},
			want:  Event{Type: EventCardAuthRequest, Amount: amount(12345)},
		},
		{
			name:  "cash inserted",
			frame: Frame{Command: CmdCashInserted, Payload: le32(10000)},
			want:  Event{Type: EventCashInserted, Amount: amount(10000)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := tr.translate(tt.frame, sender, now)
			require.True(t, ok)

			assert.Equal(t, tt.want.Type, ev.Type)
			assert.Equal(t, tt.want.Amount, ev.Amount)
			assert.Equal(t, tt.want.Approved, ev.Approved)
			assert.Equal(t, tt.want.CardStatus, ev.CardStatus)
			assert.Equal(t, tt.want.CardNumber, ev.CardNumber)
			assert.Equal(t, tt.want.ConnectState, ev.ConnectState)
			assert.Equal(t, tt.frame.Payload, ev.RawPayload)
			assert.Same(t, sender, ev.Sender)
			assert.Equal(t, now, ev.Time)
			assert.Equal(t, tt.frame.Command, ev.Command)

			if !ev.Type.IsMonetary() {
				assert.Nil(t, ev.Amount)
			}
		})
	}
}

func TestTranslator_AckHasNoEvent(t *testing.T) {
	tr := translator{order: binary.LittleEndian}

	_, ok := tr.translate(Frame{Command: CmdAck, Sequence: 1}, nil, time.Now())
	require.False(t, ok)
}

func TestTranslator_UnknownCommand(t *testing.T) {
	tr := translator{order: binary.LittleEndian}

	ev, ok := tr.translate(Frame{Command: 0x7F, Payload: []byte{0xDE, 0xAD}}, nil, time.Now())
	require.True(t, ok)
	require.Equal(t, EventError, ev.Type)
	require.Equal(t, CodeUnknownCommand, ev.Code)
	require.ErrorIs(t, ev.Err, ErrUnknownCommand)
	require.Equal(t, []byte{0xDE, 0xAD}, ev.RawPayload)
}

func TestTranslator_MalformedPayload(t *testing.T) {
	tr := translator{order: binary.LittleEndian}

	frames := []Frame{
		{Command: CmdCardReadResult, Payload: []byte{2, 1, 2}},
		{Command: CmdCardAuthResult},
		{Command: CmdCardAuthResult, Payload: []byte{1, 0xF4}},
		{Command: CmdConnectStateReport},
		{Command: CmdCardAuthRequest, Payload: []byte{1, 2, 3}},
		{Command: CmdCashInserted},
	}

	for _, f := range frames {
		t.Run(f.Command.String(), func(t *testing.T) {
			ev, ok := tr.translate(f, nil, time.Now())
			require.True(t, ok)
			require.Equal(t, EventError, ev.Type)
			require.Equal(t, CodeMalformedPayload, ev.Code)
			require.ErrorIs(t, ev.Err, ErrMalformedPayload)
			require.Nil(t, ev.Amount)
		})
	}
}

func TestMaskCardNumber(t *testing.T) {
	assert.Equal(t, "4276********1234", maskCardNumber([]byte{0x42, 0x76, 0x55, 0x00, 0x00, 0x00, 0x12, 0x34}))
	assert.Equal(t, "1234", maskCardNumber([]byte{0x12, 0x34}))
}

func TestEvent_String(t *testing.T) {
	v := int64(500)
	ev := Event{Type: EventCardAuthResult, Sender: &Terminal{id: "t1"}, Approved: true, Amount: &v}
	assert.Equal(t, "CARD_AUTH_RESULT terminal=t1 approved=true amount=500", ev.String())

	ev = Event{Type: EventError, Code: CodeTimeoutExhausted}
	assert.Equal(t, "ERROR code=TIMEOUT_EXHAUSTED", ev.String())
	assert.Empty(t, ev.SenderID())
}
