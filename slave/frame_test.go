package slave

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLayouts() map[string]Layout {
	short := Layout{
		StartMarker: 0x7E,
		LengthSize:  1,
		ByteOrder:   binary.LittleEndian,
		Checksum:    XOR8,
		MaxPayload:  200,
	}
	bigEndian := Layout{
		StartMarker: 0xA5,
		LengthSize:  2,
		ByteOrder:   binary.BigEndian,
		Checksum:    Sum16,
		MaxPayload:  512,
	}

	return map[string]Layout{
		"default":    DefaultLayout(),
		"short":      short,
		"big-endian": bigEndian,
	}
}

func TestLayout_Validate(t *testing.T) {
	for name, l := range testLayouts() {
		require.NoError(t, l.Validate(), name)
	}

	tests := []struct {
		name   string
		modify func(*Layout)
	}{
		{"length size 3", func(l *Layout) { l.LengthSize = 3 }},
		{"nil byte order", func(l *Layout) { l.ByteOrder = nil }},
		{"nil checksum", func(l *Layout) { l.Checksum = nil }},
		{"negative max payload", func(l *Layout) { l.MaxPayload = -1 }},
		{"payload too large for 1-byte length", func(l *Layout) { l.LengthSize = 1; l.MaxPayload = 254 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLayout()
			tt.modify(&l)
			require.ErrorIs(t, l.Validate(), ErrInvalidLayout)
		})
	}
}

func TestLayout_EncodeWireFormat(t *testing.T) {
	require := require.New(t)

	l := DefaultLayout()
	wire, err := l.Encode(Frame{Command: CmdShowPicture, Sequence: 7, Payload: []byte{byte(PictureWait)}})
	require.NoError(err)

	crc := CRC16Vendista.Sum([]byte{0x03, 0x07, 0x09})
	expected := []byte{0x02, 0x03, 0x00, 0x03, 0x07, 0x09, byte(crc), byte(crc >> 8)}
	require.Equal(expected, wire)
	require.Equal(l.FrameSize(1), len(wire))
}

func TestLayout_RoundTrip(t *testing.T) {
	for name, l := range testLayouts() {
		t.Run(name, func(t *testing.T) {
			frames := []Frame{
				{Command: CmdAck, Sequence: 0},
				{Command: CmdConnectStateRequest, Sequence: 255},
				{Command: CmdCardAuthResult, Sequence: 42, Payload: []byte{0x01, 0xF4, 0x01, 0x00, 0x00}},
				{Command: CmdPacketToServer, Sequence: 1, Payload: bytes.Repeat([]byte{l.StartMarker}, 16)},
				{Command: CmdPacketToMaster, Sequence: 9, Payload: bytes.Repeat([]byte{0xAB}, l.MaxPayload)},
			}

			for _, f := range frames {
				wire, err := l.Encode(f)
				require.NoError(t, err)

				got, consumed, err := l.Decode(wire)
				require.NoError(t, err)
				assert.Equal(t, len(wire), consumed)
				assert.Equal(t, f, got)
			}
		})
	}
}

func TestLayout_EncodePayloadTooLarge(t *testing.T) {
	l := DefaultLayout()
	_, err := l.Encode(Frame{Command: CmdPacketToServer, Payload: make([]byte, l.MaxPayload+1)})
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestLayout_ChecksumSensitivity(t *testing.T) {
	for name, l := range testLayouts() {
		t.Run(name, func(t *testing.T) {
			wire, err := l.Encode(Frame{Command: CmdCashInserted, Sequence: 3, Payload: []byte{0x10, 0x27, 0x00, 0x00}})
			require.NoError(t, err)

			start := 1 + l.LengthSize
			end := len(wire) - l.Checksum.Size()
			for i := start; i < end; i++ {
				for bit := range 8 {
					flipped := append([]byte(nil), wire...)
					flipped[i] ^= 1 << bit

					_, consumed, err := l.Decode(flipped)
					require.ErrorIs(t, err, ErrChecksum, "byte %d bit %d", i, bit)
					require.Equal(t, len(wire), consumed)
				}
			}
		})
	}
}

func TestLayout_DecodeNeedMoreData(t *testing.T) {
	l := DefaultLayout()

	_, consumed, err := l.Decode(nil)
	require.ErrorIs(t, err, ErrNeedMoreData)
	require.Zero(t, consumed)

	wire, err := l.Encode(Frame{Command: CmdTouch, Sequence: 1, Payload: []byte{1, 2, 3}})
	require.NoError(t, err)

	for n := 1; n < len(wire); n++ {
		_, consumed, err := l.Decode(wire[:n])
		require.ErrorIs(t, err, ErrNeedMoreData, "prefix %d", n)
		require.Zero(t, consumed)
	}
}

func TestLayout_DecodeDesynchronized(t *testing.T) {
	l := DefaultLayout()

	_, consumed, err := l.Decode([]byte{0x00, 0x11, 0x22})
	require.ErrorIs(t, err, ErrDesynchronized)
	require.Equal(t, 3, consumed)

	_, consumed, err = l.Decode([]byte{0x00, 0x11, 0x02, 0x03})
	require.ErrorIs(t, err, ErrDesynchronized)
	require.Equal(t, 2, consumed, "must stop at the next marker candidate")
}

func TestLayout_DecodeInvalidLength(t *testing.T) {
	l := DefaultLayout()

	tests := map[string][]byte{
		"too short": {0x02, 0x01, 0x00, 0x15},
		"too long":  {0x02, 0xFF, 0xFF, 0x15, 0x00},
	}

	for name, buf := range tests {
		t.Run(name, func(t *testing.T) {
			_, consumed, err := l.Decode(buf)
			require.ErrorIs(t, err, ErrDesynchronized)
			require.ErrorIs(t, err, ErrInvalidLength)
			require.Equal(t, 1, consumed)
		})
	}
}

// decodeStream runs the decoder over buf the way the engine does and returns
// every frame it yields.
func decodeStream(t *testing.T, l Layout, buf []byte) []Frame {
	t.Helper()

	var frames []Frame
	for len(buf) > 0 {
		f, consumed, err := l.Decode(buf)
		switch {
		case err == nil:
			frames = append(frames, f)
		case errors.Is(err, ErrNeedMoreData):
			return frames
		case errors.Is(err, ErrDesynchronized):
		default:
			t.Fatalf("unexpected decode error: %v", err)
		}
		require.Positive(t, consumed)
		buf = buf[consumed:]
	}

	return frames
}

func TestLayout_Resynchronization(t *testing.T) {
	l := DefaultLayout()
	rng := rand.New(rand.NewSource(1)) //nolint:gosec // deterministic test data

	want := Frame{Command: CmdCardAuthResult, Sequence: 17, Payload: []byte{0x01}}
	wire, err := l.Encode(want)
	require.NoError(t, err)

	for n := 0; n <= DefaultMaxBuffer-len(wire); n += 1 + n/4 {
		garbage := make([]byte, n)
		for i := range garbage {
			b := byte(rng.Intn(256))
			for b == l.StartMarker {
				b = byte(rng.Intn(256))
			}
			garbage[i] = b
		}

		frames := decodeStream(t, l, append(garbage, wire...))
		require.Len(t, frames, 1, "garbage length %d", n)
		require.Equal(t, want, frames[0])
	}
}

func TestLayout_ResyncAfterFalseMarker(t *testing.T) {
	l := DefaultLayout()

	want := Frame{Command: CmdTouch, Sequence: 2}
	wire, err := l.Encode(want)
	require.NoError(t, err)

	// A marker followed by an impossible length, then the real frame.
	stream := append([]byte{0x55, 0x02, 0x00, 0x00}, wire...)

	frames := decodeStream(t, l, stream)
	require.Equal(t, []Frame{want}, frames)
}
