package slave

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Frame is one decoded protocol unit. Marker, length and checksum belong to
// the Layout; a Frame carries only what they protect.
type Frame struct {
	Command  Command
	Sequence uint8
	Payload  []byte // nil when empty
}

func (f Frame) String() string {
	return fmt.Sprintf("%s seq=%d payload=[% X]", f.Command, f.Sequence, f.Payload)
}

const (
	// DefaultStartMarker is STX.
	DefaultStartMarker = 0x02
	// DefaultMaxPayload is the largest payload accepted by DefaultLayout.
	DefaultMaxPayload = 1024

	// bodyHeaderSize is the command and sequence bytes counted by the length field.
	bodyHeaderSize = 2
)

// Layout describes the wire format of a frame:
//
//	[StartMarker][length: LengthSize][command][sequence][payload][checksum: Checksum.Size()]
//
// length counts command, sequence and payload. The checksum covers the same
// bytes. ByteOrder applies to the length, the checksum and multi-byte payload
// fields.
type Layout struct {
	StartMarker byte
	LengthSize  int // 1 or 2
	ByteOrder   binary.ByteOrder
	Checksum    Checksum
	MaxPayload  int
}

// DefaultLayout returns the layout of the Vendista terminal firmware.
func DefaultLayout() Layout {
	return Layout{
		StartMarker: DefaultStartMarker,
		LengthSize:  2,
		ByteOrder:   binary.LittleEndian,
		Checksum:    CRC16Vendista,
		MaxPayload:  DefaultMaxPayload,
	}
}

// Validate checks that the layout is self-consistent.
func (l Layout) Validate() error {
	if l.LengthSize != 1 && l.LengthSize != 2 {
		return fmt.Errorf("%w: length size %d, want 1 or 2", ErrInvalidLayout, l.LengthSize)
	}
	if l.ByteOrder == nil {
		return fmt.Errorf("%w: byte order is nil", ErrInvalidLayout)
	}
	if l.Checksum == nil {
		return fmt.Errorf("%w: checksum is nil", ErrInvalidLayout)
	}
	if sz := l.Checksum.Size(); sz != 1 && sz != 2 && sz != 4 {
		return fmt.Errorf("%w: checksum size %d, want 1, 2 or 4", ErrInvalidLayout, sz)
	}

	maxPayload := 0xFFFF - bodyHeaderSize
	if l.LengthSize == 1 {
		maxPayload = 0xFF - bodyHeaderSize
	}
	if l.MaxPayload < 0 || l.MaxPayload > maxPayload {
		return fmt.Errorf("%w: max payload %d out of range [0, %d]", ErrInvalidLayout, l.MaxPayload, maxPayload)
	}

	return nil
}

func (l Layout) headerSize() int {
	return 1 + l.LengthSize
}

// FrameSize returns the wire size of a frame with payloadLen payload bytes.
func (l Layout) FrameSize(payloadLen int) int {
	return l.headerSize() + bodyHeaderSize + payloadLen + l.Checksum.Size()
}

// Encode returns the wire bytes of f.
func (l Layout) Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > l.MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(f.Payload), l.MaxPayload)
	}

	hdr := l.headerSize()
	bodyLen := bodyHeaderSize + len(f.Payload)
	buf := make([]byte, l.FrameSize(len(f.Payload)))

	buf[0] = l.StartMarker
	l.putUint(buf[1:hdr], uint32(bodyLen)) //nolint:gosec // bounded by MaxPayload
	buf[hdr] = byte(f.Command)
	buf[hdr+1] = f.Sequence
	copy(buf[hdr+bodyHeaderSize:], f.Payload)

	body := buf[hdr : hdr+bodyLen]
	l.putUint(buf[hdr+bodyLen:], l.Checksum.Sum(body))

	return buf, nil
}

// Decode parses the frame at the start of buf.
//
// It returns the frame and the number of bytes it occupied, or one of:
//
//   - ErrNeedMoreData with consumed 0: buf holds a frame prefix.
//   - ErrDesynchronized: buf does not start with a frame; discard consumed
//     bytes. consumed stops at the next marker candidate so a genuine frame
//     following garbage is never skipped.
//   - ErrChecksum: a complete frame failed verification; consumed covers it.
func (l Layout) Decode(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, ErrNeedMoreData
	}

	if buf[0] != l.StartMarker {
		idx := bytes.IndexByte(buf[1:], l.StartMarker)
		if idx < 0 {
			return Frame{}, len(buf), ErrDesynchronized
		}

		return Frame{}, idx + 1, ErrDesynchronized
	}

	hdr := l.headerSize()
	if len(buf) < hdr {
		return Frame{}, 0, ErrNeedMoreData
	}

	bodyLen := int(l.uint(buf[1:hdr]))
	if bodyLen < bodyHeaderSize || bodyLen > l.MaxPayload+bodyHeaderSize {
		// A marker byte that happened to appear in the stream.
		return Frame{}, 1, fmt.Errorf("%w: %w %d", ErrDesynchronized, ErrInvalidLength, bodyLen)
	}

	total := hdr + bodyLen + l.Checksum.Size()
	if len(buf) < total {
		return Frame{}, 0, ErrNeedMoreData
	}

	body := buf[hdr : hdr+bodyLen]
	got := l.uint(buf[hdr+bodyLen : total])
	if want := l.Checksum.Sum(body); got != want {
		return Frame{}, total, fmt.Errorf("%w: got %#x, want %#x", ErrChecksum, got, want)
	}

	f := Frame{
		Command:  Command(body[0]),
		Sequence: body[1],
	}
	if len(body) > bodyHeaderSize {
		f.Payload = bytes.Clone(body[bodyHeaderSize:])
	}

	return f, total, nil
}

func (l Layout) putUint(dst []byte, v uint32) {
	switch len(dst) {
	case 1:
		dst[0] = byte(v)
	case 2:
		l.ByteOrder.PutUint16(dst, uint16(v)) //nolint:gosec // width-limited field
	case 4:
		l.ByteOrder.PutUint32(dst, v)
	}
}

func (l Layout) uint(src []byte) uint32 {
	switch len(src) {
	case 1:
		return uint32(src[0])
	case 2:
		return uint32(l.ByteOrder.Uint16(src))
	case 4:
		return l.ByteOrder.Uint32(src)
	default:
		return 0
	}
}

// hexDump renders b for debug logs.
func hexDump(b []byte) string {
	return hex.EncodeToString(b)
}
