package slave

import "github.com/sigurn/crc16"

// Checksum computes the integrity trailer of a frame.
type Checksum interface {
	// Name identifies the algorithm in configuration and logs.
	Name() string
	// Size is the trailer width in bytes: 1, 2 or 4.
	Size() int
	// Sum computes the checksum of data, right-aligned in the result.
	Sum(data []byte) uint32
}

// CRC16 is a CRC-16 computed with a precomputed table.
type CRC16 struct {
	name  string
	table *crc16.Table
}

var _ Checksum = (*CRC16)(nil)

// NewCRC16 creates a non-reflected CRC-16 with the given polynomial, initial
// register value and final XOR.
func NewCRC16(name string, poly, init, xorOut uint16) *CRC16 {
	return NewCRC16Params(crc16.Params{
		Poly:   poly,
		Init:   init,
		XorOut: xorOut,
		Name:   name,
	})
}

// NewCRC16Params creates a CRC-16 from a full parameter set, reflected
// variants included.
func NewCRC16Params(p crc16.Params) *CRC16 {
	return &CRC16{name: p.Name, table: crc16.MakeTable(p)}
}

// CRC16Vendista is the checksum used by Vendista terminal firmware.
var CRC16Vendista = NewCRC16("crc16-vendista", 0x8005, 0xFFFF, 0xFFFF)

func (c *CRC16) Name() string { return c.name }

func (c *CRC16) Size() int { return 2 }

func (c *CRC16) Sum(data []byte) uint32 {
	return uint32(crc16.Checksum(data, c.table))
}

type sum16 struct{}

// Sum16 is the 16-bit arithmetic sum of all bytes.
var Sum16 Checksum = sum16{}

func (sum16) Name() string { return "sum16" }

func (sum16) Size() int { return 2 }

func (sum16) Sum(data []byte) uint32 {
	var s uint16
	for _, b := range data {
		s += uint16(b)
	}

	return uint32(s)
}

type xor8 struct{}

// XOR8 is the XOR of all bytes (a 1-byte LRC).
var XOR8 Checksum = xor8{}

func (xor8) Name() string { return "xor8" }

func (xor8) Size() int { return 1 }

func (xor8) Sum(data []byte) uint32 {
	var x byte
	for _, b := range data {
		x ^= b
	}

	return uint32(x)
}

// ChecksumByName returns one of the provided checksums:
// "crc16-vendista", "sum16" or "xor8".
func ChecksumByName(name string) (Checksum, bool) {
	switch name {
	case CRC16Vendista.Name():
		return CRC16Vendista, true
	case Sum16.Name():
		return Sum16, true
	case XOR8.Name():
		return XOR8, true
	default:
		return nil, false
	}
}
