// Package transport provides the byte channel between a terminal driver and
// the vending controller's payment terminal.
//
// A Transport is a half-duplex, non-reentrant byte stream: one goroutine (the
// protocol engine) writes a request and then reads until it has a reply or a
// timeout. Two implementations are provided:
//
//   - a local serial port (RS-232 / USB CDC) opened with github.com/tarm/serial;
//   - a TCP stream to a serial-over-IP bridge (ser2net and similar), selected
//     by a "tcp://host:port" port name.
package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Transport is the byte channel used by the protocol engine.
type Transport interface {
	// Read reads up to len(p) bytes, waiting at most timeout for the first
	// byte. It returns (0, nil) when nothing arrived within timeout. Any
	// returned error means the channel itself failed.
	Read(p []byte, timeout time.Duration) (int, error)
	// Write writes all of p or returns an error.
	Write(p []byte) (int, error)
	// Close releases the channel and unblocks a pending Read.
	Close() error
}

// Opener opens a Transport for a configuration. Open is the default Opener.
type Opener func(cfg Config) (Transport, error)

// ErrClosed is returned by operations on a closed Transport.
var ErrClosed = errors.New("transport: closed")

// OpError describes a failed operation on a port.
type OpError struct {
	Op   string // "open", "read", "write" or "close"
	Port string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Parity is the serial parity mode. The values match the single-letter
// codes used by the serial driver.
type Parity byte

const (
	ParityNone  Parity = 'N'
	ParityOdd   Parity = 'O'
	ParityEven  Parity = 'E'
	ParityMark  Parity = 'M'
	ParitySpace Parity = 'S'
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return fmt.Sprintf("parity(%d)", byte(p))
	}
}

// ParseParity accepts "none", "odd", "even", "mark", "space" or their first letter.
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n", "none":
		return ParityNone, nil
	case "o", "odd":
		return ParityOdd, nil
	case "e", "even":
		return ParityEven, nil
	case "m", "mark":
		return ParityMark, nil
	case "s", "space":
		return ParitySpace, nil
	default:
		return 0, fmt.Errorf("transport: invalid parity %q", s)
	}
}

// StopBits is the number of stop bits. StopBits1Half encodes 1.5.
type StopBits byte

const (
	StopBits1     StopBits = 1
	StopBits1Half StopBits = 15
	StopBits2     StopBits = 2
)

func (s StopBits) String() string {
	switch s {
	case StopBits1:
		return "1"
	case StopBits1Half:
		return "1.5"
	case StopBits2:
		return "2"
	default:
		return fmt.Sprintf("stopbits(%d)", byte(s))
	}
}

// ParseStopBits accepts "1", "1.5" or "2".
func ParseStopBits(s string) (StopBits, error) {
	switch strings.TrimSpace(s) {
	case "", "1":
		return StopBits1, nil
	case "1.5":
		return StopBits1Half, nil
	case "2":
		return StopBits2, nil
	default:
		return 0, fmt.Errorf("transport: invalid stop bits %q", s)
	}
}

const (
	// DefaultBaudRate is the line speed of the Vendista terminal's slave port.
	DefaultBaudRate = 115200
	DefaultDataBits = 8

	// DefaultDialTimeout bounds the TCP connect of a serial-over-IP port.
	DefaultDialTimeout = 3 * time.Second
	// DefaultWriteTimeout bounds a single Write.
	DefaultWriteTimeout = time.Second

	// tcpScheme selects the TCP implementation in Open.
	tcpScheme = "tcp://"
)

// Config holds the port identity and line parameters.
type Config struct {
	// Port is a device path ("/dev/ttyUSB0", "COM3") or "tcp://host:port".
	Port     string
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns 115200 baud, 8 data bits, no parity, one stop bit.
func DefaultConfig(port string) Config {
	return Config{
		Port:         port,
		BaudRate:     DefaultBaudRate,
		DataBits:     DefaultDataBits,
		Parity:       ParityNone,
		StopBits:     StopBits1,
		DialTimeout:  DefaultDialTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// IsTCP reports whether the port names a serial-over-IP bridge.
func (c Config) IsTCP() bool {
	return strings.HasPrefix(c.Port, tcpScheme)
}

// Validate checks the line parameters.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("transport: port is required")
	}
	if c.IsTCP() {
		if strings.TrimPrefix(c.Port, tcpScheme) == "" {
			return fmt.Errorf("transport: missing address in %q", c.Port)
		}
		return nil
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("transport: invalid baud rate %d", c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("transport: data bits %d out of range [5, 8]", c.DataBits)
	}
	if _, err := ParseParity(c.Parity.String()); err != nil {
		return err
	}
	if _, err := ParseStopBits(c.StopBits.String()); err != nil {
		return err
	}

	return nil
}

// String renders the configuration as "port 115200 8N1".
func (c Config) String() string {
	if c.IsTCP() {
		return c.Port
	}
	return c.Port + " " + strconv.Itoa(c.BaudRate) + " " +
		strconv.Itoa(c.DataBits) + string(rune(c.Parity)) + c.StopBits.String()
}

// Open opens the transport named by cfg.Port.
func Open(cfg Config) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IsTCP() {
		return DialTCP(cfg)
	}

	return OpenSerial(cfg)
}
