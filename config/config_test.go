package config

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/abrant-ru/vendista/logger"
	"github.com/abrant-ru/vendista/slave"
	"github.com/abrant-ru/vendista/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vendista.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[[terminal]]
port = "/dev/ttyUSB0"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, logger.InfoLevel, cfg.LogLevel)
	assert.Empty(t, cfg.MetricsListen)
	assert.Equal(t, DefaultMetricsPath, cfg.MetricsPath)
	assert.Equal(t, DefaultQueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, slave.DropOldest, cfg.QueuePolicy)
	assert.Equal(t, def.Protocol.PollInterval, cfg.Protocol.PollInterval)
	assert.Equal(t, def.Protocol.ResponseTimeout, cfg.Protocol.ResponseTimeout)
	assert.Equal(t, slave.DefaultScreenRefresh, cfg.Protocol.ScreenRefresh)
	assert.Equal(t, slave.DefaultMaxRetries, cfg.Protocol.MaxRetries)
	assert.Equal(t, slave.DefaultPollCommand, cfg.Protocol.PollCommand)
	assert.Equal(t, slave.DefaultStartMarker, int(cfg.Protocol.Layout.StartMarker))

	require.Len(t, cfg.Terminals, 1)
	term := cfg.Terminals[0]
	assert.Equal(t, "/dev/ttyUSB0", term.ID)
	assert.Equal(t, transport.DefaultConfig("/dev/ttyUSB0"), term.Transport)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"
source = true

[metrics]
listen = ":9120"
path = "/prom"

[queue]
capacity = 32
overflow = "drop-newest"

[protocol]
poll_interval = "100ms"
response_timeout = "1s"
read_timeout = "20ms"
stop_timeout = "5s"
payment_timeout = "90s"
screen_refresh = "5m"
max_retries = 5
max_buffer = 8192
poll_command = 0x30
auto_screen = true
start_marker = 0x7E
length_size = 1
byte_order = "big"
checksum = "xor8"
max_payload = 200

[[terminal]]
id = "kiosk-1"
port = "/dev/ttyS1"
baud = 9600
data_bits = 7
parity = "even"
stop_bits = "2"

[[terminal]]
id = "kiosk-2"
port = "tcp://10.0.0.7:4001"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logger.DebugLevel, cfg.LogLevel)
	assert.True(t, cfg.LogSource)
	assert.Equal(t, ":9120", cfg.MetricsListen)
	assert.Equal(t, "/prom", cfg.MetricsPath)
	assert.Equal(t, 32, cfg.QueueCapacity)
	assert.Equal(t, slave.DropNewest, cfg.QueuePolicy)

	p := cfg.Protocol
	assert.Equal(t, 100*time.Millisecond, p.PollInterval)
	assert.Equal(t, time.Second, p.ResponseTimeout)
	assert.Equal(t, 20*time.Millisecond, p.ReadTimeout)
	assert.Equal(t, 5*time.Second, p.StopTimeout)
	assert.Equal(t, 90*time.Second, p.PaymentTimeout)
	assert.Equal(t, 5*time.Minute, p.ScreenRefresh)
	assert.Equal(t, 5, p.MaxRetries)
	assert.Equal(t, 8192, p.MaxBuffer)
	assert.Equal(t, slave.Command(0x30), p.PollCommand)
	assert.True(t, p.AutoScreen)
	assert.Equal(t, byte(0x7E), p.Layout.StartMarker)
	assert.Equal(t, 1, p.Layout.LengthSize)
	assert.Equal(t, binary.BigEndian, p.Layout.ByteOrder)
	assert.Equal(t, "xor8", p.Layout.Checksum.Name())
	assert.Equal(t, 200, p.Layout.MaxPayload)

	require.Len(t, cfg.Terminals, 2)
	t1 := cfg.Terminals[0]
	assert.Equal(t, "kiosk-1", t1.ID)
	assert.Equal(t, 9600, t1.Transport.BaudRate)
	assert.Equal(t, 7, t1.Transport.DataBits)
	assert.Equal(t, transport.ParityEven, t1.Transport.Parity)
	assert.Equal(t, transport.StopBits2, t1.Transport.StopBits)

	t2 := cfg.Terminals[1]
	assert.Equal(t, "kiosk-2", t2.ID)
	assert.True(t, t2.Transport.IsTCP())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", `[log`},
		{"unknown key", "[protocol]\nretries = 3\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"bad overflow", "[queue]\noverflow = \"spill\"\n"},
		{"bad duration", "[protocol]\npoll_interval = \"soon\"\n"},
		{"bad byte order", "[protocol]\nbyte_order = \"middle\"\n"},
		{"bad checksum", "[protocol]\nchecksum = \"md5\"\n"},
		{"poll command range", "[protocol]\npoll_command = 300\n"},
		{"start marker range", "[protocol]\nstart_marker = -1\n"},
		{"bad length size", "[protocol]\nlength_size = 3\n"},
		{"negative capacity", "[queue]\ncapacity = -1\n"},
		{"metrics path", "[metrics]\nlisten = \":9120\"\npath = \"metrics\"\n"},
		{"missing port", "[[terminal]]\nid = \"a\"\n"},
		{"bad parity", "[[terminal]]\nport = \"/dev/ttyS0\"\nparity = \"x\"\n"},
		{"bad stop bits", "[[terminal]]\nport = \"/dev/ttyS0\"\nstop_bits = \"3\"\n"},
		{"bad data bits", "[[terminal]]\nport = \"/dev/ttyS0\"\ndata_bits = 9\n"},
		{"duplicate id", "[[terminal]]\nport = \"/dev/ttyS0\"\n[[terminal]]\nport = \"/dev/ttyS0\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestParse(t *testing.T) {
	cfg, err := Parse("[queue]\ncapacity = 0\n")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.QueueCapacity)

	q := cfg.NewEventQueue()
	assert.Equal(t, 0, q.Capacity())
	assert.Equal(t, slave.DropOldest, q.Policy())
}

func TestNewTerminals(t *testing.T) {
	cfg, err := Parse(`
[protocol]
poll_interval = "50ms"
max_retries = 2

[[terminal]]
id = "a"
port = "/dev/ttyS0"

[[terminal]]
id = "b"
port = "tcp://127.0.0.1:4001"
`)
	require.NoError(t, err)

	log := logger.NewMockLogger()
	log.On("With", mock.Anything)

	terms, err := cfg.NewTerminals(cfg.NewEventQueue(), log)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "a", terms[0].ID())
	assert.Equal(t, "b", terms[1].ID())
	assert.False(t, terms[0].IsRunning())
	log.AssertCalled(t, "With", []any{"terminal", "a"})
	log.AssertCalled(t, "With", []any{"terminal", "b"})
}

func TestNewTerminals_InvalidProtocol(t *testing.T) {
	cfg, err := Parse(`
[protocol]
max_retries = 100

[[terminal]]
port = "/dev/ttyS0"
`)
	require.NoError(t, err)

	_, err = cfg.NewTerminals(cfg.NewEventQueue(), nil)
	assert.Error(t, err)
}
