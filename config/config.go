// Package config loads the TOML configuration of vendistactl and turns it
// into transport configurations and terminal options.
//
// Example file:
//
//	[log]
//	level = "debug"
//
//	[metrics]
//	listen = ":9120"
//
//	[queue]
//	capacity = 256
//	overflow = "drop-oldest"
//
//	[protocol]
//	poll_interval = "200ms"
//	response_timeout = "500ms"
//	max_retries = 3
//	checksum = "crc16-vendista"
//
//	[[terminal]]
//	id = "kiosk-1"
//	port = "/dev/ttyUSB0"
//	baud = 115200
//
//	[[terminal]]
//	id = "kiosk-2"
//	port = "tcp://10.0.0.7:4001"
//
// Keys that are absent keep their defaults.
package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/abrant-ru/vendista/logger"
	"github.com/abrant-ru/vendista/slave"
	"github.com/abrant-ru/vendista/transport"
)

// Defaults of the settings that slave and transport do not own.
const (
	DefaultQueueCapacity = 256
	DefaultMetricsPath   = "/metrics"
)

// Config is a resolved configuration.
type Config struct {
	LogLevel  logger.LogLevel
	LogSource bool

	// MetricsListen is the address of the metrics endpoint; empty disables it.
	MetricsListen string
	MetricsPath   string

	QueueCapacity int
	QueuePolicy   slave.OverflowPolicy

	Protocol  Protocol
	Terminals []Terminal
}

// Protocol holds the settings shared by every terminal.
type Protocol struct {
	PollInterval    time.Duration
	ResponseTimeout time.Duration
	ReadTimeout     time.Duration
	StopTimeout     time.Duration
	PaymentTimeout  time.Duration
	ScreenRefresh   time.Duration
	MaxRetries      int
	MaxBuffer       int
	PollCommand     slave.Command
	AutoScreen      bool

	Layout slave.Layout
}

// Terminal is one [[terminal]] entry.
type Terminal struct {
	ID        string
	Transport transport.Config
}

type fileConfig struct {
	Log struct {
		Level  string `toml:"level"`
		Source bool   `toml:"source"`
	} `toml:"log"`

	Metrics struct {
		Listen string `toml:"listen"`
		Path   string `toml:"path"`
	} `toml:"metrics"`

	Queue struct {
		Capacity int    `toml:"capacity"`
		Overflow string `toml:"overflow"`
	} `toml:"queue"`

	Protocol struct {
		PollInterval    string `toml:"poll_interval"`
		ResponseTimeout string `toml:"response_timeout"`
		ReadTimeout     string `toml:"read_timeout"`
		StopTimeout     string `toml:"stop_timeout"`
		PaymentTimeout  string `toml:"payment_timeout"`
		ScreenRefresh   string `toml:"screen_refresh"`
		MaxRetries      int    `toml:"max_retries"`
		MaxBuffer       int    `toml:"max_buffer"`
		PollCommand     int    `toml:"poll_command"`
		AutoScreen      bool   `toml:"auto_screen"`
		StartMarker     int    `toml:"start_marker"`
		LengthSize      int    `toml:"length_size"`
		ByteOrder       string `toml:"byte_order"`
		Checksum        string `toml:"checksum"`
		MaxPayload      int    `toml:"max_payload"`
	} `toml:"protocol"`

	Terminals []fileTerminal `toml:"terminal"`
}

type fileTerminal struct {
	ID       string `toml:"id"`
	Port     string `toml:"port"`
	Baud     int    `toml:"baud"`
	DataBits int    `toml:"data_bits"`
	Parity   string `toml:"parity"`
	StopBits string `toml:"stop_bits"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	return Config{
		LogLevel:      logger.InfoLevel,
		MetricsPath:   DefaultMetricsPath,
		QueueCapacity: DefaultQueueCapacity,
		QueuePolicy:   slave.DropOldest,
		Protocol: Protocol{
			PollInterval:    slave.DefaultPollInterval,
			ResponseTimeout: slave.DefaultResponseTimeout,
			ReadTimeout:     slave.DefaultReadTimeout,
			StopTimeout:     slave.DefaultStopTimeout,
			PaymentTimeout:  slave.DefaultPaymentTimeout,
			ScreenRefresh:   slave.DefaultScreenRefresh,
			MaxRetries:      slave.DefaultMaxRetries,
			MaxBuffer:       slave.DefaultMaxBuffer,
			PollCommand:     slave.DefaultPollCommand,
			Layout:          slave.DefaultLayout(),
		},
	}
}

// Load reads and resolves the configuration file at path.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	return resolve(raw, meta)
}

// Parse resolves a configuration held in memory.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	cfg := Default()

	if meta.IsDefined("log", "level") {
		level, err := logger.ParseLevel(raw.Log.Level)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("log", "source") {
		cfg.LogSource = raw.Log.Source
	}

	if meta.IsDefined("metrics", "listen") {
		cfg.MetricsListen = strings.TrimSpace(raw.Metrics.Listen)
	}
	if meta.IsDefined("metrics", "path") {
		cfg.MetricsPath = strings.TrimSpace(raw.Metrics.Path)
	}

	if meta.IsDefined("queue", "capacity") {
		cfg.QueueCapacity = raw.Queue.Capacity
	}
	if meta.IsDefined("queue", "overflow") {
		policy, err := slave.ParseOverflowPolicy(strings.TrimSpace(raw.Queue.Overflow))
		if err != nil {
			return Config{}, err
		}
		cfg.QueuePolicy = policy
	}

	if err := resolveProtocol(&cfg.Protocol, raw, meta); err != nil {
		return Config{}, err
	}

	for i, ft := range raw.Terminals {
		term, err := resolveTerminal(ft)
		if err != nil {
			return Config{}, fmt.Errorf("terminal #%d: %w", i+1, err)
		}
		cfg.Terminals = append(cfg.Terminals, term)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolveProtocol(p *Protocol, raw fileConfig, meta toml.MetaData) error {
	rp := raw.Protocol

	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"poll_interval", rp.PollInterval, &p.PollInterval},
		{"response_timeout", rp.ResponseTimeout, &p.ResponseTimeout},
		{"read_timeout", rp.ReadTimeout, &p.ReadTimeout},
		{"stop_timeout", rp.StopTimeout, &p.StopTimeout},
		{"payment_timeout", rp.PaymentTimeout, &p.PaymentTimeout},
		{"screen_refresh", rp.ScreenRefresh, &p.ScreenRefresh},
	}
	for _, d := range durations {
		if !meta.IsDefined("protocol", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return fmt.Errorf("parse protocol.%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("protocol", "max_retries") {
		p.MaxRetries = rp.MaxRetries
	}
	if meta.IsDefined("protocol", "max_buffer") {
		p.MaxBuffer = rp.MaxBuffer
	}
	if meta.IsDefined("protocol", "poll_command") {
		if rp.PollCommand < 0 || rp.PollCommand > 0xFF {
			return fmt.Errorf("protocol.poll_command %d out of range [0, 255]", rp.PollCommand)
		}
		p.PollCommand = slave.Command(rp.PollCommand)
	}
	if meta.IsDefined("protocol", "auto_screen") {
		p.AutoScreen = rp.AutoScreen
	}

	if meta.IsDefined("protocol", "start_marker") {
		if rp.StartMarker < 0 || rp.StartMarker > 0xFF {
			return fmt.Errorf("protocol.start_marker %d out of range [0, 255]", rp.StartMarker)
		}
		p.Layout.StartMarker = byte(rp.StartMarker)
	}
	if meta.IsDefined("protocol", "length_size") {
		p.Layout.LengthSize = rp.LengthSize
	}
	if meta.IsDefined("protocol", "byte_order") {
		switch strings.ToLower(strings.TrimSpace(rp.ByteOrder)) {
		case "little", "little-endian", "le":
			p.Layout.ByteOrder = binary.LittleEndian
		case "big", "big-endian", "be":
			p.Layout.ByteOrder = binary.BigEndian
		default:
			return fmt.Errorf("protocol.byte_order: unknown value %q", rp.ByteOrder)
		}
	}
	if meta.IsDefined("protocol", "checksum") {
		name := strings.TrimSpace(rp.Checksum)
		sum, ok := slave.ChecksumByName(name)
		if !ok {
			return fmt.Errorf("protocol.checksum: unknown algorithm %q", name)
		}
		p.Layout.Checksum = sum
	}
	if meta.IsDefined("protocol", "max_payload") {
		p.Layout.MaxPayload = rp.MaxPayload
	}

	return nil
}

func resolveTerminal(ft fileTerminal) (Terminal, error) {
	port := strings.TrimSpace(ft.Port)
	if port == "" {
		return Terminal{}, errors.New("port is required")
	}

	tcfg := transport.DefaultConfig(port)
	if ft.Baud != 0 {
		tcfg.BaudRate = ft.Baud
	}
	if ft.DataBits != 0 {
		tcfg.DataBits = ft.DataBits
	}

	parity, err := transport.ParseParity(ft.Parity)
	if err != nil {
		return Terminal{}, err
	}
	tcfg.Parity = parity

	stopBits, err := transport.ParseStopBits(ft.StopBits)
	if err != nil {
		return Terminal{}, err
	}
	tcfg.StopBits = stopBits

	if err := tcfg.Validate(); err != nil {
		return Terminal{}, err
	}

	id := strings.TrimSpace(ft.ID)
	if id == "" {
		id = port
	}

	return Terminal{ID: id, Transport: tcfg}, nil
}

// Validate checks the settings that are not validated by slave options.
func (c Config) Validate() error {
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue.capacity %d must not be negative", c.QueueCapacity)
	}
	if c.MetricsListen != "" && !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.MetricsPath)
	}
	if err := c.Protocol.Layout.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Terminals))
	for _, t := range c.Terminals {
		if seen[t.ID] {
			return fmt.Errorf("duplicate terminal id %q", t.ID)
		}
		seen[t.ID] = true
	}

	return nil
}

// NewEventQueue creates the event queue described by the [queue] section.
func (c Config) NewEventQueue() *slave.EventQueue {
	return slave.NewEventQueue(c.QueueCapacity, c.QueuePolicy)
}

// TerminalOptions returns the slave options of term. l is the parent logger;
// the terminal adds its own id to it.
func (c Config) TerminalOptions(term Terminal, l logger.Logger) []slave.Option {
	p := c.Protocol

	opts := []slave.Option{
		slave.WithTerminalID(term.ID),
		slave.WithLayout(p.Layout),
		slave.WithPollInterval(p.PollInterval),
		slave.WithResponseTimeout(p.ResponseTimeout),
		slave.WithReadTimeout(p.ReadTimeout),
		slave.WithStopTimeout(p.StopTimeout),
		slave.WithPaymentTimeout(p.PaymentTimeout),
		slave.WithMaxRetries(p.MaxRetries),
		slave.WithMaxBuffer(p.MaxBuffer),
		slave.WithPollCommand(p.PollCommand),
		slave.WithAutoScreen(p.AutoScreen),
		slave.WithScreenRefresh(p.ScreenRefresh),
	}
	if l != nil {
		opts = append(opts, slave.WithLogger(l))
	}

	return opts
}

// NewTerminals creates one stopped terminal per [[terminal]] entry, all
// publishing to events.
func (c Config) NewTerminals(events *slave.EventQueue, l logger.Logger) ([]*slave.Terminal, error) {
	terms := make([]*slave.Terminal, 0, len(c.Terminals))
	for _, tc := range c.Terminals {
		term, err := slave.NewTerminal(tc.Transport, events, c.TerminalOptions(tc, l)...)
		if err != nil {
			return nil, fmt.Errorf("terminal %s: %w", tc.ID, err)
		}
		terms = append(terms, term)
	}

	return terms, nil
}
