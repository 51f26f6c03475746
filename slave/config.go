package slave

import (
	"errors"
	"fmt"
	"time"

	"github.com/abrant-ru/vendista/logger"
	"github.com/abrant-ru/vendista/transport"
)

// Default policy values.
const (
	DefaultPollInterval     = 200 * time.Millisecond
	DefaultResponseTimeout  = 500 * time.Millisecond
	DefaultReadTimeout      = 50 * time.Millisecond
	DefaultMaxRetries       = 3
	DefaultMaxBuffer        = 4096
	DefaultStopTimeout      = 2 * time.Second
	DefaultCommandQueueSize = 16
	DefaultPaymentTimeout   = 70 * time.Second
	DefaultScreenRefresh    = 10 * time.Minute

	// DefaultPollCommand asks the terminal for its server connection state.
	DefaultPollCommand = CmdConnectStateRequest
)

// Range limits of the policy values.
const (
	MinPollInterval = 10 * time.Millisecond
	MaxPollInterval = 60 * time.Second

	MinResponseTimeout = 10 * time.Millisecond
	MaxResponseTimeout = 60 * time.Second

	MinReadTimeout = time.Millisecond
	MaxReadTimeout = 5 * time.Second

	MaxRetryLimit = 31

	MaxBufferLimit = 1 << 20

	MaxCommandQueueSize = 1024
)

// terminalConfig holds the resolved options of a Terminal.
type terminalConfig struct {
	id string

	layout      Layout
	pollCommand Command

	pollInterval    time.Duration
	responseTimeout time.Duration
	readTimeout     time.Duration
	stopTimeout     time.Duration
	paymentTimeout  time.Duration
	screenRefresh   time.Duration

	maxRetries       int
	maxBuffer        int
	commandQueueSize int

	autoScreen bool

	logger logger.Logger
	opener transport.Opener
}

func newTerminalConfig(tcfg transport.Config, opts ...Option) (*terminalConfig, error) {
	cfg := &terminalConfig{
		id:               tcfg.Port,
		layout:           DefaultLayout(),
		pollCommand:      DefaultPollCommand,
		pollInterval:     DefaultPollInterval,
		responseTimeout:  DefaultResponseTimeout,
		readTimeout:      DefaultReadTimeout,
		stopTimeout:      DefaultStopTimeout,
		paymentTimeout:   DefaultPaymentTimeout,
		screenRefresh:    DefaultScreenRefresh,
		maxRetries:       DefaultMaxRetries,
		maxBuffer:        DefaultMaxBuffer,
		commandQueueSize: DefaultCommandQueueSize,
		logger:           logger.GetLogger(),
		opener:           transport.Open,
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.id == "" {
		return nil, errors.New("slave: terminal id is required")
	}
	if minBuf := cfg.layout.FrameSize(cfg.layout.MaxPayload); cfg.maxBuffer < minBuf {
		return nil, fmt.Errorf("slave: max buffer %d is smaller than the largest frame (%d bytes)", cfg.maxBuffer, minBuf)
	}

	return cfg, nil
}

// Option is a functional option for configuring a Terminal.
type Option interface {
	apply(*terminalConfig) error
}

type optFunc func(*terminalConfig) error

func (f optFunc) apply(cfg *terminalConfig) error { return f(cfg) }

// WithTerminalID sets the terminal identity reported in events and logs.
// It defaults to the transport port name.
func WithTerminalID(id string) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if id == "" {
			return errors.New("slave: terminal id must not be empty")
		}
		cfg.id = id

		return nil
	})
}

// WithLayout sets the wire format.
func WithLayout(l Layout) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if err := l.Validate(); err != nil {
			return err
		}
		cfg.layout = l

		return nil
	})
}

// WithPollCommand sets the command issued on every idle poll.
func WithPollCommand(cmd Command) Option {
	return optFunc(func(cfg *terminalConfig) error {
		cfg.pollCommand = cmd
		return nil
	})
}

// WithPollInterval sets the pause between polls while the link is idle.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("slave: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithResponseTimeout sets the window in which a reply must arrive.
func WithResponseTimeout(d time.Duration) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if d < MinResponseTimeout || d > MaxResponseTimeout {
			return fmt.Errorf("slave: response timeout %v out of range [%v, %v]", d, MinResponseTimeout, MaxResponseTimeout)
		}
		cfg.responseTimeout = d

		return nil
	})
}

// WithReadTimeout sets the wait of a single transport read. It bounds how
// long the engine takes to notice Stop while a request is outstanding.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("slave: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithMaxRetries sets the number of failed attempts after which a request
// faults the link.
func WithMaxRetries(n int) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if n < 1 || n > MaxRetryLimit {
			return fmt.Errorf("slave: max retries %d out of range [1, %d]", n, MaxRetryLimit)
		}
		cfg.maxRetries = n

		return nil
	})
}

// WithMaxBuffer sets the receive buffer limit. It must hold the largest frame
// of the layout.
func WithMaxBuffer(n int) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if n < 1 || n > MaxBufferLimit {
			return fmt.Errorf("slave: max buffer %d out of range [1, %d]", n, MaxBufferLimit)
		}
		cfg.maxBuffer = n

		return nil
	})
}

// WithStopTimeout bounds the join in Stop.
func WithStopTimeout(d time.Duration) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if d <= 0 {
			return errors.New("slave: stop timeout must be positive")
		}
		cfg.stopTimeout = d

		return nil
	})
}

// WithPaymentTimeout sets how long a ReadCard or VendRequest amount is kept
// for the authorization result that completes it.
func WithPaymentTimeout(d time.Duration) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if d <= 0 {
			return errors.New("slave: payment timeout must be positive")
		}
		cfg.paymentTimeout = d

		return nil
	})
}

// WithCommandQueueSize sets how many caller commands may wait for the link.
func WithCommandQueueSize(n int) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if n < 1 || n > MaxCommandQueueSize {
			return fmt.Errorf("slave: command queue size %d out of range [1, %d]", n, MaxCommandQueueSize)
		}
		cfg.commandQueueSize = n

		return nil
	})
}

// WithAutoScreen makes the terminal manage its idle screen: Wait on start,
// then SelectGoods while the server is reachable and Unavailable otherwise.
// The idle screen is restored when the connection state changes, when a
// payment is cancelled or expires, and every screen refresh interval.
func WithAutoScreen(enabled bool) Option {
	return optFunc(func(cfg *terminalConfig) error {
		cfg.autoScreen = enabled
		return nil
	})
}

// WithScreenRefresh sets how often the idle screen is re-sent so the terminal
// does not go to sleep. Zero disables the refresh. It only applies with
// WithAutoScreen.
func WithScreenRefresh(d time.Duration) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if d < 0 {
			return errors.New("slave: screen refresh must not be negative")
		}
		cfg.screenRefresh = d

		return nil
	})
}

// WithLogger sets the logger for the terminal.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if l == nil {
			return errors.New("slave: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithLogLevel gives the terminal its own logger at the given level, leaving
// the process-wide default logger untouched.
func WithLogLevel(level logger.LogLevel) Option {
	return optFunc(func(cfg *terminalConfig) error {
		cfg.logger = logger.NewSlog(level, false)
		return nil
	})
}

// WithTransportOpener replaces transport.Open, mainly for tests and for
// custom byte channels.
func WithTransportOpener(open transport.Opener) Option {
	return optFunc(func(cfg *terminalConfig) error {
		if open == nil {
			return errors.New("slave: transport opener must not be nil")
		}
		cfg.opener = open

		return nil
	})
}
