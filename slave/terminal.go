package slave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/abrant-ru/vendista/internal/task"
	"github.com/abrant-ru/vendista/logger"
	"github.com/abrant-ru/vendista/transport"
)

// Terminal drives one payment terminal. It owns the transport and a single
// engine goroutine, and reports everything it observes through the
// EventQueue given to NewTerminal.
type Terminal struct {
	id      string
	cfg     *terminalConfig
	tcfg    transport.Config
	events  *EventQueue
	logger  logger.Logger
	metrics TerminalMetrics

	opState atomicOpState
	// lifecycle serializes Start and Stop, so a Stop that races a Start
	// waits for it and then stops the engine it started.
	lifecycle sync.Mutex

	mu      sync.Mutex // protects run and taskMgr
	run     *terminalRun
	taskMgr *task.Manager

	// waiters maps a request id to the channel its caller waits on.
	waiters *xsync.MapOf[uint64, chan error]
	reqID   atomic.Uint64

	connectState atomic.Uint32
}

// terminalRun holds what lives between one Start and the following Stop.
type terminalRun struct {
	tr   transport.Transport
	cmds chan *commandRequest
	done chan struct{}
}

// NewTerminal creates a stopped terminal for the port in tcfg. Events are
// published to events, which may be shared with other terminals.
func NewTerminal(tcfg transport.Config, events *EventQueue, opts ...Option) (*Terminal, error) {
	if events == nil {
		return nil, errors.New("slave: event queue is nil")
	}

	cfg, err := newTerminalConfig(tcfg, opts...)
	if err != nil {
		return nil, err
	}

	t := &Terminal{
		id:      cfg.id,
		cfg:     cfg,
		tcfg:    tcfg,
		events:  events,
		logger:  cfg.logger.With("terminal", cfg.id),
		waiters: xsync.NewMapOf[uint64, chan error](),
	}

	return t, nil
}

// ID returns the terminal identity carried by its events.
func (t *Terminal) ID() string { return t.id }

// Metrics returns the live counters of the terminal.
func (t *Terminal) Metrics() *TerminalMetrics { return &t.metrics }

// State returns the current session state.
func (t *Terminal) State() State { return t.metrics.State() }

// ConnectState returns the last server connection state reported by the
// terminal.
func (t *Terminal) ConnectState() ConnectState {
	return ConnectState(t.connectState.Load()) //nolint:gosec // stored from a ConnectState
}

// IsRunning reports whether the terminal has been started and not stopped.
// A terminal whose engine ended on a transport failure still counts as
// running until Stop is called; see Done.
func (t *Terminal) IsRunning() bool { return t.opState.isRunning() }

// Done returns a channel that is closed when the engine goroutine ends,
// either because of Stop or because the transport failed.
func (t *Terminal) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.run == nil {
		closed := make(chan struct{})
		close(closed)

		return closed
	}

	return t.run.done
}

// Start opens the transport and starts the engine. The engine also stops
// when ctx is done. It returns ErrAlreadyStarted when the terminal is running.
func (t *Terminal) Start(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if !t.opState.toStarting() {
		return ErrAlreadyStarted
	}

	tr, err := t.cfg.opener(t.tcfg)
	if err != nil {
		t.opState.toStopped()
		return fmt.Errorf("%w: open: %w", ErrTransport, err)
	}

	run := &terminalRun{
		tr:   tr,
		cmds: make(chan *commandRequest, t.cfg.commandQueueSize),
		done: make(chan struct{}),
	}
	eng := newEngine(t, tr, run.cmds)
	mgr := task.NewManager(ctx, t.logger)

	t.mu.Lock()
	t.run = run
	t.taskMgr = mgr
	t.mu.Unlock()

	onExit := func() {
		eng.shutdown()
		close(run.done)
	}
	if err := mgr.Start("engine", eng.step, onExit); err != nil {
		_ = tr.Close()

		t.mu.Lock()
		t.run = nil
		t.taskMgr = nil
		t.mu.Unlock()

		t.opState.toStopped()

		return err
	}

	t.opState.toRunning()
	t.logger.Info("terminal started", "port", t.tcfg.String(), "layout_checksum", t.cfg.layout.Checksum.Name())

	return nil
}

// Stop ends the engine, waits for it for at most the stop timeout, closes the
// transport and completes outstanding commands with ErrTerminalStopped.
// Stopping a terminal that is not running does nothing. A Stop called while
// Start is in progress waits for Start to return first.
func (t *Terminal) Stop() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if !t.opState.toStopping() {
		return nil
	}

	t.mu.Lock()
	run, mgr := t.run, t.taskMgr
	t.mu.Unlock()

	var err error

	mgr.Stop()
	if !mgr.WaitTimeout(t.cfg.stopTimeout) {
		err = ErrStopTimeout
		t.logger.Warn("engine did not stop in time", "timeout", t.cfg.stopTimeout)
	}

	if cerr := run.tr.Close(); cerr != nil {
		t.logger.Warn("failed to close transport", "error", cerr)
	}

	t.dropWaiters()

	t.mu.Lock()
	t.run = nil
	t.taskMgr = nil
	t.mu.Unlock()

	t.opState.toStopped()
	t.logger.Info("terminal stopped")

	return err
}

// Send issues cmd with payload and waits until the terminal answers it or the
// request fails on every attempt. Polls are suspended while commands are
// queued.
func (t *Terminal) Send(ctx context.Context, cmd Command, payload []byte) error {
	if len(payload) > t.cfg.layout.MaxPayload {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), t.cfg.layout.MaxPayload)
	}

	return t.submit(ctx, &commandRequest{cmd: cmd, payload: payload})
}

// ReadCard asks the terminal to read a card for a payment of amount minor
// units. The amount is attached to the authorization result that follows.
func (t *Terminal) ReadCard(ctx context.Context, amount int64, cur Currency) error {
	payload, err := t.cfg.layout.ReadCardPayload(amount, cur)
	if err != nil {
		return err
	}

	t.logger.Info("read card", "amount", amount, "currency", cur)

	return t.submit(ctx, &commandRequest{cmd: CmdReadCard, payload: payload, amount: amount})
}

// CancelReadCard cancels a pending ReadCard and forgets its payment.
func (t *Terminal) CancelReadCard(ctx context.Context) error {
	t.logger.Info("cancel read card")
	return t.submit(ctx, &commandRequest{cmd: CmdCancelReadCard})
}

// CancelLastTransaction refunds the last card payment.
func (t *Terminal) CancelLastTransaction(ctx context.Context) error {
	t.logger.Info("cancel last transaction")
	return t.submit(ctx, &commandRequest{cmd: CmdCancelLastTransaction})
}

// VendRequest asks the terminal for a QR payment of amount minor units.
func (t *Terminal) VendRequest(ctx context.Context, amount int64) error {
	payload, err := t.cfg.layout.VendRequestPayload(amount)
	if err != nil {
		return err
	}

	t.logger.Info("vend request", "amount", amount)

	return t.submit(ctx, &commandRequest{cmd: CmdVendRequest, payload: payload, amount: amount})
}

// ShowPicture shows a built-in screen.
func (t *Terminal) ShowPicture(ctx context.Context, p Picture) error {
	return t.submit(ctx, &commandRequest{cmd: CmdShowPicture, payload: []byte{byte(p)}})
}

// FillScreen fills the screen with an RGB565 color.
func (t *Terminal) FillScreen(ctx context.Context, color uint16) error {
	return t.submit(ctx, &commandRequest{cmd: CmdFillScreen, payload: t.cfg.layout.FillScreenPayload(color)})
}

// Reboot restarts the terminal. A Reboot event follows once it is back.
func (t *Terminal) Reboot(ctx context.Context) error {
	t.logger.Info("reboot terminal")
	return t.submit(ctx, &commandRequest{cmd: CmdReboot})
}

// PingServer asks the terminal to check its processing server.
func (t *Terminal) PingServer(ctx context.Context) error {
	return t.submit(ctx, &commandRequest{cmd: CmdPingServer})
}

func (t *Terminal) submit(ctx context.Context, req *commandRequest) error {
	t.mu.Lock()
	run := t.run
	t.mu.Unlock()

	if run == nil || !t.opState.isRunning() {
		return ErrNotStarted
	}

	req.ctx = ctx
	req.id = t.reqID.Add(1)

	ch := make(chan error, 1)
	t.waiters.Store(req.id, ch)

	select {
	case run.cmds <- req:
	case <-run.done:
		t.waiters.Delete(req.id)
		return ErrTerminalStopped
	default:
		t.waiters.Delete(req.id)
		return ErrCommandQueueFull
	}

	select {
	case err := <-ch:
		return err

	case <-run.done:
		// The engine may have resolved the request just before it ended.
		select {
		case err := <-ch:
			return err
		default:
		}
		t.waiters.Delete(req.id)

		return ErrTerminalStopped

	case <-ctx.Done():
		t.waiters.Delete(req.id)
		return ctx.Err()
	}
}

// resolve completes the request id. Unknown ids belong to callers that gave up.
func (t *Terminal) resolve(id uint64, err error) {
	if id == 0 {
		return
	}

	if ch, ok := t.waiters.LoadAndDelete(id); ok {
		ch <- err
	}
}

func (t *Terminal) dropWaiters() {
	t.waiters.Range(func(id uint64, ch chan error) bool {
		if _, ok := t.waiters.LoadAndDelete(id); ok {
			ch <- ErrTerminalStopped
		}
		return true
	})
}
