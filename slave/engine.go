package slave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abrant-ru/vendista/internal/timer"
	"github.com/abrant-ru/vendista/logger"
	"github.com/abrant-ru/vendista/transport"
)

const readChunkSize = 256

// commandRequest is one request waiting for the link. id 0 marks requests
// nobody waits for: polls and automatic screens.
type commandRequest struct {
	ctx     context.Context
	id      uint64
	cmd     Command
	payload []byte

	// amount is the payment amount of ReadCard and VendRequest.
	amount int64
}

// payment is the amount and card of the current card payment, kept until the
// authorization result arrives.
type payment struct {
	amount     int64
	cardNumber string
	started    time.Time
}

// engine runs the protocol loop of one Terminal. All of its state is owned
// by the engine goroutine.
type engine struct {
	term    *Terminal
	cfg     *terminalConfig
	tr      transport.Transport
	cmds    chan *commandRequest
	events  *EventQueue
	metrics *TerminalMetrics
	logger  logger.Logger

	sess *session
	xlat translator

	buf   []byte // accumulated received bytes
	chunk []byte // transport read buffer

	current  *commandRequest
	internal []*commandRequest
	nextPoll time.Time
	faulted  bool

	connectState     ConnectState
	haveConnectState bool
	payment          *payment
	lastScreen       time.Time // last successful ShowPicture or FillScreen
}

func newEngine(t *Terminal, tr transport.Transport, cmds chan *commandRequest) *engine {
	e := &engine{
		term:    t,
		cfg:     t.cfg,
		tr:      tr,
		cmds:    cmds,
		events:  t.events,
		metrics: &t.metrics,
		logger:  t.logger,
		sess:    newSession(t.cfg.maxRetries, t.cfg.responseTimeout),
		xlat:    translator{order: t.cfg.layout.ByteOrder},
		buf:     make([]byte, 0, t.cfg.layout.FrameSize(0)*4),
		chunk:   make([]byte, readChunkSize),
	}

	if e.cfg.autoScreen {
		e.queueScreen(PictureWait)
	}
	e.lastScreen = time.Now()
	e.metrics.setState(StateIdle)

	return e
}

// step runs one iteration of the loop. It returns false to end the engine.
func (e *engine) step(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	if e.sess.state == StateAwaitingResponse {
		return e.awaitResponse(ctx)
	}

	return e.issueNext(ctx)
}

// issueNext writes the next request: a queued command when there is one,
// otherwise a poll once the poll interval has elapsed.
func (e *engine) issueNext(ctx context.Context) bool {
	now := time.Now()
	e.expirePayment(now)
	e.refreshScreen(now)

	req := e.nextCommand()
	if req == nil {
		var res timer.Result
		req, res = timer.Receive[*commandRequest](ctx.Done(), e.cmds, time.Until(e.nextPoll))
		if res == timer.Stopped {
			return false
		}

		if req != nil && req.ctx != nil && req.ctx.Err() != nil {
			e.term.resolve(req.id, req.ctx.Err())
			return true
		}
		if req == nil {
			req = &commandRequest{cmd: e.cfg.pollCommand}
		}
	}

	return e.issue(req)
}

// nextCommand returns a queued caller command or an internal one without
// blocking. Commands whose caller has given up are resolved and skipped.
func (e *engine) nextCommand() *commandRequest {
	for {
		select {
		case req := <-e.cmds:
			if req.ctx != nil && req.ctx.Err() != nil {
				e.term.resolve(req.id, req.ctx.Err())
				continue
			}
			return req
		default:
		}

		if len(e.internal) > 0 {
			req := e.internal[0]
			e.internal = e.internal[1:]

			return req
		}

		return nil
	}
}

func (e *engine) issue(req *commandRequest) bool {
	seq := e.sess.nextSequence()
	wire, err := e.cfg.layout.Encode(Frame{Command: req.cmd, Sequence: seq, Payload: req.payload})
	if err != nil {
		e.logger.Error("failed to encode request", "command", req.cmd, "error", err)
		e.term.resolve(req.id, err)

		return true
	}

	probe := e.sess.state == StateFaulted
	e.buf = e.buf[:0]
	e.current = req
	e.sess.begin(req.cmd, seq, wire, time.Now())
	e.metrics.setState(e.sess.state)

	if probe {
		e.logger.Debug("probe faulted link", "command", req.cmd, "seq", seq)
	}

	return e.write(wire)
}

// awaitResponse reads once, bounded by the read timeout and by what is left
// of the response window, and feeds the received bytes to the decoder.
func (e *engine) awaitResponse(ctx context.Context) bool {
	now := time.Now()
	if e.sess.expired(now) {
		return e.onFailure(failTimeout, ErrResponseTimeout)
	}

	timeout := min(e.cfg.readTimeout, e.sess.remaining(now))
	n, err := e.tr.Read(e.chunk, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return e.transportFailure("read", err)
	}
	if n == 0 {
		return true
	}

	e.buf = append(e.buf, e.chunk[:n]...)
	if len(e.buf) > e.cfg.maxBuffer {
		e.logger.Warn("receive buffer overflow, clearing", "size", len(e.buf), "limit", e.cfg.maxBuffer)
		e.buf = e.buf[:0]

		return e.onFailure(failChecksum, ErrBufferOverflow)
	}

	return e.drain()
}

// drain decodes frames from the buffer until it needs more data.
//
// Frames that follow the accepted reply in the same read are reports the
// terminal queued behind it; they are dispatched as well.
func (e *engine) drain() bool {
	replied := false

	for len(e.buf) > 0 {
		f, consumed, err := e.cfg.layout.Decode(e.buf)

		switch {
		case err == nil:
			e.consume(consumed)
			e.metrics.incFrameRecvCount()
			if replied {
				e.logger.Debug("rx after reply", "frame", f)
				e.dispatch(f, time.Now())
				continue
			}

			awaiting := e.sess.state == StateAwaitingResponse
			if !e.onFrame(f) {
				return false
			}
			replied = awaiting && e.sess.state == StateIdle

		case errors.Is(err, ErrNeedMoreData):
			return true

		case errors.Is(err, ErrDesynchronized):
			e.logger.Debug("skip bytes to resynchronize", "count", consumed, "bytes", hexDump(e.buf[:consumed]))
			e.metrics.addDesyncBytes(consumed)
			e.consume(consumed)

		default: // ErrChecksum
			e.logger.Debug("corrupted frame", "bytes", hexDump(e.buf[:consumed]), "error", err)
			e.consume(consumed)
			if e.sess.state != StateAwaitingResponse {
				e.metrics.incFailure(failChecksum)
				continue
			}
			if !e.onFailure(failChecksum, err) {
				return false
			}
		}
	}

	return true
}

func (e *engine) consume(n int) {
	e.buf = e.buf[:copy(e.buf, e.buf[n:])]
}

func (e *engine) onFrame(f Frame) bool {
	now := time.Now()

	out := e.sess.receive(f, now)
	switch out {
	case outcomeIgnored:
		e.metrics.incStaleFrameCount()
		e.logger.Debug("drop frame received while idle", "frame", f)

		return true

	case outcomeAccepted:
		e.metrics.setState(e.sess.state)
		e.logger.Debug("rx", "frame", f)
		if e.faulted {
			e.faulted = false
			e.logger.Info("link recovered", "command", f.Command)
		}

		e.complete(nil)
		e.dispatch(f, now)
		e.nextPoll = now.Add(e.cfg.pollInterval)

		return true

	default:
		e.logger.Debug("reply out of sequence", "frame", f)
		return e.afterFailure(out, failSequence, ErrSequenceMismatch)
	}
}

func (e *engine) onFailure(cause failure, err error) bool {
	return e.afterFailure(e.sess.fail(cause, time.Now()), cause, err)
}

func (e *engine) afterFailure(out outcome, cause failure, err error) bool {
	now := time.Now()

	switch out {
	case outcomeRetry:
		e.metrics.incFailure(cause)
		e.metrics.incRetryCount()
		e.logger.Warn("retry request",
			"command", e.sess.command,
			"seq", e.sess.pending,
			"attempt", e.sess.retries+1,
			"cause", cause,
			"error", err,
		)
		e.buf = e.buf[:0]

		return e.write(e.sess.request)

	case outcomeFaulted:
		e.metrics.incFailure(cause)
		e.metrics.incFaultCount()
		e.metrics.setState(e.sess.state)

		exhausted := e.sess.exhaustedError()
		e.logger.Error("retry budget exhausted, link faulted", "code", cause.code(), "error", exhausted)

		e.faulted = true
		e.buf = e.buf[:0]
		e.publish(newErrorEvent(e.term, now, cause.code(), exhausted))
		e.complete(exhausted)
		e.nextPoll = now.Add(e.cfg.pollInterval)

		return true

	case outcomeProbeFailed:
		e.metrics.incFailure(cause)
		e.metrics.setState(e.sess.state)
		e.logger.Debug("probe failed", "cause", cause)

		e.buf = e.buf[:0]
		e.complete(fmt.Errorf("%w: link faulted: %w", ErrRetriesExhausted, err))
		e.nextPoll = now.Add(e.cfg.pollInterval)

		return true

	default:
		return true
	}
}

func (e *engine) write(wire []byte) bool {
	if _, err := e.tr.Write(wire); err != nil {
		return e.transportFailure("write", err)
	}

	e.metrics.incFrameSendCount()
	e.logger.Debug("tx", "bytes", hexDump(wire))

	return true
}

// transportFailure reports a broken byte channel and ends the loop.
func (e *engine) transportFailure(op string, err error) bool {
	wrapped := fmt.Errorf("%w: %s: %w", ErrTransport, op, err)

	e.metrics.incTransportErrCount()
	e.logger.Error("transport failure, stopping engine", "op", op, "error", err)

	e.publish(newErrorEvent(e.term, time.Now(), CodeTransportFailure, wrapped))
	e.complete(wrapped)
	e.sess.abort()
	e.metrics.setState(e.sess.state)

	return false
}

// complete resolves the outstanding request.
func (e *engine) complete(err error) {
	req := e.current
	if req == nil {
		return
	}
	e.current = nil

	if err == nil {
		switch req.cmd {
		case CmdReadCard, CmdVendRequest:
			e.payment = &payment{amount: req.amount, started: time.Now()}
		case CmdCancelReadCard:
			e.payment = nil
			e.queueIdleScreen()
		case CmdShowPicture, CmdFillScreen:
			e.lastScreen = time.Now()
		}
	}

	if req.id != 0 {
		e.metrics.incCommandCount()
		e.term.resolve(req.id, err)
	}
}

// dispatch translates an accepted reply and publishes the event.
func (e *engine) dispatch(f Frame, now time.Time) {
	ev, ok := e.xlat.translate(f, e.term, now)
	if !ok {
		return
	}

	switch ev.Type {
	case EventStatus:
		if e.haveConnectState && ev.ConnectState == e.connectState {
			return
		}
		e.logger.Info("connect state", "state", ev.ConnectState, "previous", e.connectState)
		e.connectState = ev.ConnectState
		e.haveConnectState = true
		e.term.connectState.Store(uint32(ev.ConnectState))

		e.queueIdleScreen()

	case EventCardRead:
		if e.payment != nil && ev.CardStatus == CardFound {
			e.payment.cardNumber = ev.CardNumber
		}

	case EventCardAuthResult:
		if p := e.payment; p != nil {
			if ev.Amount == nil {
				amount := p.amount
				ev.Amount = &amount
			}
			ev.CardNumber = p.cardNumber
			e.payment = nil
		}
		if !ev.Approved {
			e.logger.Warn("card authorization declined", "seq", f.Sequence)
		}

	case EventError:
		e.logger.Warn("unusable reply", "code", ev.Code, "error", ev.Err, "payload", hexDump(f.Payload))
	}

	e.publish(ev)
}

func (e *engine) publish(ev Event) {
	e.metrics.incEventCount()
	if !e.events.Publish(ev) {
		e.logger.Warn("event queue full, event dropped", "type", ev.Type)
	}
}

func (e *engine) queueScreen(p Picture) {
	e.internal = append(e.internal, &commandRequest{cmd: CmdShowPicture, payload: []byte{byte(p)}})
}

// queueIdleScreen queues the screen shown between payments when the
// terminal manages its screen.
func (e *engine) queueIdleScreen() {
	if !e.cfg.autoScreen {
		return
	}
	if e.connectState.Online() {
		e.queueScreen(PictureSelectGoods)
	} else {
		e.queueScreen(PictureUnavailable)
	}
}

// refreshScreen re-sends the idle screen once the refresh interval has passed
// without a screen update, so the terminal does not fall asleep.
func (e *engine) refreshScreen(now time.Time) {
	if !e.cfg.autoScreen || e.cfg.screenRefresh <= 0 || e.payment != nil || len(e.internal) > 0 {
		return
	}
	if now.Sub(e.lastScreen) < e.cfg.screenRefresh {
		return
	}

	e.logger.Debug("refresh idle screen", "since", now.Sub(e.lastScreen))
	e.lastScreen = now
	e.queueIdleScreen()
}

func (e *engine) expirePayment(now time.Time) {
	if e.payment != nil && now.Sub(e.payment.started) > e.cfg.paymentTimeout {
		e.logger.Debug("payment expired", "amount", e.payment.amount)
		e.payment = nil
		e.queueIdleScreen()
	}
}

// shutdown runs on the engine goroutine when the loop ends. Requests still
// waiting for the link are completed with ErrTerminalStopped.
func (e *engine) shutdown() {
	if e.current != nil {
		e.complete(ErrTerminalStopped)
	}
	e.sess.abort()
	e.metrics.setState(e.sess.state)

	for {
		select {
		case req := <-e.cmds:
			e.term.resolve(req.id, ErrTerminalStopped)
		default:
			return
		}
	}
}
