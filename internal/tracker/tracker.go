package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mekentosj/changefeed/internal/changes"
)

// Tracker follows a remote change feed over a single websocket connection.
// All state below lives on the owning goroutine (the event queue worker);
// the transport goroutine never touches it directly.
type Tracker struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	q       *eventQueue

	// Owning-goroutine state. No locks: every mutation funnels through q.
	state        State
	running      bool
	caughtUp     bool
	consumerHeld bool
	startedAt    time.Time
	retries      int
	current      *conn
	restartTimer *time.Timer
	baseCtx      context.Context
}

// New creates a Tracker delivering callbacks to h.
func New(cfg Config, h Handler, logger *slog.Logger) (*Tracker, error) {
	if cfg.DatabaseURL == "" {
		return nil, ErrMissingURL
	}
	if h == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Tracker{
		cfg:     cfg,
		handler: h,
		logger:  logger,
		q:       newEventQueue(queueSize),
		state:   StateIdle,
		baseCtx: context.Background(),
	}, nil
}

// Start opens the feed connection. Fails with ErrAlreadyRunning if the
// tracker is already started; the current connection is left untouched.
// The dial itself happens on the transport goroutine; Start returns once the
// tracker state is armed.
func (t *Tracker) Start(ctx context.Context) error {
	var err error
	if cerr := t.q.call(func() { err = t.startLocked(ctx) }); cerr != nil {
		return cerr
	}
	return err
}

// Stop cancels any scheduled reconnect, closes the transport if open, and
// returns the tracker to idle. Idempotent; callable in any state. No message
// effects occur after Stop returns, even for already-queued transport events.
func (t *Tracker) Stop() {
	t.q.call(t.stopLocked)
}

// SetPaused pauses or resumes feed reading on behalf of the consumer.
// Pausing withholds new message delivery; it never drops received messages.
func (t *Tracker) SetPaused(paused bool) {
	t.q.call(func() {
		t.consumerHeld = paused
		c := t.current
		if c == nil {
			return
		}
		c.gate.setConsumerHold(paused)
		if !paused {
			t.maybeResume(c)
		}
	})
}

// Stats returns a snapshot of tracker state.
func (t *Tracker) Stats() Stats {
	var s Stats
	t.q.call(func() {
		s = Stats{
			State:     t.state,
			Running:   t.running,
			CaughtUp:  t.caughtUp,
			Retries:   t.retries,
			StartedAt: t.startedAt,
		}
		if t.current != nil {
			s.Pending = int(t.current.pending.Load())
		}
	})
	return s
}

// Close stops the tracker and tears down the owning goroutine. The tracker
// is unusable afterwards.
func (t *Tracker) Close() {
	t.q.call(t.stopLocked)
	t.q.close()
}

func (t *Tracker) startLocked(ctx context.Context) error {
	if t.running {
		return ErrAlreadyRunning
	}
	if ctx != nil {
		t.baseCtx = ctx
	}
	t.running = true
	t.startedAt = time.Now()
	t.retries = 0
	if err := t.openConn(); err != nil {
		t.running = false
		return err
	}
	return nil
}

// openConn creates a fresh connection and hands it to the dial goroutine.
// Shared by Start and scheduled reconnects.
func (t *Tracker) openConn() error {
	hs, err := t.buildHandshake()
	if err != nil {
		return err
	}

	t.caughtUp = false
	t.state = StateConnecting

	dialCtx, cancel := context.WithCancel(t.baseCtx)
	c := newConn(hs.feedURL, cancel)
	if t.consumerHeld {
		c.gate.setConsumerHold(true)
	}
	t.current = c

	t.logger.Debug("opening change feed",
		"url", hs.feedURL,
		"conn_id", c.id,
	)

	go t.dial(dialCtx, c, hs)
	return nil
}

func (t *Tracker) stopLocked() {
	if t.restartTimer != nil {
		t.restartTimer.Stop()
		t.restartTimer = nil
	}
	t.running = false

	if c := t.current; c != nil {
		t.current = nil
		c.close(websocket.CloseNormalClosure, "")
		t.logger.Debug("change feed stopped", "conn_id", c.id)
	}
	t.state = StateIdle
}

// dial runs on the transport goroutine: it performs the handshake, then
// turns into the read loop. Every outcome crosses back to the owning
// goroutine through the event queue.
func (t *Tracker) dial(ctx context.Context, c *conn, hs *handshake) {
	ws, resp, err := hs.dialer.DialContext(ctx, hs.feedURL, hs.header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.q.post(func() { t.handleDialError(c, err, status) })
		return
	}

	if !c.adopt(ws) {
		// Superseded while the handshake was in flight.
		ws.Close()
		return
	}

	t.q.post(func() { t.handleOpen(c) })
	t.readLoop(c, ws)
}

// readLoop reads frames, counts them in flight, and posts them to the owning
// goroutine. Reaching the pending bound pauses the gate before the next read.
func (t *Tracker) readLoop(c *conn, ws *websocket.Conn) {
	readTimeout := t.cfg.Heartbeat * 3 / 2

	for {
		if !c.gate.wait() {
			return
		}

		ws.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason := ce.Code, ce.Text
				t.q.post(func() { t.handleClose(c, code, reason) })
			} else {
				t.q.post(func() { t.handleError(c, err) })
			}
			return
		}

		if c.pending.Add(1) >= int64(t.cfg.MaxPendingMessages) {
			c.gate.setBackpressure(true)
		}
		t.q.post(func() { t.handleMessage(c, msgType, data) })
	}
}

// handleOpen runs when the handshake succeeded: reset the retry counter and
// send the feed options as the first outbound frame. Options travel
// post-upgrade so the initiating request stays a plain GET.
func (t *Tracker) handleOpen(c *conn) {
	if c != t.current || !t.running {
		c.close(websocket.CloseNormalClosure, "")
		return
	}

	t.retries = 0
	t.state = StateOpen

	opts, err := json.Marshal(t.cfg.Options)
	if err != nil {
		t.fail(c, websocket.CloseInternalServerErr, "", fmt.Errorf("encode feed options: %w", err))
		return
	}
	if err := c.send(opts); err != nil {
		t.fail(c, websocket.CloseNormalClosure, "", fmt.Errorf("send feed options: %w", err))
		return
	}

	t.logger.Info("change feed open",
		"url", c.feedURL,
		"conn_id", c.id,
	)
}

// handleMessage is the pump: decode, parse, detect catch-up. The pending
// counter is decremented whatever the outcome, then resume is re-evaluated.
func (t *Tracker) handleMessage(c *conn, msgType int, data []byte) {
	defer t.finishMessage(c)

	if c != t.current || !t.running {
		return
	}

	if msgType != websocket.TextMessage {
		t.fail(c, websocket.CloseUnsupportedData, "unhandled type",
			fmt.Errorf("%w: %d", ErrUnhandledType, msgType))
		return
	}

	parser := changes.NewBatchParser(t.handler.Change)
	parser.Feed(data)
	n, err := parser.Finish()
	if err != nil {
		t.fail(c, websocket.CloseUnsupportedData, "unhandled type",
			fmt.Errorf("unparseable change entry: %w", err))
		return
	}

	if n == 0 && !t.caughtUp {
		t.caughtUp = true
		t.logger.Debug("caught up with change feed", "conn_id", c.id)
		t.handler.CaughtUp()
	}
}

// finishMessage decrements the in-flight count and lifts backpressure once
// the count drops below the bound. A superseded conn decrements its own
// counter, so the invariant holds across reconnects.
func (t *Tracker) finishMessage(c *conn) {
	n := c.pending.Add(-1)
	if c == t.current && t.running {
		if n < int64(t.cfg.MaxPendingMessages) {
			t.maybeResume(c)
		}
	}
}

func (t *Tracker) maybeResume(c *conn) {
	if !t.consumerHeld && c.pending.Load() < int64(t.cfg.MaxPendingMessages) {
		c.gate.setBackpressure(false)
	}
}

// handleDialError translates a transport-carried HTTP status and routes the
// failure upward.
func (t *Tracker) handleDialError(c *conn, err error, status int) {
	if c != t.current || !t.running {
		return
	}
	if status != 0 {
		err = &HandshakeError{StatusCode: status, URL: c.feedURL, Err: err}
	} else {
		err = fmt.Errorf("change feed dial (%s): %w", c.feedURL, err)
	}
	t.fail(c, websocket.CloseNormalClosure, "", err)
}

func (t *Tracker) handleError(c *conn, err error) {
	if c != t.current || !t.running {
		return
	}
	t.fail(c, websocket.CloseNormalClosure, "", fmt.Errorf("change feed read: %w", err))
}

// handleClose maps a peer close frame: the normal code is a graceful stop,
// anything else is a failure carrying the reason and feed URL.
func (t *Tracker) handleClose(c *conn, code int, reason string) {
	if c != t.current || !t.running {
		return
	}
	if code == websocket.CloseNormalClosure {
		t.logger.Debug("change feed closed cleanly", "conn_id", c.id)
		t.stopLocked()
		return
	}
	t.fail(c, websocket.CloseNormalClosure, "", &AbnormalCloseError{
		Code:   code,
		Reason: reason,
		URL:    c.feedURL,
	})
}

// fail discards the connection, reports exactly one error, and hands the
// reconnect decision to the retry policy.
func (t *Tracker) fail(c *conn, closeCode int, closeReason string, err error) {
	if c != t.current {
		return
	}
	t.current = nil
	t.state = StateFailed
	c.close(closeCode, closeReason)

	t.logger.Warn("change feed failed",
		"conn_id", c.id,
		"error", err,
	)
	t.handler.Failed(err)
	t.scheduleRetry()
}

// scheduleRetry arms the reconnect timer. Delay computation belongs to the
// external policy; the tracker only arms and cancels.
func (t *Tracker) scheduleRetry() {
	if !t.running || t.cfg.Retry == nil {
		t.running = false
		return
	}

	t.retries++
	delay, ok := t.cfg.Retry(t.retries)
	if !ok {
		t.logger.Info("retry policy gave up", "retries", t.retries)
		t.running = false
		return
	}

	t.logger.Debug("reconnect scheduled",
		"attempt", t.retries,
		"delay", delay,
	)
	t.restartTimer = time.AfterFunc(delay, func() {
		t.q.post(t.reconnect)
	})
}

func (t *Tracker) reconnect() {
	t.restartTimer = nil
	if !t.running || t.current != nil {
		return
	}
	if err := t.openConn(); err != nil {
		t.state = StateFailed
		t.handler.Failed(err)
		t.scheduleRetry()
	}
}
