package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// conn is one websocket connection attempt. Exactly one conn is current at a
// time; events from a superseded conn are rejected by identity check. The
// pending counter is per-conn so late events from a superseded conn cannot
// corrupt the current one's count.
type conn struct {
	id      string
	feedURL string
	gate    *readGate
	cancel  context.CancelFunc
	pending atomic.Int64

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

func newConn(feedURL string, cancel context.CancelFunc) *conn {
	return &conn{
		id:      uuid.NewString(),
		feedURL: feedURL,
		gate:    newReadGate(),
		cancel:  cancel,
	}
}

// adopt installs the dialed websocket. Returns false if the conn was closed
// while the handshake was in flight; the caller must discard ws.
func (c *conn) adopt(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ws = ws
	return true
}

// send writes a text frame. Only the owning goroutine sends data frames, so
// no write serialization beyond the deadline is needed.
func (c *conn) send(data []byte) error {
	c.mu.Lock()
	ws, closed := c.ws, c.closed
	c.mu.Unlock()

	if closed || ws == nil {
		return ErrNotConnected
	}
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame with the given code and tears the transport down.
// Idempotent; also aborts an in-flight handshake.
func (c *conn) close(code int, reason string) {
	c.cancel()
	c.gate.close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.ws != nil {
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		c.ws.Close()
	}
}

// readGate pauses the transport read loop without dropping already-received
// messages: a paused gate withholds the next ReadMessage call only.
// Backpressure and consumer pause are independent reasons; the loop stays
// paused while either is set.
type readGate struct {
	mu   sync.Mutex
	cond *sync.Cond

	backpressured bool
	consumerHeld  bool
	closed        bool
}

func newReadGate() *readGate {
	g := &readGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// wait blocks while the gate is paused. Returns false once the gate is closed.
func (g *readGate) wait() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for (g.backpressured || g.consumerHeld) && !g.closed {
		g.cond.Wait()
	}
	return !g.closed
}

func (g *readGate) setBackpressure(on bool) {
	g.mu.Lock()
	g.backpressured = on
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *readGate) setConsumerHold(on bool) {
	g.mu.Lock()
	g.consumerHeld = on
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *readGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}
