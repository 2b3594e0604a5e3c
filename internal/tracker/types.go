package tracker

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mekentosj/changefeed/internal/auth"
	"github.com/mekentosj/changefeed/internal/changes"
)

// Errors
var (
	ErrAlreadyRunning = errors.New("tracker already running")
	ErrClosed         = errors.New("tracker closed")
	ErrNotConnected   = errors.New("not connected")
	ErrMissingURL     = errors.New("database URL is required")
	ErrUnhandledType  = errors.New("unhandled websocket message type")
)

// HandshakeError is a handshake failure that carried an HTTP status.
type HandshakeError struct {
	StatusCode int
	URL        string
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("change feed handshake failed with status %d (%s): %v", e.StatusCode, e.URL, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// AbnormalCloseError is a non-clean connection closure.
type AbnormalCloseError struct {
	Code   int
	Reason string
	URL    string
}

func (e *AbnormalCloseError) Error() string {
	return fmt.Sprintf("change feed closed abnormally with code %d: %q (%s)", e.Code, e.Reason, e.URL)
}

// Handler receives tracker callbacks. All methods are invoked on the
// tracker's owning goroutine; they must not call back into the same tracker.
type Handler interface {
	// Change is called for each parsed change entry, in feed order.
	Change(c changes.Change)

	// CaughtUp is called once per connection when the peer reports an empty
	// batch: no more backlog changes right now.
	CaughtUp()

	// Failed is called exactly once per failure path. The connection has
	// already been discarded; the retry policy decides on reconnection.
	Failed(err error)
}

// RetryFunc decides whether and when to reconnect after the attempt-th
// consecutive failure (attempt starts at 1). Returning false gives up.
type RetryFunc func(attempt int) (time.Duration, bool)

// Config configures a Tracker.
type Config struct {
	// DatabaseURL is the base database URL; the tracker appends
	// "_changes?feed=websocket" to it.
	DatabaseURL string

	// Options are sent as the first text frame after the upgrade.
	Options changes.FeedOptions

	// Headers are applied to the handshake request. A header named "Cookie"
	// (any case) disables automatic cookie-jar injection for the request.
	Headers http.Header

	// Heartbeat is the expected feed heartbeat interval. The handshake
	// timeout and read deadline are 1.5x this value.
	Heartbeat time.Duration

	// Jar supplies cookies for the resolved feed URL. Must support
	// concurrent reads.
	Jar http.CookieJar

	// Authorizer contributes the Authorization header, if any.
	Authorizer auth.Authorizer

	// TLS is the consumer TLS configuration; cloned before use.
	TLS *tls.Config

	// VerifyPeer, when set, decides whether to trust the peer certificate.
	// The decision runs on the owning goroutine while the TLS handshake
	// blocks; a non-nil error aborts the handshake attempt.
	VerifyPeer func(rawCerts [][]byte, chains [][]*x509.Certificate) error

	// MaxPendingMessages bounds messages received but not yet processed
	// before the transport is asked to pause reading.
	MaxPendingMessages int

	// Retry schedules reconnection after a failure. Nil disables reconnects.
	Retry RetryFunc
}

// Default values for optional configuration fields.
const (
	DefaultHeartbeat          = 30 * time.Second
	DefaultMaxPendingMessages = 2

	writeTimeout = 5 * time.Second
	queueSize    = 64
)

func (c *Config) applyDefaults() {
	if c.Heartbeat == 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.MaxPendingMessages == 0 {
		c.MaxPendingMessages = DefaultMaxPendingMessages
	}
}

// State is the tracker lifecycle state. Stop tears the connection down
// synchronously, so Idle doubles as the closed state between runs.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateFailed     State = "failed"
)

// Stats is a snapshot of tracker state.
type Stats struct {
	State     State
	Running   bool
	CaughtUp  bool
	Pending   int
	Retries   int
	StartedAt time.Time
}
