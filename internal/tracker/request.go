package tracker

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/mekentosj/changefeed/internal/auth"
)

// handshake holds everything needed to open one connection. Building it has
// no side effects; nothing is dialed here.
type handshake struct {
	feedURL string
	header  http.Header
	dialer  *websocket.Dialer
}

// buildHandshake resolves the feed URL and composes the upgrade request:
// consumer headers, cookie jar, authorizer, TLS settings.
func (t *Tracker) buildHandshake() (*handshake, error) {
	u, err := resolveFeedURL(t.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.cfg.Heartbeat * 3 / 2,
	}

	header := http.Header{}
	hasCookieHeader := false
	for name, values := range t.cfg.Headers {
		if strings.EqualFold(name, "Cookie") {
			hasCookieHeader = true
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}

	// An explicit Cookie header takes over cookie handling for this request.
	if !hasCookieHeader {
		dialer.Jar = t.cfg.Jar
	}

	if az := t.authorizer(); az != nil {
		if v := az.AuthorizationHeader(u); v != "" {
			header.Set("Authorization", v)
		}
	}

	dialer.TLSClientConfig = t.buildTLSConfig()

	return &handshake{
		feedURL: u.String(),
		header:  header,
		dialer:  dialer,
	}, nil
}

// authorizer returns the configured authorizer, falling back to Basic
// credentials embedded in the database URL.
func (t *Tracker) authorizer() auth.Authorizer {
	if t.cfg.Authorizer != nil {
		return t.cfg.Authorizer
	}
	u, err := url.Parse(t.cfg.DatabaseURL)
	if err != nil {
		return nil
	}
	if a := auth.FromURL(u); a != nil {
		return a
	}
	return nil
}

// buildTLSConfig clones the consumer TLS settings and chains the trust hook
// so the decision runs on the owning goroutine.
func (t *Tracker) buildTLSConfig() *tls.Config {
	var tc *tls.Config
	if t.cfg.TLS != nil {
		tc = t.cfg.TLS.Clone()
	}
	if t.cfg.VerifyPeer == nil {
		return tc
	}
	if tc == nil {
		tc = &tls.Config{}
	}

	inner := tc.VerifyPeerCertificate
	tc.VerifyPeerCertificate = func(rawCerts [][]byte, chains [][]*x509.Certificate) error {
		if inner != nil {
			if err := inner(rawCerts, chains); err != nil {
				return err
			}
		}
		// Blocking hand-off: the dial goroutine waits for a real decision
		// from the owning goroutine before the handshake proceeds.
		var verdict error
		if err := t.q.call(func() {
			verdict = t.cfg.VerifyPeer(rawCerts, chains)
		}); err != nil {
			return err
		}
		return verdict
	}
	return tc
}

// resolveFeedURL appends the changes-feed path and query to the base database
// URL and maps the scheme to its websocket form.
func resolveFeedURL(base string) (*url.URL, error) {
	if base == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/_changes"
	u.RawQuery = "feed=websocket"
	u.User = nil

	return u, nil
}
