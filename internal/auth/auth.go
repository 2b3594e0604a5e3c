// Package auth provides the Authorizer capability used to authenticate the
// change-feed handshake.
package auth

import (
	"encoding/base64"
	"net/url"
)

// Authorizer supplies the Authorization header value for a feed request.
// An empty return means no header is added. Implementations must be safe for
// concurrent reads: several trackers may share one authorizer.
type Authorizer interface {
	// AuthorizationHeader returns the header value for the given feed URL.
	AuthorizationHeader(u *url.URL) string
}

// BasicAuthorizer authenticates with HTTP Basic credentials.
type BasicAuthorizer struct {
	Username string
	Password string
}

// NewBasicAuthorizer creates a Basic authorizer.
func NewBasicAuthorizer(username, password string) *BasicAuthorizer {
	return &BasicAuthorizer{Username: username, Password: password}
}

// FromURL extracts Basic credentials from the URL's userinfo section.
// Returns nil if the URL carries no username.
func FromURL(u *url.URL) *BasicAuthorizer {
	if u == nil || u.User == nil {
		return nil
	}
	username := u.User.Username()
	if username == "" {
		return nil
	}
	password, _ := u.User.Password()
	return &BasicAuthorizer{Username: username, Password: password}
}

// AuthorizationHeader returns the Basic header value.
func (a *BasicAuthorizer) AuthorizationHeader(_ *url.URL) string {
	if a.Username == "" {
		return ""
	}
	creds := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	return "Basic " + creds
}

// TokenAuthorizer authenticates with a Bearer token.
type TokenAuthorizer struct {
	Token string
}

// NewTokenAuthorizer creates a Bearer authorizer.
func NewTokenAuthorizer(token string) *TokenAuthorizer {
	return &TokenAuthorizer{Token: token}
}

// AuthorizationHeader returns the Bearer header value.
func (a *TokenAuthorizer) AuthorizationHeader(_ *url.URL) string {
	if a.Token == "" {
		return ""
	}
	return "Bearer " + a.Token
}
