// Package tracker implements the websocket change-feed tracker.
//
// The Tracker:
//   - Resolves the feed URL and composes the handshake request
//     (headers, cookie jar, authorizer, TLS)
//   - Confines every transport event to one owning goroutine via an
//     event queue, so tracker state needs no locks
//   - Sends the feed options as the first frame after the upgrade
//   - Parses inbound change batches and detects the caught-up transition
//   - Pauses transport reads when too many messages are in flight
//   - Hands reconnect decisions to an external retry policy
package tracker
