// Package changes defines the change-feed data model and the batch parser
// shared by the feed transports.
//
// Conventions:
//   - Sequences are opaque: feeds emit numbers or strings, and the raw JSON
//     form is preserved so values round-trip into "since" options and
//     checkpoints unchanged.
//   - A batch is one feed message: a bare JSON array on the websocket feed,
//     or a {"results": [...], "last_seq": ...} envelope on polling feeds.
//   - Parsing is incremental (Feed then Finish) so transports can hand over
//     payload chunks as they arrive.
package changes
