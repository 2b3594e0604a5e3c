// Package store persists change-feed entries and per-feed checkpoints in
// PostgreSQL.
//
// The change log is idempotent: entries are keyed by (doc_id, rev) and
// re-delivered entries are counted as duplicates rather than inserted twice,
// so replaying a feed from an old checkpoint is safe.
package store
