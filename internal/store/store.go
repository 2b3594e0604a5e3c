package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mekentosj/changefeed/internal/changes"
)

// Store writes change entries and checkpoints to PostgreSQL.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on the given pool.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates the change log and checkpoint tables if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS changes (
			doc_id      TEXT NOT NULL,
			rev         TEXT NOT NULL,
			seq         TEXT NOT NULL,
			deleted     BOOLEAN NOT NULL DEFAULT FALSE,
			doc         JSONB,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (doc_id, rev)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			feed_url   TEXT PRIMARY KEY,
			last_seq   TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// changeRow is a row for the changes table.
type changeRow struct {
	DocID   string
	Rev     string
	Seq     string
	Deleted bool
	Doc     []byte
}

// transform converts a change entry to its row form. Entries without a
// revision id get the zero rev so the primary key still holds.
func transform(c changes.Change) changeRow {
	rev := "0"
	if revs := c.Revs(); len(revs) > 0 && revs[0] != "" {
		rev = revs[0]
	}
	var doc []byte
	if len(c.Doc) > 0 {
		doc = []byte(c.Doc)
	}
	return changeRow{
		DocID:   c.ID,
		Rev:     rev,
		Seq:     c.Seq.String(),
		Deleted: c.Deleted,
		Doc:     doc,
	}
}

// SaveChanges inserts entries using a batched INSERT with ON CONFLICT DO
// NOTHING. Returns how many rows were inserted and how many were duplicates.
func (s *Store) SaveChanges(ctx context.Context, entries []changes.Change) (inserted, duplicates int, err error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		r := transform(entry)
		batch.Queue(`
			INSERT INTO changes (doc_id, rev, seq, deleted, doc)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (doc_id, rev) DO NOTHING
		`, r.DocID, r.Rev, r.Seq, r.Deleted, r.Doc)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		ct, err := results.Exec()
		if err != nil {
			return 0, 0, fmt.Errorf("insert change: %w", err)
		}
		if ct.RowsAffected() == 0 {
			duplicates++
		} else {
			inserted++
		}
	}

	return inserted, duplicates, nil
}

// SaveCheckpoint upserts the last processed sequence for a feed URL.
func (s *Store) SaveCheckpoint(ctx context.Context, feedURL string, seq changes.Sequence) error {
	if seq.IsZero() {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO checkpoints (feed_url, last_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (feed_url) DO UPDATE
		SET last_seq = EXCLUDED.last_seq, updated_at = now()
	`, feedURL, seq.String())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LastCheckpoint returns the stored sequence for a feed URL, or the zero
// sequence when the feed has never checkpointed.
func (s *Store) LastCheckpoint(ctx context.Context, feedURL string) (changes.Sequence, error) {
	var lastSeq string
	err := s.db.QueryRow(ctx,
		`SELECT last_seq FROM checkpoints WHERE feed_url = $1`, feedURL,
	).Scan(&lastSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return changes.Sequence{}, nil
	}
	if err != nil {
		return changes.Sequence{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return changes.ParseSequence(lastSeq), nil
}
