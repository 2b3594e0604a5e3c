package follow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mekentosj/changefeed/internal/changes"
)

// ChangeStore is the subset of the store the follower writes through.
type ChangeStore interface {
	SaveChanges(ctx context.Context, entries []changes.Change) (inserted, duplicates int, err error)
	SaveCheckpoint(ctx context.Context, feedURL string, seq changes.Sequence) error
}

// Config configures a Follower.
type Config struct {
	// FeedURL keys the checkpoint row.
	FeedURL string

	// BatchSize is the number of entries to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize bounds the hand-off channel between the tracker's owning
	// goroutine and the flush loop. Bounded on purpose: together with the
	// tracker's backpressure it caps what is in flight.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 1 * time.Second,
		BufferSize:    2000,
	}
}

// Stats holds follower counters.
type Stats struct {
	Received   int64
	Inserted   int64
	Duplicates int64
	Flushes    int64
	Errors     int64
	Failures   int64
}

// Follower implements tracker.Handler, batching changes into the store and
// checkpointing the latest sequence.
type Follower struct {
	cfg    Config
	store  ChangeStore
	logger *slog.Logger

	input chan changes.Change

	caughtUpOnce sync.Once
	caughtUpCh   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Flush-loop state
	batch   []changes.Change
	lastSeq changes.Sequence

	mu    sync.Mutex
	stats Stats
}

// New creates a Follower writing through store.
func New(cfg Config, store ChangeStore, logger *slog.Logger) *Follower {
	if logger == nil {
		logger = slog.Default()
	}
	return &Follower{
		cfg:        cfg,
		store:      store,
		logger:     logger,
		input:      make(chan changes.Change, cfg.BufferSize),
		caughtUpCh: make(chan struct{}),
		ctx:        context.Background(),
		batch:      make([]changes.Change, 0, cfg.BatchSize),
	}
}

// Start begins the flush loop.
func (f *Follower) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.flushLoop()

	f.logger.Info("follower started",
		"feed_url", f.cfg.FeedURL,
		"batch_size", f.cfg.BatchSize,
		"flush_interval", f.cfg.FlushInterval,
	)
	return nil
}

// Stop drains pending entries, performs a final flush, and shuts down.
func (f *Follower) Stop(ctx context.Context) error {
	f.logger.Info("stopping follower")

	if f.cancel != nil {
		f.cancel()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("follower stopped")
	case <-ctx.Done():
		f.logger.Warn("follower stop timed out")
	}
	return nil
}

// Change receives one entry from the tracker. Runs on the tracker's owning
// goroutine; blocks only when the buffer is full and the flush loop is
// behind, which the tracker's backpressure keeps rare.
func (f *Follower) Change(c changes.Change) {
	f.mu.Lock()
	f.stats.Received++
	f.mu.Unlock()

	select {
	case f.input <- c:
	case <-f.ctx.Done():
	}
}

// CaughtUp marks the feed as drained and releases CaughtUpChan.
func (f *Follower) CaughtUp() {
	f.logger.Info("change feed caught up", "feed_url", f.cfg.FeedURL)
	f.caughtUpOnce.Do(func() {
		close(f.caughtUpCh)
	})
}

// Failed records a feed failure. Reconnection is the retry policy's call.
func (f *Follower) Failed(err error) {
	f.mu.Lock()
	f.stats.Failures++
	f.mu.Unlock()
	f.logger.Error("change feed failed", "error", err)
}

// CaughtUpChan is closed the first time the feed reports no backlog.
func (f *Follower) CaughtUpChan() <-chan struct{} {
	return f.caughtUpCh
}

// Stats returns current counters.
func (f *Follower) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// flushLoop accumulates entries and flushes by size or interval.
func (f *Follower) flushLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			f.drain()
			f.flush()
			return
		case c := <-f.input:
			f.batch = append(f.batch, c)
			f.lastSeq = c.Seq
			if len(f.batch) >= f.cfg.BatchSize {
				f.flush()
			}
		case <-ticker.C:
			f.flush()
		}
	}
}

// drain empties the buffer into the batch during shutdown.
func (f *Follower) drain() {
	for {
		select {
		case c := <-f.input:
			f.batch = append(f.batch, c)
			f.lastSeq = c.Seq
		default:
			return
		}
	}
}

// flush writes the batch and checkpoints the latest sequence. Uses a fresh
// context so the final flush still lands during shutdown.
func (f *Follower) flush() {
	if len(f.batch) == 0 {
		return
	}

	batch := f.batch
	f.batch = make([]changes.Change, 0, f.cfg.BatchSize)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	inserted, duplicates, err := f.store.SaveChanges(ctx, batch)
	if err != nil {
		f.logger.Error("flush failed", "error", err, "count", len(batch))
		f.mu.Lock()
		f.stats.Errors++
		f.mu.Unlock()
		return
	}

	if err := f.store.SaveCheckpoint(ctx, f.cfg.FeedURL, f.lastSeq); err != nil {
		f.logger.Error("checkpoint failed", "error", err, "seq", f.lastSeq.String())
		f.mu.Lock()
		f.stats.Errors++
		f.mu.Unlock()
	}

	f.mu.Lock()
	f.stats.Inserted += int64(inserted)
	f.stats.Duplicates += int64(duplicates)
	f.stats.Flushes++
	f.mu.Unlock()

	f.logger.Debug("flushed changes",
		"count", len(batch),
		"duplicates", duplicates,
		"last_seq", f.lastSeq.String(),
		"duration", time.Since(start),
	)
}
