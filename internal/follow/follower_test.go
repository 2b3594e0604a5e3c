package follow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mekentosj/changefeed/internal/changes"
)

// mockStore records saved changes and checkpoints.
type mockStore struct {
	mu          sync.Mutex
	saved       [][]changes.Change
	checkpoints []string
	failSave    bool
}

func (m *mockStore) SaveChanges(ctx context.Context, entries []changes.Change) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return 0, 0, errors.New("save failed")
	}
	m.saved = append(m.saved, entries)
	return len(entries), 0, nil
}

func (m *mockStore) SaveCheckpoint(ctx context.Context, feedURL string, seq changes.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = append(m.checkpoints, seq.String())
	return nil
}

func (m *mockStore) totalSaved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, batch := range m.saved {
		total += len(batch)
	}
	return total
}

func (m *mockStore) lastCheckpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.checkpoints) == 0 {
		return ""
	}
	return m.checkpoints[len(m.checkpoints)-1]
}

func entry(seq int) changes.Change {
	return changes.Change{
		Seq:     changes.ParseSequence(fmt.Sprintf("%d", seq)),
		ID:      fmt.Sprintf("doc-%d", seq),
		Changes: []changes.ChangeRev{{Rev: "1-a"}},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestFollower_FlushBySize(t *testing.T) {
	store := &mockStore{}
	f := New(Config{
		FeedURL:       "https://db.example.com/mydb",
		BatchSize:     5,
		FlushInterval: time.Hour, // size-triggered only
		BufferSize:    100,
	}, store, nil)

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop(context.Background())

	for i := 1; i <= 5; i++ {
		f.Change(entry(i))
	}

	waitFor(t, "size-triggered flush", func() bool { return store.totalSaved() == 5 })
	if got := store.lastCheckpoint(); got != "5" {
		t.Errorf("checkpoint = %q, want 5", got)
	}
}

func TestFollower_FlushByInterval(t *testing.T) {
	store := &mockStore{}
	f := New(Config{
		FeedURL:       "https://db.example.com/mydb",
		BatchSize:     1000,
		FlushInterval: 30 * time.Millisecond,
		BufferSize:    100,
	}, store, nil)

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop(context.Background())

	f.Change(entry(1))
	f.Change(entry(2))

	waitFor(t, "interval-triggered flush", func() bool { return store.totalSaved() == 2 })
}

func TestFollower_FinalFlushOnStop(t *testing.T) {
	store := &mockStore{}
	f := New(Config{
		FeedURL:       "https://db.example.com/mydb",
		BatchSize:     1000,
		FlushInterval: time.Hour,
		BufferSize:    100,
	}, store, nil)

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	f.Change(entry(1))
	f.Change(entry(2))
	f.Change(entry(3))

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := store.totalSaved(); got != 3 {
		t.Errorf("saved %d entries, want 3 after final flush", got)
	}
	if got := store.lastCheckpoint(); got != "3" {
		t.Errorf("checkpoint = %q, want 3", got)
	}
}

func TestFollower_CaughtUpChan(t *testing.T) {
	f := New(DefaultConfig(), &mockStore{}, nil)

	select {
	case <-f.CaughtUpChan():
		t.Fatal("CaughtUpChan closed before catch-up")
	default:
	}

	f.CaughtUp()
	f.CaughtUp() // once only

	select {
	case <-f.CaughtUpChan():
	default:
		t.Fatal("CaughtUpChan should be closed after CaughtUp")
	}
}

func TestFollower_SaveErrorCounted(t *testing.T) {
	store := &mockStore{failSave: true}
	f := New(Config{
		FeedURL:       "https://db.example.com/mydb",
		BatchSize:     1,
		FlushInterval: time.Hour,
		BufferSize:    100,
	}, store, nil)

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop(context.Background())

	f.Change(entry(1))

	waitFor(t, "error to be counted", func() bool { return f.Stats().Errors > 0 })
	if store.totalSaved() != 0 {
		t.Error("failed save should not record entries")
	}
}

func TestFollower_FailedCounted(t *testing.T) {
	f := New(DefaultConfig(), &mockStore{}, nil)
	f.Failed(errors.New("boom"))
	f.Failed(errors.New("boom again"))
	if got := f.Stats().Failures; got != 2 {
		t.Errorf("Failures = %d, want 2", got)
	}
}

func TestBackoff_Next(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 8 * time.Second}

	prevCap := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		delay, ok := b.Next(attempt)
		if !ok {
			t.Fatalf("attempt %d: policy gave up", attempt)
		}

		// Expected uncapped wait: Base * 2^(attempt-1), capped at Max.
		want := time.Second << (attempt - 1)
		if want > b.Max {
			want = b.Max
		}
		if delay < want/2 || delay > want*3/2 {
			t.Errorf("attempt %d: delay %v outside jitter range [%v, %v]", attempt, delay, want/2, want*3/2)
		}
		if want < prevCap {
			t.Errorf("attempt %d: cap decreased", attempt)
		}
		prevCap = want
	}
}

func TestBackoff_ZeroValues(t *testing.T) {
	// A zero-value field must never panic; Next falls back to sane defaults.
	b := Backoff{Base: time.Second}
	for attempt := 1; attempt <= 20; attempt++ {
		delay, ok := b.Next(attempt)
		if !ok {
			t.Fatalf("attempt %d: policy gave up with MaxRetries=0", attempt)
		}
		if delay <= 0 || delay > time.Hour*3/2 {
			t.Errorf("attempt %d: delay %v outside [0, 1.5h]", attempt, delay)
		}
	}

	delay, ok := Backoff{}.Next(1)
	if !ok {
		t.Fatal("zero-value policy gave up")
	}
	if delay < time.Second/2 || delay > time.Second*3/2 {
		t.Errorf("zero-value first delay %v outside jitter range", delay)
	}
}

func TestBackoff_GivesUp(t *testing.T) {
	b := Backoff{Base: time.Millisecond, Max: time.Second, MaxRetries: 3}

	for attempt := 1; attempt <= 3; attempt++ {
		if _, ok := b.Next(attempt); !ok {
			t.Fatalf("attempt %d: gave up too early", attempt)
		}
	}
	if _, ok := b.Next(4); ok {
		t.Error("attempt 4 should give up with MaxRetries=3")
	}
}

func TestBackoff_RetryFunc(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Max: time.Second}
	fn := b.RetryFunc()
	if fn == nil {
		t.Fatal("RetryFunc returned nil")
	}
	if _, ok := fn(1); !ok {
		t.Error("first attempt should retry")
	}
}
