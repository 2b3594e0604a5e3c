package tracker

import (
	"errors"
	"sync"
	"testing"
)

func TestEventQueue_PostPreservesOrder(t *testing.T) {
	q := newEventQueue(64)
	defer q.close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 50; i++ {
		i := i
		q.post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 49 {
				close(done)
			}
		})
	}

	<-done
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d ran out of order: got %d", i, v)
		}
	}
}

func TestEventQueue_CallBlocksUntilRun(t *testing.T) {
	q := newEventQueue(4)
	defer q.close()

	ran := false
	if err := q.call(func() { ran = true }); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !ran {
		t.Error("call returned before the thunk ran")
	}
}

func TestEventQueue_Closed(t *testing.T) {
	q := newEventQueue(4)
	q.close()

	if q.post(func() { t.Error("posted thunk ran after close") }) {
		t.Error("post should report false after close")
	}
	if err := q.call(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("call after close = %v, want ErrClosed", err)
	}

	// Closing again is a no-op.
	q.close()
}
