package tracker

import "sync"

// eventQueue is the tracker's owning execution context: a single worker
// goroutine draining posted thunks in order. The transport posts its events
// here instead of touching tracker state from its own goroutines, so tracker
// fields need no locks.
type eventQueue struct {
	events chan func()
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newEventQueue(size int) *eventQueue {
	q := &eventQueue{
		events: make(chan func(), size),
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *eventQueue) run() {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			return
		case fn := <-q.events:
			fn()
		}
	}
}

// post schedules fn on the owning goroutine and returns immediately.
// Returns false if the queue is closed; fn will not run.
func (q *eventQueue) post(fn func()) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.events <- fn:
		return true
	case <-q.done:
		return false
	}
}

// call schedules fn on the owning goroutine and blocks until it has run.
// Returns ErrClosed if the queue closes before fn runs.
func (q *eventQueue) call(fn func()) error {
	ran := make(chan struct{})
	if !q.post(func() {
		fn()
		close(ran)
	}) {
		return ErrClosed
	}

	select {
	case <-ran:
		return nil
	case <-q.done:
		return ErrClosed
	}
}

// close stops the worker. Already-queued thunks are dropped.
func (q *eventQueue) close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}
