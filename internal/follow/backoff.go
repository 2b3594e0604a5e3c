package follow

import (
	"math/rand/v2"
	"time"

	"github.com/mekentosj/changefeed/internal/tracker"
)

// Backoff is an exponential reconnect-delay policy with jitter.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int // 0 = retry forever
}

// RetryFunc returns the policy as the tracker's retry function.
func (b Backoff) RetryFunc() tracker.RetryFunc {
	return b.Next
}

// Next returns the delay before the attempt-th reconnect (attempt starts
// at 1), or false once the policy gives up. The delay doubles per attempt,
// capped at Max (an hour when Max is zero), with jitter of 0.5x to 1.5x.
func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if b.MaxRetries > 0 && attempt > b.MaxRetries {
		return 0, false
	}

	wait := b.Base
	if wait <= 0 {
		wait = time.Second
	}
	limit := b.Max
	if limit <= 0 {
		limit = time.Hour // uncapped policies still top out somewhere sane
	}
	for i := 1; i < attempt && wait < limit; i++ {
		wait *= 2
	}
	if wait > limit {
		wait = limit
	}

	// Add jitter: wait * (0.5 to 1.5)
	jittered := wait/2 + time.Duration(rand.Int64N(int64(wait)))
	return jittered, true
}
