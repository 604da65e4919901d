package timeutil

import (
	"sync"
	"time"
)

// Timer is a restartable, cancelable one-shot timer. Start arms it,
// Cancel disarms it; a callback from a superseded arming never fires.
// Safe for concurrent use and for repeated Cancel calls.
type Timer struct {
	mu  sync.Mutex
	gen uint64
	t   *time.Timer
}

func NewTimer() *Timer {
	return &Timer{}
}

// Start arms the timer to invoke fn after d, replacing any previous
// arming. fn runs on its own goroutine.
func (tm *Timer) Start(d time.Duration, fn func()) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.gen++
	gen := tm.gen
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.t = time.AfterFunc(d, func() {
		tm.mu.Lock()
		live := gen == tm.gen
		tm.mu.Unlock()
		if live {
			fn()
		}
	})
}

// Cancel disarms the timer. A callback that has not yet run will not run.
func (tm *Timer) Cancel() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.gen++
	if tm.t != nil {
		tm.t.Stop()
		tm.t = nil
	}
}
