package chat

import (
	"sync"
	"time"
)

// Debounce defers a function until a quiet interval has elapsed. Each
// Trigger rearms the timer; only the last scheduled function runs. A
// Debounce is owned by a single component instance and must be canceled
// when that instance is torn down.
type Debounce struct {
	mu    sync.Mutex
	after time.Duration
	timer *time.Timer
}

// NewDebounce creates a debouncer with the given quiet interval.
func NewDebounce(after time.Duration) *Debounce {
	return &Debounce{after: after}
}

// Trigger schedules fn to run once the quiet interval elapses, replacing
// any previously scheduled function.
func (d *Debounce) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.after, fn)
}

// Cancel drops any scheduled function. Safe to call when nothing is
// scheduled.
func (d *Debounce) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
