package clock

import (
	"sync"
	"time"
)

// Debouncer runs fn once the trigger stream has been quiet for delay.
type Debouncer struct {
	clock Clock
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   Timer
	gen     uint64
	stopped bool
}

// NewDebouncer creates a debouncer. fn runs on the clock's callback goroutine.
func NewDebouncer(c Clock, delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{clock: c, delay: delay, fn: fn}
}

// Trigger restarts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.fire(gen)
	})
}

// Pending reports whether a trigger is waiting for its quiet period.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Flush runs fn immediately if a trigger is pending. It reports whether fn ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.timer == nil {
		d.mu.Unlock()
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	d.mu.Unlock()

	d.fn()
	return true
}

// Cancel drops a pending trigger without running fn.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Stop cancels any pending trigger and ignores future ones.
func (d *Debouncer) Stop() {
	d.Cancel()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// A stale timer lost the race with Stop in Trigger/Flush/Cancel.
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}
