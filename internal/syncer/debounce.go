package syncer

import (
	"sync"
	"time"
)

// Debouncer runs fn once activity has been quiet for delay. Each Trigger
// cancels the pending run and schedules a new one. If maxWait is positive, a
// burst of triggers cannot push the run further than maxWait past the first
// trigger of the burst.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	maxWait time.Duration
	fn      func()

	timer   *time.Timer
	first   time.Time
	gen     uint64
	stopped bool
}

func NewDebouncer(delay, maxWait time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, maxWait: maxWait, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	now := time.Now()
	if d.timer == nil {
		d.first = now
	} else {
		d.timer.Stop()
	}

	wait := d.delay
	if d.maxWait > 0 {
		if remaining := d.maxWait - now.Sub(d.first); remaining < wait {
			wait = max(remaining, 0)
		}
	}

	// A timer that already fired can't be stopped; the generation check in
	// fire drops it.
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(wait, func() { d.fire(gen) })
}

// Cancel drops the pending run, reporting whether there was one.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any pending run and ignores later triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

func (d *Debouncer) cancelLocked() bool {
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	return true
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}
