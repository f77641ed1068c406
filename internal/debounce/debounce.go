// Package debounce turns bursts of triggers into a single signal delivered
// once the burst has gone quiet. The signal arrives on a channel so the
// owner can handle it on its own goroutine, next to its other events.
package debounce

import (
	"sync"
	"time"
)

// Debouncer signals on C after Trigger has not been called for the quiet
// period. Signals that are not yet received coalesce into one.
type Debouncer struct {
	quiet time.Duration
	fired chan struct{}

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64 // bumped on every Trigger/Cancel/Flush; stale timers check it
	pending    bool
	bursts     int // triggers folded into the pending signal
}

// New creates a debouncer with the given quiet period.
func New(quiet time.Duration) *Debouncer {
	return &Debouncer{
		quiet: quiet,
		fired: make(chan struct{}, 1),
	}
}

// C delivers one value per quiet burst.
func (d *Debouncer) C() <-chan struct{} {
	return d.fired
}

// Trigger restarts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	gen := d.generation
	d.pending = true
	d.bursts++
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.generation || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.bursts = 0
	d.timer = nil
	d.mu.Unlock()

	d.signal()
}

func (d *Debouncer) signal() {
	select {
	case d.fired <- struct{}{}:
	default:
	}
}

// Pending reports whether a signal is scheduled and how many triggers it
// covers.
func (d *Debouncer) Pending() (bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending, d.bursts
}

// Flush signals now if a burst is pending instead of waiting out the quiet
// period. Reports whether it signalled.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	d.stopLocked()
	d.mu.Unlock()

	d.signal()
	return true
}

// Cancel drops the pending burst and any signal not yet received.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()

	select {
	case <-d.fired:
	default:
	}
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.generation++
	d.pending = false
	d.bursts = 0
}
