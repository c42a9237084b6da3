// Package heartbeat implements the dead-man's switch that detects a silent push connection.
package heartbeat

import (
	"sync"
	"time"
)

// DefaultIntervalSec is how long the watchdog waits for a beat.
// The server sends a keep-alive every 30s, so two missed beats mean the connection is gone.
const DefaultIntervalSec = 60

// Watchdog fires its sleep callback once when Beat is not called within the interval.
// After firing it stays inert until the next Beat.
type Watchdog struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	gen      uint64
	onSleep  func()
}

// New creates a watchdog. A non-positive interval selects DefaultIntervalSec.
// The watchdog is not running until the first Beat.
func New(interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultIntervalSec * time.Second
	}
	return &Watchdog{
		interval: interval,
		onSleep:  func() {},
	}
}

// Interval returns the configured interval.
func (w *Watchdog) Interval() time.Duration {
	return w.interval
}

// SetOnSleep replaces the sleep callback. A nil fn installs a no-op.
func (w *Watchdog) SetOnSleep(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	w.mu.Lock()
	w.onSleep = fn
	w.mu.Unlock()
}

// Beat restarts the countdown.
func (w *Watchdog) Beat() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.interval, func() { w.fire(gen) })
}

// Stop halts the countdown without firing.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// fire runs the callback unless gen was superseded by a later Beat or Stop.
func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	fn := w.onSleep
	w.mu.Unlock()

	fn()
}
