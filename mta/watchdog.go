package mta

import (
	"sync"
	"time"
)

// Watchdog is an idle timer bound to one connection. If Reset isn't called
// within the timeout the target is called, once, on the timer's goroutine.
type Watchdog struct {
	timeout time.Duration
	target  func()

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	disposed bool
	fired    bool
}

// NewWatchdog creates a stopped watchdog, a zero timeout disables it
func NewWatchdog(timeout time.Duration, target func()) *Watchdog {
	return &Watchdog{timeout: timeout, target: target}
}

// Start arms the timer
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed || w.timer != nil || w.timeout <= 0 {
		return
	}
	w.arm()
}

// Reset restarts the idle period
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed || w.timer == nil {
		return
	}
	w.timer.Stop()
	w.arm()
}

// Stop disposes the watchdog, calling it more than once is a no-op
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}
	w.disposed = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Fired reports whether the target was called
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// arm must be called with mu held
func (w *Watchdog) arm() {
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	// a Reset or Stop raced with the timer
	if w.disposed || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	w.fired = true
	w.mu.Unlock()
	w.target()
}
