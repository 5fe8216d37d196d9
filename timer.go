package syncz

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Timer schedules a callback after an interval, either once or repeatedly.
// The callback runs on the timer's own goroutine with no timer-internal lock
// held, so it is free to take other locks -- the Condition timeout path
// relies on this to acquire the target SyncPoint's lock safely.
//
// Starting a running timer restarts it with the new interval. Stop is
// best-effort with respect to a callback that is already firing: a one-shot
// that has begun its callback cannot be recalled, so consumers that need an
// authoritative answer must re-check their own state inside the callback.
type Timer struct {
	name     Name
	fn       func()
	clock    clockz.Clock
	mu       sync.Mutex
	interval time.Duration
	stop     chan struct{}
	running  bool
}

// NewTimer creates a stopped timer that will invoke fn on each firing.
func NewTimer(name Name, fn func()) *Timer {
	return &Timer{name: name, fn: fn}
}

// Name returns the name of this timer.
func (t *Timer) Name() Name { return t.name }

// SetInterval sets the firing interval. If the timer is running with a
// different interval, it is restarted with the new one as by Start, so a
// timer armed with OneShot becomes a repeating timer.
func (t *Timer) SetInterval(d time.Duration) {
	t.mu.Lock()
	restart := t.running && t.interval != d
	t.interval = d
	t.mu.Unlock()

	if restart {
		t.Start(d)
	}
}

// Interval returns the configured firing interval.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Running reports whether the timer is armed.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start arms the timer to fire repeatedly every d.
func (t *Timer) Start(d time.Duration) {
	t.launch(d, true)
}

// OneShot arms the timer to fire once after d, then stop.
func (t *Timer) OneShot(d time.Duration) {
	t.launch(d, false)
}

// Stop disarms the timer if it is running.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// WithClock sets a custom clock for testing.
func (t *Timer) WithClock(clock clockz.Clock) *Timer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = clock
	return t
}

func (t *Timer) getClock() clockz.Clock {
	if t.clock == nil {
		return clockz.RealClock
	}
	return t.clock
}

func (t *Timer) launch(d time.Duration, repeat bool) {
	t.mu.Lock()
	t.stopLocked()
	t.interval = d
	stopCh := make(chan struct{})
	t.stop = stopCh
	t.running = true
	clock := t.getClock()
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-clock.After(d):
				t.fn()
				if !repeat {
					t.disarm(stopCh)
					return
				}
			case <-stopCh:
				return
			}
		}
	}()
}

// disarm clears the running state after a one-shot fires, unless the timer
// was stopped or restarted in the meantime.
func (t *Timer) disarm(stopCh chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == stopCh {
		t.running = false
		t.stop = nil
	}
}

func (t *Timer) stopLocked() {
	if t.running {
		close(t.stop)
		t.stop = nil
		t.running = false
	}
}
