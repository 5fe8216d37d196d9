package syncz

import (
	"math"
	"sync"

	"github.com/zoobzio/metricz"
)

// SyncPoint metric keys.
const (
	SyncPointWaitsTotal     = metricz.Key("syncpoint.waits.total")
	SyncPointImmediateTotal = metricz.Key("syncpoint.immediate.total")
	SyncPointWakesTotal     = metricz.Key("syncpoint.wakes.total")
	SyncPointCancelsTotal   = metricz.Key("syncpoint.cancels.total")
	SyncPointTimeoutsTotal  = metricz.Key("syncpoint.timeouts.total")
	SyncPointQueueDepth     = metricz.Key("syncpoint.queue.depth")
)

// SyncPoint is the core coordination object: a mutex-guarded FIFO queue of
// Waiters with wait, cancel, trigger, and destroy operations. It orders
// predicate tests, predicate-satisfying mutations, and wake-ups under a
// single mutual-exclusion domain.
//
// All predicates, completion handlers, and Wake hooks run while the lock is
// held. They must be short, must not block, and must never call back into
// the same SyncPoint -- re-entry deadlocks by construction. Suspend hooks
// must not block either; the actual parking happens in the waiter's own
// context after Wait returns.
//
// Waiter records are owned by their callers (typically stack-scoped to the
// wait); the SyncPoint holds references only while a record is queued.
type SyncPoint struct {
	mu        sync.Mutex
	waiters   []Waiter
	destroyed bool
	metrics   *metricz.Registry
}

// NewSyncPoint creates a SyncPoint with an initialized metrics registry.
func NewSyncPoint() *SyncPoint {
	metrics := metricz.New()
	metrics.Counter(SyncPointWaitsTotal)
	metrics.Counter(SyncPointImmediateTotal)
	metrics.Counter(SyncPointWakesTotal)
	metrics.Counter(SyncPointCancelsTotal)
	metrics.Counter(SyncPointTimeoutsTotal)
	metrics.Gauge(SyncPointQueueDepth)

	return &SyncPoint{metrics: metrics}
}

// Wait runs the wait protocol for w. Exactly one of three things happens
// under the lock:
//
//  1. The SyncPoint is destroyed: the record completes with StateDestroyed.
//  2. The predicate is already satisfied: the record completes with
//     StateSatisfied.
//  3. Otherwise the record is appended to the queue, moves to StateWaiting,
//     and w.Suspend runs.
//
// In cases 1 and 2 the wait is over when Wait returns. In case 3 the caller
// must park on its Tasking's ClientWait until a trigger, cancel, timeout, or
// destroy wakes it, then read the outcome from the record's State.
//
// The record must be fresh: reusing a Waiter whose state is not StateNone
// is a programming error and panics.
func (sp *SyncPoint) Wait(w Waiter) {
	rec := w.record()
	if rec.state != StateNone {
		panic("syncz: Wait called with a reused Waiter record")
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.metrics.Counter(SyncPointWaitsTotal).Inc()

	if sp.destroyed {
		rec.state = StateDestroyed
		w.OnComplete(StateDestroyed)
		return
	}

	if w.Predicate() {
		rec.state = StateSatisfied
		sp.metrics.Counter(SyncPointImmediateTotal).Inc()
		w.OnComplete(StateSatisfied)
		return
	}

	rec.idx = len(sp.waiters)
	rec.queued = true
	rec.state = StateWaiting
	sp.waiters = append(sp.waiters, w)
	sp.metrics.Gauge(SyncPointQueueDepth).Set(float64(len(sp.waiters)))
	w.Suspend()
}

// Cancel removes w from the queue and completes it with StateCanceled.
// It returns false if the record is not queued -- already satisfied, timed
// out, destroyed, or never enqueued. When Cancel returns true, OnComplete
// has already run and the waiter has been woken.
//
// Races between cancellation and satisfaction are resolved by the lock:
// whichever acquires it first determines the terminal state.
func (sp *SyncPoint) Cancel(w Waiter) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	rec := w.record()
	if !rec.queued {
		return false
	}

	sp.removeLocked(rec.idx)
	rec.queued = false
	rec.state = StateCanceled
	sp.metrics.Counter(SyncPointCancelsTotal).Inc()
	w.OnComplete(StateCanceled)
	w.Wake()
	return true
}

// Trigger runs fn under the lock, then wakes every queued waiter whose
// predicate now passes. fn may be nil for a pure wake pass. The mutation
// happens-before all predicate evaluations it induces. No-op after Destroy.
func (sp *SyncPoint) Trigger(fn func()) {
	sp.triggerN(func() int {
		if fn != nil {
			fn()
		}
		return math.MaxInt
	})
}

// TriggerIf runs fn under the lock. If fn returns true, every waiter whose
// predicate passes is woken; if false, no wake pass occurs and queued
// predicates are not evaluated. No-op after Destroy.
func (sp *SyncPoint) TriggerIf(fn func() bool) {
	sp.triggerN(func() int {
		if fn() {
			return math.MaxInt
		}
		return 0
	})
}

// TriggerCount runs fn under the lock, then wakes at most the returned
// number of satisfied waiters, earliest-enqueued first. A return of zero
// (or less) suppresses waking entirely, even if predicates are satisfied.
// No-op after Destroy.
func (sp *SyncPoint) TriggerCount(fn func() int) {
	sp.triggerN(fn)
}

// triggerN is the shared trigger body. It reports false when the SyncPoint
// was already destroyed, in which case fn did not run.
func (sp *SyncPoint) triggerN(fn func() int) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.destroyed {
		return false
	}

	if n := fn(); n > 0 {
		sp.wakeReady(n)
	}
	return true
}

// Destroy marks the SyncPoint destroyed, completes every queued record with
// StateDestroyed, and wakes it. Destroy is idempotent. Afterwards Wait
// completes immediately with StateDestroyed and triggers and cancels are
// no-ops.
func (sp *SyncPoint) Destroy() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.destroyed {
		return
	}
	sp.destroyed = true

	for i, w := range sp.waiters {
		rec := w.record()
		rec.queued = false
		rec.state = StateDestroyed
		w.OnComplete(StateDestroyed)
		w.Wake()
		sp.waiters[i] = nil
	}
	sp.waiters = sp.waiters[:0]
	sp.metrics.Gauge(SyncPointQueueDepth).Set(0)
}

// Metrics returns the metrics registry for this SyncPoint.
func (sp *SyncPoint) Metrics() *metricz.Registry {
	return sp.metrics
}

// expire removes w from the queue and completes it with StateTimeout. Same
// splice discipline as Cancel; used by the Condition timeout path. Returns
// false when the record already reached a terminal state.
func (sp *SyncPoint) expire(w Waiter) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	rec := w.record()
	if !rec.queued {
		return false
	}

	sp.removeLocked(rec.idx)
	rec.queued = false
	rec.state = StateTimeout
	sp.metrics.Counter(SyncPointTimeoutsTotal).Inc()
	w.OnComplete(StateTimeout)
	w.Wake()
	return true
}

// guard runs fn under the lock regardless of destruction state.
func (sp *SyncPoint) guard(fn func()) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	fn()
}

func (sp *SyncPoint) isDestroyed() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.destroyed
}

// wakeReady walks the queue in FIFO order, completing and waking up to max
// waiters whose predicates pass. Unsatisfied records keep their relative
// order and have their indices rewritten to their new positions.
func (sp *SyncPoint) wakeReady(max int) {
	kept := sp.waiters[:0]
	woken := 0

	for _, w := range sp.waiters {
		rec := w.record()
		if woken < max && w.Predicate() {
			rec.queued = false
			rec.state = StateSatisfied
			w.OnComplete(StateSatisfied)
			w.Wake()
			woken++
			continue
		}
		rec.idx = len(kept)
		kept = append(kept, w)
	}

	for i := len(kept); i < len(sp.waiters); i++ {
		sp.waiters[i] = nil
	}
	sp.waiters = kept

	if woken > 0 {
		sp.metrics.Counter(SyncPointWakesTotal).Add(float64(woken))
		sp.metrics.Gauge(SyncPointQueueDepth).Set(float64(len(sp.waiters)))
	}
}

// removeLocked splices out the record at index i, preserving FIFO order of
// the remaining records and rewriting their indices.
func (sp *SyncPoint) removeLocked(i int) {
	copy(sp.waiters[i:], sp.waiters[i+1:])
	last := len(sp.waiters) - 1
	sp.waiters[last] = nil
	sp.waiters = sp.waiters[:last]

	for j := i; j < len(sp.waiters); j++ {
		sp.waiters[j].record().idx = j
	}
	sp.metrics.Gauge(SyncPointQueueDepth).Set(float64(len(sp.waiters)))
}
