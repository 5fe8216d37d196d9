package syncz

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Condition metric keys.
const (
	ConditionWaitsTotal     = metricz.Key("condition.waits.total")
	ConditionSatisfiedTotal = metricz.Key("condition.satisfied.total")
	ConditionTimeoutsTotal  = metricz.Key("condition.timeouts.total")
	ConditionDestroyedTotal = metricz.Key("condition.destroyed.total")
	ConditionTriggersTotal  = metricz.Key("condition.triggers.total")
)

// Condition span and tag keys.
const (
	ConditionWaitSpan = tracez.Key("condition.wait")

	ConditionTagName    = tracez.Tag("condition.name")
	ConditionTagOutcome = tracez.Tag("condition.outcome")
	ConditionTagTimeout = tracez.Tag("condition.timeout")
)

// Condition hook event keys.
const (
	ConditionEventSatisfied = hookz.Key("condition.satisfied")
	ConditionEventTimeout   = hookz.Key("condition.timeout")
	ConditionEventDestroyed = hookz.Key("condition.destroyed")
)

// ConditionEvent is emitted to hook handlers when a wait reaches a terminal
// state.
type ConditionEvent struct {
	Timestamp time.Time
	Name      Name
	State     WaitState
}

// Operation names used in errors.
const (
	opWait    = "wait"
	opTrigger = "trigger"
)

// Condition is a predicate-based condition primitive built on a SyncPoint.
// Waiting goroutines name the condition on which they want to resume; a
// trigger mutates shared state under the condition's lock and wakes exactly
// the waiters whose predicates became true, earliest first, up to an
// optional bound. On top of the SyncPoint it layers timeouts, destruction
// semantics, and atomic result handling.
//
// Unlike sync.Cond there is no external mutex to manage: predicates,
// trigger mutations, and completion actions are all serialized by the
// condition itself, and predicates are tested inside the trigger call, so
// waiters never wake spuriously.
//
// The primitive is level-triggered: while a record is queued its predicate
// is re-tested on every trigger. Edge semantics, if needed, belong in the
// caller's predicate design.
//
// CRITICAL: predicates and actions run while the condition's lock is held.
// They must be short, must not block, and must not call back into the same
// Condition -- re-entry deadlocks by construction.
//
// A destroyed Condition stays destroyed. Waits that were in flight complete
// with ErrDestroyed; later calls fail with ErrAlreadyDestroyed.
//
// Example:
//
//	cond := syncz.NewCondition("inbox")
//	queue := []string{}
//
//	// Consumer: park until an item is available, pop it atomically.
//	var item string
//	err := cond.WaitAction(
//	    func() bool { return len(queue) > 0 },
//	    func() { item = queue[0]; queue = queue[1:] },
//	)
//
//	// Producer: push under the lock and wake one consumer.
//	cond.TriggerLimit(func() { queue = append(queue, "job") }, 1)
type Condition struct {
	sp        *SyncPoint
	clock     clockz.Clock
	name      Name
	metrics   *metricz.Registry
	tracer    *tracez.Tracer
	hooks     *hookz.Hooks[ConditionEvent]
	destroyed atomic.Bool
}

// NewCondition creates a Condition.
func NewCondition(name Name) *Condition {
	metrics := metricz.New()
	metrics.Counter(ConditionWaitsTotal)
	metrics.Counter(ConditionSatisfiedTotal)
	metrics.Counter(ConditionTimeoutsTotal)
	metrics.Counter(ConditionDestroyedTotal)
	metrics.Counter(ConditionTriggersTotal)

	return &Condition{
		sp:      NewSyncPoint(),
		name:    name,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[ConditionEvent](),
	}
}

// Name returns the name of this condition.
func (c *Condition) Name() Name { return c.name }

// Wait parks the calling goroutine until a trigger makes pred true.
// If pred is already true, Wait returns immediately without parking.
// Returns nil on satisfaction, ErrDestroyed if the condition is destroyed
// mid-wait, or ErrAlreadyDestroyed if it was destroyed before the call.
func (c *Condition) Wait(pred func() bool) error {
	return c.waitVia(NewFlagTasking(), pred, nil, 0)
}

// WaitAction is Wait with an action that runs atomically with the predicate
// becoming true, under the condition's lock, before any other trigger or
// waiter can intervene. This is the place to consume the state the
// predicate observed.
func (c *Condition) WaitAction(pred func() bool, action func()) error {
	return c.waitVia(NewFlagTasking(), pred, action, 0)
}

// WaitTimeout is Wait bounded by d. Returns ErrTimeout if d elapses before
// satisfaction; the record is gone from the queue when it does, and no
// later trigger can resurrect the wait.
func (c *Condition) WaitTimeout(pred func() bool, d time.Duration) error {
	return c.waitVia(NewFlagTasking(), pred, nil, d)
}

// WaitActionTimeout combines WaitAction and WaitTimeout.
func (c *Condition) WaitActionTimeout(pred func() bool, action func(), d time.Duration) error {
	return c.waitVia(NewFlagTasking(), pred, action, d)
}

// Trigger runs action under the condition's lock, then wakes every waiter
// whose predicate became true. action may be nil for a pure wake pass.
// Returns ErrAlreadyDestroyed if the condition was destroyed, in which case
// action did not run.
func (c *Condition) Trigger(action func()) error {
	return c.trigger(action, -1)
}

// TriggerLimit is Trigger with a wake bound: at most maxWake satisfied
// waiters are woken, earliest-enqueued first. A bound of zero runs the
// mutation without waking anyone.
func (c *Condition) TriggerLimit(action func(), maxWake int) error {
	if maxWake < 0 {
		maxWake = 0
	}
	return c.trigger(action, maxWake)
}

func (c *Condition) trigger(action func(), maxWake int) error {
	ok := c.sp.triggerN(func() int {
		if action != nil {
			action()
		}
		if maxWake < 0 {
			return math.MaxInt
		}
		return maxWake
	})
	if !ok {
		capitan.Warn(context.Background(), SignalConditionMisuse,
			FieldName.Field(string(c.name)),
			FieldOp.Field(opTrigger),
			FieldTimestamp.Field(float64(c.getClock().Now().Unix())),
		)
		return c.opError(opTrigger, StateNone, ErrAlreadyDestroyed)
	}
	c.metrics.Counter(ConditionTriggersTotal).Inc()
	return nil
}

// Guard runs action under the same lock that serializes predicates and
// triggers, regardless of the condition's destruction state. Useful for
// reading or mutating guarded state outside the wait/trigger protocol.
func (c *Condition) Guard(action func()) {
	c.sp.guard(action)
}

// Destroy marks the condition destroyed and wakes every queued waiter with
// ErrDestroyed. Idempotent. Calling Destroy from inside a predicate,
// action, or trigger of the same condition deadlocks.
func (c *Condition) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}
	c.sp.Destroy()
	c.metrics.Counter(ConditionDestroyedTotal).Inc()

	now := c.getClock().Now()
	capitan.Info(context.Background(), SignalConditionDestroyed,
		FieldName.Field(string(c.name)),
		FieldTimestamp.Field(float64(now.Unix())),
	)
	_ = c.hooks.Emit(context.Background(), ConditionEventDestroyed, ConditionEvent{ //nolint:errcheck
		Name:      c.name,
		State:     StateDestroyed,
		Timestamp: now,
	})
}

// Destroyed reports whether the condition has been destroyed.
func (c *Condition) Destroyed() bool {
	return c.sp.isDestroyed()
}

// Close destroys the condition and shuts down observability components.
func (c *Condition) Close() error {
	c.Destroy()
	if c.tracer != nil {
		c.tracer.Close()
	}
	c.hooks.Close()
	return nil
}

// Metrics returns the metrics registry for this condition.
func (c *Condition) Metrics() *metricz.Registry {
	return c.metrics
}

// Tracer returns the tracer for this condition.
func (c *Condition) Tracer() *tracez.Tracer {
	return c.tracer
}

// SyncPoint returns the underlying SyncPoint, for callers that need the raw
// Waiter protocol (cancellation, custom adapters) on the same lock domain.
func (c *Condition) SyncPoint() *SyncPoint {
	return c.sp
}

// OnSatisfied registers a handler for satisfied waits.
// The handler is called asynchronously after the waiter has been released.
func (c *Condition) OnSatisfied(handler func(context.Context, ConditionEvent) error) error {
	_, err := c.hooks.Hook(ConditionEventSatisfied, handler)
	return err
}

// OnTimeout registers a handler for timed-out waits.
func (c *Condition) OnTimeout(handler func(context.Context, ConditionEvent) error) error {
	_, err := c.hooks.Hook(ConditionEventTimeout, handler)
	return err
}

// OnDestroyed registers a handler for condition destruction.
func (c *Condition) OnDestroyed(handler func(context.Context, ConditionEvent) error) error {
	_, err := c.hooks.Hook(ConditionEventDestroyed, handler)
	return err
}

// WithClock sets a custom clock for testing. The clock drives wait
// timeouts and event timestamps.
func (c *Condition) WithClock(clock clockz.Clock) *Condition {
	c.clock = clock
	return c
}

func (c *Condition) getClock() clockz.Clock {
	if c.clock == nil {
		return clockz.RealClock
	}
	return c.clock
}

// condWaiter is the Waiter the Condition enqueues on its SyncPoint. The
// suspended flag distinguishes "completed inside Wait" from "parked and
// woken later", which is what separates ErrAlreadyDestroyed from
// ErrDestroyed.
type condWaiter struct {
	WaiterBase
	pred      func() bool
	action    func()
	tasking   Tasking
	suspended bool
}

func (w *condWaiter) Predicate() bool { return w.pred() }

func (w *condWaiter) OnComplete(s WaitState) {
	if s == StateSatisfied && w.action != nil {
		w.action()
	}
}

func (w *condWaiter) Suspend() {
	w.suspended = true
	w.tasking.Suspend()
}

func (w *condWaiter) Wake() { w.tasking.Wake() }

// waitVia runs the full wait protocol through the given suspension adapter.
// A timeout of zero waits forever.
func (c *Condition) waitVia(tasking Tasking, pred func() bool, action func(), timeout time.Duration) error {
	c.metrics.Counter(ConditionWaitsTotal).Inc()

	_, span := c.tracer.StartSpan(context.Background(), ConditionWaitSpan)
	span.SetTag(ConditionTagName, string(c.name))
	if timeout > 0 {
		span.SetTag(ConditionTagTimeout, timeout.String())
	}
	defer span.Finish()

	w := &condWaiter{pred: pred, action: action, tasking: tasking}

	c.sp.Wait(w)

	if w.suspended {
		var timer *Timer
		if timeout > 0 {
			timer = NewTimer(c.name+".timeout", func() {
				c.sp.expire(w)
			}).WithClock(c.getClock())
			timer.OneShot(timeout)
		}

		tasking.ClientWait()

		if timer != nil {
			timer.Stop()
		}
	}

	state := w.State()
	span.SetTag(ConditionTagOutcome, state.String())
	now := c.getClock().Now()

	switch state {
	case StateSatisfied:
		c.metrics.Counter(ConditionSatisfiedTotal).Inc()
		_ = c.hooks.Emit(context.Background(), ConditionEventSatisfied, ConditionEvent{ //nolint:errcheck
			Name:      c.name,
			State:     state,
			Timestamp: now,
		})
		return nil

	case StateTimeout:
		c.metrics.Counter(ConditionTimeoutsTotal).Inc()
		_ = c.hooks.Emit(context.Background(), ConditionEventTimeout, ConditionEvent{ //nolint:errcheck
			Name:      c.name,
			State:     state,
			Timestamp: now,
		})
		return c.opError(opWait, state, ErrTimeout)

	case StateDestroyed:
		if !w.suspended {
			capitan.Warn(context.Background(), SignalConditionMisuse,
				FieldName.Field(string(c.name)),
				FieldOp.Field(opWait),
				FieldTimestamp.Field(float64(now.Unix())),
			)
			return c.opError(opWait, state, ErrAlreadyDestroyed)
		}
		return c.opError(opWait, state, ErrDestroyed)

	default:
		// Canceled through the raw SyncPoint while parked here.
		return c.opError(opWait, state, ErrCanceled)
	}
}

func (c *Condition) opError(op string, state WaitState, sentinel error) *Error {
	return &Error{
		Err:       sentinel,
		Name:      c.name,
		Op:        op,
		State:     state,
		Timestamp: c.getClock().Now(),
	}
}
