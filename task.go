package syncz

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
)

// TaskState is the running state of a Task.
type TaskState int32

const (
	// TaskDormant means the task has not been scheduled.
	TaskDormant TaskState = iota

	// TaskQueued means the task is in a pool's ready queue awaiting an
	// executor.
	TaskQueued

	// TaskBlocked means the task is parked on a condition, holding no
	// executor.
	TaskBlocked

	// TaskRunning means an executor is running the task's body.
	TaskRunning

	// TaskFinished means the body returned or panicked; the result and any
	// fault are ready.
	TaskFinished
)

// String returns the state name.
func (s TaskState) String() string {
	switch s {
	case TaskDormant:
		return "dormant"
	case TaskQueued:
		return "queued"
	case TaskBlocked:
		return "blocked"
	case TaskRunning:
		return "running"
	case TaskFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Task is a resumable unit of work scheduled on a Pool. Its body runs to
// completion across possibly many executors: each Await parks the task,
// releasing its executor to run other tasks, and a later trigger re-queues
// it. Task identity persists across resumptions, but nothing else should be
// assumed about which executor runs which slice.
//
// A body that returns an error or panics has the fault captured; it
// surfaces from Wait (and from Result.Get for tasks created via Submit).
type Task struct {
	name  Name
	fn    func(*Task) error
	pool  *Pool
	fault error
	done  chan struct{}
	gate  chan struct{}
	yield chan bool
	state atomic.Int32
}

// Name returns the task's name.
func (t *Task) Name() Name { return t.name }

// State returns the task's current state. The value is advisory: it can be
// stale by the time the caller observes it, except TaskFinished, which is
// final.
func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

// Wait blocks until the task finishes and returns its fault, if any.
// A positive d bounds the wait; on expiry Wait returns ErrTaskTimeout and
// the task keeps running. d of zero waits forever.
func (t *Task) Wait(d time.Duration) error {
	if d > 0 {
		select {
		case <-t.done:
		case <-t.pool.getClock().After(d):
			return &Error{
				Err:       ErrTaskTimeout,
				Name:      t.name,
				Op:        "wait",
				Timestamp: t.pool.getClock().Now(),
			}
		}
	} else {
		<-t.done
	}
	return t.fault
}

// Done returns a channel closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Await parks the task until a trigger makes pred true, releasing the
// executor in the meantime. Must be called from the task's own body.
// Outcomes are those of Condition.Wait.
func (t *Task) Await(c *Condition, pred func() bool) error {
	return c.waitVia(t, pred, nil, 0)
}

// AwaitAction is Await with an action run atomically with satisfaction,
// under the condition's lock.
func (t *Task) AwaitAction(c *Condition, pred func() bool, action func()) error {
	return c.waitVia(t, pred, action, 0)
}

// AwaitTimeout is Await bounded by d; ErrTimeout on expiry.
func (t *Task) AwaitTimeout(c *Condition, pred func() bool, d time.Duration) error {
	return c.waitVia(t, pred, nil, d)
}

// Suspend implements Tasking. The body parks itself in ClientWait, so
// nothing needs to happen under the lock.
func (*Task) Suspend() {}

// Wake implements Tasking: it re-queues the task on its pool. It runs under
// the triggering SyncPoint's lock, so it must not be the pool's own -- the
// pool enqueue takes the pool lock, which nothing holds while triggering an
// application SyncPoint.
func (t *Task) Wake() {
	t.pool.enqueue(t)
}

// ClientWait implements Tasking: yield the executor, park until resumed.
func (t *Task) ClientWait() {
	t.state.Store(int32(TaskBlocked))
	t.yield <- false
	<-t.gate
	t.state.Store(int32(TaskRunning))
}

// resume hands the executor's slot to the task body and blocks until the
// body suspends or finishes. Reports true when the task finished.
func (t *Task) resume() bool {
	t.gate <- struct{}{}
	return <-t.yield
}

// run is the task body goroutine. It parks immediately; every execution
// slice is bracketed by an executor's resume.
func (t *Task) run() {
	<-t.gate
	t.state.Store(int32(TaskRunning))

	_, span := t.pool.tracer.StartSpan(context.Background(), PoolTaskSpan)
	span.SetTag(PoolTagTask, string(t.name))

	defer func() {
		if r := recover(); r != nil {
			t.fault = &Error{
				Err:       fmt.Errorf("task panicked: %v", r),
				Name:      t.name,
				Op:        "run",
				Timestamp: t.pool.getClock().Now(),
			}
			span.SetTag(PoolTagPanicked, "true")
			t.pool.metrics.Counter(PoolTasksPanickedTotal).Inc()
			capitan.Error(context.Background(), SignalTaskPanicked,
				FieldName.Field(string(t.pool.name)),
				FieldTask.Field(string(t.name)),
				FieldPanic.Field(fmt.Sprint(r)),
				FieldTimestamp.Field(float64(t.pool.getClock().Now().Unix())),
			)
		}
		span.Finish()
		t.state.Store(int32(TaskFinished))
		close(t.done)
		t.pool.metrics.Counter(PoolTasksFinishedTotal).Inc()
		_ = t.pool.hooks.Emit(context.Background(), PoolEventTaskFinished, TaskEvent{ //nolint:errcheck
			Pool:      t.pool.name,
			Task:      t.name,
			Err:       t.fault,
			Timestamp: t.pool.getClock().Now(),
		})
		t.yield <- true
	}()

	t.fault = t.fn(t)
}

// Result is a typed future over a Task created with Submit.
type Result[T any] struct {
	task *Task
	val  T
}

// Submit schedules fn on p and returns a Result carrying its typed value.
func Submit[T any](p *Pool, name Name, fn func(*Task) (T, error)) (*Result[T], error) {
	r := &Result[T]{}
	t, err := p.Go(name, func(t *Task) error {
		v, err := fn(t)
		r.val = v
		return err
	})
	if err != nil {
		return nil, err
	}
	r.task = t
	return r, nil
}

// Get waits for the task and returns its value, or the task's fault. A
// positive d bounds the wait as in Task.Wait.
func (r *Result[T]) Get(d time.Duration) (T, error) {
	if err := r.task.Wait(d); err != nil {
		var zero T
		return zero, err
	}
	return r.val, nil
}

// Task returns the underlying task.
func (r *Result[T]) Task() *Task {
	return r.task
}
