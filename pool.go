package syncz

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Pool metric keys.
const (
	PoolTasksStartedTotal  = metricz.Key("pool.tasks.started.total")
	PoolTasksFinishedTotal = metricz.Key("pool.tasks.finished.total")
	PoolTasksPanickedTotal = metricz.Key("pool.tasks.panicked.total")
	PoolReadyDepth         = metricz.Key("pool.ready.depth")
	PoolExecutorsLive      = metricz.Key("pool.executors.live")
	PoolExecutorsPeak      = metricz.Key("pool.executors.peak")
)

// Pool span and tag keys.
const (
	PoolTaskSpan = tracez.Key("pool.task")

	PoolTagTask     = tracez.Tag("pool.task_name")
	PoolTagPanicked = tracez.Tag("pool.task_panicked")
)

// Pool hook event keys.
const (
	PoolEventTaskFinished = hookz.Key("pool.task-finished")
)

// TaskEvent is emitted to hook handlers when a task finishes.
type TaskEvent struct {
	Timestamp time.Time
	Err       error
	Pool      Name
	Task      Name
}

// Pool runs Tasks on a small set of executor goroutines. Ready tasks sit in
// a FIFO queue guarded by the pool's own SyncPoint; each executor pops one
// handle at a time and lends itself to the task until the task suspends or
// finishes. Executors are spawned on demand, never beyond
// min(ready-queue-length, bound), with bound defaulting to
// runtime.NumCPU() + 2.
//
// A task that holds an executor through a blocking OS call (anything other
// than Await) reduces the pool's effective parallelism; task bodies should
// block only through Await.
//
// Close destroys the pool's SyncPoint: parked executors exit, and wakes
// arriving for still-suspended tasks are dropped. Close a pool only once
// its tasks have finished.
type Pool struct {
	sp      *SyncPoint
	clock   clockz.Clock
	name    Name
	ready   []*Task // guarded by sp's lock
	live    int     // guarded by sp's lock
	peak    int     // guarded by sp's lock
	bound   int
	closed  atomic.Bool
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[TaskEvent]
}

// NewPool creates a Pool bounded at runtime.NumCPU() + 2 executors.
func NewPool(name Name) *Pool {
	return NewPoolBound(name, runtime.NumCPU()+2)
}

// NewPoolBound creates a Pool with an explicit executor bound.
func NewPoolBound(name Name, bound int) *Pool {
	if bound < 1 {
		bound = 1
	}

	metrics := metricz.New()
	metrics.Counter(PoolTasksStartedTotal)
	metrics.Counter(PoolTasksFinishedTotal)
	metrics.Counter(PoolTasksPanickedTotal)
	metrics.Gauge(PoolReadyDepth)
	metrics.Gauge(PoolExecutorsLive)
	metrics.Gauge(PoolExecutorsPeak)

	return &Pool{
		sp:      NewSyncPoint(),
		name:    name,
		bound:   bound,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[TaskEvent](),
	}
}

var defaultPool = NewPool("default")

// Default returns the process-wide pool. It is torn down only at process
// exit.
func Default() *Pool {
	return defaultPool
}

// Go schedules fn on the default pool.
func Go(name Name, fn func(*Task) error) (*Task, error) {
	return defaultPool.Go(name, fn)
}

// Name returns the name of this pool.
func (p *Pool) Name() Name { return p.name }

// Bound returns the executor concurrency bound.
func (p *Pool) Bound() int { return p.bound }

// Go schedules fn as a new task. The task starts in TaskQueued and is
// picked up by an executor as one becomes available; an executor is spawned
// if the spawn policy allows. Returns ErrPoolClosed after Close.
func (p *Pool) Go(name Name, fn func(*Task) error) (*Task, error) {
	if p.closed.Load() {
		return nil, &Error{
			Err:       ErrPoolClosed,
			Name:      p.name,
			Op:        "go",
			Timestamp: p.getClock().Now(),
		}
	}

	t := &Task{
		name:  name,
		fn:    fn,
		pool:  p,
		done:  make(chan struct{}),
		gate:  make(chan struct{}, 1),
		yield: make(chan bool, 1),
	}
	p.metrics.Counter(PoolTasksStartedTotal).Inc()

	go t.run()
	p.enqueue(t)
	return t, nil
}

// enqueue pushes t onto the ready queue and applies the spawn policy
// atomically with the push: a new executor starts while the queue is longer
// than the live executor count, up to the bound. The returned ready count
// doubles as the trigger's wake bound, so parked executors wake only while
// there is work for them.
func (p *Pool) enqueue(t *Task) {
	t.state.Store(int32(TaskQueued))
	p.sp.TriggerCount(func() int {
		p.ready = append(p.ready, t)
		n := len(p.ready)
		p.metrics.Gauge(PoolReadyDepth).Set(float64(n))

		if n <= p.bound && p.live < n {
			p.live++
			if p.live > p.peak {
				p.peak = p.live
				p.metrics.Gauge(PoolExecutorsPeak).Set(float64(p.peak))
			}
			p.metrics.Gauge(PoolExecutorsLive).Set(float64(p.live))
			capitan.Info(context.Background(), SignalPoolExecutorSpawned,
				FieldName.Field(string(p.name)),
				FieldReady.Field(n),
				FieldExecutors.Field(p.live),
				FieldTimestamp.Field(float64(p.getClock().Now().Unix())),
			)
			go p.runExecutor()
		} else if n > p.bound {
			capitan.Warn(context.Background(), SignalPoolSaturated,
				FieldName.Field(string(p.name)),
				FieldReady.Field(n),
				FieldExecutors.Field(p.live),
				FieldBound.Field(p.bound),
				FieldTimestamp.Field(float64(p.getClock().Now().Unix())),
			)
		}
		return n
	})
}

// execWaiter is the Waiter an executor parks on between tasks: predicate
// "the ready queue is non-empty", atomic action "pop the head". A
// non-satisfied outcome means the pool was destroyed; the executor count is
// decremented inside the completion handler so it stays consistent with the
// pool lock.
type execWaiter struct {
	WaiterBase
	pool      *Pool
	flag      *FlagTasking
	task      *Task
	exited    bool
	suspended bool
}

func (w *execWaiter) Predicate() bool {
	return len(w.pool.ready) > 0
}

func (w *execWaiter) OnComplete(s WaitState) {
	if s != StateSatisfied {
		w.pool.live--
		w.pool.metrics.Gauge(PoolExecutorsLive).Set(float64(w.pool.live))
		w.exited = true
		return
	}

	ready := w.pool.ready
	w.task = ready[0]
	copy(ready, ready[1:])
	last := len(ready) - 1
	ready[last] = nil
	w.pool.ready = ready[:last]
	w.pool.metrics.Gauge(PoolReadyDepth).Set(float64(last))
}

func (w *execWaiter) Suspend() {
	w.suspended = true
	w.flag.Suspend()
}

func (w *execWaiter) Wake() {
	w.flag.Wake()
}

// runExecutor is one executor goroutine: pop a ready task, lend it the
// goroutine until it yields, repeat. Exits when the pool is destroyed.
func (p *Pool) runExecutor() {
	for {
		w := &execWaiter{pool: p, flag: NewFlagTasking()}
		p.sp.Wait(w)
		if w.suspended {
			w.flag.ClientWait()
		}
		if w.exited {
			capitan.Info(context.Background(), SignalPoolExecutorExited,
				FieldName.Field(string(p.name)),
				FieldTimestamp.Field(float64(p.getClock().Now().Unix())),
			)
			return
		}
		w.task.resume()
	}
}

// Close destroys the pool. Parked executors observe the destruction and
// exit; the ready queue is discarded. Wakes arriving for tasks still
// suspended on application conditions are dropped, so Close after
// quiescence. Idempotent.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.sp.Destroy()
	capitan.Info(context.Background(), SignalPoolClosed,
		FieldName.Field(string(p.name)),
		FieldTimestamp.Field(float64(p.getClock().Now().Unix())),
	)
	if p.tracer != nil {
		p.tracer.Close()
	}
	p.hooks.Close()
	return nil
}

// Metrics returns the metrics registry for this pool.
func (p *Pool) Metrics() *metricz.Registry {
	return p.metrics
}

// Tracer returns the tracer for this pool. Task execution spans are
// recorded on it.
func (p *Pool) Tracer() *tracez.Tracer {
	return p.tracer
}

// OnTaskFinished registers a handler for task completion events.
// The handler is called asynchronously after the task's body returns.
func (p *Pool) OnTaskFinished(handler func(context.Context, TaskEvent) error) error {
	_, err := p.hooks.Hook(PoolEventTaskFinished, handler)
	return err
}

// WithClock sets a custom clock for testing.
func (p *Pool) WithClock(clock clockz.Clock) *Pool {
	p.clock = clock
	return p
}

func (p *Pool) getClock() clockz.Clock {
	if p.clock == nil {
		return clockz.RealClock
	}
	return p.clock
}
