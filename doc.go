// Package syncz provides a predicate-based task-synchronization core for Go.
//
// # Overview
//
// syncz lets many concurrent contexts wait on arbitrary, caller-defined
// predicate conditions over shared state and be woken precisely when a
// trigger makes those predicates true. Predicates are tested inside the
// trigger call, under the same lock as the mutation, so waiters never wake
// spuriously and never race the state they were waiting for.
//
// # Core Concepts
//
// Three tightly-coupled layers form one primitive:
//
//   - SyncPoint: the serialization point. A mutex-guarded FIFO queue of
//     Waiters with Wait, Cancel, Trigger, and Destroy operations. Everything
//     -- predicate tests, completion handlers, wake hooks -- runs under its
//     one lock.
//   - Condition: a façade over a SyncPoint layering timeouts, bounded wake
//     counts, destruction semantics, and atomic completion actions.
//   - Pool / Task: a cooperative scheduler. Tasks are resumable units that
//     park at Await calls without holding an executor; executors are spawned
//     on demand up to runtime.NumCPU() + 2 and pop ready tasks from the
//     pool's own SyncPoint.
//
// The bridge between a waiting context and a SyncPoint is a Tasking adapter:
// a non-blocking Suspend/Wake pair plus a parking ClientWait. FlagTasking
// adapts ordinary goroutines; Task adapts pool tasks. Any concurrency
// substrate that can park and be released can implement it.
//
// # Usage Example
//
//	cond := syncz.NewCondition("jobs")
//	jobs := []Job{}
//
//	// Worker task: suspend until a job arrives, claim it atomically.
//	task, _ := syncz.Go("worker", func(t *syncz.Task) error {
//	    for {
//	        var job Job
//	        err := t.AwaitAction(cond,
//	            func() bool { return len(jobs) > 0 },
//	            func() { job = jobs[0]; jobs = jobs[1:] },
//	        )
//	        if err != nil {
//	            return nil // condition destroyed: drain and exit
//	        }
//	        process(job)
//	    }
//	})
//
//	// Producer: publish under the lock, wake one worker.
//	cond.TriggerLimit(func() { jobs = append(jobs, next) }, 1)
//
// # Error Handling
//
// Normal terminal outcomes are errors wrapping package sentinels
// (ErrTimeout, ErrDestroyed, ErrAlreadyDestroyed, ...), matchable with
// errors.Is; *Error adds the instance name, operation, and timestamp.
// Programming errors -- a predicate that panics under the lock, re-entering
// a condition from its own callback, reusing a spent Waiter record -- are
// not recovered.
//
// # Observability
//
// Components carry the zoobzio observability stack: metricz registries
// (queue depths, wake counts, executor gauges), tracez spans around waits
// and whole task bodies, hookz events for asynchronous reaction to terminal
// states, and capitan signals for lifecycle events such as destruction and
// executor spawn. Clocks come from clockz, so timeouts and timers are
// driven by a FakeClock in tests.
package syncz

// Name identifies component instances (conditions, pools, tasks, timers)
// in errors, metrics, spans, and signals.
type Name = string
