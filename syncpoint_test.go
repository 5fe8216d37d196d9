package syncz

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newTestWaiter builds a Combined waiter over the public composition types.
func newTestWaiter(pred func() bool, complete func(WaitState)) (*Combined, *FlagTasking) {
	ft := NewFlagTasking()
	w := &Combined{
		Actions: FuncActions{Test: pred, Complete: complete},
		Tasking: ft,
	}
	return w, ft
}

func queueLen(sp *SyncPoint) int {
	n := 0
	sp.guard(func() { n = len(sp.waiters) })
	return n
}

func TestSyncPoint(t *testing.T) {
	t.Run("Immediate Satisfaction", func(t *testing.T) {
		sp := NewSyncPoint()
		completions := 0

		w, _ := newTestWaiter(
			func() bool { return true },
			func(s WaitState) {
				completions++
				if s != StateSatisfied {
					t.Errorf("expected satisfied, got %s", s)
				}
			},
		)

		sp.Wait(w)

		if w.State() != StateSatisfied {
			t.Errorf("expected satisfied state, got %s", w.State())
		}
		if completions != 1 {
			t.Errorf("expected exactly 1 completion, got %d", completions)
		}
		if n := queueLen(sp); n != 0 {
			t.Errorf("expected empty queue, got %d", n)
		}
	})

	t.Run("Trigger Satisfies Waiter", func(t *testing.T) {
		sp := NewSyncPoint()
		x := 0
		seen := -1

		w, ft := newTestWaiter(
			func() bool { return x == 1 },
			func(s WaitState) {
				if s == StateSatisfied {
					seen = x
				}
			},
		)

		sp.Wait(w)
		if w.State() != StateWaiting {
			t.Fatalf("expected waiting state, got %s", w.State())
		}
		if w.Index() != 0 {
			t.Fatalf("expected index 0, got %d", w.Index())
		}

		sp.Trigger(func() { x = 1 })
		ft.ClientWait()

		if w.State() != StateSatisfied {
			t.Errorf("expected satisfied, got %s", w.State())
		}
		if seen != 1 {
			t.Errorf("completion handler should observe the mutation, saw x=%d", seen)
		}
		if w.Index() != NoIndex {
			t.Errorf("expected NoIndex after satisfaction, got %d", w.Index())
		}
	})

	t.Run("FIFO Within Wake Bound", func(t *testing.T) {
		sp := NewSyncPoint()
		x := 0
		pred := func() bool { return x >= 1 }

		w1, _ := newTestWaiter(pred, nil)
		w2, _ := newTestWaiter(pred, nil)
		w3, _ := newTestWaiter(pred, nil)

		sp.Wait(w1)
		sp.Wait(w2)
		sp.Wait(w3)

		sp.TriggerCount(func() int {
			x = 1
			return 2
		})

		if w1.State() != StateSatisfied {
			t.Errorf("w1: expected satisfied, got %s", w1.State())
		}
		if w2.State() != StateSatisfied {
			t.Errorf("w2: expected satisfied, got %s", w2.State())
		}
		if w3.State() != StateWaiting {
			t.Errorf("w3: expected still waiting, got %s", w3.State())
		}
		if w3.Index() != 0 {
			t.Errorf("w3: expected index 0 after compaction, got %d", w3.Index())
		}
	})

	t.Run("Queue Positions Match Indices", func(t *testing.T) {
		sp := NewSyncPoint()
		pred := func() bool { return false }

		var waiters []*Combined
		for i := 0; i < 5; i++ {
			w, _ := newTestWaiter(pred, nil)
			sp.Wait(w)
			waiters = append(waiters, w)
		}

		check := func() {
			sp.guard(func() {
				for i, w := range sp.waiters {
					if w.record().idx != i {
						t.Errorf("waiter at position %d has index %d", i, w.record().idx)
					}
					if w.record().state != StateWaiting {
						t.Errorf("queued waiter at %d in state %s", i, w.record().state)
					}
				}
			})
		}

		check()
		sp.Cancel(waiters[2])
		check()
		sp.Cancel(waiters[0])
		check()

		if n := queueLen(sp); n != 3 {
			t.Errorf("expected 3 queued waiters, got %d", n)
		}
	})

	t.Run("Zero Count Suppresses Waking", func(t *testing.T) {
		sp := NewSyncPoint()
		x := 0

		w, _ := newTestWaiter(func() bool { return x == 1 }, nil)
		sp.Wait(w)

		sp.TriggerCount(func() int {
			x = 1
			return 0
		})

		if w.State() != StateWaiting {
			t.Errorf("expected still waiting with bound 0, got %s", w.State())
		}

		// The suppressed mutation is still visible to the next wake pass.
		sp.Trigger(nil)
		if w.State() != StateSatisfied {
			t.Errorf("expected satisfied after unbounded trigger, got %s", w.State())
		}
	})

	t.Run("TriggerIf False Skips Predicates", func(t *testing.T) {
		sp := NewSyncPoint()
		predCalls := 0
		armed := false

		w, _ := newTestWaiter(
			func() bool { predCalls++; return armed },
			nil,
		)
		sp.Wait(w)
		base := predCalls

		sp.TriggerIf(func() bool { return false })
		if predCalls != base {
			t.Errorf("predicate evaluated %d times during suppressed trigger", predCalls-base)
		}
		if w.State() != StateWaiting {
			t.Fatalf("expected still waiting, got %s", w.State())
		}

		sp.TriggerIf(func() bool { armed = true; return true })
		if w.State() != StateSatisfied {
			t.Errorf("expected satisfied after true trigger, got %s", w.State())
		}
	})

	t.Run("Cancel Removes And Completes", func(t *testing.T) {
		sp := NewSyncPoint()
		var canceled []WaitState

		w, ft := newTestWaiter(
			func() bool { return false },
			func(s WaitState) { canceled = append(canceled, s) },
		)
		sp.Wait(w)

		if !sp.Cancel(w) {
			t.Fatal("expected cancel to succeed")
		}
		ft.ClientWait()

		if w.State() != StateCanceled {
			t.Errorf("expected canceled, got %s", w.State())
		}
		if len(canceled) != 1 || canceled[0] != StateCanceled {
			t.Errorf("expected exactly one Canceled completion, got %v", canceled)
		}
		if sp.Cancel(w) {
			t.Error("second cancel should report false")
		}
	})

	t.Run("Cancel Trigger Race Yields One Outcome", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			sp := NewSyncPoint()
			x := 0
			var completions int32

			w, ft := newTestWaiter(
				func() bool { return x == 1 },
				func(WaitState) { atomic.AddInt32(&completions, 1) },
			)
			sp.Wait(w)

			var wg sync.WaitGroup
			wg.Add(2)
			var cancelWon bool
			go func() {
				defer wg.Done()
				cancelWon = sp.Cancel(w)
			}()
			go func() {
				defer wg.Done()
				sp.Trigger(func() { x = 1 })
			}()
			wg.Wait()
			ft.ClientWait()

			if atomic.LoadInt32(&completions) != 1 {
				t.Fatalf("iteration %d: expected exactly 1 completion, got %d", i, completions)
			}
			if cancelWon && w.State() != StateCanceled {
				t.Fatalf("iteration %d: cancel won but state is %s", i, w.State())
			}
			if !cancelWon && w.State() != StateSatisfied {
				t.Fatalf("iteration %d: cancel lost but state is %s", i, w.State())
			}
		}
	})

	t.Run("Destroy Wakes All Waiters", func(t *testing.T) {
		sp := NewSyncPoint()
		var completions int32

		done := make(chan WaitState, 3)
		for i := 0; i < 3; i++ {
			w, ft := newTestWaiter(
				func() bool { return false },
				func(WaitState) { atomic.AddInt32(&completions, 1) },
			)
			sp.Wait(w)
			go func() {
				ft.ClientWait()
				done <- w.State()
			}()
		}

		sp.Destroy()

		for i := 0; i < 3; i++ {
			select {
			case s := <-done:
				if s != StateDestroyed {
					t.Errorf("expected destroyed, got %s", s)
				}
			case <-time.After(time.Second):
				t.Fatal("waiter not woken by destroy")
			}
		}
		if atomic.LoadInt32(&completions) != 3 {
			t.Errorf("expected 3 completions, got %d", completions)
		}
	})

	t.Run("Destroy Is Idempotent And Sticky", func(t *testing.T) {
		sp := NewSyncPoint()
		sp.Destroy()
		sp.Destroy()

		w, _ := newTestWaiter(func() bool { return true }, nil)
		sp.Wait(w)
		if w.State() != StateDestroyed {
			t.Errorf("wait after destroy: expected destroyed, got %s", w.State())
		}

		ran := false
		sp.Trigger(func() { ran = true })
		if ran {
			t.Error("trigger mutator ran on destroyed SyncPoint")
		}
	})

	t.Run("Reused Record Panics", func(t *testing.T) {
		sp := NewSyncPoint()
		w, _ := newTestWaiter(func() bool { return true }, nil)
		sp.Wait(w)

		defer func() {
			if recover() == nil {
				t.Error("expected panic on reused waiter record")
			}
		}()
		sp.Wait(w)
	})

	t.Run("Metrics Track Activity", func(t *testing.T) {
		sp := NewSyncPoint()

		w1, _ := newTestWaiter(func() bool { return true }, nil)
		sp.Wait(w1)

		w2, _ := newTestWaiter(func() bool { return false }, nil)
		sp.Wait(w2)
		sp.Cancel(w2)

		if v := sp.Metrics().Counter(SyncPointWaitsTotal).Value(); v != 2 {
			t.Errorf("expected 2 waits, got %f", v)
		}
		if v := sp.Metrics().Counter(SyncPointImmediateTotal).Value(); v != 1 {
			t.Errorf("expected 1 immediate satisfaction, got %f", v)
		}
		if v := sp.Metrics().Counter(SyncPointCancelsTotal).Value(); v != 1 {
			t.Errorf("expected 1 cancel, got %f", v)
		}
		if v := sp.Metrics().Gauge(SyncPointQueueDepth).Value(); v != 0 {
			t.Errorf("expected empty queue gauge, got %f", v)
		}
	})
}
