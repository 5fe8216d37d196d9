package syncz

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for terminal wait outcomes and misuse. Errors that
// Condition, Task, and Pool operations report themselves wrap one of these;
// match with errors.Is. A task's fault is not rewrapped: Task.Wait returns
// the body's own error as is, and a recovered panic as an *Error that wraps
// no sentinel.
var (
	// ErrTimeout reports that a wait's deadline elapsed before its predicate
	// was satisfied.
	ErrTimeout = errors.New("wait timed out")

	// ErrDestroyed reports that the condition was destroyed while the caller
	// was waiting on it.
	ErrDestroyed = errors.New("destroyed while waiting")

	// ErrAlreadyDestroyed reports an operation on a condition that was
	// already destroyed when the call was made. This is deliberately distinct
	// from ErrDestroyed: "the object is gone" is not the same failure as
	// "I started waiting, then it was destroyed".
	ErrAlreadyDestroyed = errors.New("condition already destroyed")

	// ErrCanceled reports that the wait's record was canceled through the
	// underlying SyncPoint before satisfaction.
	ErrCanceled = errors.New("wait canceled")

	// ErrTaskTimeout reports that a Task.Wait deadline elapsed before the
	// task finished.
	ErrTaskTimeout = errors.New("task wait timed out")

	// ErrPoolClosed reports a spawn on a closed pool.
	ErrPoolClosed = errors.New("pool closed")
)

// Error provides context about a failed synchronization operation: which
// instance, which operation, the terminal wait state if one was reached,
// and when. It wraps a sentinel error, so errors.Is sees through it.
type Error struct {
	Timestamp time.Time
	Err       error
	Name      Name
	Op        string
	State     WaitState
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	name := e.Name
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("syncz: %s %s: %v", name, e.Op, e.Err)
}

// Unwrap returns the underlying sentinel, supporting errors.Is and
// errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTimeout returns true if the error was caused by a wait or join timeout.
func (e *Error) IsTimeout() bool {
	if e == nil {
		return false
	}
	return errors.Is(e.Err, ErrTimeout) || errors.Is(e.Err, ErrTaskTimeout)
}

// IsDestroyed returns true if the error was caused by destruction, either
// during the wait or before the call.
func (e *Error) IsDestroyed() bool {
	if e == nil {
		return false
	}
	return errors.Is(e.Err, ErrDestroyed) || errors.Is(e.Err, ErrAlreadyDestroyed)
}
