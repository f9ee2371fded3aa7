// Package cancel defines the Cancellation Registry: a process-wide shared
// flag store keyed by task id, consulted cooperatively by workers between
// fragment emissions. Flags carry a short TTL; an expired flag is equivalent
// to "not cancelled".
package cancel

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a cancellation flag stays meaningful. A task
// that hasn't observed the flag within this window has already reached a
// terminal state.
const DefaultTTL = 10 * time.Minute

// Registry is the shared cancellation flag store.
//
// Setting a flag carries no acknowledgement of effect; the worker executing
// the task, not the flag-setter, performs the terminal state transition.
type Registry interface {
	// SetCancelled raises the flag for a task.
	SetCancelled(ctx context.Context, taskID string) error

	// IsCancelled reports whether the flag is raised and unexpired.
	IsCancelled(ctx context.Context, taskID string) (bool, error)
}
