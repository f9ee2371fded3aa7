// Package inmemory provides a map-backed cancellation registry for tests and
// single-process mode.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/omnichat/relay/pkg/cancel"
)

// Registry implements cancel.Registry with an in-memory map and lazy expiry.
type Registry struct {
	mu    sync.Mutex
	ttl   time.Duration
	flags map[string]time.Time
}

// NewRegistry creates a registry with the given flag TTL.
// A zero ttl uses cancel.DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = cancel.DefaultTTL
	}

	return &Registry{
		ttl:   ttl,
		flags: make(map[string]time.Time),
	}
}

// SetCancelled raises the flag for a task.
func (r *Registry) SetCancelled(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flags[taskID] = time.Now().Add(r.ttl)
	return nil
}

// IsCancelled reports whether the flag is raised and unexpired.
func (r *Registry) IsCancelled(_ context.Context, taskID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiry, ok := r.flags[taskID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.flags, taskID)
		return false, nil
	}

	return true, nil
}
