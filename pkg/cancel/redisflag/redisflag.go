// Package redisflag provides the Redis-backed cancellation registry: one
// SET-with-expiry key per task, so flags vanish on their own once a task can
// no longer be running.
package redisflag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/omnichat/relay/pkg/cancel"
)

// Registry implements cancel.Registry on Redis.
type Registry struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRegistry creates a Redis-backed registry over an existing client.
// A zero ttl uses cancel.DefaultTTL.
func NewRegistry(client redis.UniversalClient, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = cancel.DefaultTTL
	}

	return &Registry{client: client, ttl: ttl}
}

func flagKey(taskID string) string {
	return "task:" + taskID + ":cancelled"
}

// SetCancelled raises the flag for a task.
func (r *Registry) SetCancelled(ctx context.Context, taskID string) error {
	if err := r.client.Set(ctx, flagKey(taskID), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("setting cancellation flag: %w", err)
	}

	return nil
}

// IsCancelled reports whether the flag is raised and unexpired.
func (r *Registry) IsCancelled(ctx context.Context, taskID string) (bool, error) {
	err := r.client.Get(ctx, flagKey(taskID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading cancellation flag: %w", err)
	}

	return true, nil
}
