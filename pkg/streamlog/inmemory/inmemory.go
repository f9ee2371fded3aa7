// Package inmemory provides an in-process Stream Log driver used in tests
// and single-node mode. Semantics mirror the Redis Streams driver: strictly
// increasing "<n>-0" entry ids, per-consumer delivery within a group, and
// blocking group reads with a timeout.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/omnichat/relay/pkg/streamlog"
)

// Driver implements streamlog.Log using in-memory slices.
type Driver struct {
	mu   sync.Mutex
	logs map[string]*conversationLog
}

type conversationLog struct {
	entries []streamlog.LoggedEntry
	nextID  uint64
	groups  map[string]*group

	// waiters are closed and discarded on every append so blocked group
	// readers can re-check for pending entries.
	waiters []chan struct{}
}

type group struct {
	consumers map[string]*consumer
}

type consumer struct {
	// cursor is the highest entry id delivered to this consumer.
	cursor string
	acked  map[string]bool
}

// NewDriver creates a new in-memory stream log.
func NewDriver() *Driver {
	return &Driver{logs: make(map[string]*conversationLog)}
}

func (d *Driver) log(conversationID string) *conversationLog {
	l, ok := d.logs[conversationID]
	if !ok {
		l = &conversationLog{
			nextID: 1,
			groups: make(map[string]*group),
		}
		d.logs[conversationID] = l
	}
	return l
}

// Append adds an entry and wakes any blocked group readers.
func (d *Driver) Append(_ context.Context, conversationID string, entry *streamlog.Entry) (string, error) {
	if entry == nil {
		return "", streamlog.TransportError{Op: "append", Err: errors.New("nil entry")}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	l := d.log(conversationID)
	id := fmt.Sprintf("%d-0", l.nextID)
	l.nextID++

	l.entries = append(l.entries, streamlog.LoggedEntry{ID: id, Entry: *entry})

	for _, w := range l.waiters {
		close(w)
	}
	l.waiters = nil

	return id, nil
}

// ReadRange returns up to limit entries after afterID (exclusive), in order.
func (d *Driver) ReadRange(_ context.Context, conversationID, afterID string, limit int64) ([]streamlog.LoggedEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.logs[conversationID]
	if !ok {
		return nil, nil
	}

	var result []streamlog.LoggedEntry
	for _, e := range l.entries {
		if streamlog.CompareIDs(e.ID, afterID) <= 0 {
			continue
		}
		result = append(result, e)
		if limit > 0 && int64(len(result)) >= limit {
			break
		}
	}

	return result, nil
}

// CreateGroup registers a consumer group. Idempotent.
func (d *Driver) CreateGroup(_ context.Context, conversationID, groupName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	l := d.log(conversationID)
	if _, ok := l.groups[groupName]; !ok {
		l.groups[groupName] = &group{consumers: make(map[string]*consumer)}
	}

	return nil
}

// ReadGroup returns entries not yet delivered to this consumer, blocking up
// to block if none are pending. A new consumer starts at the current end of
// the log, so it only observes entries appended after it joins.
func (d *Driver) ReadGroup(ctx context.Context, conversationID, groupName, consumerName string, block time.Duration, count int64) ([]streamlog.LoggedEntry, error) {
	deadline := time.Now().Add(block)

	for {
		d.mu.Lock()
		l := d.log(conversationID)
		c := l.consumer(groupName, consumerName)

		var result []streamlog.LoggedEntry
		for _, e := range l.entries {
			if streamlog.CompareIDs(e.ID, c.cursor) <= 0 {
				continue
			}
			result = append(result, e)
			c.cursor = e.ID
			if count > 0 && int64(len(result)) >= count {
				break
			}
		}

		if len(result) > 0 {
			d.mu.Unlock()
			return result, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			d.mu.Unlock()
			return nil, nil
		}

		wake := make(chan struct{})
		l.waiters = append(l.waiters, wake)
		d.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		}
	}
}

// consumer fetches or lazily registers a consumer, positioned at the current
// end of the log on first sight. Callers must hold d.mu.
func (l *conversationLog) consumer(groupName, consumerName string) *consumer {
	g, ok := l.groups[groupName]
	if !ok {
		g = &group{consumers: make(map[string]*consumer)}
		l.groups[groupName] = g
	}

	c, ok := g.consumers[consumerName]
	if !ok {
		c = &consumer{acked: make(map[string]bool)}
		if len(l.entries) > 0 {
			c.cursor = l.entries[len(l.entries)-1].ID
		}
		g.consumers[consumerName] = c
	}

	return c
}

// Ack marks an entry delivered for this consumer.
func (d *Driver) Ack(_ context.Context, conversationID, groupName, consumerName, entryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	l := d.log(conversationID)
	c := l.consumer(groupName, consumerName)
	c.acked[entryID] = true

	return nil
}

// RemoveConsumer discards a consumer's delivery state.
func (d *Driver) RemoveConsumer(_ context.Context, conversationID, groupName, consumerName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.logs[conversationID]
	if !ok {
		return nil
	}
	if g, ok := l.groups[groupName]; ok {
		delete(g.consumers, consumerName)
	}

	return nil
}

// Trim applies the retention policy and returns the number of discarded
// entries.
func (d *Driver) Trim(_ context.Context, conversationID string, policy streamlog.TrimPolicy) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.logs[conversationID]
	if !ok {
		return 0, nil
	}

	keepFrom := 0

	if policy.MaxLen > 0 && int64(len(l.entries)) > policy.MaxLen {
		keepFrom = len(l.entries) - int(policy.MaxLen)
	}

	if policy.MaxAge > 0 {
		cutoff := time.Now().Add(-policy.MaxAge)
		for keepFrom < len(l.entries) && l.entries[keepFrom].Entry.Timestamp.Before(cutoff) {
			keepFrom++
		}
	}

	if keepFrom == 0 {
		return 0, nil
	}

	l.entries = append([]streamlog.LoggedEntry(nil), l.entries[keepFrom:]...)
	return int64(keepFrom), nil
}

// Sweep applies the trim policy to every conversation log.
func (d *Driver) Sweep(ctx context.Context, policy streamlog.TrimPolicy) (int64, error) {
	d.mu.Lock()
	ids := make([]string, 0, len(d.logs))
	for id := range d.logs {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	var total int64
	for _, id := range ids {
		n, err := d.Trim(ctx, id, policy)
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}
