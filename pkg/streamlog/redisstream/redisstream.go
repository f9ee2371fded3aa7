// Package redisstream provides the Redis Streams implementation of the
// Stream Log. Each conversation maps to one stream key; entry ids are the
// stream's native "<ms>-<seq>" ids.
//
// Per-consumer delivery inside a logical group is realized as one Redis
// consumer group per (group, consumer) pair, namespaced "group:consumer" and
// created lazily at the stream tail. This gives every connection the full
// live feed instead of Redis's load-balanced group semantics, while keeping
// per-consumer pending/ack state for at-most-one redelivery.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/omnichat/relay/pkg/streamlog"
)

// Driver implements streamlog.Log on Redis Streams.
type Driver struct {
	client redis.UniversalClient
}

// NewDriver creates a Redis-backed stream log over an existing client.
func NewDriver(client redis.UniversalClient) *Driver {
	return &Driver{client: client}
}

// NewDriverFromURL dials Redis from a URL like "redis://localhost:6379/0".
func NewDriverFromURL(url string) (*Driver, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	return &Driver{client: redis.NewClient(opts)}, nil
}

// Client exposes the underlying Redis client so other components (the
// cancellation registry) can share the connection pool.
func (d *Driver) Client() redis.UniversalClient {
	return d.client
}

// streamKey is the per-conversation stream key, matching the
// "conv:<id>:stream" convention.
func streamKey(conversationID string) string {
	return "conv:" + conversationID + ":stream"
}

func nsGroup(group, consumer string) string {
	return group + ":" + consumer
}

// Append adds an entry via XADD and returns the stream-assigned id.
func (d *Driver) Append(ctx context.Context, conversationID string, entry *streamlog.Entry) (string, error) {
	if entry == nil {
		return "", streamlog.TransportError{Op: "append", Err: errors.New("nil entry")}
	}

	id, err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(conversationID),
		Values: entry.Fields(),
	}).Result()
	if err != nil {
		return "", streamlog.TransportError{Op: "append", Err: err}
	}

	return id, nil
}

// ReadRange returns up to limit entries after afterID (exclusive) via XRANGE.
func (d *Driver) ReadRange(ctx context.Context, conversationID, afterID string, limit int64) ([]streamlog.LoggedEntry, error) {
	start := "-"
	if afterID != "" {
		// "(" makes the range bound exclusive (Redis 6.2+).
		start = "(" + afterID
	}

	var (
		msgs []redis.XMessage
		err  error
	)
	if limit > 0 {
		msgs, err = d.client.XRangeN(ctx, streamKey(conversationID), start, "+", limit).Result()
	} else {
		msgs, err = d.client.XRange(ctx, streamKey(conversationID), start, "+").Result()
	}
	if err != nil {
		return nil, streamlog.TransportError{Op: "read_range", Err: err}
	}

	return decodeMessages(msgs), nil
}

// CreateGroup creates the logical group at the start of the stream,
// creating the stream if needed. Existing groups are a no-op.
func (d *Driver) CreateGroup(ctx context.Context, conversationID, group string) error {
	err := d.client.XGroupCreateMkStream(ctx, streamKey(conversationID), group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return streamlog.TransportError{Op: "create_group", Err: err}
	}

	return nil
}

// ReadGroup returns entries not yet delivered to this consumer, blocking up
// to block if none are pending. A timeout returns an empty slice.
func (d *Driver) ReadGroup(ctx context.Context, conversationID, group, consumer string, block time.Duration, count int64) ([]streamlog.LoggedEntry, error) {
	key := streamKey(conversationID)
	grp := nsGroup(group, consumer)

	if block <= 0 {
		// go-redis treats 0 as "block forever"; -1 disables blocking.
		block = -1
	}

	args := &redis.XReadGroupArgs{
		Group:    grp,
		Consumer: consumer,
		Streams:  []string{key, ">"},
		Count:    count,
		Block:    block,
	}

	streams, err := d.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil && strings.Contains(err.Error(), "NOGROUP") {
		// First read for this consumer: anchor its group at the stream
		// tail so it only observes entries appended after it joins.
		if cerr := d.client.XGroupCreateMkStream(ctx, key, grp, "$").Err(); cerr != nil &&
			!strings.Contains(cerr.Error(), "BUSYGROUP") {
			return nil, streamlog.TransportError{Op: "read_group", Err: cerr}
		}

		streams, err = d.client.XReadGroup(ctx, args).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, streamlog.TransportError{Op: "read_group", Err: err}
	}

	var result []streamlog.LoggedEntry
	for _, s := range streams {
		result = append(result, decodeMessages(s.Messages)...)
	}

	return result, nil
}

// Ack marks an entry delivered for this consumer via XACK.
func (d *Driver) Ack(ctx context.Context, conversationID, group, consumer, entryID string) error {
	err := d.client.XAck(ctx, streamKey(conversationID), nsGroup(group, consumer), entryID).Err()
	if err != nil {
		return streamlog.TransportError{Op: "ack", Err: err}
	}

	return nil
}

// RemoveConsumer destroys the consumer's namespaced group. Best-effort.
func (d *Driver) RemoveConsumer(ctx context.Context, conversationID, group, consumer string) error {
	err := d.client.XGroupDestroy(ctx, streamKey(conversationID), nsGroup(group, consumer)).Err()
	if err != nil && !strings.Contains(err.Error(), "NOGROUP") {
		return streamlog.TransportError{Op: "remove_consumer", Err: err}
	}

	return nil
}

// Trim enforces retention via XTRIM MAXLEN and/or XTRIM MINID.
func (d *Driver) Trim(ctx context.Context, conversationID string, policy streamlog.TrimPolicy) (int64, error) {
	key := streamKey(conversationID)
	var trimmed int64

	if policy.MaxLen > 0 {
		n, err := d.client.XTrimMaxLenApprox(ctx, key, policy.MaxLen, 0).Result()
		if err != nil {
			return trimmed, streamlog.TransportError{Op: "trim", Err: err}
		}
		trimmed += n
	}

	if policy.MaxAge > 0 {
		minID := fmt.Sprintf("%d-0", time.Now().Add(-policy.MaxAge).UnixMilli())
		n, err := d.client.XTrimMinID(ctx, key, minID).Result()
		if err != nil {
			return trimmed, streamlog.TransportError{Op: "trim", Err: err}
		}
		trimmed += n
	}

	return trimmed, nil
}

// Sweep applies the trim policy to every conversation stream, discovered
// via SCAN on the stream key pattern.
func (d *Driver) Sweep(ctx context.Context, policy streamlog.TrimPolicy) (int64, error) {
	var total int64

	iter := d.client.Scan(ctx, 0, "conv:*:stream", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		conversationID := strings.TrimSuffix(strings.TrimPrefix(key, "conv:"), ":stream")

		n, err := d.Trim(ctx, conversationID, policy)
		if err != nil {
			return total, err
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return total, streamlog.TransportError{Op: "sweep", Err: err}
	}

	return total, nil
}

// Close closes the underlying Redis client.
func (d *Driver) Close() error {
	return d.client.Close()
}

func decodeMessages(msgs []redis.XMessage) []streamlog.LoggedEntry {
	var result []streamlog.LoggedEntry
	for _, msg := range msgs {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
		result = append(result, streamlog.LoggedEntry{
			ID:    msg.ID,
			Entry: streamlog.EntryFromFields(fields),
		})
	}

	return result
}
