// Package streamlog defines the Stream Log contract: a durable, ordered,
// multi-consumer append-only log per conversation. It is the transport
// between generation workers (producers) and resumable gateways (consumers),
// not the system of record — entries are retention-trimmed.
package streamlog

import (
	"context"
	"time"
)

// LoggedEntry pairs an entry with its log-assigned id. The id is both the
// ordering key and the resume cursor handed to clients.
type LoggedEntry struct {
	ID    string `json:"id"`
	Entry Entry  `json:"entry"`
}

// TrimPolicy bounds a conversation log's retention. Zero values disable the
// corresponding bound.
type TrimPolicy struct {
	// MaxLen keeps at most this many newest entries.
	MaxLen int64

	// MaxAge discards entries older than this.
	MaxAge time.Duration
}

// Log is the per-conversation ordered log transport.
//
// Entry ids are strictly increasing per conversation and never reused.
// Append never reorders. ReadGroup delivers each entry at least once per
// consumer; consumers must treat redelivery as idempotent by entry id.
type Log interface {
	// Append adds an entry to a conversation's log and returns the
	// log-assigned entry id.
	Append(ctx context.Context, conversationID string, entry *Entry) (string, error)

	// ReadRange returns up to limit entries with ids strictly greater
	// than afterID, in order. An empty afterID reads from the beginning.
	// ReadRange is a pure read; it never consumes.
	ReadRange(ctx context.Context, conversationID, afterID string, limit int64) ([]LoggedEntry, error)

	// CreateGroup creates a consumer group on a conversation's log.
	// Creating a group that already exists is a no-op. Explicit creation
	// is optional: ReadGroup registers missing groups and consumers
	// lazily, anchored at the log's current tail, and the gateway relies
	// on that path so groups exist only for conversations with viewers.
	CreateGroup(ctx context.Context, conversationID, group string) error

	// ReadGroup returns entries not yet delivered to this consumer within
	// the group, blocking up to block if none are pending. A timeout
	// returns an empty slice, never an error, so callers can check
	// liveness between reads.
	ReadGroup(ctx context.Context, conversationID, group, consumer string, block time.Duration, count int64) ([]LoggedEntry, error)

	// Ack marks an entry as delivered to this consumer. Called
	// immediately after forwarding, not batched, so a crash between
	// forward and ack causes at most one redelivery.
	Ack(ctx context.Context, conversationID, group, consumer, entryID string) error

	// RemoveConsumer discards a consumer's delivery state. Best-effort
	// cleanup on disconnect.
	RemoveConsumer(ctx context.Context, conversationID, group, consumer string) error

	// Trim enforces retention on a conversation's log and returns the
	// number of entries discarded. Safe to run concurrently with readers
	// and writers.
	Trim(ctx context.Context, conversationID string, policy TrimPolicy) (int64, error)

	// Sweep enforces retention across every conversation log in the
	// backend and returns the total number of entries discarded.
	Sweep(ctx context.Context, policy TrimPolicy) (int64, error)

	// Close releases backend resources.
	Close() error
}
