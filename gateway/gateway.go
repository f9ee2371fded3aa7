// Package gateway replays missed stream entries to a reconnecting viewer
// and then follows the live tail of the conversation's stream log. Each
// viewer is an independent consumer: its delivery cursor lives server-side,
// so a client only needs its last seen entry id to resume without loss.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnichat/relay/pkg/streamlog"
)

// GroupName is the logical consumer group all viewers subscribe under.
const GroupName = "viewers"

const (
	defaultHeartbeat   = 45 * time.Second
	defaultBlock       = 5 * time.Second
	defaultCatchUpPage = int64(256)
)

// Sink receives forwarded entries and control events. SendEntry errors end
// the session; the client is assumed gone.
type Sink interface {
	SendEntry(id string, entry *streamlog.Entry) error
	SendControl(event string, payload map[string]any) error
}

// Config tunes a Gateway. Zero values select sensible defaults.
type Config struct {
	Log       streamlog.Log
	Heartbeat time.Duration
	Block     time.Duration
	PageSize  int64
	Logger    *zap.Logger
}

// Gateway serves resumable streaming sessions over a stream log.
type Gateway struct {
	log       streamlog.Log
	heartbeat time.Duration
	block     time.Duration
	pageSize  int64
	logger    *zap.Logger
}

func New(c Config) *Gateway {
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.Block <= 0 {
		c.Block = defaultBlock
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultCatchUpPage
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Gateway{
		log:       c.Log,
		heartbeat: c.Heartbeat,
		block:     c.Block,
		pageSize:  c.PageSize,
		logger:    c.Logger,
	}
}

// Serve streams entries for one conversation to sink until ctx is
// cancelled or the sink reports the client gone. lastSeenID is the id of
// the last entry the client received, or empty for a fresh session.
//
// Delivery order: anchor the live consumer, replay everything after
// lastSeenID, emit a connected control event, then follow the live tail.
// A fresh session skips replay entirely and attaches at the current tail:
// history is served by the message listing, not the stream. Entries
// already replayed during catch-up are dropped from the live feed, so the
// client observes each entry at most once and in log order.
func (g *Gateway) Serve(ctx context.Context, sink Sink, conversationID, lastSeenID string) error {
	consumer := uuid.New().String()

	// Anchor before catch-up: the consumer's cursor is pinned at the
	// current tail, so entries appended while we replay history are held
	// for the live phase rather than lost.
	if _, err := g.log.ReadGroup(ctx, conversationID, GroupName, consumer, 0, 1); err != nil {
		return fmt.Errorf("anchoring consumer: %w", err)
	}
	defer func() {
		if err := g.log.RemoveConsumer(context.Background(), conversationID, GroupName, consumer); err != nil {
			g.logger.Warn("failed to remove consumer",
				zap.String("conversation_id", conversationID),
				zap.String("consumer", consumer),
				zap.Error(err),
			)
		}
	}()

	var lastForwarded string
	var replayed int
	if lastSeenID != "" {
		var err error
		lastForwarded, replayed, err = g.catchUp(ctx, sink, conversationID, lastSeenID)
		if err != nil {
			return err
		}
	}

	if err := sink.SendControl("connected", map[string]any{
		"conversation_id": conversationID,
		"replayed":        replayed,
	}); err != nil {
		return err
	}

	return g.follow(ctx, sink, conversationID, consumer, lastForwarded)
}

// catchUp pages through entries after lastSeenID and forwards each one.
// Returns the id of the last forwarded entry and how many were replayed.
func (g *Gateway) catchUp(ctx context.Context, sink Sink, conversationID, lastSeenID string) (string, int, error) {
	cursor := lastSeenID
	lastForwarded := lastSeenID
	replayed := 0

	for {
		entries, err := g.log.ReadRange(ctx, conversationID, cursor, g.pageSize)
		if err != nil {
			return "", 0, fmt.Errorf("replaying history: %w", err)
		}
		if len(entries) == 0 {
			return lastForwarded, replayed, nil
		}

		for _, logged := range entries {
			if err := sink.SendEntry(logged.ID, &logged.Entry); err != nil {
				return "", 0, err
			}
			lastForwarded = logged.ID
			replayed++
		}
		cursor = lastForwarded
	}
}

// follow delivers new entries as they arrive, interleaving heartbeats when
// the log is quiet. Entries at or before lastForwarded were already sent
// during catch-up and are skipped.
func (g *Gateway) follow(ctx context.Context, sink Sink, conversationID, consumer, lastForwarded string) error {
	lastActivity := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		entries, err := g.log.ReadGroup(ctx, conversationID, GroupName, consumer, g.block, g.pageSize)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("reading live entries: %w", err)
		}

		for _, logged := range entries {
			if streamlog.CompareIDs(logged.ID, lastForwarded) <= 0 {
				// Overlap with catch-up; already delivered.
				if err := g.log.Ack(ctx, conversationID, GroupName, consumer, logged.ID); err != nil {
					g.logger.Warn("failed to ack entry",
						zap.String("entry_id", logged.ID),
						zap.Error(err),
					)
				}
				continue
			}

			if err := sink.SendEntry(logged.ID, &logged.Entry); err != nil {
				return err
			}
			lastForwarded = logged.ID
			lastActivity = time.Now()

			if err := g.log.Ack(ctx, conversationID, GroupName, consumer, logged.ID); err != nil {
				g.logger.Warn("failed to ack entry",
					zap.String("entry_id", logged.ID),
					zap.Error(err),
				)
			}
		}

		if len(entries) == 0 && time.Since(lastActivity) >= g.heartbeat {
			if err := sink.SendControl("heartbeat", map[string]any{
				"timestamp":     time.Now().UTC().Format(time.RFC3339),
				"last_event_id": lastForwarded,
			}); err != nil {
				return err
			}
			lastActivity = time.Now()
		}
	}
}
