package api

import (
	"bufio"
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/omnichat/relay/pkg/sse"
	"github.com/omnichat/relay/pkg/streamlog"
)

// handleStream serves the resumable SSE stream for one conversation.
// Resume position comes from the Last-Event-ID header (set by browsers on
// automatic reconnect) or the last_event_id query parameter, header first.
func (s *Server) handleStream(c *fiber.Ctx) error {
	userID, err := s.userID(c)
	if userID == "" {
		return err
	}

	conv, err := s.ownedConversation(c, c.Params("id"), userID)
	if err != nil {
		return s.notFoundOrError(c, err)
	}

	lastSeenID := c.Get(fiber.HeaderLastEventID)
	if q := c.Query("last_event_id"); q != "" {
		lastSeenID = q
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	conversationID := conv.ID
	logger := s.logger
	gw := s.gateway

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sink := &sseSink{writer: sse.NewWriter(w)}
		if err := gw.Serve(ctx, sink, conversationID, lastSeenID); err != nil {
			// Client disconnects surface here as write errors; only log
			// at debug since they are routine.
			logger.Debug("stream session ended",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}))

	return nil
}

// sseSink adapts an SSE writer to the gateway's Sink interface.
type sseSink struct {
	writer *sse.Writer
}

func (s *sseSink) SendEntry(id string, entry *streamlog.Entry) error {
	data, err := json.Marshal(entry.Fields())
	if err != nil {
		return err
	}

	return s.writer.Write(&sse.Event{
		ID:   id,
		Type: string(entry.Type),
		Data: string(data),
	})
}

func (s *sseSink) SendControl(event string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return s.writer.Write(&sse.Event{
		Type: event,
		Data: string(data),
	})
}
