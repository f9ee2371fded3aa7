package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/omnichat/relay/pkg/cancel"
	"github.com/omnichat/relay/pkg/chat"
	"github.com/omnichat/relay/pkg/store"
	"github.com/omnichat/relay/pkg/streamlog"
)

// Terminator stops in-flight generations. Setting the cancellation flag is
// the only coordination with the worker; everything else here is
// best-effort cleanup so that a viewer sees a terminal entry even when the
// worker is between cancellation checks or already gone.
type Terminator struct {
	store   store.Driver
	log     streamlog.Log
	cancels cancel.Registry
	logger  *zap.Logger
}

func NewTerminator(s store.Driver, log streamlog.Log, cancels cancel.Registry, logger *zap.Logger) *Terminator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Terminator{
		store:   s,
		log:     log,
		cancels: cancels,
		logger:  logger,
	}
}

// Terminate flags the task as cancelled and, if a streaming assistant
// message exists in the conversation, marks it terminated and appends a
// terminated entry. Safe to call repeatedly and for tasks that already
// finished; the flag expires on its own.
func (t *Terminator) Terminate(ctx context.Context, conversationID, taskID string) error {
	if err := t.cancels.SetCancelled(ctx, taskID); err != nil {
		return err
	}

	messages, err := t.store.ListMessages(ctx, conversationID)
	if err != nil {
		t.logger.Warn("failed to list messages during termination",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil
	}

	// Most recent streaming assistant message, if any. Already-terminal
	// messages mean the worker got there first; nothing more to do.
	var streaming *chat.Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleAssistant && messages[i].Status == chat.StatusStreaming {
			streaming = messages[i]
			break
		}
	}
	if streaming == nil {
		return nil
	}

	completedAt := time.Now()
	status := chat.StatusTerminated
	if err := t.store.UpdateMessage(ctx, streaming.ID, store.MessageUpdate{
		Status:      &status,
		CompletedAt: &completedAt,
	}); err != nil {
		t.logger.Warn("failed to mark message terminated",
			zap.String("message_id", streaming.ID),
			zap.Error(err),
		)
	}

	if _, err := t.log.Append(ctx, conversationID, &streamlog.Entry{
		Type:      streamlog.TypeTerminated,
		TaskID:    taskID,
		MessageID: streaming.ID,
		Reason:    "cancelled",
		Timestamp: completedAt,
	}); err != nil {
		t.logger.Warn("failed to append terminated entry",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}

	return nil
}
