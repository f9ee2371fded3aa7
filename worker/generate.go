package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omnichat/relay/pkg/chat"
	"github.com/omnichat/relay/pkg/llm"
	"github.com/omnichat/relay/pkg/store"
	"github.com/omnichat/relay/pkg/streamlog"
	"github.com/omnichat/relay/pkg/tokens"
	"github.com/omnichat/relay/pkg/utils"
)

// maxReasonLen caps the error detail carried in an error entry.
const maxReasonLen = 500

// runTask executes one generation task end-to-end and returns its terminal
// state. Failures are recorded in the stream log and the message status;
// they are never surfaced to the submitting caller.
func (p *Pool) runTask(ctx context.Context, task *chat.Task) (chat.TaskState, error) {
	// Re-validate ownership: the conversation may have been deleted or
	// reassigned between submit and claim.
	conv, err := p.config.Store.GetConversation(ctx, task.ConversationID)
	if err != nil {
		return chat.TaskFailed, p.failTask(ctx, task, "", fmt.Errorf("loading conversation: %w", err))
	}
	if conv.UserID != task.UserID {
		return chat.TaskFailed, p.failTask(ctx, task, "", errors.New("conversation not owned by requesting user"))
	}

	messages, err := p.config.Store.ListMessages(ctx, task.ConversationID)
	if err != nil {
		return chat.TaskFailed, p.failTask(ctx, task, "", fmt.Errorf("loading history: %w", err))
	}

	history := buildHistory(messages)
	if len(history) == 0 {
		return chat.TaskFailed, p.failTask(ctx, task, "", errors.New("no messages in conversation"))
	}

	streamer, err := p.config.Providers.Lookup(task.Provider, task.Model)
	if err != nil {
		return chat.TaskFailed, p.failTask(ctx, task, "", err)
	}

	// Create the streaming message before the start entry so the entry
	// can carry its id.
	msg := &chat.Message{
		ConversationID: task.ConversationID,
		Role:           chat.RoleAssistant,
		Content:        "",
		Model:          task.Model,
		Status:         chat.StatusStreaming,
		CreatedAt:      time.Now(),
	}
	messageID, err := p.config.Store.InsertMessage(ctx, msg)
	if err != nil {
		return chat.TaskFailed, p.failTask(ctx, task, "", fmt.Errorf("creating streaming message: %w", err))
	}

	if _, err := p.config.Log.Append(ctx, task.ConversationID, &streamlog.Entry{
		Type:      streamlog.TypeStart,
		TaskID:    task.ID,
		MessageID: messageID,
		Timestamp: time.Now(),
	}); err != nil {
		return chat.TaskFailed, p.failTask(ctx, task, messageID, err)
	}

	fragments, err := streamer.Stream(ctx, history, task.Model, llm.Options{
		EnableSearch: task.Options.EnableSearch,
	})
	if err != nil {
		return chat.TaskFailed, p.failTask(ctx, task, messageID, err)
	}
	defer fragments.Close()

	var content strings.Builder
	sequence := 0

	for {
		if p.cancelled(ctx, task.ID) {
			return chat.TaskCancelled, p.terminate(ctx, task, messageID)
		}

		fragment, err := fragments.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return chat.TaskFailed, p.failTask(ctx, task, messageID, err)
		}

		sequence++
		content.WriteString(fragment)

		if _, err := p.config.Log.Append(ctx, task.ConversationID, &streamlog.Entry{
			Type:        streamlog.TypeChunk,
			TaskID:      task.ID,
			MessageID:   messageID,
			Content:     fragment,
			Sequence:    sequence,
			TotalLength: content.Len(),
			Timestamp:   time.Now(),
		}); err != nil {
			return chat.TaskFailed, p.failTask(ctx, task, messageID, err)
		}

		// Checkpoint in-progress content at a fixed interval, not every
		// fragment. Bounded staleness on crash is acceptable.
		if sequence%p.config.CheckpointEvery == 0 {
			partial := content.String()
			if err := p.config.Store.UpdateMessage(ctx, messageID, store.MessageUpdate{
				Content: &partial,
			}); err != nil {
				return chat.TaskFailed, p.failTask(ctx, task, messageID, fmt.Errorf("checkpointing content: %w", err))
			}
		}

		if p.cancelled(ctx, task.ID) {
			return chat.TaskCancelled, p.terminate(ctx, task, messageID)
		}
	}

	// A flag raised while the final read was draining must still win:
	// once terminated, the message never moves back to complete.
	if p.cancelled(ctx, task.ID) {
		return chat.TaskCancelled, p.terminate(ctx, task, messageID)
	}

	return p.complete(ctx, task, messageID, content.String(), sequence)
}

// complete finalizes a normally-ended task: token count, terminal message
// update, conversation touch, complete entry.
func (p *Pool) complete(ctx context.Context, task *chat.Task, messageID, content string, sequence int) (chat.TaskState, error) {
	tokenCount := tokens.Count(content)
	completedAt := time.Now()
	status := chat.StatusComplete

	if err := p.config.Store.UpdateMessage(ctx, messageID, store.MessageUpdate{
		Content:     &content,
		Status:      &status,
		Tokens:      &tokenCount,
		CompletedAt: &completedAt,
	}); err != nil {
		return chat.TaskFailed, p.failTask(ctx, task, messageID, fmt.Errorf("finalizing message: %w", err))
	}

	if err := p.config.Store.TouchConversation(ctx, task.ConversationID, completedAt); err != nil {
		p.logger.Warn("failed to touch conversation",
			zap.String("conversation_id", task.ConversationID),
			zap.Error(err),
		)
	}

	if _, err := p.config.Log.Append(ctx, task.ConversationID, &streamlog.Entry{
		Type:        streamlog.TypeComplete,
		TaskID:      task.ID,
		MessageID:   messageID,
		FinalLength: len(content),
		Tokens:      tokenCount,
		Timestamp:   completedAt,
	}); err != nil {
		// The message is already complete in the store; the missing log
		// entry only affects live viewers.
		p.logger.Warn("failed to append complete entry",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}

	p.logger.Debug("generation completed",
		zap.String("task_id", task.ID),
		zap.Int("chunks", sequence),
		zap.Int("tokens", tokenCount),
	)

	return chat.TaskCompleted, nil
}

// terminate ends a task after observing the cancellation flag. Not a
// failure: terminated status, terminated entry, no error entry.
func (p *Pool) terminate(ctx context.Context, task *chat.Task, messageID string) error {
	completedAt := time.Now()
	status := chat.StatusTerminated

	if err := p.config.Store.UpdateMessage(ctx, messageID, store.MessageUpdate{
		Status:      &status,
		CompletedAt: &completedAt,
	}); err != nil {
		p.logger.Warn("failed to mark message terminated",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}

	if _, err := p.config.Log.Append(ctx, task.ConversationID, &streamlog.Entry{
		Type:      streamlog.TypeTerminated,
		TaskID:    task.ID,
		MessageID: messageID,
		Reason:    "cancelled",
		Timestamp: completedAt,
	}); err != nil {
		p.logger.Warn("failed to append terminated entry",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}

	return nil
}

// failTask records an unrecoverable failure: incomplete message (if one was
// created), an error entry (if the log is still reachable), and the error
// back to the pool for logging. Consumers only ever observe the single
// error entry.
func (p *Pool) failTask(ctx context.Context, task *chat.Task, messageID string, cause error) error {
	if messageID != "" {
		status := chat.StatusIncomplete
		if err := p.config.Store.UpdateMessage(ctx, messageID, store.MessageUpdate{
			Status: &status,
		}); err != nil {
			p.logger.Warn("failed to mark message incomplete",
				zap.String("message_id", messageID),
				zap.Error(err),
			)
		}
	}

	if _, err := p.config.Log.Append(ctx, task.ConversationID, &streamlog.Entry{
		Type:      streamlog.TypeError,
		TaskID:    task.ID,
		MessageID: messageID,
		Reason:    utils.Truncate(cause.Error(), maxReasonLen),
		Timestamp: time.Now(),
	}); err != nil {
		// Log unreachable too: swallow, the incomplete status is the
		// only surviving record.
		p.logger.Warn("failed to append error entry",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}

	return cause
}

// cancelled checks the cancellation flag, treating registry errors as "not
// cancelled" so a flaky registry can't kill healthy generations.
func (p *Pool) cancelled(ctx context.Context, taskID string) bool {
	flagged, err := p.config.Cancels.IsCancelled(ctx, taskID)
	if err != nil {
		p.logger.Warn("cancellation check failed", zap.String("task_id", taskID), zap.Error(err))
		return false
	}

	return flagged
}

// buildHistory adapts stored messages into provider turns. User turns are
// always included; assistant turns only once complete — streaming,
// incomplete, and terminated messages never feed back into context.
func buildHistory(messages []*chat.Message) []llm.Turn {
	history := make([]llm.Turn, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, llm.NewTurn(llm.RoleUser, msg.Content))
		case chat.RoleAssistant:
			if msg.Status == chat.StatusComplete && msg.Content != "" {
				history = append(history, llm.NewTurn(llm.RoleAssistant, msg.Content))
			}
		}
	}

	return history
}
