package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnichat/relay/pkg/chat"
	"github.com/omnichat/relay/pkg/store"
)

// QueueFullError is returned by Submit when the pool cannot accept more
// work. Callers should surface it as a retryable condition.
type QueueFullError struct{}

func (QueueFullError) Error() string {
	return "generation queue is full"
}

// Dispatcher validates generation requests and hands them to the pool. It
// returns a task id immediately; generation progress is observed through
// the stream log, never through the dispatcher.
type Dispatcher struct {
	store  store.Driver
	pool   *Pool
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher writing through the given store and
// enqueueing onto the given pool.
func NewDispatcher(s store.Driver, pool *Pool, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		store:  s,
		pool:   pool,
		logger: logger,
	}
}

// Submit validates ownership and provider support, persists the user's
// prompt when one is given, and enqueues a generation task. It returns the
// task id without waiting for the generation to start.
func (d *Dispatcher) Submit(ctx context.Context, conversationID, userID, prompt, providerName, model string, opts chat.GenerationOptions) (string, error) {
	conv, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if conv.UserID != userID {
		// Indistinguishable from a missing conversation on purpose.
		return "", store.NotFoundError{Kind: "conversation", ID: conversationID}
	}

	if _, err := d.pool.config.Providers.Lookup(providerName, model); err != nil {
		return "", err
	}

	if prompt != "" {
		now := time.Now()
		_, err := d.store.InsertMessage(ctx, &chat.Message{
			ConversationID: conversationID,
			Role:           chat.RoleUser,
			Content:        prompt,
			Status:         chat.StatusComplete,
			CreatedAt:      now,
		})
		if err != nil {
			return "", fmt.Errorf("persisting prompt: %w", err)
		}
		if err := d.store.TouchConversation(ctx, conversationID, now); err != nil {
			d.logger.Warn("failed to touch conversation",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}

	task := chat.Task{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		Provider:       providerName,
		Model:          model,
		Options:        opts,
		State:          chat.TaskQueued,
		CreatedAt:      time.Now(),
	}

	if !d.pool.Enqueue(Job{Task: task}) {
		return "", QueueFullError{}
	}

	d.logger.Debug("generation task submitted",
		zap.String("task_id", task.ID),
		zap.String("conversation_id", conversationID),
		zap.String("provider", providerName),
		zap.String("model", model),
	)

	return task.ID, nil
}
