// Package store defines the Conversation Store contract: persistence of
// conversations and their ordered message history. The streaming pipeline
// consumes this interface; it never assumes a concrete backend.
package store

import (
	"context"
	"time"

	"github.com/omnichat/relay/pkg/chat"
)

// MessageUpdate is a partial update applied to an existing message. Nil
// fields are left untouched.
type MessageUpdate struct {
	Content     *string
	Status      *chat.MessageStatus
	Tokens      *int
	CompletedAt *time.Time
}

// Driver is the Conversation Store access contract.
//
// Implementations must provide their own internal concurrency safety; the
// pipeline relies on atomic per-message updates and never takes a lock
// around store calls.
type Driver interface {
	// CreateConversation persists a new conversation and returns its id.
	CreateConversation(ctx context.Context, conv *chat.Conversation) (string, error)

	// GetConversation fetches a conversation by id.
	// Returns NotFoundError if it does not exist.
	GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error)

	// ListConversations returns all conversations owned by a user,
	// most recent activity first.
	ListConversations(ctx context.Context, userID string) ([]*chat.Conversation, error)

	// DeleteConversation removes a conversation and all of its messages.
	DeleteConversation(ctx context.Context, conversationID string) error

	// ListMessages returns the ordered message history of a conversation,
	// oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]*chat.Message, error)

	// InsertMessage persists a message and returns its id.
	InsertMessage(ctx context.Context, msg *chat.Message) (string, error)

	// UpdateMessage applies a partial update to an existing message.
	// Returns NotFoundError if the message does not exist.
	UpdateMessage(ctx context.Context, messageID string, update MessageUpdate) error

	// TouchConversation bumps a conversation's last-activity time.
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error

	// Close releases backend resources.
	Close() error
}
