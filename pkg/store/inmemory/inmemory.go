// Package inmemory provides a map-backed Conversation Store driver used in
// tests and single-process mode.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnichat/relay/pkg/chat"
	"github.com/omnichat/relay/pkg/store"
)

// Driver implements store.Driver using in-memory maps.
type Driver struct {
	mu sync.RWMutex

	conversations map[string]*chat.Conversation
	messages      map[string]*chat.Message

	// insertSeq preserves insertion order so ListMessages stays stable
	// even when CreatedAt timestamps collide.
	insertSeq map[string]int
	nextSeq   int
}

// NewDriver creates a new in-memory store driver.
func NewDriver() *Driver {
	return &Driver{
		conversations: make(map[string]*chat.Conversation),
		messages:      make(map[string]*chat.Message),
		insertSeq:     make(map[string]int),
	}
}

// CreateConversation persists a new conversation, assigning an id if the
// caller didn't.
func (d *Driver) CreateConversation(_ context.Context, conv *chat.Conversation) (string, error) {
	if conv == nil {
		return "", errors.New("cannot store nil conversation")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}

	cp := *conv
	d.conversations[cp.ID] = &cp
	return cp.ID, nil
}

// GetConversation fetches a conversation by id.
func (d *Driver) GetConversation(_ context.Context, conversationID string) (*chat.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	conv, ok := d.conversations[conversationID]
	if !ok {
		return nil, store.NotFoundError{Kind: "conversation", ID: conversationID}
	}

	cp := *conv
	return &cp, nil
}

// ListConversations returns a user's conversations, most recent activity first.
func (d *Driver) ListConversations(_ context.Context, userID string) ([]*chat.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []*chat.Conversation
	for _, conv := range d.conversations {
		if conv.UserID == userID {
			cp := *conv
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	return result, nil
}

// DeleteConversation removes a conversation and its messages.
func (d *Driver) DeleteConversation(_ context.Context, conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.conversations[conversationID]; !ok {
		return store.NotFoundError{Kind: "conversation", ID: conversationID}
	}

	delete(d.conversations, conversationID)
	for id, msg := range d.messages {
		if msg.ConversationID == conversationID {
			delete(d.messages, id)
			delete(d.insertSeq, id)
		}
	}

	return nil
}

// ListMessages returns a conversation's messages, oldest first.
func (d *Driver) ListMessages(_ context.Context, conversationID string) ([]*chat.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []*chat.Message
	for _, msg := range d.messages {
		if msg.ConversationID == conversationID {
			cp := *msg
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return d.insertSeq[result[i].ID] < d.insertSeq[result[j].ID]
	})

	return result, nil
}

// InsertMessage persists a message, assigning an id if the caller didn't.
func (d *Driver) InsertMessage(_ context.Context, msg *chat.Message) (string, error) {
	if msg == nil {
		return "", errors.New("cannot store nil message")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	cp := *msg
	d.messages[cp.ID] = &cp
	d.insertSeq[cp.ID] = d.nextSeq
	d.nextSeq++

	return cp.ID, nil
}

// UpdateMessage applies a partial update to an existing message.
func (d *Driver) UpdateMessage(_ context.Context, messageID string, update store.MessageUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	msg, ok := d.messages[messageID]
	if !ok {
		return store.NotFoundError{Kind: "message", ID: messageID}
	}

	if update.Content != nil {
		msg.Content = *update.Content
	}
	if update.Status != nil {
		msg.Status = *update.Status
	}
	if update.Tokens != nil {
		msg.Tokens = *update.Tokens
	}
	if update.CompletedAt != nil {
		at := *update.CompletedAt
		msg.CompletedAt = &at
	}

	return nil
}

// TouchConversation bumps a conversation's last-activity time.
func (d *Driver) TouchConversation(_ context.Context, conversationID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv, ok := d.conversations[conversationID]
	if !ok {
		return store.NotFoundError{Kind: "conversation", ID: conversationID}
	}

	conv.UpdatedAt = at
	return nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}
