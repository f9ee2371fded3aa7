// Package chat defines the core domain types shared across the relay system:
// conversations, messages, and in-flight generation tasks.
package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus is the lifecycle state of a message. A streaming message only
// ever moves forward to exactly one of the terminal states.
type MessageStatus string

const (
	// StatusStreaming marks an assistant message whose content is still
	// being produced by a generation task.
	StatusStreaming MessageStatus = "streaming"

	// StatusComplete marks a message whose generation finished normally.
	StatusComplete MessageStatus = "complete"

	// StatusIncomplete marks a message whose generation failed partway.
	StatusIncomplete MessageStatus = "incomplete"

	// StatusTerminated marks a message whose generation was cancelled.
	StatusTerminated MessageStatus = "terminated"
)

// Terminal reports whether s is one of the terminal message states.
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusIncomplete, StatusTerminated:
		return true
	}
	return false
}

// Conversation is one chat thread owned by a single user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a conversation. User messages are immutable once
// inserted; assistant messages mutate append-only while streaming and then
// settle into a terminal status.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	Model          string        `json:"model,omitempty"`
	Status         MessageStatus `json:"status"`
	Tokens         int           `json:"tokens,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// TaskState is the lifecycle state of a generation task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Task is one in-flight generation job, 1:1 with the streaming message it
// produces. Tasks live only in the queue and in-flight bookkeeping; the
// message is the authoritative record of the outcome.
type Task struct {
	ID             string
	ConversationID string
	UserID         string
	Provider       string
	Model          string
	Options        GenerationOptions
	State          TaskState
	CreatedAt      time.Time
}

// GenerationOptions carries per-request generation knobs.
type GenerationOptions struct {
	// EnableSearch requests search augmentation from providers that
	// support it.
	EnableSearch bool `json:"enable_search,omitempty"`
}
