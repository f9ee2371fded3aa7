package streamlog

import (
	"strconv"
	"time"
)

// Type tags a log entry's role in the generation lifecycle.
type Type string

const (
	// TypeStart opens a task's entry window and carries the streaming
	// message id.
	TypeStart Type = "start"

	// TypeChunk carries one text fragment.
	TypeChunk Type = "chunk"

	// TypeComplete closes a task's window after a normal end-of-stream.
	TypeComplete Type = "complete"

	// TypeError closes a task's window after an unrecoverable failure.
	TypeError Type = "error"

	// TypeTerminated closes a task's window after cancellation.
	TypeTerminated Type = "terminated"

	// TypeHeartbeat is a synthetic liveness signal. Gateways emit it on
	// idle connections; it is never appended to the log by workers.
	TypeHeartbeat Type = "heartbeat"
)

// Terminal reports whether t ends a task's entry window.
func (t Type) Terminal() bool {
	switch t {
	case TypeComplete, TypeError, TypeTerminated:
		return true
	}
	return false
}

// Entry is one immutable record in a conversation's stream log.
type Entry struct {
	Type      Type   `json:"type"`
	TaskID    string `json:"task_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	// Content is the fragment text for chunk entries.
	Content string `json:"content,omitempty"`

	// Sequence is the worker-assigned chunk number, starting at 1,
	// strictly increasing within a task.
	Sequence int `json:"sequence,omitempty"`

	// TotalLength is the running accumulated content length for chunks.
	TotalLength int `json:"total_length,omitempty"`

	// FinalLength and Tokens are set on complete entries.
	FinalLength int `json:"final_length,omitempty"`
	Tokens      int `json:"tokens,omitempty"`

	// Reason is a human-readable explanation on error and terminated
	// entries.
	Reason string `json:"reason,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Fields flattens an entry into string-keyed values for transports that
// store flat field maps (Redis stream entries).
func (e *Entry) Fields() map[string]any {
	fields := map[string]any{
		"type":      string(e.Type),
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	if e.TaskID != "" {
		fields["task_id"] = e.TaskID
	}
	if e.MessageID != "" {
		fields["message_id"] = e.MessageID
	}
	if e.Type == TypeChunk {
		fields["content"] = e.Content
		fields["sequence"] = strconv.Itoa(e.Sequence)
		fields["total_length"] = strconv.Itoa(e.TotalLength)
	}
	if e.Type == TypeComplete {
		fields["final_length"] = strconv.Itoa(e.FinalLength)
		fields["tokens"] = strconv.Itoa(e.Tokens)
	}
	if e.Reason != "" {
		fields["reason"] = e.Reason
	}

	return fields
}

// EntryFromFields rebuilds an entry from a flat field map. Unknown fields
// are ignored; malformed numerics default to zero.
func EntryFromFields(fields map[string]string) Entry {
	var e Entry

	e.Type = Type(fields["type"])
	e.TaskID = fields["task_id"]
	e.MessageID = fields["message_id"]
	e.Content = fields["content"]
	e.Reason = fields["reason"]
	e.Sequence, _ = strconv.Atoi(fields["sequence"])
	e.TotalLength, _ = strconv.Atoi(fields["total_length"])
	e.FinalLength, _ = strconv.Atoi(fields["final_length"])
	e.Tokens, _ = strconv.Atoi(fields["tokens"])

	if ts := fields["timestamp"]; ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
	}

	return e
}
