// Package llm holds the provider-neutral types exchanged with generation
// backends: role-tagged conversation turns and per-request options.
package llm

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged message in the conversation history handed to a
// provider. Only completed assistant turns belong in history; streaming or
// incomplete ones are excluded by the caller.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewTurn creates a turn with the given role and text.
func NewTurn(role, content string) Turn {
	return Turn{Role: role, Content: content}
}

// Options carries per-request generation knobs that providers may honor.
type Options struct {
	// EnableSearch asks the provider to augment generation with a search
	// tool. Ignored by providers without one.
	EnableSearch bool
}
