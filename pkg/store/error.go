package store

// NotFoundError is returned when a conversation or message doesn't exist in
// the store.
type NotFoundError struct {
	Kind string // "conversation" or "message"
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}

	return e.Kind + " not found: " + e.ID
}
