// Package sse provides a minimal, purpose-built SSE (Server-Sent Events)
// reader and writer. The reader parses event streams from upstream LLM
// providers; the writer emits the relay's own event stream to subscribed
// clients.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single SSE event, delimited by a blank line in the
// byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type per the SSE spec.
	Type string

	// Data is the concatenated contents of all "data:" lines for this
	// event, joined with "\n" (per the SSE spec, multiple data fields are
	// joined with a single newline).
	Data string

	// ID is the last event ID from the "id:" field, if present.
	ID string
}
