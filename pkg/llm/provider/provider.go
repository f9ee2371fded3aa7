// Package provider defines the Provider Adapter contract: each adapter
// normalizes one external streaming-text backend into a lazy sequence of
// plain text fragments. Adapters know nothing about the stream log,
// cancellation, or persistence; those concerns live in the worker.
package provider

import (
	"context"

	"github.com/omnichat/relay/pkg/llm"
)

// Stream is a lazy, finite, non-restartable sequence of text fragments.
type Stream interface {
	// Next returns the next fragment. It returns io.EOF at the natural
	// end of the stream and a provider error on failure.
	Next() (string, error)

	// Close releases the underlying connection. Safe to call after Next
	// has returned an error.
	Close() error
}

// Streamer adapts one generation backend.
type Streamer interface {
	// Name returns the canonical provider name (e.g. "gemini",
	// "openrouter", "github").
	Name() string

	// Supports reports whether this adapter can serve the given model.
	Supports(model string) bool

	// Stream issues the streaming call for the given ordered history.
	Stream(ctx context.Context, history []llm.Turn, model string, opts llm.Options) (Stream, error)
}
