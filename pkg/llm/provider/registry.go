package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps provider names to their adapters.
type Registry struct {
	mu        sync.RWMutex
	streamers map[string]Streamer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{streamers: make(map[string]Streamer)}
}

// Register adds an adapter under its canonical name, replacing any previous
// registration.
func (r *Registry) Register(s Streamer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streamers[s.Name()] = s
}

// Lookup resolves a provider/model pair to an adapter.
// Returns UnsupportedProviderError if no adapter serves the pair.
func (r *Registry) Lookup(providerName, model string) (Streamer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.streamers[providerName]
	if !ok {
		return nil, UnsupportedProviderError{Provider: providerName, Model: model}
	}
	if !s.Supports(model) {
		return nil, UnsupportedProviderError{Provider: providerName, Model: model}
	}

	return s, nil
}

// Names returns the sorted list of registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.streamers))
	for name := range r.streamers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// UnsupportedProviderError indicates a provider/model pair with no adapter.
type UnsupportedProviderError struct {
	Provider string
	Model    string
}

func (e UnsupportedProviderError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("unsupported provider %q", e.Provider)
	}

	return fmt.Sprintf("unsupported provider/model %q/%q", e.Provider, e.Model)
}

// Error wraps a backend failure observed mid-stream or at call time.
type Error struct {
	Provider string
	Err      error
}

func (e Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}
