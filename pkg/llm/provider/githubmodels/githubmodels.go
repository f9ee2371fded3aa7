// Package githubmodels adapts the GitHub Models inference API
// (OpenAI-compatible wire at models.github.ai) to the fragment-sequence
// contract.
package githubmodels

import (
	"context"

	"github.com/omnichat/relay/pkg/llm"
	"github.com/omnichat/relay/pkg/llm/provider"
	"github.com/omnichat/relay/pkg/llm/provider/openaiwire"
)

const defaultBaseURL = "https://models.github.ai/inference"

// Streamer implements provider.Streamer for GitHub Models.
type Streamer struct {
	client *openaiwire.Client
}

// Config holds the GitHub token and optional endpoint override.
type Config struct {
	Token string

	// BaseURL overrides the default endpoint, mainly for tests.
	BaseURL string
}

// New creates a GitHub Models adapter.
func New(cfg Config) *Streamer {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Streamer{
		client: &openaiwire.Client{
			ProviderName: "github",
			BaseURL:      baseURL,
			APIKey:       cfg.Token,
		},
	}
}

// Name returns "github".
func (s *Streamer) Name() string {
	return "github"
}

// Supports accepts any model; the API validates server-side.
func (s *Streamer) Supports(model string) bool {
	return model != ""
}

// Stream issues the streaming chat-completions call.
func (s *Streamer) Stream(ctx context.Context, history []llm.Turn, model string, _ llm.Options) (provider.Stream, error) {
	return s.client.Stream(ctx, history, model)
}
