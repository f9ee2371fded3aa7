// Package openrouter adapts the OpenRouter API (OpenAI-compatible wire) to
// the fragment-sequence contract.
package openrouter

import (
	"context"

	"github.com/omnichat/relay/pkg/llm"
	"github.com/omnichat/relay/pkg/llm/provider"
	"github.com/omnichat/relay/pkg/llm/provider/openaiwire"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Streamer implements provider.Streamer for OpenRouter.
type Streamer struct {
	client *openaiwire.Client
}

// Config holds OpenRouter credentials and attribution headers.
type Config struct {
	APIKey string

	// BaseURL overrides the default endpoint, mainly for tests.
	BaseURL string

	// SiteURL and SiteName populate OpenRouter's attribution headers.
	SiteURL  string
	SiteName string
}

// New creates an OpenRouter adapter.
func New(cfg Config) *Streamer {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	headers := make(map[string]string)
	if cfg.SiteURL != "" {
		headers["HTTP-Referer"] = cfg.SiteURL
	}
	if cfg.SiteName != "" {
		headers["X-Title"] = cfg.SiteName
	}

	return &Streamer{
		client: &openaiwire.Client{
			ProviderName: "openrouter",
			BaseURL:      baseURL,
			APIKey:       cfg.APIKey,
			Headers:      headers,
		},
	}
}

// Name returns "openrouter".
func (s *Streamer) Name() string {
	return "openrouter"
}

// Supports accepts any model; OpenRouter fronts many and validates
// server-side.
func (s *Streamer) Supports(model string) bool {
	return model != ""
}

// Stream issues the streaming chat-completions call.
func (s *Streamer) Stream(ctx context.Context, history []llm.Turn, model string, _ llm.Options) (provider.Stream, error) {
	return s.client.Stream(ctx, history, model)
}
