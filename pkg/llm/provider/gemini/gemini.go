// Package gemini adapts Google's Gemini API to the fragment-sequence
// contract using the official Go GenAI client.
package gemini

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/omnichat/relay/pkg/llm"
	"github.com/omnichat/relay/pkg/llm/provider"
)

// Streamer implements provider.Streamer for Gemini.
type Streamer struct {
	client *genai.Client
}

// New creates a Gemini adapter with a long-lived client.
func New(ctx context.Context, apiKey string) (*Streamer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, provider.Error{Provider: "gemini", Err: err}
	}

	return &Streamer{client: client}, nil
}

// Name returns "gemini".
func (s *Streamer) Name() string {
	return "gemini"
}

// Supports accepts Gemini model names.
func (s *Streamer) Supports(model string) bool {
	return strings.HasPrefix(model, "gemini")
}

// Stream sends the full turn history and streams the model's response.
// Gemini labels assistant turns "model".
func (s *Streamer) Stream(ctx context.Context, history []llm.Turn, model string, opts llm.Options) (provider.Stream, error) {
	if len(history) == 0 {
		return nil, provider.Error{Provider: "gemini", Err: errors.New("empty history")}
	}

	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		role := "user"
		if turn.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Content}},
		})
	}

	var config *genai.GenerateContentConfig
	if opts.EnableSearch {
		config = &genai.GenerateContentConfig{
			Tools: []*genai.Tool{
				{GoogleSearch: &genai.GoogleSearch{}},
			},
		}
	}

	next, stop := iter.Pull2(s.client.Models.GenerateContentStream(ctx, model, contents, config))

	return &stream{next: next, stop: stop}, nil
}

// stream adapts the pull side of the response sequence.
type stream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

// Next returns the text of the next response chunk, skipping chunks that
// carry no text (e.g. pure tool metadata).
func (s *stream) Next() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", provider.Error{Provider: "gemini", Err: err}
		}

		text := responseText(resp)
		if text == "" {
			continue
		}

		return text, nil
	}
}

// Close releases the underlying sequence.
func (s *stream) Close() error {
	s.stop()
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil {
				b.WriteString(part.Text)
			}
		}
	}

	return b.String()
}
