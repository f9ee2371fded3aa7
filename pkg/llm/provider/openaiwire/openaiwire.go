// Package openaiwire implements the OpenAI-compatible chat-completions wire
// protocol shared by the OpenRouter and GitHub Models adapters: a JSON POST
// with stream=true, answered by an SSE stream of delta chunks terminated by
// a "[DONE]" sentinel.
package openaiwire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/omnichat/relay/pkg/llm"
	"github.com/omnichat/relay/pkg/llm/provider"
	"github.com/omnichat/relay/pkg/sse"
)

const defaultTimeout = 5 * time.Minute

// Client issues streaming chat-completions calls against one OpenAI-style
// endpoint.
type Client struct {
	// ProviderName labels errors from this endpoint.
	ProviderName string

	// BaseURL is the API root, e.g. "https://openrouter.ai/api/v1".
	// "/chat/completions" is appended.
	BaseURL string

	APIKey string

	// Headers are extra request headers (e.g. OpenRouter attribution).
	Headers map[string]string

	// HTTPClient defaults to a client with a generous timeout suitable
	// for long generations.
	HTTPClient *http.Client
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream issues the streaming call and returns the fragment stream.
func (c *Client) Stream(ctx context.Context, history []llm.Turn, model string) (provider.Stream, error) {
	messages := make([]wireMessage, 0, len(history))
	for _, turn := range history {
		messages = append(messages, wireMessage{Role: turn.Role, Content: turn.Content})
	}

	payload, err := json.Marshal(wireRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, provider.Error{Provider: c.ProviderName, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, provider.Error{Provider: c.ProviderName, Err: err}
	}

	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, provider.Error{Provider: c.ProviderName, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, provider.Error{
			Provider: c.ProviderName,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	return &stream{
		providerName: c.ProviderName,
		body:         resp.Body,
		reader:       sse.NewReader(resp.Body),
	}, nil
}

// stream adapts the SSE chunk feed into the fragment-sequence contract.
type stream struct {
	providerName string
	body         io.ReadCloser
	reader       *sse.Reader
}

// Next returns the next non-empty content delta, io.EOF at the "[DONE]"
// sentinel or stream end, and a provider error on malformed chunks.
func (s *stream) Next() (string, error) {
	for {
		ev, err := s.reader.Next()
		if err != nil {
			return "", provider.Error{Provider: s.providerName, Err: err}
		}
		if ev == nil {
			return "", io.EOF
		}

		data := strings.TrimSpace(ev.Data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return "", io.EOF
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", provider.Error{
				Provider: s.providerName,
				Err:      fmt.Errorf("malformed stream chunk: %w", err),
			}
		}

		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		return chunk.Choices[0].Delta.Content, nil
	}
}

// Close closes the response body.
func (s *stream) Close() error {
	return s.body.Close()
}
