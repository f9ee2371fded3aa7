package openaiwire_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/omnichat/relay/pkg/llm"
	"github.com/omnichat/relay/pkg/llm/provider"
	"github.com/omnichat/relay/pkg/llm/provider/openaiwire"
)

// capturedRequest records what the fake upstream saw.
type capturedRequest struct {
	path    string
	headers http.Header
	body    map[string]any
}

// fakeUpstream serves a canned SSE response and records the request.
type fakeUpstream struct {
	mu       sync.Mutex
	response string
	status   int
	last     *capturedRequest
}

func (f *fakeUpstream) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var parsed map[string]any
	json.Unmarshal(body, &parsed)

	f.mu.Lock()
	f.last = &capturedRequest{path: r.URL.Path, headers: r.Header.Clone(), body: parsed}
	status := f.status
	response := f.response
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(status)
	fmt.Fprint(w, response)
}

func (f *fakeUpstream) request() *capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func chunkEvent(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

var _ = Describe("Client", func() {
	var (
		upstream *fakeUpstream
		server   *httptest.Server
		client   *openaiwire.Client
	)

	history := []llm.Turn{
		llm.NewTurn(llm.RoleUser, "hello"),
		llm.NewTurn(llm.RoleAssistant, "hi there"),
		llm.NewTurn(llm.RoleUser, "tell me more"),
	}

	collect := func(s provider.Stream) ([]string, error) {
		defer s.Close()

		var fragments []string
		for {
			fragment, err := s.Next()
			if errors.Is(err, io.EOF) {
				return fragments, nil
			}
			if err != nil {
				return fragments, err
			}
			fragments = append(fragments, fragment)
		}
	}

	BeforeEach(func() {
		upstream = &fakeUpstream{}
		server = httptest.NewServer(http.HandlerFunc(upstream.handler))
		client = &openaiwire.Client{
			ProviderName: "testwire",
			BaseURL:      server.URL,
			APIKey:       "secret-key",
			Headers:      map[string]string{"X-Title": "relay"},
			HTTPClient:   server.Client(),
		}
	})

	AfterEach(func() {
		server.Close()
	})

	It("streams content deltas until the DONE sentinel", func() {
		upstream.response = chunkEvent("Hel") + chunkEvent("lo") + "data: [DONE]\n\n"

		stream, err := client.Stream(context.Background(), history, "test-model")
		Expect(err).NotTo(HaveOccurred())

		fragments, err := collect(stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(fragments).To(Equal([]string{"Hel", "lo"}))
	})

	It("posts the full history with stream enabled", func() {
		upstream.response = "data: [DONE]\n\n"

		stream, err := client.Stream(context.Background(), history, "test-model")
		Expect(err).NotTo(HaveOccurred())
		stream.Close()

		req := upstream.request()
		Expect(req.path).To(Equal("/chat/completions"))
		Expect(req.body["model"]).To(Equal("test-model"))
		Expect(req.body["stream"]).To(BeTrue())

		messages := req.body["messages"].([]any)
		Expect(messages).To(HaveLen(3))
		first := messages[0].(map[string]any)
		Expect(first["role"]).To(Equal("user"))
		Expect(first["content"]).To(Equal("hello"))
	})

	It("sends auth and extra headers", func() {
		upstream.response = "data: [DONE]\n\n"

		stream, err := client.Stream(context.Background(), history, "test-model")
		Expect(err).NotTo(HaveOccurred())
		stream.Close()

		req := upstream.request()
		Expect(req.headers.Get("Authorization")).To(Equal("Bearer secret-key"))
		Expect(req.headers.Get("Accept")).To(Equal("text/event-stream"))
		Expect(req.headers.Get("X-Title")).To(Equal("relay"))
	})

	It("skips empty deltas and keep-alive comments", func() {
		upstream.response = ": ping\n\n" +
			"data: {\"choices\":[{\"delta\":{}}]}\n\n" +
			chunkEvent("only") +
			"data: [DONE]\n\n"

		stream, err := client.Stream(context.Background(), history, "test-model")
		Expect(err).NotTo(HaveOccurred())

		fragments, err := collect(stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(fragments).To(Equal([]string{"only"}))
	})

	It("treats an abrupt end of stream as EOF", func() {
		upstream.response = chunkEvent("partial")

		stream, err := client.Stream(context.Background(), history, "test-model")
		Expect(err).NotTo(HaveOccurred())

		fragments, err := collect(stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(fragments).To(Equal([]string{"partial"}))
	})

	It("surfaces a non-2xx response as a provider error", func() {
		upstream.status = http.StatusTooManyRequests
		upstream.response = `{"error":"rate limited"}`

		_, err := client.Stream(context.Background(), history, "test-model")

		var provErr provider.Error
		Expect(errors.As(err, &provErr)).To(BeTrue())
		Expect(provErr.Provider).To(Equal("testwire"))
		Expect(provErr.Error()).To(ContainSubstring("429"))
		Expect(provErr.Error()).To(ContainSubstring("rate limited"))
	})

	It("surfaces malformed chunks as a provider error", func() {
		upstream.response = "data: {not json}\n\n"

		stream, err := client.Stream(context.Background(), history, "test-model")
		Expect(err).NotTo(HaveOccurred())

		_, err = collect(stream)

		var provErr provider.Error
		Expect(errors.As(err, &provErr)).To(BeTrue())
		Expect(provErr.Error()).To(ContainSubstring("malformed"))
	})

	It("fails fast when the upstream is unreachable", func() {
		server.Close()

		_, err := client.Stream(context.Background(), history, "test-model")

		var provErr provider.Error
		Expect(errors.As(err, &provErr)).To(BeTrue())
	})
})
