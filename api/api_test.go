package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/omnichat/relay/gateway"
	cancelinmemory "github.com/omnichat/relay/pkg/cancel/inmemory"
	"github.com/omnichat/relay/pkg/chat"
	"github.com/omnichat/relay/pkg/llm"
	"github.com/omnichat/relay/pkg/llm/provider"
	storeinmemory "github.com/omnichat/relay/pkg/store/inmemory"
	loginmemory "github.com/omnichat/relay/pkg/streamlog/inmemory"
	"github.com/omnichat/relay/worker"
)

// echoStream yields a fixed fragment sequence.
type echoStream struct {
	fragments []string
	idx       int
}

func (s *echoStream) Next() (string, error) {
	if s.idx >= len(s.fragments) {
		return "", io.EOF
	}
	fragment := s.fragments[s.idx]
	s.idx++
	return fragment, nil
}

func (s *echoStream) Close() error { return nil }

// echoStreamer is a provider adapter that replays canned fragments.
type echoStreamer struct{}

func (e *echoStreamer) Name() string { return "echo" }

func (e *echoStreamer) Supports(model string) bool { return model == "echo-1" }

func (e *echoStreamer) Stream(context.Context, []llm.Turn, string, llm.Options) (provider.Stream, error) {
	return &echoStream{fragments: []string{"Hello ", "world"}}, nil
}

var _ = Describe("Server", func() {
	var (
		server *Server
		storer *storeinmemory.Driver
		pool   *worker.Pool
	)

	request := func(method, path, userID string, body any) *http.Request {
		var payload io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			payload = bytes.NewReader(raw)
		}

		req := httptest.NewRequest(method, path, payload)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if userID != "" {
			req.Header.Set(userHeader, userID)
		}
		return req
	}

	do := func(req *http.Request) (*http.Response, map[string]any) {
		resp, err := server.app.Test(req, 5000)
		Expect(err).NotTo(HaveOccurred())

		raw, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()

		var parsed map[string]any
		if len(raw) > 0 && raw[0] == '{' {
			Expect(json.Unmarshal(raw, &parsed)).To(Succeed())
		}
		return resp, parsed
	}

	createConversation := func(userID, message string) string {
		resp, body := do(request(http.MethodPost, "/conversations", userID, CreateConversationRequest{Message: message}))
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		return body["id"].(string)
	}

	BeforeEach(func() {
		storer = storeinmemory.NewDriver()
		log := loginmemory.NewDriver()
		cancels := cancelinmemory.NewRegistry(0)

		providers := provider.NewRegistry()
		providers.Register(&echoStreamer{})

		var err error
		pool, err = worker.NewPool(&worker.Config{
			Store:           storer,
			Log:             log,
			Cancels:         cancels,
			Providers:       providers,
			NumWorkers:      1,
			QueueSize:       4,
			CheckpointEvery: 2,
		})
		Expect(err).NotTo(HaveOccurred())

		dispatcher := worker.NewDispatcher(storer, pool, zap.NewNop())
		terminator := worker.NewTerminator(storer, log, cancels, zap.NewNop())
		gw := gateway.New(gateway.Config{Log: log, Block: 20 * time.Millisecond})

		server = NewServer(Config{ListenAddr: ":0"}, storer, dispatcher, terminator, gw, zap.NewNop())
	})

	AfterEach(func() {
		pool.Close()
	})

	Describe("authentication", func() {
		It("answers ping without a user header", func() {
			resp, _ := do(request(http.MethodGet, "/ping", "", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("rejects conversation routes without a user header", func() {
			resp, body := do(request(http.MethodGet, "/conversations", "", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(body["error"]).To(ContainSubstring(userHeader))
		})
	})

	Describe("POST /conversations", func() {
		It("creates a conversation seeded with the first message", func() {
			resp, body := do(request(http.MethodPost, "/conversations", "user-1",
				CreateConversationRequest{Message: "what is the capital of France"}))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(body["title"]).To(Equal("what is the capital of France"))
			Expect(body["user_id"]).To(Equal("user-1"))

			msgs, err := storer.ListMessages(context.Background(), body["id"].(string))
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Role).To(Equal(chat.RoleUser))
			Expect(msgs[0].Status).To(Equal(chat.StatusComplete))
			Expect(msgs[0].Content).To(Equal("what is the capital of France"))
		})

		It("truncates long titles to the leading words", func() {
			_, body := do(request(http.MethodPost, "/conversations", "user-1",
				CreateConversationRequest{Message: "one two three four five six seven eight nine ten eleven"}))
			Expect(body["title"]).To(Equal("one two three four five six seven eight nine ten..."))
		})

		It("rejects an empty message", func() {
			resp, body := do(request(http.MethodPost, "/conversations", "user-1",
				CreateConversationRequest{Message: "   "}))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body["error"]).To(Equal("message is required"))
		})

		It("keeps persisted strings intact across later requests", func() {
			// Header and body strings go straight into the store. fasthttp
			// recycles its request buffers, so without copies a later
			// request would rewrite them in place.
			aliceConv := createConversation("alice", "first question from alice")
			createConversation("bob", "completely different text from bob")

			conv, err := storer.GetConversation(context.Background(), aliceConv)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.UserID).To(Equal("alice"))
			Expect(conv.Title).To(Equal("first question from alice"))

			msgs, err := storer.ListMessages(context.Background(), aliceConv)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs[0].Content).To(Equal("first question from alice"))

			aliceOwned, err := storer.ListConversations(context.Background(), "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(aliceOwned).To(HaveLen(1))
		})
	})

	Describe("GET /conversations", func() {
		It("lists only the caller's conversations", func() {
			createConversation("user-1", "mine")
			createConversation("user-2", "theirs")

			resp, body := do(request(http.MethodGet, "/conversations", "user-1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["count"]).To(BeEquivalentTo(1))
		})
	})

	Describe("GET /conversations/:id", func() {
		It("returns the conversation with its messages", func() {
			id := createConversation("user-1", "hello there")

			resp, body := do(request(http.MethodGet, "/conversations/"+id, "user-1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			conversation := body["conversation"].(map[string]any)
			Expect(conversation["id"]).To(Equal(id))
			Expect(body["messages"].([]any)).To(HaveLen(1))
		})

		It("hides foreign conversations as not found", func() {
			id := createConversation("user-1", "private")

			resp, _ := do(request(http.MethodGet, "/conversations/"+id, "user-2", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("returns 404 for an unknown conversation", func() {
			resp, _ := do(request(http.MethodGet, "/conversations/ghost", "user-1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("DELETE /conversations/:id", func() {
		It("deletes an owned conversation", func() {
			id := createConversation("user-1", "doomed")

			resp, _ := do(request(http.MethodDelete, "/conversations/"+id, "user-1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, _ = do(request(http.MethodGet, "/conversations/"+id, "user-1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("refuses to delete a foreign conversation", func() {
			id := createConversation("user-1", "keep out")

			resp, _ := do(request(http.MethodDelete, "/conversations/"+id, "user-2", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /conversations/:id/generate", func() {
		It("accepts a generation and reports the task id", func() {
			id := createConversation("user-1", "hello")

			resp, body := do(request(http.MethodPost, "/conversations/"+id+"/generate", "user-1",
				GenerateRequest{Provider: "echo", Model: "echo-1"}))
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			Expect(body["task_id"]).NotTo(BeEmpty())

			Eventually(func() chat.MessageStatus {
				msgs, err := storer.ListMessages(context.Background(), id)
				Expect(err).NotTo(HaveOccurred())
				for _, msg := range msgs {
					if msg.Role == chat.RoleAssistant {
						return msg.Status
					}
				}
				return ""
			}).Should(Equal(chat.StatusComplete))

			msgs, err := storer.ListMessages(context.Background(), id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs[len(msgs)-1].Content).To(Equal("Hello world"))
		})

		It("persists a follow-up message sent with the request", func() {
			id := createConversation("user-1", "hello")

			resp, _ := do(request(http.MethodPost, "/conversations/"+id+"/generate", "user-1",
				GenerateRequest{Message: "and another thing", Provider: "echo", Model: "echo-1"}))
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			msgs, err := storer.ListMessages(context.Background(), id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs[1].Role).To(Equal(chat.RoleUser))
			Expect(msgs[1].Content).To(Equal("and another thing"))
		})

		It("requires provider and model", func() {
			id := createConversation("user-1", "hello")

			resp, body := do(request(http.MethodPost, "/conversations/"+id+"/generate", "user-1",
				GenerateRequest{Provider: "echo"}))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body["error"]).To(Equal("provider and model are required"))
		})

		It("rejects an unsupported provider", func() {
			id := createConversation("user-1", "hello")

			resp, body := do(request(http.MethodPost, "/conversations/"+id+"/generate", "user-1",
				GenerateRequest{Provider: "acme", Model: "echo-1"}))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body["error"]).To(ContainSubstring("unsupported provider"))
		})

		It("returns 404 for a foreign conversation", func() {
			id := createConversation("user-1", "private")

			resp, _ := do(request(http.MethodPost, "/conversations/"+id+"/generate", "user-2",
				GenerateRequest{Provider: "echo", Model: "echo-1"}))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /conversations/:id/tasks/:taskID/terminate", func() {
		It("acknowledges termination for an owned conversation", func() {
			id := createConversation("user-1", "hello")

			resp, body := do(request(http.MethodPost, "/conversations/"+id+"/tasks/task-1/terminate", "user-1", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			Expect(body["status"]).To(Equal("terminating"))
		})

		It("hides foreign conversations as not found", func() {
			id := createConversation("user-1", "private")

			resp, _ := do(request(http.MethodPost, "/conversations/"+id+"/tasks/task-1/terminate", "user-2", nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("deriveTitle", func() {
		It("keeps short messages whole", func() {
			Expect(deriveTitle("  hello   world  ")).To(Equal("hello world"))
		})

		It("caps long messages at ten words", func() {
			Expect(deriveTitle("a b c d e f g h i j k l")).To(Equal("a b c d e f g h i j..."))
		})
	})
})
