package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/omnichat/relay/pkg/chat"
	"github.com/omnichat/relay/pkg/llm/provider"
	"github.com/omnichat/relay/pkg/store"
	"github.com/omnichat/relay/worker"
)

// userHeader carries the caller's identity. Authentication happens
// upstream; the relay only scopes data by this value.
const userHeader = "X-User-ID"

// titleWords is how many leading words of the first message become the
// conversation title.
const titleWords = 10

// ErrorResponse is the JSON body returned for all error statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateConversationRequest is the body for POST /conversations.
type CreateConversationRequest struct {
	Message string `json:"message"`
}

// GenerateRequest is the body for POST /conversations/:id/generate.
type GenerateRequest struct {
	Message      string `json:"message,omitempty"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	EnableSearch bool   `json:"enable_search,omitempty"`
}

// ConversationDetail is the response for GET /conversations/:id.
type ConversationDetail struct {
	Conversation *chat.Conversation `json:"conversation"`
	Messages     []*chat.Message    `json:"messages"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// userID extracts the caller identity header, or returns "" after writing
// a 401 response.
func (s *Server) userID(c *fiber.Ctx) (string, error) {
	id := c.Get(userHeader)
	if id == "" {
		return "", c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "missing " + userHeader + " header"})
	}
	return id, nil
}

// ownedConversation loads the conversation and verifies the caller owns
// it. A foreign conversation is reported as not found.
func (s *Server) ownedConversation(c *fiber.Ctx, conversationID, userID string) (*chat.Conversation, error) {
	conv, err := s.storer.GetConversation(c.Context(), conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, store.NotFoundError{Kind: "conversation", ID: conversationID}
	}
	return conv, nil
}

func (s *Server) handleCreateConversation(c *fiber.Ctx) error {
	userID, err := s.userID(c)
	if userID == "" {
		return err
	}

	var req CreateConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "message is required"})
	}

	now := time.Now()
	conv := &chat.Conversation{
		UserID:    userID,
		Title:     deriveTitle(req.Message),
		CreatedAt: now,
		UpdatedAt: now,
	}

	id, err := s.storer.CreateConversation(c.Context(), conv)
	if err != nil {
		s.logger.Error("failed to create conversation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to create conversation"})
	}
	conv.ID = id

	if _, err := s.storer.InsertMessage(c.Context(), &chat.Message{
		ConversationID: id,
		Role:           chat.RoleUser,
		Content:        req.Message,
		Status:         chat.StatusComplete,
		CreatedAt:      now,
	}); err != nil {
		s.logger.Error("failed to insert first message",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to create conversation"})
	}

	return c.Status(fiber.StatusCreated).JSON(conv)
}

func (s *Server) handleListConversations(c *fiber.Ctx) error {
	userID, err := s.userID(c)
	if userID == "" {
		return err
	}

	conversations, err := s.storer.ListConversations(c.Context(), userID)
	if err != nil {
		s.logger.Error("failed to list conversations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list conversations"})
	}

	return c.JSON(fiber.Map{
		"count":         len(conversations),
		"conversations": conversations,
	})
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	userID, err := s.userID(c)
	if userID == "" {
		return err
	}

	conv, err := s.ownedConversation(c, c.Params("id"), userID)
	if err != nil {
		return s.notFoundOrError(c, err)
	}

	messages, err := s.storer.ListMessages(c.Context(), conv.ID)
	if err != nil {
		s.logger.Error("failed to list messages",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list messages"})
	}

	return c.JSON(ConversationDetail{
		Conversation: conv,
		Messages:     messages,
	})
}

func (s *Server) handleDeleteConversation(c *fiber.Ctx) error {
	userID, err := s.userID(c)
	if userID == "" {
		return err
	}

	conv, err := s.ownedConversation(c, c.Params("id"), userID)
	if err != nil {
		return s.notFoundOrError(c, err)
	}

	if err := s.storer.DeleteConversation(c.Context(), conv.ID); err != nil {
		s.logger.Error("failed to delete conversation",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete conversation"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleGenerate(c *fiber.Ctx) error {
	userID, err := s.userID(c)
	if userID == "" {
		return err
	}

	var req GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Provider == "" || req.Model == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "provider and model are required"})
	}

	taskID, err := s.dispatcher.Submit(c.Context(), c.Params("id"), userID, req.Message, req.Provider, req.Model, chat.GenerationOptions{
		EnableSearch: req.EnableSearch,
	})
	if err != nil {
		var notFound store.NotFoundError
		var unsupported provider.UnsupportedProviderError
		switch {
		case errors.As(err, &notFound):
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: notFound.Error()})
		case errors.As(err, &unsupported):
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: unsupported.Error()})
		case errors.Is(err, worker.QueueFullError{}):
			return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "generation queue is full, retry later"})
		default:
			s.logger.Error("failed to submit generation", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to submit generation"})
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"task_id": taskID})
}

func (s *Server) handleTerminate(c *fiber.Ctx) error {
	userID, err := s.userID(c)
	if userID == "" {
		return err
	}

	conv, err := s.ownedConversation(c, c.Params("id"), userID)
	if err != nil {
		return s.notFoundOrError(c, err)
	}

	if err := s.terminator.Terminate(c.Context(), conv.ID, c.Params("taskID")); err != nil {
		s.logger.Error("failed to terminate task",
			zap.String("task_id", c.Params("taskID")),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to terminate task"})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "terminating"})
}

// notFoundOrError maps store lookup failures onto HTTP statuses.
func (s *Server) notFoundOrError(c *fiber.Ctx, err error) error {
	var notFound store.NotFoundError
	if errors.As(err, &notFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: notFound.Error()})
	}

	s.logger.Error("conversation lookup failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
}

// deriveTitle builds a conversation title from the leading words of its
// first message.
func deriveTitle(message string) string {
	words := strings.Fields(message)
	if len(words) <= titleWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:titleWords], " ") + "..."
}
