// Chat HTTP handlers.
//
// This file exposes REST endpoints for conversations:
//   - POST   /chat/send                (answer a message, Idempotency-Key support)
//   - GET    /chat/conversations       (list, skip/limit, ETag support)
//   - GET    /chat/conversations/{id}  (detail with messages)
//   - DELETE /chat/conversations/{id}  (delete with messages)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/http/middleware"
	"github.com/tbourn/go-rag-backend/internal/services"
	"github.com/tbourn/go-rag-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChatService answers messages. Implementations must honor ctx.
type ChatService interface {
	// Send answers message within conversationID, or a new conversation when
	// conversationID is empty. A non-empty idemKey makes retries replay.
	Send(ctx context.Context, userID, conversationID, message, idemKey string) (*services.SendResult, error)
}

// ConversationService reads and deletes a user's conversations.
type ConversationService interface {
	ListPage(ctx context.Context, userID string, skip, limit int) ([]domain.Conversation, int64, error)
	Get(ctx context.Context, userID, id string) (*domain.Conversation, error)
	Delete(ctx context.Context, userID, id string) error
	// Stats returns the count and latest update time, used for ETags.
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for chat and the knowledge base.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	chatSvc      ChatService
	convSvc      ConversationService
	knowledgeSvc KnowledgeService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(chatSvc ChatService, convSvc ConversationService, knowledgeSvc KnowledgeService) *Handlers {
	return &Handlers{chatSvc: chatSvc, convSvc: convSvc, knowledgeSvc: knowledgeSvc}
}

// userID returns the caller identity resolved by middleware.Identity.
func userID(c *gin.Context) string { return middleware.UserID(c) }

//
// DTOs
//

// SendMessageRequest is the JSON payload for POST /chat/send.
type SendMessageRequest struct {
	// Message is the user's question.
	Message string `json:"message" example:"Bagaimana cara menulis latar belakang skripsi?"`
	// ConversationID continues an existing conversation; omit to start one.
	ConversationID string `json:"conversation_id,omitempty" example:"0192b1f4-7c4e-7a51-9c1d-2f6e0c1d9a11"`
}

// SendMessageResponse carries the assistant reply.
type SendMessageResponse struct {
	Message        *domain.Message `json:"message"`
	ConversationID string          `json:"conversation_id"`
	// Sources lists the knowledge files the answer drew on.
	Sources []string `json:"sources,omitempty"`
}

// DetailResponse is the body of successful deletes.
type DetailResponse struct {
	Detail string `json:"detail" example:"Conversation deleted successfully"`
}

//
// Helpers
//

// clampSkipLimit parses skip/limit query params (default 0/10, max 100).
func clampSkipLimit(c *gin.Context) (skip, limit int) {
	return utils.SkipLimit(c.Query("skip"), c.Query("limit"), 10, 100)
}

// setWeakETag sets a weak ETag derived from collection stats and reports
// whether the client already holds it.
func setWeakETag(c *gin.Context, scope string, count int64, maxTS *time.Time, skip, limit int) bool {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d:%d:%d"`, scope, count, ts, skip, limit)
	c.Header("ETag", etag)
	return c.GetHeader("If-None-Match") == etag
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Ask a question
// @Description Answers the message from the knowledge base and stores the exchange. Omitting conversation_id starts a new conversation titled from the message. With Idempotency-Key a retried request returns the original reply.
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID"          example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key"  example(7b1c9b1e-0f00-4b7b-a6a0-3c7c2d0d1c11)
// @Param       body             body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     200  {object}  handlers.SendMessageResponse
// @Header      200  {string}  Idempotency-Replayed  "true when served from a stored result"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Answer failed"
// @Router      /chat/send [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	convID := strings.TrimSpace(req.ConversationID)
	if convID != "" {
		if _, err := uuid.Parse(convID); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation_id must be a UUID")
			return
		}
	}
	key, _ := middleware.GetIdempotencyKey(c)

	res, err := h.chatSvc.Send(c.Request.Context(), userID(c), convID, req.Message, key)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message is required")
		return
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message is too long")
		return
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Conversation not found")
		return
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeAnswerFailed, "failed to generate an answer")
		return
	}

	if res.Replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	ok(c, http.StatusOK, SendMessageResponse{
		Message:        res.Message,
		ConversationID: res.ConversationID,
		Sources:        res.Sources,
	})
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations
// @Description Returns the user's conversations, most recently active first. Supports weak ETag via If-None-Match and may return 304. The unpaged total is sent in X-Total-Count.
// @Tags        Chat
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID"                     example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       skip           query   int     false "Items to skip"               minimum(0) default(0)
// @Param       limit          query   int     false "Items per page"              minimum(1) maximum(100) default(10)
//
// @Success     200  {array}   domain.Conversation
// @Header      200  {string}  ETag           "Weak ETag for current result"
// @Header      200  {integer} X-Total-Count  "Total number of conversations"
// @Success     304  {string}  string "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /chat/conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	skip, limit := clampSkipLimit(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.convSvc.Stats(ctx, uid); err == nil {
		if setWeakETag(c, "conversations:"+uid, count, maxTS, skip, limit) {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.convSvc.ListPage(ctx, uid, skip, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	c.Header("X-Total-Count", strconv.FormatInt(total, 10))
	ok(c, http.StatusOK, items)
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get a conversation
// @Description Returns a conversation owned by the current user with its messages in chronological order.
// @Tags        Chat
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"                 example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /chat/conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	conv, err := h.convSvc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "Conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, conv)
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Delete a conversation
// @Description Deletes a conversation owned by the current user together with its messages.
// @Tags        Chat
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"                 example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.DetailResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse "Delete failed"
// @Router      /chat/conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	if err := h.convSvc.Delete(c.Request.Context(), userID(c), id); err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "Conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, DetailResponse{Detail: "Conversation deleted successfully"})
}
