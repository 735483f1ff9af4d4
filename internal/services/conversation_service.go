// Package services – ConversationService
//
// This file implements ConversationService, which exposes read and delete
// operations on a user's conversations. Conversations are created implicitly
// by ChatService on the first message, so there is no Create here.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/repo"
)

// ConversationService lists, fetches and deletes conversations owned by a
// user.
type ConversationService struct {
	DB *gorm.DB
}

// NewConversationService returns a ConversationService bound to db.
func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{DB: db}
}

// ListPage returns up to limit conversations of userID after skipping skip,
// most recently updated first, along with the total count.
func (s *ConversationService) ListPage(ctx context.Context, userID string, skip, limit int) ([]domain.Conversation, int64, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("skip", skip),
			attribute.Int("limit", limit),
		))
	defer span.End()

	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = 10
	}

	total, err := repo.CountConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := repo.ListConversationsPage(ctx, s.DB, userID, skip, limit)
	return items, total, err
}

// Get returns a conversation with its messages in chronological order.
func (s *ConversationService) Get(ctx context.Context, userID, id string) (*domain.Conversation, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	c, err := repo.GetConversation(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	msgs, err := repo.ListMessages(ctx, s.DB, id, 0)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.Messages = msgs
	return c, nil
}

// Delete removes a conversation and its messages.
func (s *ConversationService) Delete(ctx context.Context, userID, id string) error {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	if err := repo.DeleteConversation(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// Stats reports the number of userID's conversations and the latest
// update time among them, for conditional list responses.
func (s *ConversationService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.ConversationsStats(ctx, s.DB, userID)
}
