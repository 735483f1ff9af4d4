// Package services – ChatService
//
// This file implements ChatService, which answers a user's message with the
// RAG generator and records the exchange. A missing conversation id starts a
// new conversation titled from the first message.
//
// The answer is generated before anything is written. The conversation (when
// new), the user message and the assistant message are then persisted in one
// transaction with a shared timestamp, so a failed answer leaves no trace.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/rag"
	"github.com/tbourn/go-rag-backend/internal/repo"
)

// titleMaxRunes is the number of leading characters of the first message
// kept as a conversation title.
const titleMaxRunes = 30

// Answerer produces an answer for query given the conversation so far.
// *rag.Generator satisfies it.
type Answerer interface {
	Answer(ctx context.Context, query string, history []domain.Message) (rag.Answer, error)
}

// SendResult is the outcome of ChatService.Send.
type SendResult struct {
	Message        *domain.Message
	ConversationID string
	Sources        []string
	// Replayed is true when the result was served from a stored
	// idempotency record instead of a fresh answer.
	Replayed bool
}

// ChatService answers chat messages and persists conversations.
type ChatService struct {
	DB        *gorm.DB
	Generator Answerer

	// HistoryLimit caps the prior messages sent to the model; 0 sends all.
	HistoryLimit int
	// MaxMessageRunes rejects longer messages with ErrTooLong when > 0.
	MaxMessageRunes int
	// IdempotencyTTL is how long a send can be replayed by its key.
	IdempotencyTTL time.Duration

	now func() time.Time
}

// NewChatService constructs a ChatService with a 24h idempotency window.
func NewChatService(db *gorm.DB, g Answerer) *ChatService {
	return &ChatService{
		DB:             db,
		Generator:      g,
		IdempotencyTTL: 24 * time.Hour,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Send answers message within conversationID, or within a new conversation
// when conversationID is empty. A non-empty idemKey makes the call
// replayable: a repeated key returns the assistant message stored the first
// time without asking the model again.
func (s *ChatService) Send(ctx context.Context, userID, conversationID, message, idemKey string) (*SendResult, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("conversation.id", conversationID),
			attribute.Bool("idempotent", idemKey != ""),
		))
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(message) > s.MaxMessageRunes {
		return nil, ErrTooLong
	}

	if idemKey != "" {
		if res, err := s.replay(ctx, userID, idemKey); err == nil {
			span.SetAttributes(attribute.Bool("replayed", true))
			return res, nil
		}
	}

	var history []domain.Message
	if conversationID != "" {
		if _, err := repo.GetConversation(ctx, s.DB, conversationID, userID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrConversationNotFound
			}
			return nil, err
		}
		prior, err := repo.ListMessages(ctx, s.DB, conversationID, s.HistoryLimit)
		if err != nil {
			return nil, err
		}
		history = prior
	}
	history = append(history, domain.Message{Role: domain.RoleUser, Content: message})

	ans, err := s.Generator.Answer(ctx, message, history)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("answer: %w", err)
	}

	at := s.clock()
	var reply *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if conversationID == "" {
			c, err := repo.CreateConversation(ctx, tx, userID, Title(message), at)
			if err != nil {
				return err
			}
			conversationID = c.ID
		} else if err := repo.TouchConversation(ctx, tx, conversationID, at); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		if _, err := repo.CreateMessage(ctx, tx, conversationID, domain.RoleUser, message, at); err != nil {
			return err
		}
		m, err := repo.CreateMessage(ctx, tx, conversationID, domain.RoleAssistant, ans.Text, at)
		if err != nil {
			return err
		}
		reply = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if idemKey != "" {
		_, err := repo.CreateIdempotency(ctx, s.DB, userID, idemKey, conversationID, reply.ID, http.StatusOK, s.ttl())
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("idempotency record not stored")
		}
	}

	return &SendResult{Message: reply, ConversationID: conversationID, Sources: ans.Sources}, nil
}

// Replayable reports whether a stored, unexpired result exists for
// (userID, key).
func (s *ChatService) Replayable(ctx context.Context, userID, key string, now time.Time) (bool, error) {
	_, err := repo.GetIdempotency(ctx, s.DB, userID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *ChatService) replay(ctx context.Context, userID, key string) (*SendResult, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, key, s.clock())
	if err != nil {
		return nil, err
	}
	m, err := repo.GetMessage(ctx, s.DB, rec.MessageID)
	if err != nil {
		return nil, err
	}
	return &SendResult{Message: m, ConversationID: rec.ConversationID, Replayed: true}, nil
}

func (s *ChatService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

func (s *ChatService) ttl() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

// Title derives a conversation title from its first message: the first 30
// characters, followed by "..." when the message is longer.
func Title(message string) string {
	if utf8.RuneCountInString(message) <= titleMaxRunes {
		return message
	}
	return string([]rune(message)[:titleMaxRunes]) + "..."
}
