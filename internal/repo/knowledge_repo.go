// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// KnowledgeSource model.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

// ErrInvalidTransition is returned by FinalizeSource when the requested
// status is not a legal move out of processing, or the row already left it.
var ErrInvalidTransition = errors.New("invalid status transition")

// CreateSource inserts a knowledge source. The caller assigns the ID so the
// storage key can be derived from it before the row exists.
func CreateSource(ctx context.Context, db *gorm.DB, src *domain.KnowledgeSource) error {
	now := time.Now().UTC()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = src.CreatedAt
	if src.Status == "" {
		src.Status = domain.StatusProcessing
	}
	return db.WithContext(ctx).Create(src).Error
}

// GetSource fetches a knowledge source by ID, or ErrNotFound.
func GetSource(ctx context.Context, db *gorm.DB, id string) (*domain.KnowledgeSource, error) {
	var s domain.KnowledgeSource
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CountSources returns the number of knowledge sources.
func CountSources(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.KnowledgeSource{}).Count(&total).Error
	return total, err
}

// ListSourcesPage returns a page of knowledge sources, newest first.
func ListSourcesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.KnowledgeSource, error) {
	var out []domain.KnowledgeSource
	err := db.WithContext(ctx).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// FinalizeSource moves a processing source into a terminal status. The update
// is conditional on status = 'processing', so a finalized row is never
// re-entered; ErrInvalidTransition is returned when nothing matched.
func FinalizeSource(ctx context.Context, db *gorm.DB, id string, status domain.SourceStatus, chunks int, reason string) error {
	if !domain.StatusProcessing.CanTransition(status) {
		return ErrInvalidTransition
	}
	res := db.WithContext(ctx).
		Model(&domain.KnowledgeSource{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{
			"status":        status,
			"chunks_stored": chunks,
			"error":         reason,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// DeleteSource removes a knowledge source row, or returns ErrNotFound.
func DeleteSource(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.KnowledgeSource{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
