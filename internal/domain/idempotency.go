package domain

import "time"

// Idempotency records the outcome of a processed chat send, keyed by
// (user_id, key). A retried request carrying the same Idempotency-Key is
// answered from this record instead of asking the model again.
//
// Column types are left to the dialect so the table migrates on both SQLite
// and PostgreSQL.
type Idempotency struct {
	ID             string    `gorm:"type:varchar(36);not null;primaryKey"`
	UserID         string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_key,priority:1"`
	Key            string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_user_key,priority:2"`
	ConversationID string    `gorm:"type:varchar(36);not null"`
	MessageID      string    `gorm:"type:varchar(36);not null"`
	Status         int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
