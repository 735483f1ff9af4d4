package domain

import "time"

// FileType is the coarse kind of an uploaded knowledge file.
type FileType string

const (
	FileTypeDocument FileType = "document"
	FileTypeImage    FileType = "image"
	FileTypeAudio    FileType = "audio"
)

// Valid reports whether t is one of the known file types.
func (t FileType) Valid() bool {
	switch t {
	case FileTypeDocument, FileTypeImage, FileTypeAudio:
		return true
	}
	return false
}

// SourceStatus is the processing state of a knowledge source.
//
//	processing ──► completed
//	     │
//	     └───────► failed
//
// Both terminal states are final.
type SourceStatus string

const (
	StatusProcessing SourceStatus = "processing"
	StatusCompleted  SourceStatus = "completed"
	StatusFailed     SourceStatus = "failed"
)

// Terminal reports whether s admits no further transitions.
func (s SourceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s SourceStatus) CanTransition(next SourceStatus) bool {
	return s == StatusProcessing && next.Terminal()
}

// KnowledgeSource is one uploaded file whose extracted text feeds the vector
// index. Rows are created with StatusProcessing and finalized exactly once by
// the background ingestion task.
//
// Fields:
//   - FileName: original base name; used as the "source" label of its chunks.
//   - ObjectKey: key of the stored blob in the configured storage backend.
//   - Error: failure reason, empty unless Status is failed.
//   - ChunksStored: number of new chunks written to the vector index.
type KnowledgeSource struct {
	ID           string       `json:"id"            gorm:"type:char(36);primaryKey"`
	Title        string       `json:"title"         gorm:"type:varchar(255);not null"`
	FileName     string       `json:"file_name"     gorm:"type:varchar(255);not null"`
	ObjectKey    string       `json:"object_key"    gorm:"type:varchar(512);not null"`
	FileType     FileType     `json:"file_type"     gorm:"type:varchar(16);not null;check:file_type IN ('document','image','audio')"`
	Status       SourceStatus `json:"status"        gorm:"type:varchar(16);not null;index;check:status IN ('processing','completed','failed')"`
	Error        string       `json:"error,omitempty" gorm:"type:text"`
	ChunksStored int          `json:"chunks_stored" gorm:"not null;default:0"`
	UploadedBy   string       `json:"uploaded_by"   gorm:"type:varchar(64);not null;index"`
	CreatedAt    time.Time    `json:"created_at"    gorm:"index"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName returns the database table name for KnowledgeSource.
func (KnowledgeSource) TableName() string { return "knowledge_sources" }
