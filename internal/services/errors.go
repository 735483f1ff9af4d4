// Package services defines the business logic for conversations, chat
// answers and the knowledge base. This file centralizes service-level error
// values so they can be returned consistently and checked by callers.
//
// Translating these into user-facing messages or HTTP status codes is the
// handler layer's job.
package services

import "errors"

// Chat-related errors.
var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not owned by the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyMessage is returned when a chat message is blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrTooLong is returned when a chat message exceeds the configured
	// maximum length.
	ErrTooLong = errors.New("message too long")
)

// Knowledge-related errors.
var (
	// ErrSourceNotFound indicates that the requested knowledge source does
	// not exist.
	ErrSourceNotFound = errors.New("knowledge source not found")

	// ErrEmptyTitle is returned when an upload carries no title.
	ErrEmptyTitle = errors.New("title is required")

	// ErrUnsupportedFileType is returned for an extension outside the
	// supported set, or an explicit file type that is not recognized.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrFileTypeMismatch is returned when an explicit file type names a
	// different family than the file's extension.
	ErrFileTypeMismatch = errors.New("file type does not match extension")

	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrQueueUnavailable is returned when the ingestion task could not be
	// queued. The source row is marked failed before it is returned.
	ErrQueueUnavailable = errors.New("ingestion queue unavailable")
)
