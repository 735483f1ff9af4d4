// Package storage keeps the raw bytes of uploaded knowledge files. Two
// backends are provided: a local directory and any S3-compatible object
// store (DigitalOcean Spaces, MinIO, AWS).
package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tbourn/go-rag-backend/internal/config"
)

var (
	// ErrNotFound is returned when no object exists under the key.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for empty keys or keys escaping the root.
	ErrInvalidKey = errors.New("invalid object key")
	// ErrURLUnsupported is returned by backends that cannot mint a direct URL.
	ErrURLUnsupported = errors.New("direct URLs not supported")
)

// Storage is the blob store used by the knowledge pipeline.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get returns the object's bytes and a best-effort MIME type.
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// DetectMIME guesses a content type from the key's extension, falling back
// to sniffing the leading bytes.
func DetectMIME(key string, head []byte) string {
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return mimetype.Detect(head).String()
}

// New builds the backend selected by cfg.
func New(cfg config.StorageConfig) (Storage, error) {
	if cfg.Backend == "s3" {
		return NewS3(S3Config{
			Endpoint:   cfg.S3Endpoint,
			Bucket:     cfg.S3Bucket,
			Region:     cfg.S3Region,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			UseSSL:     cfg.S3UseSSL,
			PublicRead: cfg.S3PublicRead,
		})
	}
	return NewLocal(cfg.UploadDir)
}
