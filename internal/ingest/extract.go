package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoText marks a file whose extraction produced no usable text.
	ErrNoText = errors.New("no text extracted")
	// ErrEmptyTranscript is returned when transcription yields an empty string.
	ErrEmptyTranscript = errors.New("empty transcript")
	// ErrNoReader is returned when no reader is configured for a file kind.
	ErrNoReader = errors.New("no reader configured")
)

// Blobs reads stored file bytes and their MIME type.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// DocumentReader extracts text from a PDF or Word document.
type DocumentReader interface {
	ReadDocument(ctx context.Context, name string, data []byte) (string, error)
}

// ImageReader extracts text from an image.
type ImageReader interface {
	ReadImage(ctx context.Context, mimeType string, data []byte) (string, error)
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, name string, data []byte) (string, error)
}

// Extractor fetches a stored file and turns it into plain text according
// to its kind.
type Extractor struct {
	Blobs     Blobs
	Documents DocumentReader
	Images    ImageReader
	Audio     Transcriber
}

// Extract returns the text content of f. Vendor and I/O failures are logged
// with the file's key and returned wrapped with the failing operation.
func (e *Extractor) Extract(ctx context.Context, f File) (string, error) {
	data, mimeType, err := e.Blobs.Get(ctx, f.Key())
	if err != nil {
		return "", e.fail(f, "read", err)
	}
	return f.accept(ctx, &extraction{e: e, data: data, mimeType: mimeType})
}

func (e *Extractor) fail(f File, op string, err error) error {
	log.Error().Err(err).Str("op", op).Str("path", f.Key()).Msg("extract failed")
	return fmt.Errorf("%s: %w", op, err)
}

// extraction is the per-call handler; it carries the fetched bytes.
type extraction struct {
	e        *Extractor
	data     []byte
	mimeType string
}

func (x *extraction) document(ctx context.Context, f DocumentFile) (string, error) {
	if x.e.Documents == nil {
		return "", x.e.fail(f, "ocr", ErrNoReader)
	}
	text, err := x.e.Documents.ReadDocument(ctx, f.Name(), x.data)
	if err != nil {
		return "", x.e.fail(f, "ocr", err)
	}
	return FlattenTables(text), nil
}

func (x *extraction) image(ctx context.Context, f ImageFile) (string, error) {
	if x.e.Images == nil {
		return "", x.e.fail(f, "ocr", ErrNoReader)
	}
	mimeType := x.mimeType
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = mimetype.Detect(x.data).String()
	}
	text, err := x.e.Images.ReadImage(ctx, mimeType, x.data)
	if err != nil {
		return "", x.e.fail(f, "ocr", err)
	}
	return FlattenTables(text), nil
}

func (x *extraction) audio(ctx context.Context, f AudioFile) (string, error) {
	if x.e.Audio == nil {
		return "", x.e.fail(f, "transcribe", ErrNoReader)
	}
	text, err := x.e.Audio.Transcribe(ctx, f.Name(), x.data)
	if err != nil {
		return "", x.e.fail(f, "transcribe", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", x.e.fail(f, "transcribe", ErrEmptyTranscript)
	}
	return text, nil
}

func (x *extraction) text(_ context.Context, _ TextFile) (string, error) {
	return string(x.data), nil
}
