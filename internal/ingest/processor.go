package ingest

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

// TextExtractor is satisfied by *Extractor.
type TextExtractor interface {
	Extract(ctx context.Context, f File) (string, error)
}

// ChunkSplitter is satisfied by *Splitter.
type ChunkSplitter interface {
	Split(text string) ([]string, error)
}

// ChunkStore is satisfied by *Store.
type ChunkStore interface {
	Ingest(ctx context.Context, src SourceRef, chunks []string) (int, error)
}

// Result is the outcome of processing one knowledge source.
type Result struct {
	SourceID string
	Stored   int // chunks newly written to the index
	Chunks   int // chunks produced by the splitter
	Err      error
}

// OK reports whether processing succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Processor runs extract, split and store for one source.
type Processor struct {
	Extractor TextExtractor
	Splitter  ChunkSplitter
	Store     ChunkStore
}

// Process ingests src and reports the outcome. It never panics on vendor
// failures; every error is carried in the Result.
func (p *Processor) Process(ctx context.Context, src *domain.KnowledgeSource) (res Result) {
	ctx, span := otel.Tracer("ingest").Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("source.id", src.ID),
			attribute.String("source.type", string(src.FileType)),
		))
	res.SourceID = src.ID
	defer func() {
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.SetAttributes(attribute.Int("chunks.stored", res.Stored))
		span.End()
	}()

	f, err := NewFile(src.FileType, src.ObjectKey, src.FileName)
	if err != nil {
		res.Err = err
		return res
	}

	text, err := p.Extractor.Extract(ctx, f)
	if err != nil {
		res.Err = err
		return res
	}
	if strings.TrimSpace(text) == "" {
		res.Err = ErrNoText
		return res
	}

	chunks, err := p.Splitter.Split(text)
	if err != nil {
		res.Err = err
		return res
	}
	if len(chunks) == 0 {
		res.Err = ErrNoText
		return res
	}
	res.Chunks = len(chunks)

	stored, err := p.Store.Ingest(ctx, SourceRef{ID: src.ID, Name: src.FileName}, chunks)
	if err != nil {
		log.Error().Err(err).Str("source_id", src.ID).Str("op", "store").Msg("ingest failed")
		res.Err = err
		return res
	}
	res.Stored = stored
	return res
}
