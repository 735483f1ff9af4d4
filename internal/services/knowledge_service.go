// Package services – KnowledgeService
//
// This file implements KnowledgeService, which owns the lifecycle of
// knowledge sources: an upload is stored, recorded as processing and handed
// to the background worker queue, whose task runs the ingestion pipeline and
// finalizes the row as completed or failed.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/ingest"
	"github.com/tbourn/go-rag-backend/internal/repo"
	"github.com/tbourn/go-rag-backend/internal/storage"
	"github.com/tbourn/go-rag-backend/internal/worker"
)

// TaskQueue accepts background tasks. *worker.Queue satisfies it.
type TaskQueue interface {
	Submit(ctx context.Context, t worker.Task) error
}

// SourceProcessor runs the ingestion pipeline. *ingest.Processor satisfies it.
type SourceProcessor interface {
	Process(ctx context.Context, src *domain.KnowledgeSource) ingest.Result
}

// SourceIndex removes a source's vectors. Every vectorstore.Index satisfies it.
type SourceIndex interface {
	DeleteBySource(ctx context.Context, sourceID string) error
}

// UploadInput carries one uploaded file.
type UploadInput struct {
	Title       string
	FileName    string
	FileType    string // optional; must match the extension's family
	ContentType string
	Size        int64
	Body        io.Reader
	UploadedBy  string
}

// StoredFile is a knowledge source's blob as served back to clients.
type StoredFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// KnowledgeService manages knowledge sources.
type KnowledgeService struct {
	DB        *gorm.DB
	Storage   storage.Storage
	Queue     TaskQueue
	Processor SourceProcessor
	Index     SourceIndex

	// MaxUploadBytes rejects larger uploads with ErrFileTooLarge when > 0.
	MaxUploadBytes int64
	// URLExpiry is the lifetime of presigned URLs.
	URLExpiry time.Duration
	// FileURLPrefix is joined with "/knowledge/<id>/file" when the storage
	// backend cannot mint direct URLs (e.g. "/api/v1").
	FileURLPrefix string
	// SubmitTimeout bounds how long an upload waits for queue space.
	SubmitTimeout time.Duration
}

// Upload validates the input, stores the blob, records the source as
// processing and queues its ingestion. The returned source is still
// processing; the outcome is recorded on the row later.
func (s *KnowledgeService) Upload(ctx context.Context, in UploadInput) (*domain.KnowledgeSource, error) {
	ctx, span := otel.Tracer("services/KnowledgeService").Start(ctx, "Upload",
		trace.WithAttributes(
			attribute.String("file.name", in.FileName),
			attribute.Int64("file.size", in.Size),
		))
	defer span.End()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(in.FileName), "\\", "/"))
	ft, err := resolveFileType(name, in.FileType)
	if err != nil {
		return nil, err
	}
	if s.MaxUploadBytes > 0 && in.Size > s.MaxUploadBytes {
		return nil, ErrFileTooLarge
	}

	src := &domain.KnowledgeSource{
		ID:         uuid.NewString(),
		Title:      title,
		FileName:   name,
		FileType:   ft,
		Status:     domain.StatusProcessing,
		UploadedBy: in.UploadedBy,
	}
	src.ObjectKey = "knowledge/" + src.ID + ingest.Ext(name)
	span.SetAttributes(attribute.String("source.id", src.ID))

	contentType := in.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = storage.DetectMIME(name, nil)
	}
	if err := s.Storage.Put(ctx, src.ObjectKey, in.Body, in.Size, contentType); err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}
	if err := repo.CreateSource(ctx, s.DB, src); err != nil {
		if derr := s.Storage.Delete(context.WithoutCancel(ctx), src.ObjectKey); derr != nil {
			log.Warn().Err(derr).Str("source_id", src.ID).Msg("orphaned upload not removed")
		}
		return nil, err
	}

	task := s.task(src)
	submitCtx := ctx
	if s.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, s.SubmitTimeout)
		defer cancel()
	}
	if err := s.Queue.Submit(submitCtx, task); err != nil {
		log.Error().Err(err).Str("source_id", src.ID).Msg("ingestion not queued")
		reason := "queue unavailable: " + err.Error()
		if ferr := repo.FinalizeSource(context.WithoutCancel(ctx), s.DB, src.ID, domain.StatusFailed, 0, reason); ferr != nil {
			log.Error().Err(ferr).Str("source_id", src.ID).Msg("finalize failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	log.Info().Str("source_id", src.ID).Str("file_type", string(ft)).Msg("ingestion queued")
	return src, nil
}

// task returns the background job for src.
func (s *KnowledgeService) task(src *domain.KnowledgeSource) worker.Task {
	snapshot := *src
	return func(ctx context.Context) error {
		return s.process(ctx, &snapshot)
	}
}

// process runs the pipeline for src and records the outcome on its row.
// The row is finalized even when ctx has expired.
func (s *KnowledgeService) process(ctx context.Context, src *domain.KnowledgeSource) error {
	res := s.Processor.Process(ctx, src)
	fctx := context.WithoutCancel(ctx)

	if res.OK() {
		if err := repo.FinalizeSource(fctx, s.DB, src.ID, domain.StatusCompleted, res.Stored, ""); err != nil {
			s.dropIfDeleted(fctx, src.ID, err)
			log.Error().Err(err).Str("source_id", src.ID).Msg("finalize failed")
			return err
		}
		log.Info().Str("source_id", src.ID).Int("chunks", res.Chunks).Int("stored", res.Stored).Msg("ingestion completed")
		return nil
	}

	log.Error().Err(res.Err).Str("source_id", src.ID).Msg("ingestion failed")
	if err := repo.FinalizeSource(fctx, s.DB, src.ID, domain.StatusFailed, 0, res.Err.Error()); err != nil {
		s.dropIfDeleted(fctx, src.ID, err)
		log.Error().Err(err).Str("source_id", src.ID).Msg("finalize failed")
	}
	return res.Err
}

// dropIfDeleted removes vectors written by a task whose source was deleted
// while it ran. Delete clears the index before the task stores its chunks,
// so the task has to clean up after itself.
func (s *KnowledgeService) dropIfDeleted(ctx context.Context, id string, finalizeErr error) {
	if s.Index == nil || !errors.Is(finalizeErr, repo.ErrInvalidTransition) {
		return
	}
	if _, err := repo.GetSource(ctx, s.DB, id); !errors.Is(err, repo.ErrNotFound) {
		return
	}
	if err := s.Index.DeleteBySource(ctx, id); err != nil {
		log.Warn().Err(err).Str("source_id", id).Msg("vectors of deleted source not removed")
		return
	}
	log.Info().Str("source_id", id).Msg("source deleted during ingestion; vectors removed")
}

// List returns up to limit sources after skipping skip, newest first,
// along with the total count.
func (s *KnowledgeService) List(ctx context.Context, skip, limit int) ([]domain.KnowledgeSource, int64, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = 10
	}
	total, err := repo.CountSources(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.KnowledgeSource{}, 0, nil
	}
	items, err := repo.ListSourcesPage(ctx, s.DB, skip, limit)
	return items, total, err
}

// Stats reports the number of sources and the latest update among them.
func (s *KnowledgeService) Stats(ctx context.Context) (int64, *time.Time, error) {
	return repo.SourcesStats(ctx, s.DB)
}

// Get returns a source by id.
func (s *KnowledgeService) Get(ctx context.Context, id string) (*domain.KnowledgeSource, error) {
	src, err := repo.GetSource(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, err
	}
	return src, nil
}

// File returns the stored bytes of a source with their MIME type.
func (s *KnowledgeService) File(ctx context.Context, id string) (*StoredFile, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, ct, err := s.Storage.Get(ctx, src.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, err
	}
	return &StoredFile{Name: src.FileName, ContentType: ct, Data: data}, nil
}

// URL returns a link to the source's file: a presigned URL when the backend
// supports one, otherwise the API's own file route.
func (s *KnowledgeService) URL(ctx context.Context, id string) (string, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	expiry := s.URLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	u, err := s.Storage.URL(ctx, src.ObjectKey, expiry)
	if errors.Is(err, storage.ErrURLUnsupported) {
		return strings.TrimRight(s.FileURLPrefix, "/") + "/knowledge/" + src.ID + "/file", nil
	}
	return u, err
}

// Delete removes the blob and the vectors of a source, then its row. Blob
// and vector removal are best-effort and only logged on failure.
func (s *KnowledgeService) Delete(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("services/KnowledgeService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("source.id", id)))
	defer span.End()

	src, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Storage.Delete(ctx, src.ObjectKey); err != nil {
		log.Warn().Err(err).Str("source_id", id).Str("key", src.ObjectKey).Msg("blob not deleted")
	}
	if s.Index != nil {
		if err := s.Index.DeleteBySource(ctx, id); err != nil {
			log.Warn().Err(err).Str("source_id", id).Msg("vectors not deleted")
		}
	}
	if err := repo.DeleteSource(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSourceNotFound
		}
		return err
	}
	return nil
}

// resolveFileType checks the extension of name. An explicit file type is
// accepted only when it names the extension's own family, so a text file
// can never be routed to image OCR or transcription.
func resolveFileType(name, override string) (domain.FileType, error) {
	ft, err := ingest.DetectFileType(name)
	if err != nil {
		return "", ErrUnsupportedFileType
	}
	if o := strings.TrimSpace(override); o != "" {
		ot := domain.FileType(cases.Lower(language.Und).String(o))
		if !ot.Valid() {
			return "", ErrUnsupportedFileType
		}
		if ot != ft {
			return "", ErrFileTypeMismatch
		}
	}
	return ft, nil
}
