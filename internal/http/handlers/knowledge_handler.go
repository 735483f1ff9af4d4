// Knowledge base HTTP handlers.
//
// Endpoints:
//   - POST   /knowledge/upload      (multipart: title, file, optional file_type)
//   - GET    /knowledge/            (list, skip/limit, ETag support)
//   - GET    /knowledge/{id}        (detail with processing status)
//   - GET    /knowledge/{id}/file   (stored bytes)
//   - GET    /knowledge/{id}/url    (presigned or API URL)
//   - DELETE /knowledge/{id}
//
// Uploads return as soon as the file is stored and queued; clients poll the
// detail endpoint for completed or failed.
package handlers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/services"
)

const unsupportedFileTypeMsg = "Unsupported file type. Supported types: PDF, DOCX, JPG, PNG, MP3, WAV, M4A."

// KnowledgeService manages knowledge sources. Implementations must honor ctx.
type KnowledgeService interface {
	Upload(ctx context.Context, in services.UploadInput) (*domain.KnowledgeSource, error)
	List(ctx context.Context, skip, limit int) ([]domain.KnowledgeSource, int64, error)
	Stats(ctx context.Context) (int64, *time.Time, error)
	Get(ctx context.Context, id string) (*domain.KnowledgeSource, error)
	File(ctx context.Context, id string) (*services.StoredFile, error)
	URL(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}

// ListSourcesResponse wraps a page of knowledge sources.
type ListSourcesResponse struct {
	Items []domain.KnowledgeSource `json:"items"`
	Total int64                    `json:"total" example:"42"`
}

// SourceURLResponse carries a link to a source's file.
type SourceURLResponse struct {
	URL string `json:"url" example:"/api/v1/knowledge/0192b1f4-7c4e-7a51-9c1d-2f6e0c1d9a11/file"`
}

// isBodyTooLarge reports whether err came from a body capped by
// http.MaxBytesReader. Multipart parsing does not always wrap the cause.
func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

// sourceID validates the :id path parameter, failing the request if it is
// not a UUID.
func sourceID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "knowledge source id must be a UUID")
		return "", false
	}
	return id, true
}

// failSource maps a lookup error for a single source.
func failSource(c *gin.Context, err error, code string) {
	if errors.Is(err, services.ErrSourceNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Knowledge source not found")
		return
	}
	fail(c, http.StatusInternalServerError, code, err.Error())
}

// UploadKnowledge godoc
// @ID          uploadKnowledge
// @Summary     Upload a knowledge file
// @Description Stores the file, records it as processing and queues text extraction and indexing. Supported: PDF, DOCX, DOC, TXT, JPG, PNG, MP3, WAV, M4A.
// @Tags        Knowledge
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID  header    string  false "User ID"                          example(user123)
// @Param       title      formData  string  true  "Source title"
// @Param       file       formData  file    true  "File to ingest"
// @Param       file_type  formData  string  false "Optional; must match the extension: document, image or audio"  Enums(document, image, audio)
//
// @Success     201  {object}  domain.KnowledgeSource
// @Failure     400  {object}  handlers.ErrorResponse "Bad request or unsupported file type"
// @Failure     413  {object}  handlers.ErrorResponse "File too large"
// @Failure     429  {object}  handlers.ErrorResponse "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse "Upload failed"
// @Failure     503  {object}  handlers.ErrorResponse "Ingestion queue unavailable"
// @Router      /knowledge/upload [post]
func (h *Handlers) UploadKnowledge(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "file too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file is required")
		return
	}
	title := c.PostForm("title")
	if strings.TrimSpace(title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title is required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file")
		return
	}
	defer f.Close()

	src, err := h.knowledgeSvc.Upload(c.Request.Context(), services.UploadInput{
		Title:       title,
		FileName:    fh.Filename,
		FileType:    c.PostForm("file_type"),
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
		UploadedBy:  userID(c),
	})
	switch {
	case err == nil:
		ok(c, http.StatusCreated, src)
	case errors.Is(err, services.ErrEmptyTitle):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title is required")
	case errors.Is(err, services.ErrFileTypeMismatch):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file_type does not match the file extension")
	case errors.Is(err, services.ErrUnsupportedFileType):
		fail(c, http.StatusBadRequest, ErrCodeUnsupportedFileType, unsupportedFileTypeMsg)
	case errors.Is(err, services.ErrFileTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "file too large")
	case errors.Is(err, services.ErrQueueUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "ingestion queue is busy, try again later")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeUploadFailed, err.Error())
	}
}

// ListKnowledge godoc
// @ID          listKnowledge
// @Summary     List knowledge sources
// @Description Returns knowledge sources, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Knowledge
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       skip           query   int     false "Items to skip"               minimum(0) default(0)
// @Param       limit          query   int     false "Items per page"              minimum(1) maximum(100) default(10)
//
// @Success     200  {object}  handlers.ListSourcesResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /knowledge/ [get]
func (h *Handlers) ListKnowledge(c *gin.Context) {
	ctx := c.Request.Context()
	skip, limit := clampSkipLimit(c)

	if count, maxTS, err := h.knowledgeSvc.Stats(ctx); err == nil {
		if setWeakETag(c, "knowledge", count, maxTS, skip, limit) {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.knowledgeSvc.List(ctx, skip, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListSourcesResponse{Items: items, Total: total})
}

// GetKnowledge godoc
// @ID          getKnowledge
// @Summary     Get a knowledge source
// @Tags        Knowledge
// @Produce     json
// @Param       id   path  string  true  "Source ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.KnowledgeSource
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Knowledge source not found"
// @Router      /knowledge/{id} [get]
func (h *Handlers) GetKnowledge(c *gin.Context) {
	id, valid := sourceID(c)
	if !valid {
		return
	}
	src, err := h.knowledgeSvc.Get(c.Request.Context(), id)
	if err != nil {
		failSource(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, src)
}

// GetKnowledgeFile godoc
// @ID          getKnowledgeFile
// @Summary     Download a knowledge file
// @Description Returns the stored bytes with their detected MIME type.
// @Tags        Knowledge
// @Produce     octet-stream
// @Param       id   path  string  true  "Source ID (UUID)"  format(uuid)
// @Success     200  {file}    file
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Knowledge source not found"
// @Router      /knowledge/{id}/file [get]
func (h *Handlers) GetKnowledgeFile(c *gin.Context) {
	id, valid := sourceID(c)
	if !valid {
		return
	}
	f, err := h.knowledgeSvc.File(c.Request.Context(), id)
	if err != nil {
		failSource(c, err, ErrCodeInternal)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": f.Name}))
	c.Data(http.StatusOK, f.ContentType, f.Data)
}

// GetKnowledgeURL godoc
// @ID          getKnowledgeURL
// @Summary     Get a link to a knowledge file
// @Description Returns a time-limited presigned URL on object storage, or the API file route for local storage.
// @Tags        Knowledge
// @Produce     json
// @Param       id   path  string  true  "Source ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.SourceURLResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Knowledge source not found"
// @Router      /knowledge/{id}/url [get]
func (h *Handlers) GetKnowledgeURL(c *gin.Context) {
	id, valid := sourceID(c)
	if !valid {
		return
	}
	u, err := h.knowledgeSvc.URL(c.Request.Context(), id)
	if err != nil {
		failSource(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, SourceURLResponse{URL: u})
}

// DeleteKnowledge godoc
// @ID          deleteKnowledge
// @Summary     Delete a knowledge source
// @Description Removes the stored file, the indexed chunks and the record.
// @Tags        Knowledge
// @Produce     json
// @Param       id   path  string  true  "Source ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.DetailResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Knowledge source not found"
// @Failure     500  {object}  handlers.ErrorResponse "Delete failed"
// @Router      /knowledge/{id} [delete]
func (h *Handlers) DeleteKnowledge(c *gin.Context) {
	id, valid := sourceID(c)
	if !valid {
		return
	}
	if err := h.knowledgeSvc.Delete(c.Request.Context(), id); err != nil {
		failSource(c, err, ErrCodeDeleteFailed)
		return
	}
	ok(c, http.StatusOK, DetailResponse{Detail: "Knowledge source deleted successfully"})
}
