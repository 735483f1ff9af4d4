package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/http/middleware"
	"github.com/tbourn/go-rag-backend/internal/ingest"
	"github.com/tbourn/go-rag-backend/internal/rag"
	"github.com/tbourn/go-rag-backend/internal/repo"
	"github.com/tbourn/go-rag-backend/internal/services"
	"github.com/tbourn/go-rag-backend/internal/storage"
	"github.com/tbourn/go-rag-backend/internal/vectorstore"
	"github.com/tbourn/go-rag-backend/internal/vectorstore/vstest"
	"github.com/tbourn/go-rag-backend/internal/worker"
)

// ---------- fixture ----------

type stubAnswerer struct {
	text  string
	err   error
	calls int
}

func (s *stubAnswerer) Answer(_ context.Context, _ string, _ []domain.Message) (rag.Answer, error) {
	s.calls++
	if s.err != nil {
		return rag.Answer{}, s.err
	}
	return rag.Answer{Text: s.text, Sources: []string{"panduan.txt"}}, nil
}

type testAPI struct {
	r        *gin.Engine
	db       *gorm.DB
	answerer *stubAnswerer
	queue    *worker.Queue
	kn       *services.KnowledgeService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	blobs, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	idx, err := vectorstore.NewChromem("", "kb", &vstest.Embedder{})
	if err != nil {
		t.Fatalf("NewChromem: %v", err)
	}
	q := worker.New(worker.Options{Workers: 1, QueueSize: 4, TaskTimeout: time.Minute})
	q.Start(context.Background())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	ans := &stubAnswerer{text: "Bab 1 berisi latar belakang penelitian."}
	chat := services.NewChatService(db, ans)
	kn := &services.KnowledgeService{
		DB:      db,
		Storage: blobs,
		Queue:   q,
		Processor: &ingest.Processor{
			Extractor: &ingest.Extractor{Blobs: blobs},
			Splitter:  ingest.NewSplitter(200, 20),
			Store:     &ingest.Store{Index: idx},
		},
		Index:          idx,
		MaxUploadBytes: 1 << 20,
		FileURLPrefix:  "/api/v1",
	}
	h := New(chat, services.NewConversationService(db), kn)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, chat.Replayable))
	r.POST("/chat/send", h.SendMessage)
	r.GET("/chat/conversations", h.ListConversations)
	r.GET("/chat/conversations/:id", h.GetConversation)
	r.DELETE("/chat/conversations/:id", h.DeleteConversation)
	r.POST("/knowledge/upload", h.UploadKnowledge)
	r.GET("/knowledge/", h.ListKnowledge)
	r.GET("/knowledge/:id", h.GetKnowledge)
	r.GET("/knowledge/:id/file", h.GetKnowledgeFile)
	r.GET("/knowledge/:id/url", h.GetKnowledgeURL)
	r.DELETE("/knowledge/:id", h.DeleteKnowledge)

	return &testAPI{r: r, db: db, answerer: ans, queue: q, kn: kn}
}

func (a *testAPI) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if req.Header.Get(middleware.HeaderUserID) == "" {
		req.Header.Set(middleware.HeaderUserID, "mahasiswa-1")
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func (a *testAPI) send(t *testing.T, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat/send", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	return a.do(t, req)
}

func (a *testAPI) upload(t *testing.T, title, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	return a.uploadForm(t, map[string]string{"title": title}, filename, content)
}

// uploadForm posts a multipart upload with the given form fields; empty
// values are omitted.
func (a *testAPI) uploadForm(t *testing.T, fields map[string]string, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v != "" {
			_ = mw.WriteField(k, v)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/knowledge/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return a.do(t, req)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

// ---------- chat ----------

func TestSendMessage_NewConversationThenGet(t *testing.T) {
	api := newTestAPI(t)

	w := api.send(t, `{"message":"Apa itu BAB 1 dalam penulisan skripsi?"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("send status=%d body=%s", w.Code, w.Body.String())
	}
	resp := decode[SendMessageResponse](t, w)
	if resp.ConversationID == "" || resp.Message == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Message.Role != domain.RoleAssistant || resp.Message.Content != api.answerer.text {
		t.Fatalf("unexpected assistant message: %+v", resp.Message)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "panduan.txt" {
		t.Fatalf("sources=%v", resp.Sources)
	}

	req := httptest.NewRequest(http.MethodGet, "/chat/conversations/"+resp.ConversationID, nil)
	w = api.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", w.Code, w.Body.String())
	}
	conv := decode[domain.Conversation](t, w)
	if conv.Title != "Apa itu BAB 1 dalam penulisan ..." {
		t.Fatalf("title=%q", conv.Title)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("messages=%d", len(conv.Messages))
	}
	if conv.Messages[0].Role != domain.RoleUser || conv.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("roles: %s, %s", conv.Messages[0].Role, conv.Messages[1].Role)
	}
	if !conv.Messages[0].CreatedAt.Equal(conv.Messages[1].CreatedAt) {
		t.Fatalf("pair timestamps differ: %v vs %v", conv.Messages[0].CreatedAt, conv.Messages[1].CreatedAt)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"invalid json", `{`, http.StatusBadRequest, ErrCodeBadRequest},
		{"blank message", `{"message":"   "}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"malformed id", `{"message":"halo","conversation_id":"nope"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown conversation", `{"message":"halo","conversation_id":"` + uuid.NewString() + `"}`, http.StatusNotFound, ErrCodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := api.send(t, tc.body, nil)
			if w.Code != tc.status {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.status, w.Body.String())
			}
			if got := decode[ErrorResponse](t, w); got.Code != tc.code {
				t.Fatalf("code=%q want %q", got.Code, tc.code)
			}
		})
	}
	if api.answerer.calls != 0 {
		t.Fatalf("model called %d times for invalid requests", api.answerer.calls)
	}
}

func TestSendMessage_AnswerFailure(t *testing.T) {
	api := newTestAPI(t)
	api.answerer.err = fmt.Errorf("upstream 502")

	w := api.send(t, `{"message":"halo"}`, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if got := decode[ErrorResponse](t, w); got.Code != ErrCodeAnswerFailed {
		t.Fatalf("code=%q", got.Code)
	}
	var n int64
	api.db.Model(&domain.Conversation{}).Count(&n)
	if n != 0 {
		t.Fatalf("conversations=%d, want none", n)
	}
}

func TestSendMessage_IdempotentReplay(t *testing.T) {
	api := newTestAPI(t)
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "kirim-1"}

	first := api.send(t, `{"message":"halo"}`, hdr)
	if first.Code != http.StatusOK {
		t.Fatalf("first status=%d", first.Code)
	}
	second := api.send(t, `{"message":"halo"}`, hdr)
	if second.Code != http.StatusOK {
		t.Fatalf("second status=%d", second.Code)
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("missing Idempotency-Replayed header")
	}
	a, b := decode[SendMessageResponse](t, first), decode[SendMessageResponse](t, second)
	if a.Message.ID != b.Message.ID || a.ConversationID != b.ConversationID {
		t.Fatalf("replay differs: %+v vs %+v", a, b)
	}
	if api.answerer.calls != 1 {
		t.Fatalf("model calls=%d, want 1", api.answerer.calls)
	}

	bad := api.send(t, `{"message":"halo"}`, map[string]string{middleware.HeaderIdempotencyKey: "bad key!"})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("invalid key status=%d", bad.Code)
	}
}

func TestListConversations_ETagAndTotal(t *testing.T) {
	api := newTestAPI(t)
	for i := 0; i < 3; i++ {
		if w := api.send(t, fmt.Sprintf(`{"message":"pertanyaan %d"}`, i), nil); w.Code != http.StatusOK {
			t.Fatalf("send %d status=%d", i, w.Code)
		}
	}

	w := api.do(t, httptest.NewRequest(http.MethodGet, "/chat/conversations?limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Header().Get("X-Total-Count"); got != "3" {
		t.Fatalf("X-Total-Count=%q", got)
	}
	items := decode[[]domain.Conversation](t, w)
	if len(items) != 2 {
		t.Fatalf("items=%d", len(items))
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/chat/conversations?limit=2", nil)
	req.Header.Set("If-None-Match", etag)
	if w := api.do(t, req); w.Code != http.StatusNotModified {
		t.Fatalf("conditional status=%d", w.Code)
	}

	// Another user sees nothing.
	req = httptest.NewRequest(http.MethodGet, "/chat/conversations", nil)
	req.Header.Set(middleware.HeaderUserID, "mahasiswa-2")
	w = api.do(t, req)
	if got := decode[[]domain.Conversation](t, w); len(got) != 0 {
		t.Fatalf("foreign user sees %d conversations", len(got))
	}
}

func TestDeleteConversation(t *testing.T) {
	api := newTestAPI(t)
	resp := decode[SendMessageResponse](t, api.send(t, `{"message":"halo"}`, nil))

	path := "/chat/conversations/" + resp.ConversationID
	w := api.do(t, httptest.NewRequest(http.MethodDelete, path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("delete status=%d", w.Code)
	}
	if got := decode[DetailResponse](t, w); got.Detail != "Conversation deleted successfully" {
		t.Fatalf("detail=%q", got.Detail)
	}

	if w := api.do(t, httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", w.Code)
	}
	if w := api.do(t, httptest.NewRequest(http.MethodDelete, path, nil)); w.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", w.Code)
	}
	if w := api.do(t, httptest.NewRequest(http.MethodDelete, "/chat/conversations/x", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed id status=%d", w.Code)
	}
}

// ---------- knowledge ----------

func TestUploadKnowledge_RejectsBeforeAnyRow(t *testing.T) {
	api := newTestAPI(t)

	w := api.upload(t, "Installer", "setup.exe", []byte("MZ"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("exe status=%d", w.Code)
	}
	got := decode[ErrorResponse](t, w)
	if got.Code != ErrCodeUnsupportedFileType || got.Message != unsupportedFileTypeMsg {
		t.Fatalf("unexpected error: %+v", got)
	}

	if w := api.upload(t, "", "panduan.txt", []byte("isi")); w.Code != http.StatusBadRequest {
		t.Fatalf("missing title status=%d", w.Code)
	}

	w = api.uploadForm(t, map[string]string{"title": "Catatan", "file_type": "image"}, "catatan.txt", []byte("isi"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("mismatched file_type status=%d", w.Code)
	}
	if got := decode[ErrorResponse](t, w); got.Code != ErrCodeBadRequest {
		t.Fatalf("mismatched file_type code=%q", got.Code)
	}

	api.kn.MaxUploadBytes = 4
	w = api.upload(t, "Besar", "panduan.txt", []byte("lebih dari empat byte"))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize status=%d", w.Code)
	}
	if got := decode[ErrorResponse](t, w); got.Code != ErrCodePayloadTooLarge {
		t.Fatalf("oversize code=%q", got.Code)
	}

	var n int64
	api.db.Model(&domain.KnowledgeSource{}).Count(&n)
	if n != 0 {
		t.Fatalf("rows=%d, want 0", n)
	}
}

func TestKnowledge_UploadLifecycle(t *testing.T) {
	api := newTestAPI(t)
	text := []byte("Bab 1 Pendahuluan berisi latar belakang, rumusan masalah dan tujuan penelitian.")

	w := api.upload(t, "Panduan Skripsi", "panduan.txt", text)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status=%d body=%s", w.Code, w.Body.String())
	}
	src := decode[domain.KnowledgeSource](t, w)
	if src.Status != domain.StatusProcessing || src.FileType != domain.FileTypeDocument {
		t.Fatalf("unexpected source: %+v", src)
	}
	if src.UploadedBy != "mahasiswa-1" {
		t.Fatalf("uploaded_by=%q", src.UploadedBy)
	}

	// Wait for ingestion.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := api.queue.Stop(ctx); err != nil {
		t.Fatalf("queue Stop: %v", err)
	}

	w = api.do(t, httptest.NewRequest(http.MethodGet, "/knowledge/"+src.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}
	if got := decode[domain.KnowledgeSource](t, w); got.Status != domain.StatusCompleted || got.ChunksStored < 1 {
		t.Fatalf("not completed: %+v", got)
	}

	w = api.do(t, httptest.NewRequest(http.MethodGet, "/knowledge/"+src.ID+"/file", nil))
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), text) {
		t.Fatalf("file status=%d body=%q", w.Code, w.Body.String())
	}

	w = api.do(t, httptest.NewRequest(http.MethodGet, "/knowledge/"+src.ID+"/url", nil))
	if got := decode[SourceURLResponse](t, w); got.URL != "/api/v1/knowledge/"+src.ID+"/file" {
		t.Fatalf("url=%q", got.URL)
	}

	w = api.do(t, httptest.NewRequest(http.MethodGet, "/knowledge/?limit=5", nil))
	list := decode[ListSourcesResponse](t, w)
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].ID != src.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	w = api.do(t, httptest.NewRequest(http.MethodDelete, "/knowledge/"+src.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("delete status=%d", w.Code)
	}
	if got := decode[DetailResponse](t, w); got.Detail != "Knowledge source deleted successfully" {
		t.Fatalf("detail=%q", got.Detail)
	}
	w = api.do(t, httptest.NewRequest(http.MethodGet, "/knowledge/"+src.ID, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", w.Code)
	}
	if got := decode[ErrorResponse](t, w); got.Message != "Knowledge source not found" {
		t.Fatalf("message=%q", got.Message)
	}
}

func TestUploadKnowledge_QueueClosed(t *testing.T) {
	api := newTestAPI(t)
	_ = api.queue.Stop(context.Background())

	w := api.upload(t, "Panduan", "panduan.txt", []byte("isi panduan"))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var src domain.KnowledgeSource
	if err := api.db.First(&src).Error; err != nil {
		t.Fatalf("expected a failed row: %v", err)
	}
	if src.Status != domain.StatusFailed {
		t.Fatalf("status=%s", src.Status)
	}
}
