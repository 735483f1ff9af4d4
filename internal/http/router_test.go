package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rag-backend/internal/config"
	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/http/middleware"
	"github.com/tbourn/go-rag-backend/internal/services"
)

// ---------- stub services ----------

type stubChat struct{ calls int }

func (s *stubChat) Send(_ context.Context, _, convID, message, _ string) (*services.SendResult, error) {
	s.calls++
	if convID == "" {
		convID = "0192b1f4-7c4e-7a51-9c1d-2f6e0c1d9a11"
	}
	return &services.SendResult{
		Message:        &domain.Message{ID: "m-1", ConversationID: convID, Role: domain.RoleAssistant, Content: "re: " + message},
		ConversationID: convID,
	}, nil
}

type stubConversations struct{}

func (stubConversations) ListPage(context.Context, string, int, int) ([]domain.Conversation, int64, error) {
	return []domain.Conversation{}, 0, nil
}
func (stubConversations) Get(context.Context, string, string) (*domain.Conversation, error) {
	return nil, services.ErrConversationNotFound
}
func (stubConversations) Delete(context.Context, string, string) error {
	return services.ErrConversationNotFound
}
func (stubConversations) Stats(context.Context, string) (int64, *time.Time, error) {
	return 0, nil, nil
}

type stubKnowledge struct{ uploads int }

func (s *stubKnowledge) Upload(_ context.Context, in services.UploadInput) (*domain.KnowledgeSource, error) {
	s.uploads++
	_, _ = io.Copy(io.Discard, in.Body)
	return &domain.KnowledgeSource{ID: "k-1", Title: in.Title, FileName: in.FileName, Status: domain.StatusProcessing}, nil
}
func (stubKnowledge) List(context.Context, int, int) ([]domain.KnowledgeSource, int64, error) {
	return []domain.KnowledgeSource{}, 0, nil
}
func (stubKnowledge) Stats(context.Context) (int64, *time.Time, error) { return 0, nil, nil }
func (stubKnowledge) Get(context.Context, string) (*domain.KnowledgeSource, error) {
	return nil, services.ErrSourceNotFound
}
func (stubKnowledge) File(context.Context, string) (*services.StoredFile, error) {
	return nil, services.ErrSourceNotFound
}
func (stubKnowledge) URL(context.Context, string) (string, error) { return "", services.ErrSourceNotFound }
func (stubKnowledge) Delete(context.Context, string) error        { return services.ErrSourceNotFound }

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Ingest:      config.IngestConfig{MaxUploadBytes: 1 << 10},
	}
}

func newRouter(t *testing.T, cfg config.Config, lookup middleware.IdempotencyLookup) (*gin.Engine, *stubChat, *stubKnowledge) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	chat, kn := &stubChat{}, &stubKnowledge{}
	RegisterRoutes(r, Services{
		Chat:          chat,
		Conversations: stubConversations{},
		Knowledge:     kn,
		Replayable:    lookup,
	}, cfg)
	return r, chat, kn
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------- tests ----------

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _, _ := newRouter(t, testConfig(), nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodPost, "/health", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
	// Swagger is off unless enabled.
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _, _ := newRouter(t, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_APIMounted(t *testing.T) {
	r, chat, _ := newRouter(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", strings.NewReader(`{"message":"halo"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("send status=%d body=%s", w.Code, w.Body.String())
	}
	if chat.calls != 1 {
		t.Fatalf("chat calls=%d", chat.calls)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("chat routes must be no-store, got %q", got)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("knowledge list status=%d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got == "no-store" {
		t.Fatalf("knowledge routes should stay cacheable")
	}

	id := "0192b1f4-7c4e-7a51-9c1d-2f6e0c1d9a11"
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/chat/conversations/"+id, nil)); w.Code != http.StatusNotFound {
		t.Fatalf("conversation get status=%d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodDelete, "/api/v1/knowledge/"+id, nil)); w.Code != http.StatusNotFound {
		t.Fatalf("knowledge delete status=%d", w.Code)
	}
}

func TestRegisterRoutes_UploadBodyLimit(t *testing.T) {
	r, _, kn := newRouter(t, testConfig(), nil)

	build := func(n int) *http.Request {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("title", "Panduan")
		fw, _ := mw.CreateFormFile("file", "panduan.txt")
		_, _ = fw.Write(bytes.Repeat([]byte("a"), n))
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req
	}

	if w := serve(r, build(100)); w.Code != http.StatusCreated {
		t.Fatalf("small upload status=%d body=%s", w.Code, w.Body.String())
	}
	// MaxUploadBytes (1 KiB) plus 1 MiB of multipart slack is exceeded.
	if w := serve(r, build(3<<20)); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize upload status=%d", w.Code)
	}
	if kn.uploads != 1 {
		t.Fatalf("uploads=%d, want 1", kn.uploads)
	}
}

func TestRegisterRoutes_RateLimitWritesOnly(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.0001
	cfg.RateBurst = 1
	r, _, _ := newRouter(t, cfg, nil)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", strings.NewReader(`{"message":"halo"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderUserID, "u-rl")
		return serve(r, req).Code
	}
	if got := send(); got != http.StatusOK {
		t.Fatalf("first send=%d", got)
	}
	if got := send(); got != http.StatusTooManyRequests {
		t.Fatalf("second send=%d, want 429", got)
	}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/conversations", nil)
		req.Header.Set(middleware.HeaderUserID, "u-rl")
		if w := serve(r, req); w.Code != http.StatusOK {
			t.Fatalf("read %d status=%d", i, w.Code)
		}
	}
}

func TestRegisterRoutes_IdempotentReplayBypassesRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.0001
	cfg.RateBurst = 1
	lookup := func(_ context.Context, userID, key string, _ time.Time) (bool, error) {
		return userID == "u-idem" && key == "seen", nil
	}
	r, chat, _ := newRouter(t, cfg, lookup)

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", strings.NewReader(`{"message":"halo"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderUserID, "u-idem")
		req.Header.Set(middleware.HeaderIdempotencyKey, key)
		return serve(r, req).Code
	}
	if got := send("fresh"); got != http.StatusOK {
		t.Fatalf("first send=%d", got)
	}
	for i := 0; i < 3; i++ {
		if got := send("seen"); got != http.StatusOK {
			t.Fatalf("replay %d=%d, want 200", i, got)
		}
	}
	if got := send("another"); got != http.StatusTooManyRequests {
		t.Fatalf("new key after burst=%d, want 429", got)
	}
	if chat.calls != 4 {
		t.Fatalf("chat calls=%d", chat.calls)
	}
}

func TestRegisterRoutes_IdempotencyLookupErrorIsMiss(t *testing.T) {
	lookup := func(context.Context, string, string, time.Time) (bool, error) {
		return false, errors.New("db closed")
	}
	r, _, _ := newRouter(t, testConfig(), lookup)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", strings.NewReader(`{"message":"halo"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderIdempotencyKey, "k-1")
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	if w := serve(r, req); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func Test_joinPath(t *testing.T) {
	cases := map[[2]string]string{
		{"", "/chat"}:        "/chat",
		{"/", "/chat"}:       "/chat",
		{"/api/v1", "/chat"}: "/api/v1/chat",
	}
	for in, want := range cases {
		if got := joinPath(in[0], in[1]); got != want {
			t.Fatalf("joinPath(%q,%q)=%q want %q", in[0], in[1], got, want)
		}
	}
}
