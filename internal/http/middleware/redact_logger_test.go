package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedact(t *testing.T) {
	in := "id=3f2b8c1e-9a4d-4e6f-8b2a-1c3d5e7f9a0b&mail=budi@kampus.ac.id&hp=0812 3456 7890"
	got := redact(in)
	for _, leak := range []string{"3f2b8c1e", "budi@kampus.ac.id", "3456"} {
		if strings.Contains(got, leak) {
			t.Fatalf("leaked %q in %q", leak, got)
		}
	}
	for _, tag := range []string{"[REDACTED:id]", "[REDACTED:email]", "[REDACTED:phone]"} {
		if !strings.Contains(got, tag) {
			t.Fatalf("missing %s in %q", tag, got)
		}
	}
	if redact("") != "" {
		t.Fatalf("empty input changed")
	}
}

func TestRedactingLogger_LineAndScopedLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RequestID(), Identity(), RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/knowledge/:id", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("inside")
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/knowledge/1?email=a@b.co", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Api-Key", "k")
	req.Header.Set(HeaderUserID, "u7")
	req.Header.Set(requestIDHeader, "rid-9")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	var inner, access map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &inner)
	_ = json.Unmarshal([]byte(lines[1]), &access)

	if inner["request_id"] != "rid-9" || inner["user_id"] != "u7" || inner["path"] != "/knowledge/:id" {
		t.Fatalf("scoped fields missing: %v", inner)
	}
	if access["message"] != "http_request" || access["level"] != "info" || access["status"] != float64(200) {
		t.Fatalf("access line = %v", access)
	}
	if q, _ := access["query"].(string); strings.Contains(q, "a@b.co") {
		t.Fatalf("query not redacted: %q", q)
	}
	headers, _ := access["headers"].(map[string]any)
	if headers["Authorization"] != "[REDACTED]" || headers["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("headers not masked: %v", headers)
	}
}

func TestRedactingLogger_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/err", func(c *gin.Context) {
		_ = c.Error(http.ErrAbortHandler)
		c.Status(http.StatusOK)
	})

	for path, want := range map[string]string{"/bad": "warn", "/err": "error"} {
		buf.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		var line map[string]any
		_ = json.Unmarshal(buf.Bytes(), &line)
		if line["level"] != want {
			t.Fatalf("%s logged at %v; want %s", path, line["level"], want)
		}
	}
}
