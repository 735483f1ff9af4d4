package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type idemProbe struct {
	key    string
	has    bool
	replay bool
	bypass bool
}

func idemRouter(lookup IdempotencyLookup, probe *idemProbe) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Identity(), IdempotencyValidator(IdempotencyOptions{MaxLen: 16}, lookup))
	h := func(c *gin.Context) {
		probe.key, probe.has = GetIdempotencyKey(c)
		probe.replay = IsReplay(c)
		probe.bypass = IsRateBypass(c)
		c.Status(http.StatusOK)
	}
	r.POST("/chat/send", h)
	r.GET("/chat/conversations", h)
	return r
}

func idemRequest(method, path, key string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set(HeaderUserID, "u1")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	return req
}

func TestIdempotencyValidator_PassThrough(t *testing.T) {
	called := false
	lookup := func(context.Context, string, string, time.Time) (bool, error) {
		called = true
		return true, nil
	}
	var probe idemProbe
	r := idemRouter(lookup, &probe)

	r.ServeHTTP(httptest.NewRecorder(), idemRequest(http.MethodPost, "/chat/send", ""))
	if probe.has || called {
		t.Fatalf("no header: key=%v lookup=%v", probe.has, called)
	}
	r.ServeHTTP(httptest.NewRecorder(), idemRequest(http.MethodGet, "/chat/conversations", "abc"))
	if probe.has || called {
		t.Fatalf("GET: key=%v lookup=%v", probe.has, called)
	}
}

func TestIdempotencyValidator_RejectsMalformed(t *testing.T) {
	var probe idemProbe
	r := idemRouter(nil, &probe)
	for _, key := range []string{strings.Repeat("a", 17), "has space", "semi;colon"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, idemRequest(http.MethodPost, "/chat/send", key))
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Idempotency-Key") {
			t.Fatalf("key %q -> %d %s", key, w.Code, w.Body.String())
		}
	}
}

func TestIdempotencyValidator_LookupMissHitAndError(t *testing.T) {
	var gotUser, gotKey string
	result := false
	var lookupErr error
	lookup := func(_ context.Context, userID, key string, _ time.Time) (bool, error) {
		gotUser, gotKey = userID, key
		return result, lookupErr
	}
	var probe idemProbe
	r := idemRouter(lookup, &probe)

	r.ServeHTTP(httptest.NewRecorder(), idemRequest(http.MethodPost, "/chat/send", "k-1"))
	if !probe.has || probe.key != "k-1" || probe.replay || probe.bypass {
		t.Fatalf("miss: %+v", probe)
	}
	if gotUser != "u1" || gotKey != "k-1" {
		t.Fatalf("lookup args = %q %q", gotUser, gotKey)
	}

	result = true
	r.ServeHTTP(httptest.NewRecorder(), idemRequest(http.MethodPost, "/chat/send", "k-1"))
	if !probe.replay || !probe.bypass {
		t.Fatalf("hit: %+v", probe)
	}

	lookupErr = errors.New("db down")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, idemRequest(http.MethodPost, "/chat/send", "k-1"))
	if w.Code != http.StatusOK || probe.replay {
		t.Fatalf("lookup error should be a miss: %d %+v", w.Code, probe)
	}
}
