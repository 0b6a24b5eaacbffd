package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestMiddleware_RequestID(t *testing.T) {
	InitNop()

	var sawLogger *zap.Logger
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = WithContext(r.Context())
		if _, ok := w.(http.Flusher); !ok {
			t.Error("wrapped writer must stay flushable")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
	if sawLogger == nil {
		t.Error("expected a request logger in the context")
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("expected the caller's request id, got %q", got)
	}
}

func TestInit_UnknownLevelFallsBack(t *testing.T) {
	if err := Init(Config{Level: "loud", Format: "json"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !l().Core().Enabled(zap.InfoLevel) || l().Core().Enabled(zap.DebugLevel) {
		t.Error("expected info level")
	}
	InitNop()
}
