package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContext_FallsBackToGlobal(t *testing.T) {
	if WithContext(context.Background()) != L() {
		t.Error("Expected global logger for a bare context")
	}
}

func TestWithRequestID_TagsLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := context.WithValue(context.Background(), loggerKey, zap.New(core))

	ctx, id := WithRequestID(ctx, "req-42")
	if id != "req-42" {
		t.Errorf("Expected provided id to be kept, got %q", id)
	}
	WithContext(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["request_id"]; got != "req-42" {
		t.Errorf("Expected request_id req-42, got %v", got)
	}
}

func TestWithRequestID_GeneratesID(t *testing.T) {
	_, id := WithRequestID(context.Background(), "")
	if id == "" {
		t.Error("Expected a generated request id")
	}
}

func TestMiddleware_SetsRequestIDHeader(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	req.Header.Set("X-Request-ID", "abc")

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected 418, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("Expected X-Request-ID abc, got %q", rec.Header().Get("X-Request-ID"))
	}
}
