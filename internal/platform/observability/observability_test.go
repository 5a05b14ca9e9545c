package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		ok      bool
		sampled bool
	}{
		{name: "decimal span sampled", header: "105445aa7843bc8bf206b12000100000/1;o=1", ok: true, sampled: true},
		{name: "hex span unsampled", header: "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7;o=0", ok: true},
		{name: "missing span", header: "105445aa7843bc8bf206b12000100000", ok: false},
		{name: "short trace", header: "abc/1;o=1", ok: false},
		{name: "empty", header: "", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sc, ok := parseCloudTraceContext(tc.header)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && sc.IsSampled() != tc.sampled {
				t.Fatalf("expected sampled=%v", tc.sampled)
			}
		})
	}
}

func TestRequestLoggerMiddleware_LogsStoreAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(logger))
	router.Use(RequestLoggerMiddleware())
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestctx.WithStore(r.Context(), domain.StoreContext{ID: 42, Title: "Loja"})
			ctx = requestctx.WithSessionID(ctx, "session-1")
			r = r.WithContext(ctx)
			AnnotateRequest(r)
			next.ServeHTTP(w, r)
		})
	})
	router.Get("/api/cart", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 4xx, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["store_id"] != "42" {
		t.Fatalf("expected store_id 42, got %v", fields["store_id"])
	}
	if fields["route"] != "/api/cart" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["session"] != HashSessionID("session-1") {
		t.Fatalf("expected hashed session, got %v", fields["session"])
	}
}

func TestRecoveryMiddleware_WritesEnvelope(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestSanitizeStringDropsControlCharacters(t *testing.T) {
	if got := sanitizeString("a\nb\tc", 10); got != "abc" {
		t.Fatalf("unexpected sanitize result %q", got)
	}
}
