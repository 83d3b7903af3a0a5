package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/feedsync/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func TestDefaultAPIStack_Headers(t *testing.T) {
	// WHAT: Responses carry the API security headers and a trace id.
	// WHY: State responses include gate details and must never be cached or framed.
	r := chi.NewRouter()
	for _, mw := range DefaultAPIStack(nil) {
		r.Use(mw)
	}
	var seenTrace string
	r.Get("/api/state", func(w http.ResponseWriter, r *http.Request) {
		seenTrace = kit.GetTraceID(r.Context())
		w.WriteHeader(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/state", nil))

	checks := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	}
	for header, expected := range checks {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s: got %q, want %q", header, got, expected)
		}
	}

	traceID := w.Header().Get("X-Trace-ID")
	if len(traceID) != 8 {
		t.Errorf("X-Trace-ID: got %q (len %d), want 8 hex chars", traceID, len(traceID))
	}
	if seenTrace != traceID {
		t.Errorf("context trace id %q != header %q", seenTrace, traceID)
	}
}

func TestHeadToGet(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HeadToGet)
	r.Get("/health", okHandler().ServeHTTP)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("HEAD", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("HEAD /health = %d, want 200", w.Code)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	req := httptest.NewRequest("POST", "/api/unlock", strings.NewReader(strings.Repeat("x", 64)))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil {
		t.Fatal("expected read error past the body limit")
	}

	req = httptest.NewRequest("POST", "/api/unlock", strings.NewReader(`{"a":1}`))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr != nil {
		t.Fatalf("small body rejected: %v", readErr)
	}
}

func TestLimiter_WindowAndReset(t *testing.T) {
	// WHAT: A client gets max attempts per window, then 429 until the window ends.
	// WHY: The passphrase gate is the only access control; unlimited guesses defeat it.
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(2, time.Minute, WithLimiterClock(func() time.Time { return now }))
	h := l.Middleware(okHandler())

	do := func(ip string) int {
		req := httptest.NewRequest("POST", "/api/unlock", nil)
		req.RemoteAddr = ip + ":5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if do("10.0.0.1") != 200 || do("10.0.0.1") != 200 {
		t.Fatal("first two attempts should pass")
	}
	if code := do("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("third attempt = %d, want 429", code)
	}
	if do("10.0.0.2") != 200 {
		t.Error("other clients are not affected")
	}

	now = now.Add(time.Minute)
	if do("10.0.0.1") != 200 {
		t.Error("window elapsed, attempt should pass")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0, time.Minute)
	for i := 0; i < 10; i++ {
		if !l.Allow("x") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.7" {
		t.Errorf("xff: got %q", got)
	}
	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := ExtractIP(req); got != "192.0.2.1" {
		t.Errorf("remote: got %q", got)
	}
}
