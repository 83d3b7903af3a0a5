// CLAUDE:SUMMARY HTTP middleware stack for the JSON API: headers, body cap, trace ids, HEAD handling and the unlock limiter.
// Package shield provides the HTTP middleware in front of the feedsync JSON
// API: security headers, body limits, request tracing, HEAD handling and a
// per-client limiter for passphrase submissions.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(logger) {
//	    r.Use(mw)
//	}
//	r.With(shield.NewLimiter(5, time.Minute).Middleware).Post("/api/unlock", h)
package shield

import (
	"log/slog"
	"net/http"
)

// DefaultMaxBody caps JSON request bodies.
const DefaultMaxBody = 64 * 1024

// DefaultAPIStack returns the standard middleware stack for the API.
// Order: HeadToGet → SecurityHeaders → MaxBody → TraceID.
func DefaultAPIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(DefaultMaxBody),
		TraceID(logger),
	}
}
