// Package shield holds the HTTP middleware put in front of the domagent
// API: security headers, body limits, request ids and per-client rate
// limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(shield.Config{MaxBody: 1 << 20, RequestsPerMinute: 600}, logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Config selects the limits applied by Stack.
type Config struct {
	// MaxBody bounds request bodies in bytes. Zero disables the limit.
	MaxBody int64
	// RequestsPerMinute is allowed per client IP. Zero disables limiting.
	RequestsPerMinute int
}

// Stack returns the middleware in the order they should be applied: HEAD
// answered by the GET routes, SecurityHeaders, MaxBody, RequestID, then the
// rate limiter.
func Stack(cfg Config, logger *slog.Logger) []func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	stack := []func(http.Handler) http.Handler{
		headAsGet,
		SecurityHeaders(DefaultHeaders()),
	}
	if cfg.MaxBody > 0 {
		stack = append(stack, MaxBody(cfg.MaxBody))
	}
	stack = append(stack, RequestID(logger))
	if cfg.RequestsPerMinute > 0 {
		stack = append(stack, NewRateLimiter(cfg.RequestsPerMinute, logger).Middleware)
	}
	return stack
}

// headAsGet lets the read-only mirror routes, registered with r.Get, answer
// HEAD probes. net/http drops the body of a HEAD response.
func headAsGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
