package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/dommirror/idgen"
	"github.com/hazyhaar/dommirror/kit"
)

var newRequestID = idgen.Prefixed("req_", idgen.Default)

// RequestID keeps the caller's X-Request-ID or assigns one, echoes it on
// the response and stores it in the context with a per-request logger.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = newRequestID()
				r.Header.Set("X-Request-ID", id)
			}
			w.Header().Set("X-Request-ID", id)

			ctx := kit.WithRequestID(r.Context(), id)
			reqLogger := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
