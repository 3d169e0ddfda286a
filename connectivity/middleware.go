package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hazyhaar/dommirror/observability"
)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its duration. Failures log at Warn: a
// declined DOM mutation is an expected outcome, not a fault.
func Logging(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			if err != nil {
				logger.WarnContext(ctx, "connectivity: call failed",
					"duration_ms", time.Since(start).Milliseconds(),
					"payload_bytes", len(payload),
					"error", err)
			} else {
				logger.DebugContext(ctx, "connectivity: call ok",
					"duration_ms", time.Since(start).Milliseconds(),
					"response_bytes", len(resp))
			}
			return resp, err
		}
	}
}

// Timeout bounds each call.
func Timeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// Recovery turns a handler panic into an *ErrPanic.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if v := recover(); v != nil {
					logger.ErrorContext(ctx, "connectivity: handler panic recovered",
						"panic", v, "stack", string(debug.Stack()))
					err = &ErrPanic{Value: v}
				}
			}()
			return next(ctx, payload)
		}
	}
}

// Metrics records connectivity.call.duration_ms for every call and
// connectivity.call.error for failures.
func Metrics(mm *observability.MetricsManager) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			mm.Record(&observability.Metric{
				Name:      "connectivity.call.duration_ms",
				Timestamp: start,
				Value:     float64(time.Since(start).Milliseconds()),
				Unit:      "milliseconds",
			})
			if err != nil {
				mm.RecordSimple("connectivity.call.error", 1, "count")
			}
			return resp, err
		}
	}
}
