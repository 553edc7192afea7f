package viewwatch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// maxBodyBytes caps JSON request bodies on the admin API.
const maxBodyBytes = 64 * 1024

// apiStack is the middleware applied to every admin route.
func (s *Service) apiStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		headToGet,
		apiHeaders,
		maxBody(maxBodyBytes),
		requestLog(s.logger),
	}
}

// headToGet lets r.Get routes answer HEAD instead of 405.
func headToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

func apiHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func maxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type ctxKey int

const (
	traceIDKey ctxKey = iota
	loggerKey
)

// TraceID returns the request's trace ID, "" outside the admin API.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// requestLogger returns the per-request logger, falling back to fallback.
func requestLogger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return fallback
}

// requestLog tags each request with a trace ID, stored in the context and
// echoed in X-Trace-ID, and logs it once served.
func requestLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := uuid.NewString()[:8]
			w.Header().Set("X-Trace-ID", traceID)

			reqLogger := logger.With("trace_id", traceID)
			ctx := context.WithValue(r.Context(), traceIDKey, traceID)
			ctx = context.WithValue(ctx, loggerKey, reqLogger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Debug("viewwatch: request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start))
		})
	}
}
