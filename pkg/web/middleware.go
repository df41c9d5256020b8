package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/metrics"
)

// requestLogger tags each routed request with an ID, then logs it and
// records its duration under the route template, so /api/subscribe/status
// and /api/subscribe/scene share one series.
func requestLogger(log *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := logging.WithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Request-ID", requestID)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tmpl, err := cur.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)
			metrics.ObserveRequest(route, r.Method, rec.status, elapsed)

			attrs := []any{
				"requestID", requestID,
				"method", r.Method,
				"route", route,
				"status", rec.status,
				"duration", elapsed,
			}
			switch {
			case rec.status >= 500:
				log.ErrorContext(ctx, "Request failed", attrs...)
			case rec.status >= 400:
				log.WarnContext(ctx, "Request rejected", attrs...)
			default:
				log.DebugContext(ctx, "Request served", attrs...)
			}
		})
	}
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the wrapper
func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
