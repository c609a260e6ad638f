// Package middleware provides HTTP middleware for the gateway: request
// logging with metrics, and per-client rate limiting.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/requestid"
	"github.com/DataScientest/eval-llm-in-production/internal/observability/metrics"
)

// statusRecorder captures the response status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logging logs each request on completion and records HTTP metrics. It runs
// after the request ID middleware so log lines carry the correlation ID.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), duration)

		logger := slog.Default()
		if reqID := requestid.FromContext(r.Context()); reqID != "" {
			logger = logger.With(slog.String("request_id", reqID))
		}
		logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", duration.Milliseconds()),
			slog.String("remote", r.RemoteAddr))
	})
}
