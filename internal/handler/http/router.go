package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/auth"
	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/middleware"
	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/requestid"
	"github.com/DataScientest/eval-llm-in-production/internal/observability/tracing"
)

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	// MaxBodyBytes caps the generate request body.
	MaxBodyBytes int64

	// RateLimiter throttles per client; nil disables rate limiting.
	RateLimiter *middleware.RateLimiter

	// Issuer enables JWT authentication; nil leaves every endpoint open
	// (tests and local development).
	Issuer *auth.Issuer

	// PublicEndpoints are exempt from authentication.
	PublicEndpoints []string
}

// NewRouter wires every gateway endpoint with the middleware chain:
// tracing, request ID, logging, rate limiting, then authentication.
func NewRouter(svc LLMService, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /llm/generate", GenerateHandler(svc, opts.MaxBodyBytes))

	mux.Handle("GET /monitoring/health", HealthHandler(svc))
	mux.Handle("GET /monitoring/metrics", promhttp.Handler())
	mux.Handle("GET /monitoring/cache/stats", CacheStatsHandler(svc))
	mux.Handle("POST /monitoring/cache/clear", CacheClearHandler(svc))
	mux.Handle("GET /monitoring/circuit-breakers", BreakersHandler(svc))
	mux.Handle("GET /monitoring/circuit-breakers/{name}", BreakerHandler(svc))

	mux.Handle("GET /healthz", LivenessHandler())
	mux.Handle("GET /readyz", HealthHandler(svc))

	if opts.Issuer != nil {
		mux.Handle("POST /auth/token", auth.TokenHandler(opts.Issuer))
	}

	var handler http.Handler = mux
	if opts.Issuer != nil {
		public := append([]string{"/auth/token", "/healthz", "/readyz"}, opts.PublicEndpoints...)
		handler = auth.Middleware(opts.Issuer, public)(handler)
	}
	if opts.RateLimiter != nil {
		handler = opts.RateLimiter.Middleware(handler)
	}
	handler = middleware.Logging(handler)
	handler = requestid.Middleware(handler)
	handler = tracing.Middleware(handler)

	return handler
}
