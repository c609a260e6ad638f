package http

import (
	"net/http"

	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/respond"
)

// HealthHandler serves GET /monitoring/health. A degraded dependency set
// returns 503 so load balancers stop routing, with the per-probe detail in
// the body either way. The force=true query parameter bypasses cached
// probe results.
func HealthHandler(svc LLMService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") == "true"

		report := svc.CheckHealth(r.Context(), force)

		status := http.StatusOK
		if report.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(w, status, report)
	}
}

// LivenessHandler serves GET /healthz: the process is up. It deliberately
// checks nothing else, a dead upstream must not make orchestrators restart
// the gateway.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// CacheStatsHandler serves GET /monitoring/cache/stats.
func CacheStatsHandler(svc LLMService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, svc.GetCacheStats(r.Context()))
	}
}

// CacheClearHandler serves POST /monitoring/cache/clear. An optional model
// query parameter scopes the wipe to entries cached for that model.
func CacheClearHandler(svc LLMService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("model")

		if err := svc.ClearCache(r.Context(), scope); err != nil {
			respond.Error(w, http.StatusInternalServerError, "cache clear failed")
			return
		}
		respond.JSON(w, http.StatusOK, map[string]bool{"cleared": true})
	}
}

// BreakersHandler serves GET /monitoring/circuit-breakers.
func BreakersHandler(svc LLMService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, svc.AllBreakerStatuses())
	}
}

// BreakerHandler serves GET /monitoring/circuit-breakers/{name}.
func BreakerHandler(svc LLMService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		status, ok := svc.GetBreakerStatus(name)
		if !ok {
			respond.Error(w, http.StatusNotFound, "unknown circuit breaker")
			return
		}
		respond.JSON(w, http.StatusOK, status)
	}
}
