// Package http provides the gateway's HTTP handlers: completion generation,
// monitoring and cache administration. Handlers depend on the service layer
// through small interfaces so tests can substitute stubs.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/DataScientest/eval-llm-in-production/internal/cache"
	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/requestid"
	"github.com/DataScientest/eval-llm-in-production/internal/handler/http/respond"
	"github.com/DataScientest/eval-llm-in-production/internal/health"
	"github.com/DataScientest/eval-llm-in-production/internal/llm"
	"github.com/DataScientest/eval-llm-in-production/internal/resilience/circuitbreaker"
	"github.com/DataScientest/eval-llm-in-production/internal/resilience/retry"
	"github.com/DataScientest/eval-llm-in-production/internal/service"
)

// maxPromptLength bounds the prompt so one request cannot monopolize the
// upstream context window budget.
const maxPromptLength = 100_000

// LLMService is the service-layer dependency of the completion handlers.
type LLMService interface {
	Generate(ctx context.Context, req service.GenerateRequest) (*service.GenerateResult, error)
	GetCacheStats(ctx context.Context) cache.Stats
	ClearCache(ctx context.Context, scope string) error
	GetBreakerStatus(name string) (circuitbreaker.Status, bool)
	AllBreakerStatuses() map[string]circuitbreaker.Status
	CheckHealth(ctx context.Context, forceRefresh bool) health.Report
}

type generateRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

type usageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type generateResponse struct {
	Text           string        `json:"text"`
	Model          string        `json:"model"`
	Usage          usageResponse `json:"usage"`
	CostUSD        float64       `json:"cost_usd"`
	Cached         bool          `json:"cached"`
	CacheLatencyMS float64       `json:"cache_latency_ms,omitempty"`
	RequestID      string        `json:"request_id,omitempty"`
}

// GenerateHandler serves POST /llm/generate.
func GenerateHandler(svc LLMService, maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := requestid.FromContext(r.Context())
		logger := slog.With(slog.String("request_id", requestID))

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respond.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			respond.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.Prompt == "" {
			respond.Error(w, http.StatusBadRequest, "prompt is required")
			return
		}
		if len(req.Prompt) > maxPromptLength {
			respond.Error(w, http.StatusBadRequest, "prompt too long")
			return
		}
		if req.Temperature < 0 || req.Temperature > 2 {
			respond.Error(w, http.StatusBadRequest, "temperature must be between 0 and 2")
			return
		}
		if req.MaxTokens < 0 {
			respond.Error(w, http.StatusBadRequest, "max_tokens must not be negative")
			return
		}

		result, err := svc.Generate(r.Context(), service.GenerateRequest{
			Prompt:       req.Prompt,
			SystemPrompt: req.SystemPrompt,
			Model:        req.Model,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
		})
		if err != nil {
			writeGenerateError(w, logger, err)
			return
		}

		logger.Info("completion request finished",
			slog.String("model", result.Model),
			slog.Bool("cached", result.Cached),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))

		respond.JSON(w, http.StatusOK, generateResponse{
			Text:  result.Text,
			Model: result.Model,
			Usage: usageResponse{
				PromptTokens:     result.Usage.PromptTokens,
				CompletionTokens: result.Usage.CompletionTokens,
				TotalTokens:      result.Usage.TotalTokens,
			},
			CostUSD:        result.CostUSD,
			Cached:         result.Cached,
			CacheLatencyMS: result.CacheLatencyMS,
			RequestID:      requestID,
		})
	}
}

// writeGenerateError maps service failures to HTTP statuses. Breaker
// rejection and exhausted transient retries map to retryable statuses
// (503/504/502); fatal upstream classifications keep their original status
// class. Every failure carries an incident identifier for log correlation.
func writeGenerateError(w http.ResponseWriter, logger *slog.Logger, err error) {
	incidentID := service.IncidentID()

	var openErr *service.CircuitOpenError
	if errors.As(err, &openErr) {
		logger.Warn("completion rejected by circuit breaker",
			slog.String("incident_id", incidentID),
			slog.String("breaker", openErr.Breaker),
			slog.Duration("retry_after", openErr.RetryAfter))
		respond.RetryAfter(w, openErr.RetryAfter)
		respond.Incident(w, http.StatusServiceUnavailable,
			"upstream temporarily unavailable", incidentID, 0)
		return
	}

	attempts, exhausted := retry.IsExhausted(err)
	kind, classified := llm.KindOf(err)

	logger.Error("completion failed",
		slog.String("incident_id", incidentID),
		slog.Int("attempts", attempts),
		slog.Any("error", err))

	if exhausted {
		status := http.StatusBadGateway
		message := "upstream unavailable after retries"
		if classified && kind == llm.KindTimeout {
			status = http.StatusGatewayTimeout
			message = "upstream timed out after retries"
		}
		respond.Incident(w, status, message, incidentID, attempts)
		return
	}

	if classified {
		switch kind {
		case llm.KindRateLimit:
			respond.Incident(w, http.StatusTooManyRequests, "upstream rate limit exceeded", incidentID, 0)
		case llm.KindAuth:
			respond.Incident(w, http.StatusUnauthorized, "upstream rejected credentials", incidentID, 0)
		case llm.KindBadRequest:
			respond.Incident(w, http.StatusBadRequest, "upstream rejected request", incidentID, 0)
		case llm.KindNotFound:
			respond.Incident(w, http.StatusNotFound, "model not found", incidentID, 0)
		default:
			respond.Incident(w, http.StatusBadGateway, "upstream error", incidentID, 0)
		}
		return
	}

	respond.Incident(w, http.StatusInternalServerError, "internal server error", incidentID, 0)
}
