// Package service orchestrates the resilience core: circuit breaker, retry
// executor, response cache and health checker, composed around the upstream
// chat-completion client.
package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/DataScientest/eval-llm-in-production/internal/cache"
	"github.com/DataScientest/eval-llm-in-production/internal/health"
	"github.com/DataScientest/eval-llm-in-production/internal/llm"
	"github.com/DataScientest/eval-llm-in-production/internal/observability/metrics"
	"github.com/DataScientest/eval-llm-in-production/internal/resilience/circuitbreaker"
	"github.com/DataScientest/eval-llm-in-production/internal/resilience/retry"
)

// UpstreamBreakerName is the registry key of the upstream proxy breaker.
const UpstreamBreakerName = "llm-proxy"

// GenerateRequest is one completion request from the HTTP layer.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Temperature  float32
	MaxTokens    int
}

// GenerateResult is the outcome of a completion, whether served from cache
// or from the upstream.
type GenerateResult struct {
	Text           string
	Model          string
	Usage          llm.Usage
	CostUSD        float64
	Cached         bool
	CacheLatencyMS float64
}

// CircuitOpenError is returned when the upstream breaker rejects the request
// before any network attempt. RetryAfter hints when a trial call may be
// admitted again.
type CircuitOpenError struct {
	Breaker    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q open, retry after %s", e.Breaker, e.RetryAfter)
}

// IncidentID returns a short correlation identifier for user-visible
// failures, of the form "inc_" followed by 12 hex characters.
func IncidentID() string {
	id := uuid.New()
	return "inc_" + hex.EncodeToString(id[:6])
}

// Config holds the tunables of the resilient client.
type Config struct {
	DefaultModel string
	Retry        retry.Config
	Breaker      circuitbreaker.Config
}

// DefaultConfig returns the production configuration: moderate retry with
// exponential backoff, and a breaker that opens after 5 consecutive
// failures.
func DefaultConfig() Config {
	breakerCfg := circuitbreaker.LLMProxyConfig()
	breakerCfg.Name = UpstreamBreakerName

	return Config{
		DefaultModel: "gpt-4o-mini",
		Retry:        retry.LLMProxyConfig(),
		Breaker:      breakerCfg,
	}
}

// Client is the resilient LLM client handed to the HTTP layer. One instance
// serves all concurrent requests; all shared state lives in the injected
// collaborators, each with its own locking.
type Client struct {
	upstream llm.Upstream
	cache    *cache.ContentCache
	breakers *circuitbreaker.Registry
	breaker  *circuitbreaker.CircuitBreaker
	checker  *health.Checker
	retryCfg retry.Config
	model    string

	// upstreamEWMA holds the float64 bits of a moving average of upstream
	// completion latency in seconds. Zero means no observation yet.
	upstreamEWMA atomic.Uint64
}

// NewClient wires the resilience core around the upstream client. The
// breaker is created in (or fetched from) the given registry so the
// monitoring surface sees the same instance.
func NewClient(
	upstream llm.Upstream,
	responseCache *cache.ContentCache,
	breakers *circuitbreaker.Registry,
	checker *health.Checker,
	cfg Config,
) *Client {
	retryCfg := cfg.Retry
	retryCfg.Retryable = llm.IsRetryable

	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = UpstreamBreakerName
	}
	breaker := breakers.GetOrCreate(breakerCfg)
	breaker.SetOnStateChange(func(name string, from, to circuitbreaker.State) {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
	})

	return &Client{
		upstream: upstream,
		cache:    responseCache,
		breakers: breakers,
		breaker:  breaker,
		checker:  checker,
		retryCfg: retryCfg,
		model:    cfg.DefaultModel,
	}
}

// Generate serves one completion request. The breaker gate runs before the
// cache lookup: under a sustained upstream outage the service fails fast for
// all traffic, including requests that would have missed the cache anyway.
// Serving stale-but-cached responses during an outage was considered and
// rejected in favor of uniform fail-fast behavior; this ordering is a
// behavioral contract covered by tests, not an implementation accident.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	params := map[string]any{
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}
	if req.SystemPrompt != "" {
		params["system_prompt"] = req.SystemPrompt
	}

	if !c.breaker.CanExecute() {
		metrics.CircuitBreakerRejectionsTotal.WithLabelValues(c.breaker.Name()).Inc()
		metrics.RecordCompletion(model, "rejected", false, time.Since(start))
		return nil, &CircuitOpenError{
			Breaker:    c.breaker.Name(),
			RetryAfter: c.breaker.RecoveryTimeout(),
		}
	}

	cacheStart := time.Now()
	if entry, hit := c.cache.Get(ctx, req.Prompt, model, params); hit {
		// The admission above may have consumed a half-open trial slot. A
		// cache hit never reaches the upstream, so the slot is given back;
		// otherwise a hit served during a trial window would leave the
		// breaker rejecting misses until restart.
		c.breaker.ReleaseTrial()

		cacheLatency := time.Since(cacheStart)
		metrics.CacheOperationsTotal.WithLabelValues("hit").Inc()
		metrics.RecordCompletion(model, "cache_hit", true, time.Since(start))

		if avg := math.Float64frombits(c.upstreamEWMA.Load()); avg > 0 {
			if saved := avg - cacheLatency.Seconds(); saved > 0 {
				metrics.CacheTimeSavedSecondsTotal.Add(saved)
			}
		}

		slog.InfoContext(ctx, "completion served from cache",
			slog.String("model", model),
			slog.String("fingerprint", entry.Fingerprint),
			slog.Duration("cache_latency", cacheLatency))

		return &GenerateResult{
			Text:  entry.Response,
			Model: entry.Model,
			Usage: llm.Usage{
				PromptTokens:     entry.PromptTokens,
				CompletionTokens: entry.CompletionTokens,
				TotalTokens:      entry.PromptTokens + entry.CompletionTokens,
			},
			CostUSD:        entry.CostUSD,
			Cached:         true,
			CacheLatencyMS: float64(cacheLatency.Microseconds()) / 1000.0,
		}, nil
	}
	metrics.CacheOperationsTotal.WithLabelValues("miss").Inc()

	messages := make([]llm.Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Prompt})

	upstreamStart := time.Now()
	resp, err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) (*llm.Response, error) {
		return c.upstream.ChatCompletion(ctx, llm.Request{
			Model:       model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
	})
	if err != nil {
		c.recordOutcome(err)
		metrics.RecordCompletion(model, "error", false, time.Since(start))
		return nil, fmt.Errorf("upstream completion failed: %w", err)
	}

	c.breaker.RecordSuccess()
	c.observeUpstreamLatency(time.Since(upstreamStart))

	cost := llm.EstimateCost(resp.Model, resp.Usage)
	metrics.RecordUsage(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost)
	metrics.RecordCompletion(model, "success", false, time.Since(start))

	c.cache.Set(ctx, req.Prompt, model, params, &cache.Entry{
		Response:         resp.Text,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          cost,
	})

	slog.InfoContext(ctx, "completion served from upstream",
		slog.String("model", resp.Model),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)))

	return &GenerateResult{
		Text:    resp.Text,
		Model:   resp.Model,
		Usage:   resp.Usage,
		CostUSD: cost,
		Cached:  false,
	}, nil
}

// ewmaAlpha weights recent upstream latency observations.
const ewmaAlpha = 0.2

// observeUpstreamLatency folds one upstream call duration into the moving
// average that backs the cache time-saved estimate.
func (c *Client) observeUpstreamLatency(d time.Duration) {
	for {
		oldBits := c.upstreamEWMA.Load()
		next := d.Seconds()
		if oldBits != 0 {
			old := math.Float64frombits(oldBits)
			next = old + ewmaAlpha*(next-old)
		}
		if c.upstreamEWMA.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

// recordOutcome updates the breaker from a failed upstream call. Transient
// failures (retry budget exhausted) count against the breaker. A fatal
// upstream rejection means the dependency answered, which is evidence of
// health, so it records a success; without this a half-open trial that hits
// a 400 would leave the breaker stuck with a consumed trial slot. Caller
// cancellation says nothing about upstream health, so it records no outcome,
// but any trial slot the admission consumed is returned for the same reason.
func (c *Client) recordOutcome(err error) {
	if _, exhausted := retry.IsExhausted(err); exhausted {
		c.breaker.RecordFailure(err)
		return
	}
	kind, ok := llm.KindOf(err)
	if !ok {
		c.breaker.ReleaseTrial()
		return
	}
	switch kind {
	case llm.KindConnection, llm.KindTimeout, llm.KindServer:
		// A transient error that was not retried (nil predicate paths)
		// still counts as a dependency failure.
		c.breaker.RecordFailure(err)
	default:
		c.breaker.RecordSuccess()
	}
}

// GetCacheStats reports cache effectiveness counters and refreshes the
// entries gauge.
func (c *Client) GetCacheStats(ctx context.Context) cache.Stats {
	stats := c.cache.Stats(ctx)
	if stats.Entries >= 0 {
		metrics.CacheEntries.Set(float64(stats.Entries))
	}
	return stats
}

// ClearCache wipes the response cache. A non-empty scope limits the wipe to
// entries cached for that model.
func (c *Client) ClearCache(ctx context.Context, scope string) error {
	if scope != "" {
		_, err := c.cache.ClearModel(ctx, scope)
		return err
	}
	return c.cache.Clear(ctx)
}

// GetBreakerStatus returns the status snapshot for one breaker, or false
// when no breaker is registered under the name.
func (c *Client) GetBreakerStatus(name string) (circuitbreaker.Status, bool) {
	cb := c.breakers.Get(name)
	if cb == nil {
		return circuitbreaker.Status{}, false
	}
	return cb.GetStatus(), true
}

// AllBreakerStatuses returns status snapshots for every registered breaker.
func (c *Client) AllBreakerStatuses() map[string]circuitbreaker.Status {
	return c.breakers.AllStatuses()
}

// CheckHealth runs the dependency probes. With forceRefresh the cached
// results are dropped first so every probe executes again.
func (c *Client) CheckHealth(ctx context.Context, forceRefresh bool) health.Report {
	if forceRefresh {
		c.checker.ClearCache()
	}

	report := c.checker.CheckAll(ctx)
	for _, result := range report.Results {
		value := 0.0
		if result.Healthy {
			value = 1.0
		}
		metrics.HealthProbeStatus.WithLabelValues(result.Name).Set(value)
	}
	return report
}

func stateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateHalfOpen:
		return 1
	case circuitbreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
