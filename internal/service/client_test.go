package service

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DataScientest/eval-llm-in-production/internal/cache"
	"github.com/DataScientest/eval-llm-in-production/internal/health"
	"github.com/DataScientest/eval-llm-in-production/internal/llm"
	"github.com/DataScientest/eval-llm-in-production/internal/resilience/circuitbreaker"
	"github.com/DataScientest/eval-llm-in-production/internal/resilience/retry"
)

// fakeUpstream counts calls and delegates to a configurable handler.
type fakeUpstream struct {
	calls atomic.Int32
	fn    func(req llm.Request) (*llm.Response, error)
}

func (f *fakeUpstream) ChatCompletion(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.calls.Add(1)
	return f.fn(req)
}

func okResponse(text string) func(llm.Request) (*llm.Response, error) {
	return func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Text:  text,
			Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			Model: req.Model,
		}, nil
	}
}

func testConfig() Config {
	return Config{
		DefaultModel: "gpt-4o-mini",
		Retry: retry.Config{
			MaxRetries:     2,
			BaseDelay:      time.Millisecond,
			MaxDelay:       5 * time.Millisecond,
			JitterFraction: 0.1,
		},
		Breaker: circuitbreaker.Config{
			Name:              UpstreamBreakerName,
			FailureThreshold:  2,
			RecoveryTimeout:   time.Hour,
			HalfOpenMaxTrials: 1,
		},
	}
}

func newTestClient(upstream llm.Upstream, cfg Config) *Client {
	return NewClient(
		upstream,
		cache.NewContentCache(cache.NewMemoryStore(), time.Hour),
		circuitbreaker.NewRegistry(),
		health.NewChecker(),
		cfg,
	)
}

func TestGenerate_MissThenHit(t *testing.T) {
	upstream := &fakeUpstream{fn: okResponse("The answer.")}
	client := newTestClient(upstream, testConfig())
	ctx := context.Background()

	req := GenerateRequest{Prompt: "question", Temperature: 0.7, MaxTokens: 100}

	first, err := client.Generate(ctx, req)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if first.Cached {
		t.Error("expected first request to miss the cache")
	}
	if first.Text != "The answer." {
		t.Errorf("unexpected completion text %q", first.Text)
	}
	if first.CostUSD <= 0 {
		t.Error("expected a positive cost estimate")
	}

	second, err := client.Generate(ctx, req)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !second.Cached {
		t.Error("expected second identical request to hit the cache")
	}
	if second.Text != first.Text {
		t.Errorf("expected identical cached text, got %q", second.Text)
	}
	if second.Usage.TotalTokens != first.Usage.TotalTokens {
		t.Errorf("expected cached usage preserved, got %+v", second.Usage)
	}

	if got := upstream.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 upstream call, got %d", got)
	}
}

func TestGenerate_ParamChangeMissesCache(t *testing.T) {
	upstream := &fakeUpstream{fn: okResponse("answer")}
	client := newTestClient(upstream, testConfig())
	ctx := context.Background()

	if _, err := client.Generate(ctx, GenerateRequest{Prompt: "q", Temperature: 0.7}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Generate(ctx, GenerateRequest{Prompt: "q", Temperature: 0.8}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Generate(ctx, GenerateRequest{Prompt: "q", Temperature: 0.7, SystemPrompt: "be terse"}); err != nil {
		t.Fatal(err)
	}

	if got := upstream.calls.Load(); got != 3 {
		t.Errorf("expected 3 upstream calls for 3 distinct requests, got %d", got)
	}
}

func TestGenerate_RetriesTransientFailures(t *testing.T) {
	var failures atomic.Int32
	upstream := &fakeUpstream{}
	upstream.fn = func(req llm.Request) (*llm.Response, error) {
		if failures.Add(1) <= 2 {
			return nil, &llm.Error{Kind: llm.KindServer, Message: "overloaded"}
		}
		return okResponse("recovered")(req)
	}

	client := newTestClient(upstream, testConfig())

	result, err := client.Generate(context.Background(), GenerateRequest{Prompt: "q"})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if result.Text != "recovered" {
		t.Errorf("unexpected text %q", result.Text)
	}
	if got := upstream.calls.Load(); got != 3 {
		t.Errorf("expected 3 upstream attempts, got %d", got)
	}
}

func TestGenerate_FatalErrorNotRetried(t *testing.T) {
	upstream := &fakeUpstream{fn: func(llm.Request) (*llm.Response, error) {
		return nil, &llm.Error{Kind: llm.KindBadRequest, Message: "invalid model"}
	}}
	client := newTestClient(upstream, testConfig())

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "q"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := upstream.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 upstream call for fatal error, got %d", got)
	}

	kind, ok := llm.KindOf(err)
	if !ok || kind != llm.KindBadRequest {
		t.Errorf("expected original classification preserved, got (%v, %v)", kind, ok)
	}

	// A fatal rejection proves the upstream answered, so the breaker must
	// not accumulate failures from it.
	status, _ := client.GetBreakerStatus(UpstreamBreakerName)
	if status.FailureCount != 0 {
		t.Errorf("expected breaker failure count 0 after fatal error, got %d", status.FailureCount)
	}
}

func TestGenerate_ExhaustionOpensBreaker(t *testing.T) {
	upstream := &fakeUpstream{fn: func(llm.Request) (*llm.Response, error) {
		return nil, &llm.Error{Kind: llm.KindTimeout, Message: "deadline exceeded"}
	}}
	client := newTestClient(upstream, testConfig())
	ctx := context.Background()

	// Threshold is 2: two exhausted requests open the breaker.
	for i := 0; i < 2; i++ {
		_, err := client.Generate(ctx, GenerateRequest{Prompt: "q"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if _, exhausted := retry.IsExhausted(err); !exhausted {
			t.Errorf("expected exhausted error, got %v", err)
		}
	}

	status, ok := client.GetBreakerStatus(UpstreamBreakerName)
	if !ok {
		t.Fatal("expected breaker registered")
	}
	if status.State != "open" {
		t.Errorf("expected open breaker after repeated exhaustion, got %s", status.State)
	}

	calls := upstream.calls.Load()
	_, err := client.Generate(ctx, GenerateRequest{Prompt: "q"})

	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if openErr.RetryAfter != time.Hour {
		t.Errorf("expected retry-after equal to recovery timeout, got %v", openErr.RetryAfter)
	}
	if upstream.calls.Load() != calls {
		t.Error("expected no upstream call while breaker open")
	}
}

func TestGenerate_BreakerGateRunsBeforeCache(t *testing.T) {
	upstream := &fakeUpstream{fn: okResponse("cached answer")}
	client := newTestClient(upstream, testConfig())
	ctx := context.Background()
	req := GenerateRequest{Prompt: "popular question"}

	// Warm the cache, then force the breaker open.
	if _, err := client.Generate(ctx, req); err != nil {
		t.Fatal(err)
	}
	upstream.fn = func(llm.Request) (*llm.Response, error) {
		return nil, &llm.Error{Kind: llm.KindConnection, Message: "refused"}
	}
	for i := 0; i < 2; i++ {
		_, _ = client.Generate(ctx, GenerateRequest{Prompt: "other"})
	}

	// Even though the warm entry could serve this request, the gate
	// rejects it first. This ordering is a documented contract.
	_, err := client.Generate(ctx, req)
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected breaker rejection for cache-warm request, got %v", err)
	}
}

func TestGenerate_CacheHitDuringTrialDoesNotWedgeBreaker(t *testing.T) {
	upstream := &fakeUpstream{fn: okResponse("warm answer")}
	cfg := testConfig()
	cfg.Breaker.RecoveryTimeout = 20 * time.Millisecond
	client := newTestClient(upstream, cfg)
	ctx := context.Background()
	warm := GenerateRequest{Prompt: "popular question"}

	// Warm the cache, then open the breaker with a different prompt.
	if _, err := client.Generate(ctx, warm); err != nil {
		t.Fatal(err)
	}
	upstream.fn = func(llm.Request) (*llm.Response, error) {
		return nil, &llm.Error{Kind: llm.KindConnection, Message: "refused"}
	}
	for i := 0; i < 2; i++ {
		_, _ = client.Generate(ctx, GenerateRequest{Prompt: "other"})
	}
	status, _ := client.GetBreakerStatus(UpstreamBreakerName)
	if status.State != "open" {
		t.Fatalf("expected open breaker, got %s", status.State)
	}

	upstream.fn = okResponse("recovered")
	time.Sleep(30 * time.Millisecond)

	// The first admitted call consumes the trial slot but is served from
	// cache, so no upstream outcome is ever recorded for it.
	result, err := client.Generate(ctx, warm)
	if err != nil {
		t.Fatalf("expected cache hit while half-open, got %v", err)
	}
	if !result.Cached {
		t.Fatal("expected response served from cache")
	}

	// The returned slot must admit a real trial, which closes the breaker.
	result, err = client.Generate(ctx, GenerateRequest{Prompt: "fresh question"})
	if err != nil {
		t.Fatalf("expected trial call admitted after cache hit, got %v", err)
	}
	if result.Cached {
		t.Fatal("expected upstream response")
	}
	status, _ = client.GetBreakerStatus(UpstreamBreakerName)
	if status.State != "closed" {
		t.Errorf("expected closed breaker after trial success, got %s", status.State)
	}
}

func TestGenerate_CancelledTrialDoesNotWedgeBreaker(t *testing.T) {
	upstream := &fakeUpstream{fn: func(llm.Request) (*llm.Response, error) {
		return nil, &llm.Error{Kind: llm.KindTimeout, Message: "deadline exceeded"}
	}}
	cfg := testConfig()
	cfg.Breaker.RecoveryTimeout = 20 * time.Millisecond
	client := newTestClient(upstream, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = client.Generate(ctx, GenerateRequest{Prompt: "q"})
	}
	time.Sleep(30 * time.Millisecond)

	// The trial call ends in a caller cancellation: no outcome, but the
	// consumed slot must come back.
	upstream.fn = func(llm.Request) (*llm.Response, error) {
		return nil, context.Canceled
	}
	if _, err := client.Generate(ctx, GenerateRequest{Prompt: "q"}); err == nil {
		t.Fatal("expected cancellation to propagate")
	}

	upstream.fn = okResponse("recovered")
	result, err := client.Generate(ctx, GenerateRequest{Prompt: "q"})
	if err != nil {
		t.Fatalf("expected trial call admitted after cancellation, got %v", err)
	}
	if result.Cached {
		t.Fatal("expected upstream response")
	}
	status, _ := client.GetBreakerStatus(UpstreamBreakerName)
	if status.State != "closed" {
		t.Errorf("expected closed breaker after trial success, got %s", status.State)
	}
}

func TestGenerate_DefaultModelApplied(t *testing.T) {
	var gotModel string
	upstream := &fakeUpstream{fn: func(req llm.Request) (*llm.Response, error) {
		gotModel = req.Model
		return okResponse("ok")(req)
	}}
	client := newTestClient(upstream, testConfig())

	result, err := client.Generate(context.Background(), GenerateRequest{Prompt: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if gotModel != "gpt-4o-mini" {
		t.Errorf("expected default model sent upstream, got %q", gotModel)
	}
	if result.Model != "gpt-4o-mini" {
		t.Errorf("expected default model echoed, got %q", result.Model)
	}
}

func TestGenerate_SystemPromptSentUpstream(t *testing.T) {
	var gotMessages []llm.Message
	upstream := &fakeUpstream{fn: func(req llm.Request) (*llm.Response, error) {
		gotMessages = req.Messages
		return okResponse("ok")(req)
	}}
	client := newTestClient(upstream, testConfig())

	_, err := client.Generate(context.Background(), GenerateRequest{
		Prompt:       "question",
		SystemPrompt: "be terse",
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(gotMessages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(gotMessages))
	}
	if gotMessages[0].Role != "system" || gotMessages[0].Content != "be terse" {
		t.Errorf("expected system message first, got %+v", gotMessages[0])
	}
	if gotMessages[1].Role != "user" || gotMessages[1].Content != "question" {
		t.Errorf("expected user message second, got %+v", gotMessages[1])
	}
}

func TestCheckHealth_ForceRefresh(t *testing.T) {
	upstream := &fakeUpstream{fn: okResponse("ok")}

	checker := health.NewChecker()
	var probeCalls atomic.Int32
	checker.Register(health.ProbeFunc{
		ProbeName: "upstream",
		Fn: func(ctx context.Context) error {
			probeCalls.Add(1)
			return nil
		},
	})

	client := NewClient(
		upstream,
		cache.NewContentCache(cache.NewMemoryStore(), time.Hour),
		circuitbreaker.NewRegistry(),
		checker,
		testConfig(),
	)
	ctx := context.Background()

	report := client.CheckHealth(ctx, false)
	if report.Status != "healthy" {
		t.Errorf("expected healthy report, got %q", report.Status)
	}

	client.CheckHealth(ctx, false)
	if got := probeCalls.Load(); got != 1 {
		t.Errorf("expected cached result reused, got %d probe calls", got)
	}

	client.CheckHealth(ctx, true)
	if got := probeCalls.Load(); got != 2 {
		t.Errorf("expected force refresh to re-run probe, got %d calls", got)
	}
}

func TestClearCache(t *testing.T) {
	upstream := &fakeUpstream{fn: okResponse("answer")}
	client := newTestClient(upstream, testConfig())
	ctx := context.Background()
	req := GenerateRequest{Prompt: "q"}

	if _, err := client.Generate(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := client.ClearCache(ctx, ""); err != nil {
		t.Fatal(err)
	}

	result, err := client.Generate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if result.Cached {
		t.Error("expected miss after cache clear")
	}
	if got := upstream.calls.Load(); got != 2 {
		t.Errorf("expected 2 upstream calls, got %d", got)
	}
}

func TestClearCache_ScopedToModel(t *testing.T) {
	upstream := &fakeUpstream{fn: okResponse("answer")}
	client := newTestClient(upstream, testConfig())
	ctx := context.Background()

	if _, err := client.Generate(ctx, GenerateRequest{Prompt: "q", Model: "model-a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Generate(ctx, GenerateRequest{Prompt: "q", Model: "model-b"}); err != nil {
		t.Fatal(err)
	}

	if err := client.ClearCache(ctx, "model-a"); err != nil {
		t.Fatal(err)
	}

	resultA, err := client.Generate(ctx, GenerateRequest{Prompt: "q", Model: "model-a"})
	if err != nil {
		t.Fatal(err)
	}
	if resultA.Cached {
		t.Error("expected miss for cleared model")
	}

	resultB, err := client.Generate(ctx, GenerateRequest{Prompt: "q", Model: "model-b"})
	if err != nil {
		t.Fatal(err)
	}
	if !resultB.Cached {
		t.Error("expected other model's entry to survive scoped clear")
	}
}

func TestIncidentID_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^inc_[0-9a-f]{12}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := IncidentID()
		if !pattern.MatchString(id) {
			t.Fatalf("incident ID %q does not match expected format", id)
		}
		seen[id] = true
	}
	if len(seen) != 100 {
		t.Error("expected incident IDs to be unique")
	}
}

func TestGetBreakerStatus_Unknown(t *testing.T) {
	client := newTestClient(&fakeUpstream{fn: okResponse("ok")}, testConfig())

	if _, ok := client.GetBreakerStatus("nonexistent"); ok {
		t.Error("expected false for unregistered breaker")
	}
}
