// Package health provides dependency health probes with cached results.
// Probes run concurrently with individual timeouts, and results are reused
// for a short TTL so health endpoints polled by orchestrators do not hammer
// the dependencies themselves.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Default probe parameters.
const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultResultTTL    = 30 * time.Second
)

// Probe checks one dependency. Check must return nil when the dependency is
// usable and an error describing the fault otherwise.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

// Name implements Probe.
func (p ProbeFunc) Name() string { return p.ProbeName }

// Check implements Probe.
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

// Result is the outcome of one probe run.
type Result struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"-"`
	LatencyMS float64       `json:"latency_ms"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Report aggregates every probe result. Status is "healthy" when all probes
// pass and "degraded" when any fails.
type Report struct {
	Status  string   `json:"status"`
	Results []Result `json:"checks"`
}

// Checker runs registered probes and caches their results.
type Checker struct {
	probeTimeout time.Duration
	resultTTL    time.Duration

	mu      sync.RWMutex
	probes  map[string]Probe
	results map[string]Result

	// flight coalesces concurrent refreshes of the same probe so an expired
	// entry is re-checked once, not once per caller.
	flight singleflight.Group

	now func() time.Time
}

// NewChecker creates a checker with the default probe timeout and result TTL.
func NewChecker() *Checker {
	return &Checker{
		probeTimeout: DefaultProbeTimeout,
		resultTTL:    DefaultResultTTL,
		probes:       make(map[string]Probe),
		results:      make(map[string]Result),
		now:          time.Now,
	}
}

// Register adds a probe. Registering a second probe under the same name
// replaces the first and drops its cached result.
func (c *Checker) Register(p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[p.Name()] = p
	delete(c.results, p.Name())
}

// CheckOne runs the named probe, reusing a cached result younger than the
// TTL. Concurrent callers refreshing the same expired entry share one probe
// run. Unknown names return an unhealthy result rather than an error so a
// typo in a monitoring query is visible instead of silent.
func (c *Checker) CheckOne(ctx context.Context, name string) Result {
	c.mu.RLock()
	probe, ok := c.probes[name]
	cached, hasCached := c.results[name]
	c.mu.RUnlock()

	if !ok {
		return Result{
			Name:      name,
			Healthy:   false,
			Error:     fmt.Sprintf("no probe registered under %q", name),
			CheckedAt: c.now(),
		}
	}

	if hasCached && c.now().Sub(cached.CheckedAt) < c.resultTTL {
		return cached
	}

	v, _, _ := c.flight.Do(name, func() (any, error) {
		// A caller that lost the race re-reads the cache: the winner may
		// have stored a fresh result between the check above and here.
		c.mu.RLock()
		cached, hasCached := c.results[name]
		c.mu.RUnlock()
		if hasCached && c.now().Sub(cached.CheckedAt) < c.resultTTL {
			return cached, nil
		}

		result := c.run(ctx, probe)

		c.mu.Lock()
		c.results[name] = result
		c.mu.Unlock()

		return result, nil
	})

	return v.(Result)
}

// CheckAll runs every registered probe concurrently and returns the
// aggregate report. Cached results within the TTL are reused per probe.
func (c *Checker) CheckAll(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	results := make([]Result, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			results[i] = c.CheckOne(gctx, name)
			return nil
		})
	}
	// Probes never return group errors, failures land in their Result.
	_ = g.Wait()

	status := "healthy"
	for _, r := range results {
		if !r.Healthy {
			status = "degraded"
			break
		}
	}

	return Report{Status: status, Results: results}
}

// ClearCache drops every cached result so the next check hits the
// dependencies again.
func (c *Checker) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[string]Result)
}

// run executes the probe with its timeout, converting panics into unhealthy
// results so one misbehaving probe cannot take the health endpoint down.
func (c *Checker) run(ctx context.Context, probe Probe) (result Result) {
	start := c.now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("health probe panicked",
				slog.String("probe", probe.Name()),
				slog.Any("panic", r))
			result = c.newResult(probe.Name(), start, fmt.Errorf("probe panicked: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	err := probe.Check(ctx)
	if err != nil {
		slog.Warn("health probe failed",
			slog.String("probe", probe.Name()),
			slog.Any("error", err))
	}
	return c.newResult(probe.Name(), start, err)
}

func (c *Checker) newResult(name string, start time.Time, err error) Result {
	latency := c.now().Sub(start)
	result := Result{
		Name:      name,
		Healthy:   err == nil,
		Latency:   latency,
		LatencyMS: float64(latency.Microseconds()) / 1000.0,
		CheckedAt: c.now(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
