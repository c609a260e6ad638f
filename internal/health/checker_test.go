package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestChecker() (*Checker, *time.Time) {
	c := NewChecker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func healthyProbe(name string, calls *atomic.Int32) Probe {
	return ProbeFunc{
		ProbeName: name,
		Fn: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		},
	}
}

func TestCheckOne_Healthy(t *testing.T) {
	c, _ := newTestChecker()
	var calls atomic.Int32
	c.Register(healthyProbe("upstream", &calls))

	result := c.CheckOne(context.Background(), "upstream")
	if !result.Healthy {
		t.Errorf("expected healthy result, got error %q", result.Error)
	}
	if result.Name != "upstream" {
		t.Errorf("expected probe name in result, got %q", result.Name)
	}
}

func TestCheckOne_CachedWithinTTL(t *testing.T) {
	c, now := newTestChecker()
	var calls atomic.Int32
	c.Register(healthyProbe("upstream", &calls))

	c.CheckOne(context.Background(), "upstream")
	*now = now.Add(29 * time.Second)
	c.CheckOne(context.Background(), "upstream")

	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 probe invocation within TTL, got %d", got)
	}

	// Past the TTL the probe runs again.
	*now = now.Add(2 * time.Second)
	c.CheckOne(context.Background(), "upstream")
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 probe invocations after TTL, got %d", got)
	}
}

func TestCheckOne_ConcurrentCallersShareOneRun(t *testing.T) {
	c := NewChecker()

	var calls atomic.Int32
	release := make(chan struct{})
	c.Register(ProbeFunc{
		ProbeName: "upstream",
		Fn: func(ctx context.Context) error {
			calls.Add(1)
			<-release
			return nil
		},
	})

	const callers = 5
	done := make(chan Result, callers)
	for i := 0; i < callers; i++ {
		go func() { done <- c.CheckOne(context.Background(), "upstream") }()
	}

	// Give every caller time to pass the cache check before the probe is
	// allowed to finish.
	time.Sleep(10 * time.Millisecond)
	close(release)

	for i := 0; i < callers; i++ {
		select {
		case result := <-done:
			if !result.Healthy {
				t.Errorf("expected healthy result, got error %q", result.Error)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("CheckOne did not complete")
		}
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("expected %d concurrent callers to share 1 probe run, got %d", callers, got)
	}
}

func TestClearCache_ForcesRefresh(t *testing.T) {
	c, _ := newTestChecker()
	var calls atomic.Int32
	c.Register(healthyProbe("upstream", &calls))

	c.CheckOne(context.Background(), "upstream")
	c.ClearCache()
	c.CheckOne(context.Background(), "upstream")

	if got := calls.Load(); got != 2 {
		t.Errorf("expected cache clear to force a fresh probe, got %d invocations", got)
	}
}

func TestCheckOne_UnknownProbe(t *testing.T) {
	c, _ := newTestChecker()

	result := c.CheckOne(context.Background(), "nonexistent")
	if result.Healthy {
		t.Error("expected unhealthy result for unknown probe")
	}
	if result.Error == "" {
		t.Error("expected error message naming the unknown probe")
	}
}

func TestCheckAll_AggregatesDegraded(t *testing.T) {
	c, _ := newTestChecker()
	var calls atomic.Int32
	c.Register(healthyProbe("database", &calls))
	c.Register(ProbeFunc{
		ProbeName: "upstream",
		Fn: func(ctx context.Context) error {
			return errors.New("connection refused")
		},
	})

	report := c.CheckAll(context.Background())
	if report.Status != "degraded" {
		t.Errorf("expected degraded status, got %q", report.Status)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}

	// Results are sorted by probe name.
	if report.Results[0].Name != "database" || report.Results[1].Name != "upstream" {
		t.Errorf("expected sorted results, got %q then %q",
			report.Results[0].Name, report.Results[1].Name)
	}
	if !report.Results[0].Healthy {
		t.Error("expected database probe healthy")
	}
	if report.Results[1].Healthy {
		t.Error("expected upstream probe unhealthy")
	}
}

func TestCheckAll_AllHealthy(t *testing.T) {
	c, _ := newTestChecker()
	var calls atomic.Int32
	c.Register(healthyProbe("a", &calls))
	c.Register(healthyProbe("b", &calls))

	report := c.CheckAll(context.Background())
	if report.Status != "healthy" {
		t.Errorf("expected healthy status, got %q", report.Status)
	}
}

func TestCheckAll_RunsConcurrently(t *testing.T) {
	c := NewChecker()

	block := make(chan struct{})
	for _, name := range []string{"a", "b", "c"} {
		c.Register(ProbeFunc{
			ProbeName: name,
			Fn: func(ctx context.Context) error {
				<-block
				return nil
			},
		})
	}

	done := make(chan Report, 1)
	go func() { done <- c.CheckAll(context.Background()) }()

	// If probes ran sequentially, releasing the gate once per probe would
	// be needed. Closing it releases all three at the same time.
	time.Sleep(10 * time.Millisecond)
	close(block)

	select {
	case report := <-done:
		if report.Status != "healthy" {
			t.Errorf("expected healthy status, got %q", report.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CheckAll did not complete")
	}
}

func TestRun_PanicBecomesUnhealthy(t *testing.T) {
	c, _ := newTestChecker()
	c.Register(ProbeFunc{
		ProbeName: "flaky",
		Fn: func(ctx context.Context) error {
			panic("probe exploded")
		},
	})

	result := c.CheckOne(context.Background(), "flaky")
	if result.Healthy {
		t.Error("expected panicking probe to report unhealthy")
	}

	report := c.CheckAll(context.Background())
	if report.Status != "degraded" {
		t.Errorf("expected degraded status, got %q", report.Status)
	}
}

func TestRun_TimeoutBecomesUnhealthy(t *testing.T) {
	c := NewChecker()
	c.probeTimeout = 20 * time.Millisecond
	c.Register(ProbeFunc{
		ProbeName: "slow",
		Fn: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	})

	result := c.CheckOne(context.Background(), "slow")
	if result.Healthy {
		t.Error("expected timed-out probe to report unhealthy")
	}
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	probe := NewHTTPProbe("upstream", srv.URL+"/health")
	if err := probe.Check(context.Background()); err != nil {
		t.Errorf("expected healthy probe, got %v", err)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	probe = NewHTTPProbe("upstream", bad.URL+"/health")
	if err := probe.Check(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}
