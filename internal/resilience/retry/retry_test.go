package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient failure")

func transientOnly(err error) bool {
	return errors.Is(err, errTransient)
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		JitterFraction: 0.1,
		Retryable:      transientOnly,
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	attempts := 0
	result, err := Do(context.Background(), fastConfig(), func(ctx context.Context) (string, error) {
		attempts++
		return "ok", nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != "ok" {
		t.Errorf("expected %q, got %q", "ok", result)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	result, err := Do(context.Background(), fastConfig(), func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errTransient
		}
		return 42, nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	attempts := 0
	_, err := Do(context.Background(), fastConfig(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, fatal
	})

	if !errors.Is(err, fatal) {
		t.Errorf("expected original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for non-retryable error, got %d", attempts)
	}
	if _, exhausted := IsExhausted(err); exhausted {
		t.Error("non-retryable error must not be reported as exhausted")
	}
}

func TestDo_ExhaustedCarriesAttemptCount(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), fastConfig(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, errTransient
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts (1 initial + 3 retries), got %d", attempts)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("expected wrapped last error, got %v", err)
	}

	count, ok := IsExhausted(err)
	if !ok {
		t.Fatal("expected exhausted error")
	}
	if count != 4 {
		t.Errorf("expected attempt count 4, got %d", count)
	}
}

func TestDo_NilPredicateNeverRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.Retryable = nil

	attempts := 0
	_, err := Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errTransient
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt with nil predicate, got %d", attempts)
	}
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	cfg := Config{
		MaxRetries:     5,
		BaseDelay:      time.Hour, // would block forever without cancellation
		MaxDelay:       time.Hour,
		JitterFraction: 0,
		Retryable:      transientOnly,
	}

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, func(ctx context.Context) (int, error) {
			attempts++
			return 0, errTransient
		})
		done <- err
	}()

	// Let the first attempt fail and the executor enter its delay.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not abort after cancellation")
	}

	if attempts != 1 {
		t.Errorf("expected no further attempts after cancellation, got %d", attempts)
	}
}

func TestDelay_ExponentialGrowth(t *testing.T) {
	base := time.Second
	max := 16 * time.Second

	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{attempt: 0, min: time.Second, max: 1100 * time.Millisecond},
		{attempt: 1, min: 2 * time.Second, max: 2200 * time.Millisecond},
		{attempt: 3, min: 8 * time.Second, max: 8800 * time.Millisecond},
		// 2^5 = 32s exceeds the 16s cap
		{attempt: 5, min: 16 * time.Second, max: 17600 * time.Millisecond},
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			got := Delay(tt.attempt, base, max, 0.1)
			if got < tt.min || got >= tt.max {
				t.Errorf("Delay(attempt=%d) = %v, want [%v, %v)", tt.attempt, got, tt.min, tt.max)
			}
		}
	}
}

func TestDelay_CappedAtMax(t *testing.T) {
	max := 16 * time.Second
	ceiling := time.Duration(float64(max) * 1.1)

	for attempt := 0; attempt < 64; attempt++ {
		got := Delay(attempt, time.Second, max, 0.1)
		if got > ceiling {
			t.Errorf("Delay(attempt=%d) = %v exceeds ceiling %v", attempt, got, ceiling)
		}
	}
}

func TestDelay_ZeroJitterIsDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		if got := Delay(2, time.Second, 16*time.Second, 0); got != 4*time.Second {
			t.Errorf("Delay(attempt=2, jitter=0) = %v, want 4s", got)
		}
	}
}

func TestDelay_JitterVaries(t *testing.T) {
	seen := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		seen[Delay(0, time.Second, 16*time.Second, 0.5)] = true
	}
	if len(seen) < 2 {
		t.Error("expected jitter to produce varied delays")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.BaseDelay != time.Second {
		t.Errorf("expected BaseDelay=1s, got %v", cfg.BaseDelay)
	}
	if cfg.MaxDelay != 16*time.Second {
		t.Errorf("expected MaxDelay=16s, got %v", cfg.MaxDelay)
	}
	if cfg.JitterFraction != 0.1 {
		t.Errorf("expected JitterFraction=0.1, got %f", cfg.JitterFraction)
	}
}

func TestStoreConfig(t *testing.T) {
	cfg := StoreConfig()

	if cfg.MaxRetries != 2 {
		t.Errorf("expected MaxRetries=2, got %d", cfg.MaxRetries)
	}
	if cfg.BaseDelay != 100*time.Millisecond {
		t.Errorf("expected BaseDelay=100ms, got %v", cfg.BaseDelay)
	}
}
