package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// HTTPProbe checks a dependency over HTTP, typically the upstream proxy's
// own health endpoint.
type HTTPProbe struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPProbe creates a probe that GETs the URL and requires a 2xx status.
// The request timeout comes from the checker, so the client carries none.
func NewHTTPProbe(name, url string) *HTTPProbe {
	return &HTTPProbe{
		name:   name,
		url:    url,
		client: &http.Client{},
	}
}

// Name implements Probe.
func (p *HTTPProbe) Name() string { return p.name }

// Check implements Probe.
func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// NewPostgresProbe creates a probe that pings the database.
func NewPostgresProbe(name string, db *sql.DB) Probe {
	return ProbeFunc{
		ProbeName: name,
		Fn: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			return nil
		},
	}
}

// NewRedisProbe creates a probe that pings the Redis server.
func NewRedisProbe(name string, client *redis.Client) Probe {
	return ProbeFunc{
		ProbeName: name,
		Fn: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			return nil
		},
	}
}
