package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultTTL is the entry lifetime applied when none is configured.
const DefaultTTL = time.Hour

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int64   `json:"entries"`
	TTL     string  `json:"ttl"`
}

// ContentCache caches completions by content fingerprint with lazy TTL
// expiry. A backend failure on read is logged and counted as a miss so the
// request proceeds to the upstream; a failure on write is logged and
// swallowed.
type ContentCache struct {
	store Store
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

// NewContentCache creates a cache over the given store. A non-positive ttl
// falls back to DefaultTTL.
func NewContentCache(store Store, ttl time.Duration) *ContentCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ContentCache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get looks up the cached completion for the request. The boolean reports a
// hit; any backend failure degrades to a miss. Expired entries are purged on
// read before reporting the miss.
func (c *ContentCache) Get(ctx context.Context, prompt, model string, params map[string]any) (*Entry, bool) {
	fp := Fingerprint(prompt, model, params)

	entry, err := c.store.Get(ctx, fp)
	if err != nil {
		if !errors.Is(err, ErrEntryNotFound) {
			slog.Warn("cache read failed, treating as miss",
				slog.String("fingerprint", fp),
				slog.Any("error", err))
		}
		c.misses.Add(1)
		return nil, false
	}

	if c.now().Sub(entry.CreatedAt) >= c.ttl {
		if err := c.store.Delete(ctx, fp); err != nil {
			slog.Warn("failed to purge expired cache entry",
				slog.String("fingerprint", fp),
				slog.Any("error", err))
		}
		c.misses.Add(1)
		return nil, false
	}

	// The fingerprint already covers the model, but a stored entry from an
	// older key scheme must never serve a different model.
	if entry.Model != model {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry, true
}

// Set stores the completion under its content fingerprint, replacing any
// previous entry and restarting its TTL. Backend failures are logged and
// swallowed: caching is best effort and must not fail the request.
func (c *ContentCache) Set(ctx context.Context, prompt, model string, params map[string]any, entry *Entry) {
	entry.Fingerprint = Fingerprint(prompt, model, params)
	entry.Prompt = prompt
	entry.Model = model
	entry.CreatedAt = c.now()

	if err := c.store.Put(ctx, entry); err != nil {
		slog.Warn("cache write failed, response not cached",
			slog.String("fingerprint", entry.Fingerprint),
			slog.Any("error", err))
	}
}

// Clear removes every cached entry. Unlike reads and writes, an explicit
// clear reports backend failures to the operator.
func (c *ContentCache) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	slog.Info("cache cleared")
	return nil
}

// ClearModel removes every entry cached for one model, reporting how many
// were removed. Like Clear, backend failures surface to the operator.
func (c *ContentCache) ClearModel(ctx context.Context, model string) (int64, error) {
	removed, err := c.store.ClearModel(ctx, model)
	if err != nil {
		return removed, err
	}
	slog.Info("cache cleared for model",
		slog.String("model", model),
		slog.Int64("removed", removed))
	return removed, nil
}

// Purge removes entries whose TTL has elapsed, for use by the periodic
// sweeper alongside lazy purge-on-read.
func (c *ContentCache) Purge(ctx context.Context) (int64, error) {
	return c.store.Purge(ctx, c.now().Add(-c.ttl))
}

// Stats returns a snapshot of the cache counters. The entry count is read
// from the backend and reported as -1 when unavailable.
func (c *ContentCache) Stats(ctx context.Context) Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	entries, err := c.store.Len(ctx)
	if err != nil {
		slog.Warn("failed to count cache entries", slog.Any("error", err))
		entries = -1
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
		Entries: entries,
		TTL:     c.ttl.String(),
	}
}
