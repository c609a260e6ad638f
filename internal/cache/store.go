package cache

import (
	"context"
	"errors"
	"time"
)

// ErrEntryNotFound is returned by Store.Get when no entry exists for the
// fingerprint.
var ErrEntryNotFound = errors.New("cache entry not found")

// Entry is one cached completion.
type Entry struct {
	// Fingerprint is the content-derived key, a 64-character hex string.
	Fingerprint string `json:"fingerprint"`

	// Prompt is the original prompt, retained for inspection endpoints.
	Prompt string `json:"prompt"`

	// Model is the model that produced the response. A lookup whose model
	// differs from the stored one is treated as a miss.
	Model string `json:"model"`

	// Response is the completion text.
	Response string `json:"response"`

	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`

	// CreatedAt is the write time used for TTL expiry. A later write for
	// the same fingerprint replaces the entry and restarts the TTL.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence backend behind the cache. Implementations must
// make Put a last-write-wins upsert.
type Store interface {
	// Get returns the entry for the fingerprint, or ErrEntryNotFound.
	Get(ctx context.Context, fingerprint string) (*Entry, error)

	// Put inserts or replaces the entry keyed by its fingerprint.
	Put(ctx context.Context, entry *Entry) error

	// Delete removes the entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, fingerprint string) error

	// Purge removes entries created before the cutoff and reports how many
	// were removed.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// ClearModel removes every entry cached for the model and reports how
	// many were removed.
	ClearModel(ctx context.Context, model string) (int64, error)

	// Len reports the number of stored entries.
	Len(ctx context.Context) (int64, error)
}
