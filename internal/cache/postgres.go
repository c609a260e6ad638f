package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/sony/gobreaker"
)

// EmbeddingDimension is the width of the llm_cache embedding column. Exact
// lookups never touch the vector; a zero sentinel is written so the column
// stays non-null and a later semantic-lookup migration can backfill in place.
const EmbeddingDimension = 1536

// PostgresStore persists cache entries in PostgreSQL. Every query runs
// through a circuit breaker so a dead database sheds load fast instead of
// stacking timeouts, with the cache layer turning the rejection into a miss.
type PostgresStore struct {
	db *sql.DB
	cb *gobreaker.CircuitBreaker
}

// NewPostgresStore creates a store over the given connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache-postgres",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("cache backend breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		// A miss is a healthy outcome, only real backend failures count.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrEntryNotFound)
		},
	})

	return &PostgresStore{db: db, cb: cb}
}

// DB exposes the underlying pool for health probing.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	const query = `
SELECT fingerprint, prompt, model, response, prompt_tokens, completion_tokens, cost_usd, created_at
FROM llm_cache
WHERE fingerprint = $1`

	result, err := s.cb.Execute(func() (interface{}, error) {
		entry := &Entry{}
		err := s.db.QueryRowContext(ctx, query, fingerprint).Scan(
			&entry.Fingerprint,
			&entry.Prompt,
			&entry.Model,
			&entry.Response,
			&entry.PromptTokens,
			&entry.CompletionTokens,
			&entry.CostUSD,
			&entry.CreatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("Get: %w", err)
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Entry), nil
}

// Put implements Store. The upsert makes concurrent writers last-write-wins
// and restarts the TTL window on replacement.
func (s *PostgresStore) Put(ctx context.Context, entry *Entry) error {
	const query = `
INSERT INTO llm_cache (fingerprint, prompt, model, response, prompt_tokens, completion_tokens, cost_usd, embedding, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (fingerprint)
DO UPDATE SET
	prompt = EXCLUDED.prompt,
	model = EXCLUDED.model,
	response = EXCLUDED.response,
	prompt_tokens = EXCLUDED.prompt_tokens,
	completion_tokens = EXCLUDED.completion_tokens,
	cost_usd = EXCLUDED.cost_usd,
	embedding = EXCLUDED.embedding,
	created_at = EXCLUDED.created_at`

	_, err := s.cb.Execute(func() (interface{}, error) {
		_, err := s.db.ExecContext(ctx, query,
			entry.Fingerprint,
			entry.Prompt,
			entry.Model,
			entry.Response,
			entry.PromptTokens,
			entry.CompletionTokens,
			entry.CostUSD,
			pgvector.NewVector(make([]float32, EmbeddingDimension)),
			entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("Put: %w", err)
		}
		return nil, nil
	})
	return err
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, fingerprint string) error {
	const query = `DELETE FROM llm_cache WHERE fingerprint = $1`

	_, err := s.cb.Execute(func() (interface{}, error) {
		if _, err := s.db.ExecContext(ctx, query, fingerprint); err != nil {
			return nil, fmt.Errorf("Delete: %w", err)
		}
		return nil, nil
	})
	return err
}

// Purge implements Store.
func (s *PostgresStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM llm_cache WHERE created_at < $1`

	result, err := s.cb.Execute(func() (interface{}, error) {
		res, err := s.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			return nil, fmt.Errorf("Purge: %w", err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("Purge: RowsAffected: %w", err)
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}

	return result.(int64), nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context) error {
	const query = `DELETE FROM llm_cache`

	_, err := s.cb.Execute(func() (interface{}, error) {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return nil, fmt.Errorf("Clear: %w", err)
		}
		return nil, nil
	})
	return err
}

// ClearModel implements Store.
func (s *PostgresStore) ClearModel(ctx context.Context, model string) (int64, error) {
	const query = `DELETE FROM llm_cache WHERE model = $1`

	result, err := s.cb.Execute(func() (interface{}, error) {
		res, err := s.db.ExecContext(ctx, query, model)
		if err != nil {
			return nil, fmt.Errorf("ClearModel: %w", err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("ClearModel: RowsAffected: %w", err)
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}

	return result.(int64), nil
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM llm_cache`

	result, err := s.cb.Execute(func() (interface{}, error) {
		var count int64
		if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, fmt.Errorf("Len: %w", err)
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}

	return result.(int64), nil
}
