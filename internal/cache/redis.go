package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces cache entries inside a shared Redis instance.
const redisKeyPrefix = "llmcache:"

// RedisStore persists cache entries in Redis as JSON values. Entries carry a
// Redis-side expiration matching the cache TTL, so Purge has nothing to do
// and lazy purge-on-read only covers clock skew between writers.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store over the given client. The ttl bounds how
// long Redis keeps an entry and should match the cache TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Client exposes the underlying client for health probing.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func redisKey(fingerprint string) string {
	return redisKeyPrefix + fingerprint
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	data, err := s.client.Get(ctx, redisKey(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	entry := &Entry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("Get: unmarshal: %w", err)
	}
	return entry, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("Put: marshal: %w", err)
	}

	if err := s.client.Set(ctx, redisKey(entry.Fingerprint), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, redisKey(fingerprint)).Err(); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Purge implements Store. Redis expires entries itself, so there is nothing
// to sweep.
func (s *RedisStore) Purge(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// Clear implements Store. Keys are removed in batches via SCAN to avoid
// blocking Redis on a large keyspace.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()

	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("Clear: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("Clear: scan: %w", err)
	}

	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("Clear: %w", err)
		}
	}
	return nil
}

// ClearModel implements Store. Entries carry the model only inside their
// JSON value, so each key is fetched and inspected.
func (s *RedisStore) ClearModel(ctx context.Context, model string) (int64, error) {
	var removed int64
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return removed, fmt.Errorf("ClearModel: %w", err)
		}

		entry := &Entry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return removed, fmt.Errorf("ClearModel: unmarshal: %w", err)
		}
		if entry.Model != model {
			continue
		}

		if err := s.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("ClearModel: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("ClearModel: scan: %w", err)
	}
	return removed, nil
}

// Len implements Store.
func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	var count int64
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("Len: scan: %w", err)
	}
	return count, nil
}
