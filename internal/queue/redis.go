package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig holds connection settings for a Redis or Valkey server.
type RedisConfig struct {
	URL             string
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	DialTimeout     time.Duration
}

// DefaultRedisConfig mirrors the retry policy the web tier uses: three
// attempts with backoff between 50ms and 2s.
func DefaultRedisConfig(url string) RedisConfig {
	return RedisConfig{
		URL:             url,
		MaxRetries:      3,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 2 * time.Second,
		DialTimeout:     5 * time.Second,
	}
}

// RedisStore implements Store on top of go-redis. Compound operations run as
// Lua scripts so they execute atomically on the server.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to the server described by cfg and verifies it with
// a PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse queue URL: %w", err)
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.MinRetryBackoff = cfg.MinRetryBackoff
	opts.MaxRetryBackoff = cfg.MaxRetryBackoff
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping queue store: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Push(ctx context.Context, key string, payload []byte) error {
	if err := s.client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PopN(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidCount
	}
	res, err := popNScript.Run(ctx, s.client, []string{key}, n).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from %s: %w", key, err)
	}
	out := make([][]byte, len(res))
	for i, item := range res {
		out[i] = []byte(item)
	}
	return out, nil
}

func (s *RedisStore) UpsertIfNewer(ctx context.Context, indexKey, dataKey, member string, score int64, payload []byte) (bool, error) {
	written, err := upsertIfNewerScript.Run(ctx, s.client,
		[]string{indexKey, dataKey},
		member, score, payload,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to upsert %s: %w", member, err)
	}
	return written == 1, nil
}

func (s *RedisStore) PopSorted(ctx context.Context, indexKey, dataKey string, n int) ([]SortedEntry, error) {
	if n <= 0 {
		return nil, ErrInvalidCount
	}
	res, err := popSortedScript.Run(ctx, s.client, []string{indexKey, dataKey}, n).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop sorted batch from %s: %w", indexKey, err)
	}
	if len(res)%3 != 0 {
		return nil, fmt.Errorf("unexpected sorted batch reply length %d", len(res))
	}

	entries := make([]SortedEntry, 0, len(res)/3)
	for i := 0; i < len(res); i += 3 {
		score, err := strconv.ParseFloat(res[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid score %q for %s: %w", res[i+1], res[i], err)
		}
		entries = append(entries, SortedEntry{
			Member:  res[i],
			Score:   int64(score),
			Payload: []byte(res[i+2]),
		})
	}
	return entries, nil
}

func (s *RedisStore) HashSet(ctx context.Context, key, field string, payload []byte) error {
	if err := s.client.HSet(ctx, key, field, payload).Err(); err != nil {
		return fmt.Errorf("failed to set %s in %s: %w", field, key, err)
	}
	return nil
}

func (s *RedisStore) ScanAndDelete(ctx context.Context, key string, count int) ([]HashEntry, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	res, err := scanAndDeleteScript.Run(ctx, s.client, []string{key}, count).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan and delete %s: %w", key, err)
	}

	entries := make([]HashEntry, 0, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		entries = append(entries, HashEntry{Field: res[i], Payload: []byte(res[i+1])})
	}
	return entries, nil
}

func (s *RedisStore) Len(ctx context.Context, key string) (int64, error) {
	kind, err := s.client.Type(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read type of %s: %w", key, err)
	}

	var cmd *redis.IntCmd
	switch kind {
	case "list":
		cmd = s.client.LLen(ctx, key)
	case "zset":
		cmd = s.client.ZCard(ctx, key)
	case "hash":
		cmd = s.client.HLen(ctx, key)
	case "none":
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported type %q at %s", kind, key)
	}
	return cmd.Result()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
