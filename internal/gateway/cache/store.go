package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lessonloom/gateway/internal/shared/redis"
)

// Store persists cache entries. Implementations must bound their own growth;
// caller-supplied TTLs are applied above this layer, at read time.
type Store interface {
	Get(ctx context.Context, key string) (payload string, createdAt time.Time, found bool, err error)
	Set(ctx context.Context, key, payload string, createdAt time.Time) error
}

type entry struct {
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps entries in Redis, shared across broker instances.
// A server-side max age bounds growth independently of read-time TTLs.
type RedisStore struct {
	client *redis.Client
	maxAge time.Duration
}

// NewRedisStore creates a Redis-backed store. maxAge bounds how long any
// entry survives regardless of read-time TTLs.
func NewRedisStore(client *redis.Client, maxAge time.Duration) *RedisStore {
	return &RedisStore{client: client, maxAge: maxAge}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, time.Time, bool, error) {
	raw, err := s.client.Get(ctx, key)
	if errors.Is(err, redis.ErrNotFound) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return "", time.Time{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return e.Payload, e.CreatedAt, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, payload string, createdAt time.Time) error {
	data, err := json.Marshal(entry{Payload: payload, CreatedAt: createdAt})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return s.client.Set(ctx, key, string(data), s.maxAge)
}

// MemoryStore is a bounded in-process LRU store, used when Redis is not
// configured. Entries beyond maxEntries evict least-recently-used first.
type MemoryStore struct {
	lru *lru.Cache[string, entry]
}

// NewMemoryStore creates an LRU store holding at most maxEntries entries.
func NewMemoryStore(maxEntries int) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	c, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &MemoryStore{lru: c}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, time.Time, bool, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return "", time.Time{}, false, nil
	}
	return e.Payload, e.CreatedAt, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, payload string, createdAt time.Time) error {
	s.lru.Add(key, entry{Payload: payload, CreatedAt: createdAt})
	return nil
}
