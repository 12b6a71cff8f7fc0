// Package cache is the content-addressable response cache. Entries are
// keyed by a stable hash over the request and its decision, so identical
// prompts decided into different tiers never collide. Freshness is judged
// at read time against the caller-supplied TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/lessonloom/gateway/internal/gateway/governor"
	"github.com/lessonloom/gateway/internal/gateway/request"
)

type Cache struct {
	store  Store
	logger *slog.Logger
}

// New creates a cache over the given store.
func New(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger}
}

// Key computes the cache key for a (request, decision) pair. The key is a
// SHA-256 over canonical JSON of both; if serialization fails we degrade to
// a weaker deterministic hash over a best-effort rendering rather than
// failing the request.
func (c *Cache) Key(req request.Request, dec governor.Decision) string {
	envelope := struct {
		Kind     request.Kind      `json:"kind"`
		Request  request.Request   `json:"request"`
		Decision governor.Decision `json:"decision"`
	}{
		Kind:     req.Kind(),
		Request:  req,
		Decision: dec,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		c.logger.Warn("cache key serialization failed, using weak hash", "error", err)
		weak := xxh3.HashString(fmt.Sprintf("%v|%#v|%#v", req.Kind(), req, dec))
		return fmt.Sprintf("gen:weak:%016x", weak)
	}

	sum := sha256.Sum256(data)
	return "gen:" + hex.EncodeToString(sum[:])
}

// Get returns the cached payload for key if the entry exists and is younger
// than ttl. A missing or stale entry is a miss, not an error; store errors
// are surfaced so the caller can decide (the broker treats them as misses).
func (c *Cache) Get(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	payload, createdAt, found, err := c.store.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	if !found {
		return "", false, nil
	}
	if ttl > 0 && time.Since(createdAt) > ttl {
		return "", false, nil
	}
	return payload, true, nil
}

// Set upserts the payload under key. Concurrent writers racing on the same
// key are fine: the payload is deterministic for the key, so last write
// wins with identical content.
func (c *Cache) Set(ctx context.Context, key, payload string) error {
	if err := c.store.Set(ctx, key, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
