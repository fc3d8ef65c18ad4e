// Package cache keeps completed answers for routes whose output depends only
// on their request body.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/abdhe/polkadot-devkit/pkg/metrics"
)

// Entry is one cached answer.
type Entry struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the backing key-value store. *RedisCache satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
}

// ResponseCache fronts a Store. Store failures are logged and treated as
// misses so a broken cache never fails a request.
type ResponseCache struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewResponseCache creates a ResponseCache over store.
func NewResponseCache(store Store, logger *zap.Logger) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{
		store:  store,
		logger: logger.With(zap.String("component", "response_cache")),
		now:    time.Now,
	}
}

// Key derives a deterministic cache key from a route and its request payload.
func Key(route string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("devkit_cache:%s:%x", route, hash[:16]), nil
}

// Lookup returns the cached entry for key, if any.
func (c *ResponseCache) Lookup(ctx context.Context, key string) (Entry, bool) {
	e, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		found = false
	}
	metrics.RecordCacheLookup(found)
	return e, found
}

// Store saves text under key.
func (c *ResponseCache) Store(ctx context.Context, key, text string) {
	if err := c.store.Set(ctx, key, Entry{Text: text, CreatedAt: c.now()}); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Through serves key from the cache when present. Otherwise it streams from
// seq and stores the full answer once seq completes without error. A
// consumer that stops early leaves nothing behind.
func (c *ResponseCache) Through(ctx context.Context, key string, seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if e, ok := c.Lookup(ctx, key); ok && e.Text != "" {
			c.logger.Debug("cache hit", zap.String("key", key))
			yield(e.Text, nil)
			return
		}

		var b strings.Builder
		for frag, err := range seq {
			if err != nil {
				yield("", err)
				return
			}
			b.WriteString(frag)
			if !yield(frag, nil) {
				return
			}
		}
		if b.Len() > 0 {
			c.Store(context.WithoutCancel(ctx), key, b.String())
		}
	}
}
