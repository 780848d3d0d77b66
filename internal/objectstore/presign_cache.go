package objectstore

import (
	"context"
	"io"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lsst-live/rubintv/internal/metrics"
)

// PresignCache fronts a Client's PresignGet with a bounded, TTL-aware
// cache, keyed on the object key (each PresignCache wraps a single
// bucket's Client). Grounded on the teacher's
// EventDedup (hashicorp/golang-lru wrapped with an explicit expiry
// check, since golang-lru/v2's plain LRU carries no built-in TTL).
type PresignCache struct {
	inner Client
	ttl   time.Duration

	mu    sync.Mutex
	cache *lru.Cache[string, presignEntry]
}

type presignEntry struct {
	url       string
	expiresAt time.Time
}

// NewPresignCache wraps inner with an LRU of the given size. Each
// presigned URL is cached for 90% of the ttl passed to PresignGet for
// it, so the cache never hands a client a link that's already expired.
func NewPresignCache(inner Client, size int, ttl time.Duration) (*PresignCache, error) {
	cache, err := lru.New[string, presignEntry](size)
	if err != nil {
		return nil, err
	}
	return &PresignCache{inner: inner, ttl: ttl, cache: cache}, nil
}

// List delegates directly; listings are never cached since they drive
// change detection.
func (p *PresignCache) List(ctx context.Context, prefix string) ([]Object, error) {
	return p.inner.List(ctx, prefix)
}

// GetJSON delegates directly.
func (p *PresignCache) GetJSON(ctx context.Context, key string, v any) error {
	return p.inner.GetJSON(ctx, key, v)
}

// GetRaw delegates directly; raw byte streams are never cached.
func (p *PresignCache) GetRaw(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return p.inner.GetRaw(ctx, key)
}

// PresignGet returns a cached URL if one is still fresh, otherwise
// presigns and caches the result.
func (p *PresignCache) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	p.mu.Lock()
	if entry, ok := p.cache.Get(key); ok && time.Now().Before(entry.expiresAt) {
		p.mu.Unlock()
		metrics.PresignCacheHitsTotal.Inc()
		return entry.url, nil
	}
	p.mu.Unlock()

	metrics.PresignCacheMissesTotal.Inc()
	url, err := p.inner.PresignGet(ctx, key, ttl)
	if err != nil {
		return "", err
	}

	margin := ttl / 10
	p.mu.Lock()
	p.cache.Add(key, presignEntry{url: url, expiresAt: time.Now().Add(ttl - margin)})
	p.mu.Unlock()

	return url, nil
}
