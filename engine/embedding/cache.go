package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/utakatik/utakatik/pkg/logger"
)

// RemoteCache is a shared vector cache, e.g. Redis.
type RemoteCache interface {
	Get(ctx context.Context, key string) (Vector, bool, error)
	Set(ctx context.Context, key string, v Vector) error
}

// Cached memoizes an Embedder in an in-process LRU with an optional shared tier.
// Keys include the model id since vectors from different models are not comparable.
type Cached struct {
	next   Embedder
	local  *lru.Cache[string, Vector]
	remote RemoteCache
}

// NewCached wraps next. A size of zero disables the local tier; remote may be nil.
func NewCached(next Embedder, size int, remote RemoteCache) (*Cached, error) {
	if next == nil {
		return nil, errors.New("cached embedder requires an underlying embedder")
	}
	c := &Cached{next: next, remote: remote}
	if size > 0 {
		local, err := lru.New[string, Vector](size)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: init lru: %w", err)
		}
		c.local = local
	}
	return c, nil
}

func (c *Cached) Dimension() int {
	return c.next.Dimension()
}

func (c *Cached) ModelID() string {
	return c.next.ModelID()
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	key := CacheKey(c.next.ModelID(), text)
	if v, ok := c.lookup(ctx, key); ok {
		RecordCacheResult(ctx, true)
		return v, nil
	}
	RecordCacheResult(ctx, false)
	start := time.Now()
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	RecordEmbedLatency(ctx, c.next.ModelID(), time.Since(start))
	c.store(ctx, key, v)
	return v.Clone(), nil
}

func (c *Cached) lookup(ctx context.Context, key string) (Vector, bool) {
	if c.local != nil {
		if v, ok := c.local.Get(key); ok {
			return v.Clone(), true
		}
	}
	if c.remote == nil {
		return nil, false
	}
	v, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).Warn("embedding cache read failed", "error", err)
		return nil, false
	}
	if !ok || len(v) != c.next.Dimension() {
		return nil, false
	}
	if c.local != nil {
		c.local.Add(key, v.Clone())
	}
	return v, true
}

func (c *Cached) store(ctx context.Context, key string, v Vector) {
	if c.local != nil {
		c.local.Add(key, v.Clone())
	}
	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, key, v); err != nil {
		logger.FromContext(ctx).Warn("embedding cache write failed", "error", err)
	}
}

// CacheKey derives a stable key from the model id and text.
func CacheKey(modelID, text string) string {
	sum := sha256.Sum256([]byte(modelID + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
