package embedding

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/coverbot/policyqa/types"
)

// CachedProvider wraps a Provider with an in-process cache keyed by
// normalized text. Concurrent requests for the same text are collapsed into
// one upstream call via singleflight; a key's value is stored whole, so no
// reader ever observes a half-written entry.
type CachedProvider struct {
	inner  Provider
	group  singleflight.Group
	mu     sync.RWMutex
	cache  map[string][]float64
	logger *zap.Logger
}

// NewCachedProvider wraps inner with an embedding cache.
func NewCachedProvider(inner Provider, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		inner:  inner,
		cache:  make(map[string][]float64),
		logger: logger.With(zap.String("component", "embedding_cache")),
	}
}

// Name returns the wrapped provider name.
func (c *CachedProvider) Name() string { return c.inner.Name() }

// Dimensions returns the wrapped provider dimensionality.
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

// EmbedQuery embeds a query, serving repeats from cache.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	key := types.NormalizedText(text)

	c.mu.RLock()
	vec, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return vec, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Double check: an earlier flight may have populated the key.
		c.mu.RLock()
		cached, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		vec, err := c.inner.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = vec
		c.mu.Unlock()
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

// EmbedDocuments embeds documents, consulting the cache per text.
func (c *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	missing := make([]int, 0, len(texts))

	c.mu.RLock()
	for i, t := range texts {
		if vec, ok := c.cache[types.NormalizedText(t)]; ok {
			out[i] = vec
		} else {
			missing = append(missing, i)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := c.inner.EmbedDocuments(ctx, batch)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for j, i := range missing {
		out[i] = vecs[j]
		c.cache[types.NormalizedText(texts[i])] = vecs[j]
	}
	c.mu.Unlock()

	return out, nil
}

// Len returns the number of cached embeddings.
func (c *CachedProvider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
