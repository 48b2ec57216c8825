package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/poiesic/groundrag/core"
)

// CachedEmbedder memoizes embeddings by exact text in an expiring LRU.
// Repeated queries skip the provider round trip.
type CachedEmbedder struct {
	next  Embedder
	cache *expirable.LRU[string, []float32]
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps next with an LRU of size entries, each kept for ttl.
func NewCachedEmbedder(next Embedder, size int, ttl time.Duration) (*CachedEmbedder, error) {
	if next == nil {
		return nil, ErrEmbedderRequired
	}
	if size <= 0 || ttl <= 0 {
		return nil, fmt.Errorf("%w: cache size and ttl must be positive", core.ErrConfig)
	}
	return &CachedEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}, nil
}

// EmbedText returns a cached vector or embeds and caches text.
func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.cache.Get(text); ok {
		return cloneEmbedding(cached), nil
	}
	v, err := c.next.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, cloneEmbedding(v))
	return v, nil
}

// EmbedTexts embeds only the texts missing from the cache, in one batch.
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var positions []int
	for i, text := range texts {
		if cached, ok := c.cache.Get(text); ok {
			out[i] = cloneEmbedding(cached)
			continue
		}
		missing = append(missing, text)
		positions = append(positions, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedTexts(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmptyEmbedding, len(vectors), len(missing))
	}
	for n, pos := range positions {
		out[pos] = vectors[n]
		c.cache.Add(missing[n], cloneEmbedding(vectors[n]))
	}
	return out, nil
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Purge drops every cached vector.
func (c *CachedEmbedder) Purge() {
	c.cache.Purge()
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
