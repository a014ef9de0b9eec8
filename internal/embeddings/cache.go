package embeddings

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedProvider wraps a Provider with an in-memory embedding cache.
// Identical inputs are embedded once per process; this matters because
// agents re-search the same queries constantly.
type CachedProvider struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCachedProvider wraps a provider with a cache of at most maxEntries
// embeddings.
func NewCachedProvider(inner Provider, maxEntries int64) (*CachedProvider, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

// cacheKey namespaces entries by model so switching models never serves
// stale vectors.
func (p *CachedProvider) cacheKey(text string) string {
	return p.inner.Model() + "\x00" + text
}

// EmbedDocuments embeds a batch, serving cached entries and forwarding
// only the misses to the underlying provider.
func (p *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if v, ok := p.cache.Get(p.cacheKey(text)); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := p.inner.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vectors[j]
		p.cache.Set(p.cacheKey(texts[i]), vectors[j], 1)
	}
	return out, nil
}

// EmbedQuery embeds a single query through the cache.
func (p *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	if v, ok := p.cache.Get(p.cacheKey(text)); ok {
		return v.([]float32), nil
	}
	vec, err := p.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(p.cacheKey(text), vec, 1)
	return vec, nil
}

// Dimension returns the underlying provider's dimension.
func (p *CachedProvider) Dimension() int { return p.inner.Dimension() }

// Model returns the underlying provider's model name.
func (p *CachedProvider) Model() string { return p.inner.Model() }

// Health delegates to the underlying provider.
func (p *CachedProvider) Health(ctx context.Context) error { return p.inner.Health(ctx) }

// Close releases the cache and the underlying provider.
func (p *CachedProvider) Close() error {
	p.cache.Close()
	return p.inner.Close()
}

// Ensure CachedProvider implements Provider.
var _ Provider = (*CachedProvider)(nil)
