package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider is a deterministic in-memory provider that records
// how many texts it was asked to embed.
type countingProvider struct {
	embedded int
}

func (p *countingProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		p.embedded++
		out[i] = []float32{float32(len(text)), 0, 0}
	}
	return out, nil
}

func (p *countingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *countingProvider) Dimension() int                   { return 3 }
func (p *countingProvider) Model() string                    { return "counting" }
func (p *countingProvider) Health(context.Context) error     { return nil }
func (p *countingProvider) Close() error                     { return nil }

func TestCachedProviderQuery(t *testing.T) {
	inner := &countingProvider{}
	cached, err := NewCachedProvider(inner, 100)
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.embedded)

	cached.cache.Wait()

	second, err := cached.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.embedded, "repeated query served from cache")
}

func TestCachedProviderPartialBatch(t *testing.T) {
	inner := &countingProvider{}
	cached, err := NewCachedProvider(inner, 100)
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	_, err = cached.EmbedQuery(ctx, "a")
	require.NoError(t, err)
	cached.cache.Wait()

	vectors, err := cached.EmbedDocuments(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0, 0}, vectors[0])
	assert.Equal(t, []float32{2, 0, 0}, vectors[1])
	assert.Equal(t, 2, inner.embedded, "only the miss reached the provider")
}

func TestCachedProviderDelegates(t *testing.T) {
	inner := &countingProvider{}
	cached, err := NewCachedProvider(inner, 100)
	require.NoError(t, err)
	defer cached.Close()

	assert.Equal(t, 3, cached.Dimension())
	assert.Equal(t, "counting", cached.Model())
	assert.NoError(t, cached.Health(context.Background()))

	_, err = cached.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNewProviderConfig(t *testing.T) {
	_, err := NewProvider(Config{Provider: "openai"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
