// Package embeddings provides embedding generation for memory content.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for embedding operations.
var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embedding configuration")

	// ErrProviderUnavailable indicates the embedding service is
	// unreachable or returned a server error.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrEmptyInput is returned when asked to embed nothing.
	ErrEmptyInput = errors.New("empty embedding input")
)

// Provider generates embeddings for documents and queries.
type Provider interface {
	// EmbedDocuments embeds a batch of documents for storage.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Model returns the model name.
	Model() string

	// Health verifies the provider is reachable.
	Health(ctx context.Context) error

	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is the provider type. Only "ollama" is supported.
	Provider string

	// Model is the embedding model name.
	// Default: "nomic-embed-text"
	Model string

	// BaseURL is the provider endpoint.
	// Default: "http://localhost:11434"
	BaseURL string

	// Dimensions is the embedding dimension of the model.
	// Default: 768 (nomic-embed-text)
	Dimensions int

	// Timeout bounds each embedding HTTP request.
	// Default: 30 seconds
	Timeout time.Duration

	// CacheSize is the maximum number of cached embeddings.
	// 0 uses the default; negative disables caching.
	// Default: 10000
	CacheSize int64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.Model == "" {
		c.Model = "nomic-embed-text"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Dimensions == 0 {
		c.Dimensions = 768
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CacheSize == 0 {
		c.CacheSize = 10000
	}
}

// NewProvider creates an embedding provider based on the configuration.
// The provider is wrapped in an embedding cache unless caching is
// disabled.
func NewProvider(cfg Config) (Provider, error) {
	cfg.ApplyDefaults()

	var provider Provider
	switch cfg.Provider {
	case "ollama":
		p, err := NewOllamaProvider(cfg)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}

	if cfg.CacheSize < 0 {
		return provider, nil
	}
	return NewCachedProvider(provider, cfg.CacheSize)
}
