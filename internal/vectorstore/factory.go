package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider names for Config.Provider.
const (
	ProviderChromem = "chromem"
	ProviderQdrant  = "qdrant"
)

// Config selects and configures a vector store backend. The provider
// variant is resolved once here, at construction time; no component
// inspects "which fields are set" at call time.
type Config struct {
	// Provider is "chromem" (embedded, default) or "qdrant" (remote).
	Provider string

	// CollectionName is the collection all operations target.
	// Default: "recalld_memories"
	CollectionName string

	// EmbeddingDims is the collection's vector dimension.
	// Must match the embedding provider's output dimension.
	// Default: 768 (nomic-embed-text)
	EmbeddingDims int

	// OnDisk requests on-disk vector storage where the backend
	// supports it.
	OnDisk bool

	// Chromem configures the embedded backend.
	Chromem ChromemConfig

	// Qdrant configures the remote backend.
	Qdrant QdrantConfig
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderChromem
	}
	if c.CollectionName == "" {
		c.CollectionName = "recalld_memories"
	}
	if c.EmbeddingDims == 0 {
		c.EmbeddingDims = 768
	}
	c.Chromem.ApplyDefaults()
	c.Qdrant.ApplyDefaults()
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.EmbeddingDims <= 0 {
		return fmt.Errorf("%w: embedding dims must be positive", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(c.CollectionName); err != nil {
		return err
	}
	switch c.Provider {
	case ProviderChromem, ProviderQdrant:
		return nil
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
}

// New resolves the configured provider into a concrete Store.
func New(cfg Config, logger *zap.Logger) (Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case ProviderChromem:
		return NewChromemStore(cfg, logger)
	case ProviderQdrant:
		return NewQdrantStore(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
