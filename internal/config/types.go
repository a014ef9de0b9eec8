// Package config provides configuration loading for recalld.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Secret is a string that redacts itself in logs and serialized output.
// Use Value() to access the actual secret.
type Secret string

// String implements fmt.Stringer. Always returns redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the actual secret value. Use sparingly.
func (s Secret) Value() string {
	return string(s)
}

// IsSet returns true if the secret has a non-empty value.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON implements json.Marshaler. Always returns redacted value.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("[REDACTED]")
}

// MarshalText implements encoding.TextMarshaler. Always returns redacted value.
func (s Secret) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(""), nil
	}
	return []byte("[REDACTED]"), nil
}

// Config is the root recalld configuration.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	Embedding   EmbeddingConfig   `koanf:"embedding"`
	VectorStore VectorStoreConfig `koanf:"vector_store"`
	MCP         MCPConfig         `koanf:"mcp"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is the embedding provider type. Only "ollama" is supported.
	Provider string `koanf:"provider"`
	// Model is the embedding model name.
	Model string `koanf:"model"`
	// BaseURL is the provider endpoint.
	BaseURL string `koanf:"base_url"`
	// Dimensions is the model's output dimension.
	Dimensions int `koanf:"dimensions"`
	// Timeout bounds each embedding request.
	Timeout time.Duration `koanf:"timeout"`
	// CacheSize is the maximum number of cached embeddings.
	CacheSize int64 `koanf:"cache_size"`
}

// VectorStoreConfig configures the vector store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded) or "qdrant" (remote).
	Provider string `koanf:"provider"`
	// CollectionName is the collection all operations target.
	CollectionName string `koanf:"collection_name"`
	// OnDisk requests on-disk vector storage where supported.
	OnDisk bool `koanf:"on_disk"`

	// Path is the storage directory for the embedded backend.
	Path string `koanf:"path"`
	// Compress enables gzip compression for the embedded backend.
	Compress bool `koanf:"compress"`

	// Host and Port locate a remote Qdrant (gRPC port).
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// APIKey authenticates against a secured Qdrant deployment.
	APIKey Secret `koanf:"api_key"`
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`
}

// MCPConfig configures the MCP tool server.
type MCPConfig struct {
	// UserID is the default tenant for tool calls that omit one.
	UserID string `koanf:"user_id"`
	// Mode is "local" (embedded memory) or "platform" (remote API).
	Mode string `koanf:"mode"`
	// Host is the platform API base URL in platform mode.
	Host string `koanf:"host"`
	// APIKey authenticates against the platform API.
	APIKey Secret `koanf:"api_key"`
}

// Mode values for MCPConfig.Mode.
const (
	ModeLocal    = "local"
	ModePlatform = "platform"
)

// applyDefaults fills in defaults for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.CollectionName == "" {
		cfg.VectorStore.CollectionName = "recalld_memories"
	}
	if cfg.VectorStore.Host == "" {
		cfg.VectorStore.Host = "localhost"
	}
	if cfg.VectorStore.Port == 0 {
		cfg.VectorStore.Port = 6334
	}
	if cfg.MCP.UserID == "" {
		cfg.MCP.UserID = "default_user"
	}
	if cfg.MCP.Mode == "" {
		cfg.MCP.Mode = ModeLocal
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "ollama":
	default:
		return fmt.Errorf("invalid embedding provider: %q", c.Embedding.Provider)
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid vector store provider: %q", c.VectorStore.Provider)
	}
	switch c.MCP.Mode {
	case ModeLocal, ModePlatform:
	default:
		return fmt.Errorf("invalid mcp mode: %q (expected %q or %q)", c.MCP.Mode, ModeLocal, ModePlatform)
	}
	if c.MCP.Mode == ModePlatform && !c.MCP.APIKey.IsSet() {
		return fmt.Errorf("mcp.api_key is required in platform mode")
	}
	return nil
}
