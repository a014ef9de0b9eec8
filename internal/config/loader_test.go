package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "recalld")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "recalld_memories", cfg.VectorStore.CollectionName)
	assert.Equal(t, 6334, cfg.VectorStore.Port)
	assert.Equal(t, ModeLocal, cfg.MCP.Mode)
	assert.Equal(t, "default_user", cfg.MCP.UserID)
}

func TestLoadFromFile(t *testing.T) {
	writeConfig(t, `
logging:
  level: debug
vector_store:
  provider: qdrant
  host: qdrant.internal
  port: 7334
embedding:
  model: mxbai-embed-large
  dimensions: 1024
`, 0600)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Host)
	assert.Equal(t, 7334, cfg.VectorStore.Port)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.Model)
	assert.Equal(t, 1024, cfg.Embedding.Dimensions)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	writeConfig(t, "logging:\n  level: debug\n", 0600)
	t.Setenv("RECALLD_LOGGING_LEVEL", "warn")
	t.Setenv("RECALLD_VECTOR_STORE_COLLECTION_NAME", "other_memories")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "other_memories", cfg.VectorStore.CollectionName)
}

func TestLoadFlatEnvKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RECALLD_USER_ID", "alice")
	t.Setenv("RECALLD_MODE", "platform")
	t.Setenv("RECALLD_HOST", "https://api.example.com")
	t.Setenv("RECALLD_API_KEY", "rk-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.MCP.UserID)
	assert.Equal(t, ModePlatform, cfg.MCP.Mode)
	assert.Equal(t, "https://api.example.com", cfg.MCP.Host)
	assert.Equal(t, "rk-secret", cfg.MCP.APIKey.Value())
}

func TestLoadRejectsWorldReadableFile(t *testing.T) {
	writeConfig(t, "logging:\n  level: debug\n", 0644)
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoadRejectsPathOutsideAllowedDirs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	outside := filepath.Join(t.TempDir(), "config.yaml")
	_, err := Load(outside)
	require.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	t.Run("platform mode requires api key", func(t *testing.T) {
		t.Setenv("RECALLD_MODE", "platform")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")
	})

	t.Run("unknown mode rejected", func(t *testing.T) {
		t.Setenv("RECALLD_MODE", "hybrid")
		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("unknown vector store rejected", func(t *testing.T) {
		t.Setenv("RECALLD_VECTOR_STORE_PROVIDER", "pinecone")
		_, err := Load("")
		require.Error(t, err)
	})
}

func TestTransformEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RECALLD_LOGGING_LEVEL", "logging.level"},
		{"RECALLD_VECTOR_STORE_COLLECTION_NAME", "vector_store.collection_name"},
		{"RECALLD_EMBEDDING_BASE_URL", "embedding.base_url"},
		{"RECALLD_MCP_USER_ID", "mcp.user_id"},
		{"RECALLD_USER_ID", "mcp.user_id"},
		{"RECALLD_API_KEY", "mcp.api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, transformEnvKey(tt.in))
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("rk-super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "rk-super-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	empty := Secret("")
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
