package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOllamaTestServer fakes the Ollama embed API: each input maps to a
// fixed 3-dim vector derived from its length.
func newOllamaTestServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			w.WriteHeader(http.StatusOK)
			return
		case "/api/embed":
		default:
			http.NotFound(w, r)
			return
		}
		calls++

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "nomic-embed-text", req.Model)

		resp := ollamaResponse{Embeddings: make([][]float32, len(req.Input))}
		for i, text := range req.Input {
			resp.Embeddings[i] = []float32{float32(len(text)), 1, 0}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestProvider(t *testing.T, baseURL string) *OllamaProvider {
	t.Helper()
	p, err := NewOllamaProvider(Config{BaseURL: baseURL, Dimensions: 3})
	require.NoError(t, err)
	return p
}

func TestOllamaEmbedDocuments(t *testing.T) {
	srv, _ := newOllamaTestServer(t)
	p := newTestProvider(t, srv.URL)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"ab", "cde"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{2, 1, 0}, vectors[0])
	assert.Equal(t, []float32{3, 1, 0}, vectors[1])
}

func TestOllamaEmbedQuery(t *testing.T) {
	srv, _ := newOllamaTestServer(t)
	p := newTestProvider(t, srv.URL)

	vec, err := p.EmbedQuery(context.Background(), "abcd")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1, 0}, vec)
}

func TestOllamaEmptyInput(t *testing.T) {
	srv, calls := newOllamaTestServer(t)
	p := newTestProvider(t, srv.URL)

	_, err := p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Zero(t, *calls, "validation happens before any I/O")
}

func TestOllamaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestOllamaUnreachable(t *testing.T) {
	p := newTestProvider(t, "http://127.0.0.1:1")
	_, err := p.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	err = p.Health(context.Background())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestOllamaDimensionCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Embeddings: [][]float32{{1, 2}}}) //nolint:errcheck
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.EmbedQuery(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dims")
}

func TestOllamaHealth(t *testing.T) {
	srv, _ := newOllamaTestServer(t)
	p := newTestProvider(t, srv.URL)
	assert.NoError(t, p.Health(context.Background()))
}
