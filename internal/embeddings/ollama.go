package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// OllamaProvider generates embeddings via Ollama's /api/embed endpoint.
type OllamaProvider struct {
	baseURL    string
	model      string
	dims       int
	httpClient *http.Client

	requests  atomic.Int64
	latencyUS atomic.Int64
}

// ollamaRequest is the request payload for the Ollama embed API.
// Input accepts either a string or a list of strings; we always send a
// list so documents and queries share one code path.
type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaResponse is the response from the Ollama embed API.
type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaProvider creates an Ollama embedding provider.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	cfg.ApplyDefaults()
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// EmbedDocuments embeds a batch of documents in a single request.
func (p *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	return p.embed(ctx, texts)
}

// EmbedQuery embeds a single search query.
func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vectors, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *OllamaProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()

	body, err := json.Marshal(ollamaRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrProviderUnavailable, len(result.Embeddings), len(texts))
	}
	for _, vec := range result.Embeddings {
		if len(vec) != p.dims {
			return nil, fmt.Errorf("model %s returned %d dims, configured for %d", p.model, len(vec), p.dims)
		}
	}

	p.requests.Add(int64(len(texts)))
	p.latencyUS.Add(time.Since(start).Microseconds())
	return result.Embeddings, nil
}

// Dimension returns the configured embedding dimension.
func (p *OllamaProvider) Dimension() int { return p.dims }

// Model returns the model name.
func (p *OllamaProvider) Model() string { return p.model }

// Health checks whether the Ollama server is reachable.
func (p *OllamaProvider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

// Stats reports cumulative request count and mean latency.
func (p *OllamaProvider) Stats() (requests int64, meanLatency time.Duration) {
	requests = p.requests.Load()
	if requests > 0 {
		meanLatency = time.Duration(p.latencyUS.Load()/requests) * time.Microsecond
	}
	return requests, meanLatency
}

// Close is a no-op; the provider holds no persistent connections.
func (p *OllamaProvider) Close() error { return nil }

// Ensure OllamaProvider implements Provider.
var _ Provider = (*OllamaProvider)(nil)
