// Package remote is the managed-platform client: the same memory
// operation surface as the embedded facade, spoken over HTTPS to a
// hosted API instead of local collaborators.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/normalize"
	"github.com/fyrsmithlabs/recalld/pkg/memory"
)

// DefaultHost is the hosted platform endpoint.
const DefaultHost = "https://api.recalld.dev"

// Config configures a remote Client.
type Config struct {
	// APIKey authenticates against the platform. Required.
	APIKey string
	// Host is the platform base URL. Default: DefaultHost
	Host string
	// Timeout bounds each HTTP request. Default: 30s
	Timeout time.Duration
	// Logger receives structured logs. Defaults to a no-op logger.
	Logger *zap.Logger
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the hosted memory platform. It implements
// memory.Provider so call sites stay mode-agnostic.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	closed     atomic.Bool
}

// NewClient creates a platform client. The API key is validated for
// presence only; the first request surfaces bad credentials as
// memory.ErrAuthentication.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is required", memory.ErrValidation)
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.Host, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Add stores one memory on the platform.
func (c *Client) Add(ctx context.Context, req memory.AddRequest) (*memory.AddResult, error) {
	if c.closed.Load() {
		return &memory.AddResult{Success: false, Error: memory.ErrClosed.Error()}, memory.ErrClosed
	}
	if strings.TrimSpace(req.Content) == "" {
		err := fmt.Errorf("%w: content is required", memory.ErrValidation)
		return &memory.AddResult{Success: false, Error: err.Error()}, err
	}
	if req.UserID == "" {
		err := fmt.Errorf("%w: user_id is required", memory.ErrValidation)
		return &memory.AddResult{Success: false, Error: err.Error()}, err
	}

	var result memory.AddResult
	if err := c.do(ctx, http.MethodPost, "/v1/memories", req, &result); err != nil {
		return &memory.AddResult{Success: false, Error: err.Error()}, err
	}
	return &result, nil
}

// Search performs filtered semantic search on the platform. Transport
// failures degrade to an empty result set; authentication failures
// surface as memory.ErrAuthentication.
func (c *Client) Search(ctx context.Context, req memory.SearchRequest) (*memory.SearchResponse, error) {
	if c.closed.Load() {
		return &memory.SearchResponse{Results: []memory.Result{}}, memory.ErrClosed
	}
	if req.Limit < 0 {
		return &memory.SearchResponse{Results: []memory.Result{}}, nil
	}

	body, err := c.doRaw(ctx, http.MethodPost, "/v1/memories/search", req)
	if err != nil {
		if isAuthErr(err) {
			return &memory.SearchResponse{Results: []memory.Result{}}, err
		}
		c.logger.Warn("remote search degraded to empty", zap.Error(err))
		return &memory.SearchResponse{Results: []memory.Result{}}, nil
	}
	return &memory.SearchResponse{Results: fromRecords(normalize.FromRemote(body))}, nil
}

// GetAll lists a tenant's memories from the platform.
func (c *Client) GetAll(ctx context.Context, req memory.GetAllRequest) (*memory.SearchResponse, error) {
	if c.closed.Load() {
		return &memory.SearchResponse{Results: []memory.Result{}}, memory.ErrClosed
	}

	q := url.Values{}
	if req.UserID != "" {
		q.Set("user_id", req.UserID)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	path := "/v1/memories"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, err := c.doRaw(ctx, http.MethodGet, path, nil)
	if err != nil {
		if isAuthErr(err) {
			return &memory.SearchResponse{Results: []memory.Result{}}, err
		}
		c.logger.Warn("remote get_all degraded to empty", zap.Error(err))
		return &memory.SearchResponse{Results: []memory.Result{}}, nil
	}
	return &memory.SearchResponse{Results: fromRecords(normalize.FromRemote(body))}, nil
}

// Update modifies an existing memory on the platform.
func (c *Client) Update(ctx context.Context, req memory.UpdateRequest) (*memory.UpdateResult, error) {
	if c.closed.Load() {
		return &memory.UpdateResult{Success: false, Error: memory.ErrClosed.Error()}, memory.ErrClosed
	}
	if req.MemoryID == "" {
		err := fmt.Errorf("%w: memory_id is required", memory.ErrValidation)
		return &memory.UpdateResult{Success: false, Error: err.Error()}, err
	}

	var result memory.UpdateResult
	path := "/v1/memories/" + url.PathEscape(req.MemoryID)
	if err := c.do(ctx, http.MethodPatch, path, req, &result); err != nil {
		return &memory.UpdateResult{Success: false, Error: err.Error()}, err
	}
	return &result, nil
}

// Delete removes one memory. A missing id reports Success=false with a
// nil error, matching the embedded facade's idempotence contract.
func (c *Client) Delete(ctx context.Context, memoryID string) (*memory.DeleteResult, error) {
	if c.closed.Load() {
		return &memory.DeleteResult{Success: false, Error: memory.ErrClosed.Error()}, memory.ErrClosed
	}
	if memoryID == "" {
		err := fmt.Errorf("%w: memory_id is required", memory.ErrValidation)
		return &memory.DeleteResult{Success: false, Error: err.Error()}, err
	}

	var result memory.DeleteResult
	path := "/v1/memories/" + url.PathEscape(memoryID)
	err := c.do(ctx, http.MethodDelete, path, nil, &result)
	if err != nil {
		if isStatusErr(err, http.StatusNotFound) {
			return &memory.DeleteResult{Success: false, Error: fmt.Sprintf("memory %s not found", memoryID)}, nil
		}
		return &memory.DeleteResult{Success: false, Error: err.Error()}, err
	}
	return &result, nil
}

// DeleteAll removes all of one tenant's memories. An empty userID asks
// the platform to clear everything the key can reach; destructive.
func (c *Client) DeleteAll(ctx context.Context, userID string) (*memory.DeleteResult, error) {
	if c.closed.Load() {
		return &memory.DeleteResult{Success: false, Error: memory.ErrClosed.Error()}, memory.ErrClosed
	}

	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	path := "/v1/memories"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result memory.DeleteResult
	if err := c.do(ctx, http.MethodDelete, path, nil, &result); err != nil {
		return &memory.DeleteResult{Success: false, Error: err.Error()}, err
	}
	return &result, nil
}

// GetStats reports platform-side stats. Never returns an error;
// failures degrade the status value.
func (c *Client) GetStats(ctx context.Context) (*memory.Stats, error) {
	stats := &memory.Stats{VectorStore: "platform", Status: memory.StatusHealthy}
	if c.closed.Load() {
		stats.Status = memory.StatusError
		return stats, nil
	}
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, stats); err != nil {
		c.logger.Warn("remote stats degraded", zap.Error(err))
		stats.Status = memory.StatusError
	}
	return stats, nil
}

// HealthCheck verifies the platform is reachable. Never returns an
// error; failures degrade the status value.
func (c *Client) HealthCheck(ctx context.Context) (*memory.Health, error) {
	if c.closed.Load() {
		return &memory.Health{Status: memory.StatusError, Message: "client is closed"}, nil
	}
	var health memory.Health
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &health); err != nil {
		return &memory.Health{Status: memory.StatusError, Message: err.Error()}, nil
	}
	if health.Status == "" {
		health.Status = memory.StatusHealthy
	}
	return &health, nil
}

// Close marks the client closed. Subsequent operations fail with
// memory.ErrClosed.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

// SearchByTags is a convenience wrapper: filter by tags, optionally
// ranked by a semantic query.
func (c *Client) SearchByTags(ctx context.Context, userID string, tags []string, matchAll bool, semanticQuery string) (*memory.SearchResponse, error) {
	return c.Search(ctx, memory.SearchRequest{
		Query:        semanticQuery,
		UserID:       userID,
		Tags:         tags,
		MatchAllTags: matchAll,
	})
}

// SearchByPeople is a convenience wrapper: filter by people mentioned.
func (c *Client) SearchByPeople(ctx context.Context, userID string, people []string) (*memory.SearchResponse, error) {
	return c.Search(ctx, memory.SearchRequest{
		UserID:          userID,
		PeopleMentioned: people,
	})
}

// TemporalSearch is a convenience wrapper: filter by a natural-language
// time expression such as "yesterday" or "last 7 days", optionally
// ranked by a semantic query.
func (c *Client) TemporalSearch(ctx context.Context, userID, timeExpr, semanticQuery string) (*memory.SearchResponse, error) {
	tr, err := ParseTimeExpr(timeExpr, time.Now())
	if err != nil {
		return &memory.SearchResponse{Results: []memory.Result{}}, fmt.Errorf("%w: %v", memory.ErrValidation, err)
	}
	return c.Search(ctx, memory.SearchRequest{
		Query:     semanticQuery,
		UserID:    userID,
		TimeRange: tr,
	})
}

// statusError carries a non-2xx response through the error chain.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("platform returned status %d: %s", e.code, e.body)
}

// do issues a request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := c.doRaw(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding platform response: %w", err)
	}
	return nil
}

// doRaw issues a request and returns the raw response body.
func (c *Client) doRaw(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading platform response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", memory.ErrAuthentication, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %v", memory.ErrBackendUnavailable,
			&statusError{code: resp.StatusCode, body: truncate(body)})
	case resp.StatusCode >= 400:
		return nil, &statusError{code: resp.StatusCode, body: truncate(body)}
	}
	return body, nil
}

func isAuthErr(err error) bool {
	return errors.Is(err, memory.ErrAuthentication)
}

func isStatusErr(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == code
}

func truncate(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func fromRecords(records []normalize.Record) []memory.Result {
	out := make([]memory.Result, len(records))
	for i, r := range records {
		out[i] = memory.Result{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Score: r.Score}
	}
	return out
}

// Ensure Client implements memory.Provider.
var _ memory.Provider = (*Client)(nil)
