// Package memory is a tenant-isolated semantic memory SDK for LLM
// agents: store short text notes tagged with user/topic/people
// metadata, embed them into vectors, and retrieve them via similarity
// search or structured filters.
//
// The facade is stateless per call; the only lifecycle state is the
// underlying backend connection. Operations block on the embedding and
// vector store collaborators and carry no internal timeouts; bound them
// through the passed context. Concurrent use requires nothing beyond
// the collaborators' own thread safety, which both backends provide.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/filter"
	"github.com/fyrsmithlabs/recalld/internal/normalize"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

var tracer = otel.Tracer("recalld.memory")

// Default limits for search and list operations.
const (
	DefaultSearchLimit = 10
	DefaultListLimit   = 100
)

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is the embedding provider type. Only "ollama" is
	// supported. Default: "ollama"
	Provider string
	// Model is the embedding model name. Default: "nomic-embed-text"
	Model string
	// BaseURL is the provider endpoint. Default: "http://localhost:11434"
	BaseURL string
	// Dimensions is the model's output dimension. Default: 768
	Dimensions int
	// Timeout bounds each embedding request. Default: 30s
	Timeout time.Duration
	// CacheSize is the maximum number of cached embeddings; negative
	// disables caching. Default: 10000
	CacheSize int64
}

// VectorStoreConfig configures the vector store backend. Path selects
// the embedded backend's storage directory; Host/Port locate a remote
// Qdrant. The provider variant is resolved once at construction.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant" (remote).
	Provider string
	// CollectionName is the collection all operations target.
	// Default: "recalld_memories"
	CollectionName string
	// EmbeddingModelDims is the collection's vector dimension. 0 takes
	// the embedding provider's dimension.
	EmbeddingModelDims int
	// OnDisk requests on-disk vector storage where supported.
	OnDisk bool

	// Path is the embedded backend's storage directory.
	Path string
	// Compress enables gzip compression for the embedded backend.
	Compress bool

	// Host, Port, APIKey, and UseTLS configure the remote backend.
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Config configures a Memory instance.
type Config struct {
	Embedding   EmbeddingConfig
	VectorStore VectorStoreConfig
	// Logger receives structured logs. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Memory is the embedded memory facade. It orchestrates embedding,
// filter building, and backend calls, and normalizes results into the
// stable Result shape.
type Memory struct {
	store    vectorstore.Store
	embedder embeddings.Provider
	logger   *zap.Logger
	closed   atomic.Bool
}

// New creates a Memory from configuration, connects the backend, and
// ensures the collection exists.
func New(cfg Config) (*Memory, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	embedder, err := embeddings.NewProvider(embeddings.Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
		CacheSize:  cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	dims := cfg.VectorStore.EmbeddingModelDims
	if dims == 0 {
		dims = embedder.Dimension()
	}
	store, err := vectorstore.New(vectorstore.Config{
		Provider:       cfg.VectorStore.Provider,
		CollectionName: cfg.VectorStore.CollectionName,
		EmbeddingDims:  dims,
		OnDisk:         cfg.VectorStore.OnDisk,
		Chromem: vectorstore.ChromemConfig{
			Path:     cfg.VectorStore.Path,
			Compress: cfg.VectorStore.Compress,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:   cfg.VectorStore.Host,
			Port:   cfg.VectorStore.Port,
			APIKey: cfg.VectorStore.APIKey,
			UseTLS: cfg.VectorStore.UseTLS,
		},
	}, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	m := newWithComponents(store, embedder, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.EnsureCollection(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}

	return m, nil
}

// newWithComponents wires a Memory from pre-built collaborators.
func newWithComponents(store vectorstore.Store, embedder embeddings.Provider, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{store: store, embedder: embedder, logger: logger}
}

// Add stores one memory. Validation failures and backend write
// failures return a result with Success=false and a wrapped error;
// the result is never nil.
func (m *Memory) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	ctx, span := tracer.Start(ctx, "Memory.Add")
	defer span.End()

	if m.closed.Load() {
		return addFailure(ErrClosed)
	}
	if strings.TrimSpace(req.Content) == "" {
		return addFailure(fmt.Errorf("%w: content is required", ErrValidation))
	}
	if req.UserID == "" {
		return addFailure(fmt.Errorf("%w: user_id is required", ErrValidation))
	}
	span.SetAttributes(attribute.String("user_id", req.UserID))

	vectors, err := m.embedder.EmbedDocuments(ctx, []string{req.Content})
	if err != nil {
		return addFailure(fmt.Errorf("%w: embedding content: %v", ErrBackendUnavailable, err))
	}

	payload := filter.BuildMetadata(filter.Selectors{
		UserID:  req.UserID,
		AgentID: req.AgentID,
		RunID:   req.RunID,
		Tags:    req.Tags,
		People:  req.PeopleMentioned,
		Topic:   req.TopicCategory,
	}, req.Metadata)
	payload["content"] = req.Content

	id := uuid.NewString()
	err = m.store.Insert(ctx, []vectorstore.Point{{
		ID:      id,
		Vector:  vectors[0],
		Payload: payload,
	}})
	if err != nil {
		return addFailure(fmt.Errorf("%w: inserting memory: %v", wrapStoreErr(err), err))
	}

	m.logger.Debug("memory added",
		zap.String("memory_id", id),
		zap.String("user_id", req.UserID),
	)
	return &AddResult{Success: true, MemoryID: id}, nil
}

// Search performs filtered semantic search. An empty query degrades to
// a metadata-filtered list. Backend read failures degrade to an empty
// result set rather than an error, so one backend hiccup does not break
// a caller's control flow.
func (m *Memory) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	ctx, span := tracer.Start(ctx, "Memory.Search")
	defer span.End()

	if m.closed.Load() {
		return &SearchResponse{Results: []Result{}}, ErrClosed
	}

	limit := req.Limit
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	// A negative limit means no results, not unlimited results.
	if limit < 0 {
		return &SearchResponse{Results: []Result{}}, nil
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int("limit", limit),
	)

	f := filter.Build(m.selectors(req))

	var records []normalize.Record
	if strings.TrimSpace(req.Query) == "" {
		points, err := m.store.List(ctx, f, limit)
		if err != nil {
			m.logger.Warn("search list degraded to empty", zap.Error(err))
			return &SearchResponse{Results: []Result{}}, nil
		}
		records = normalize.FromPoints(points)
	} else {
		vector, err := m.embedder.EmbedQuery(ctx, req.Query)
		if err != nil {
			m.logger.Warn("search embedding degraded to empty", zap.Error(err))
			return &SearchResponse{Results: []Result{}}, nil
		}
		hits, err := m.store.Search(ctx, vector, f, limit, req.Threshold)
		if err != nil {
			m.logger.Warn("search degraded to empty", zap.Error(err))
			return &SearchResponse{Results: []Result{}}, nil
		}
		records = normalize.FromScoredPoints(hits)
	}

	switch req.SortBy {
	case SortByTimestamp:
		normalize.SortByTimestamp(records)
	default:
		normalize.SortByScore(records)
	}

	span.SetAttributes(attribute.Int("results_count", len(records)))
	return &SearchResponse{Results: fromRecords(records)}, nil
}

// GetAll lists a tenant's memories without similarity ranking, newest
// first. Backend read failures degrade to an empty result set.
func (m *Memory) GetAll(ctx context.Context, req GetAllRequest) (*SearchResponse, error) {
	ctx, span := tracer.Start(ctx, "Memory.GetAll")
	defer span.End()

	if m.closed.Load() {
		return &SearchResponse{Results: []Result{}}, ErrClosed
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	span.SetAttributes(attribute.String("user_id", req.UserID))

	f := filter.Build(filter.Selectors{UserID: req.UserID})
	points, err := m.store.List(ctx, f, limit)
	if err != nil {
		m.logger.Warn("get_all degraded to empty", zap.Error(err))
		return &SearchResponse{Results: []Result{}}, nil
	}

	records := normalize.FromPoints(points)
	normalize.SortByTimestamp(records)

	span.SetAttributes(attribute.Int("results_count", len(records)))
	return &SearchResponse{Results: fromRecords(records)}, nil
}

// Update modifies an existing memory. A changed content re-embeds; the
// metadata patch merges into the existing payload without touching
// reserved keys. Returns ErrNotFound when the id does not exist.
func (m *Memory) Update(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	ctx, span := tracer.Start(ctx, "Memory.Update")
	defer span.End()

	if m.closed.Load() {
		return updateFailure(ErrClosed)
	}
	if req.MemoryID == "" {
		return updateFailure(fmt.Errorf("%w: memory_id is required", ErrValidation))
	}
	span.SetAttributes(attribute.String("memory_id", req.MemoryID))

	existing, err := m.store.Get(ctx, req.MemoryID)
	if err != nil {
		return updateFailure(fmt.Errorf("%w: fetching memory: %v", wrapStoreErr(err), err))
	}
	if existing == nil {
		return updateFailure(fmt.Errorf("%w: %s", ErrNotFound, req.MemoryID))
	}

	payload := make(map[string]any, len(existing.Payload)+len(req.MetadataPatch))
	for k, v := range existing.Payload {
		payload[k] = v
	}
	for k, v := range req.MetadataPatch {
		if reservedKeys[k] {
			continue
		}
		payload[k] = v
	}

	vector := existing.Vector
	if req.Content != "" && req.Content != payloadContent(existing.Payload) {
		vectors, err := m.embedder.EmbedDocuments(ctx, []string{req.Content})
		if err != nil {
			return updateFailure(fmt.Errorf("%w: re-embedding content: %v", ErrBackendUnavailable, err))
		}
		vector = vectors[0]
		payload["content"] = req.Content
	}

	err = m.store.Update(ctx, vectorstore.Point{
		ID:      req.MemoryID,
		Vector:  vector,
		Payload: payload,
	})
	if err != nil {
		return updateFailure(fmt.Errorf("%w: updating memory: %v", wrapStoreErr(err), err))
	}

	m.logger.Debug("memory updated", zap.String("memory_id", req.MemoryID))
	return &UpdateResult{Success: true}, nil
}

// Delete removes one memory. Deleting a missing id is not an error:
// the result reports Success=false with a descriptive message and a
// nil error, so delete is idempotent-safe from the caller's view.
func (m *Memory) Delete(ctx context.Context, memoryID string) (*DeleteResult, error) {
	ctx, span := tracer.Start(ctx, "Memory.Delete")
	defer span.End()

	if m.closed.Load() {
		return deleteFailure(ErrClosed)
	}
	if memoryID == "" {
		return deleteFailure(fmt.Errorf("%w: memory_id is required", ErrValidation))
	}
	span.SetAttributes(attribute.String("memory_id", memoryID))

	err := m.store.Delete(ctx, memoryID)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return &DeleteResult{Success: false, Error: fmt.Sprintf("memory %s not found", memoryID)}, nil
	}
	if err != nil {
		return deleteFailure(fmt.Errorf("%w: deleting memory: %v", wrapStoreErr(err), err))
	}

	m.logger.Debug("memory deleted", zap.String("memory_id", memoryID))
	return &DeleteResult{Success: true, DeletedCount: 1}, nil
}

// DeleteAll removes all of one tenant's memories. An empty userID
// resets the entire collection across all tenants; that is destructive
// and irreversible.
func (m *Memory) DeleteAll(ctx context.Context, userID string) (*DeleteResult, error) {
	ctx, span := tracer.Start(ctx, "Memory.DeleteAll")
	defer span.End()

	if m.closed.Load() {
		return deleteFailure(ErrClosed)
	}

	if userID == "" {
		count := m.store.Count(ctx)
		if err := m.store.Reset(ctx); err != nil {
			return deleteFailure(fmt.Errorf("%w: resetting collection: %v", wrapStoreErr(err), err))
		}
		m.logger.Warn("collection reset", zap.Int("deleted_count", count))
		return &DeleteResult{Success: true, DeletedCount: count}, nil
	}

	span.SetAttributes(attribute.String("user_id", userID))
	count, err := m.store.DeleteMatching(ctx, filter.Build(filter.Selectors{UserID: userID}))
	if err != nil {
		return deleteFailure(fmt.Errorf("%w: deleting memories: %v", wrapStoreErr(err), err))
	}

	m.logger.Info("tenant memories deleted",
		zap.String("user_id", userID),
		zap.Int("deleted_count", count),
	)
	return &DeleteResult{Success: true, DeletedCount: count}, nil
}

// GetStats reports the configured components and an advisory memory
// count. Never returns an error; partial unavailability degrades the
// status value instead.
func (m *Memory) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		EmbeddingProvider: "ollama",
		EmbeddingModel:    m.embedder.Model(),
		VectorStore:       m.store.Provider(),
		Collection:        m.store.Collection(),
		Status:            StatusHealthy,
	}
	if m.closed.Load() {
		stats.Status = StatusError
		return stats, nil
	}
	stats.MemoryCount = m.store.Count(ctx)
	if err := m.embedder.Health(ctx); err != nil {
		stats.Status = StatusDegraded
	}
	return stats, nil
}

// HealthCheck verifies both collaborators are reachable. Never returns
// an error; failures degrade the status value instead.
func (m *Memory) HealthCheck(ctx context.Context) (*Health, error) {
	if m.closed.Load() {
		return &Health{Status: StatusError, Message: "memory is closed"}, nil
	}

	var problems []string
	if err := m.embedder.Health(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("embedding provider: %v", err))
	}
	if err := m.store.EnsureCollection(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("vector store: %v", err))
	}

	switch len(problems) {
	case 0:
		return &Health{Status: StatusHealthy}, nil
	case 1:
		return &Health{Status: StatusDegraded, Message: problems[0]}, nil
	default:
		return &Health{Status: StatusError, Message: strings.Join(problems, "; ")}, nil
	}
}

// Close releases backend resources. Subsequent operations fail with
// ErrClosed. Close is idempotent.
func (m *Memory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	storeErr := m.store.Close()
	embedErr := m.embedder.Close()
	if storeErr != nil {
		return fmt.Errorf("closing vector store: %w", storeErr)
	}
	if embedErr != nil {
		return fmt.Errorf("closing embedding provider: %w", embedErr)
	}
	return nil
}

// selectors translates a search request into filter selectors.
func (m *Memory) selectors(req SearchRequest) filter.Selectors {
	sel := filter.Selectors{
		UserID:       req.UserID,
		Tags:         req.Tags,
		MatchAllTags: req.MatchAllTags,
		People:       req.PeopleMentioned,
		Topic:        req.TopicCategory,
	}
	if req.TimeRange != nil {
		sel.TimeRange = &filter.TimeRange{Start: req.TimeRange.Start, End: req.TimeRange.End}
	}
	return sel
}

// reservedKeys are payload keys owned by the SDK; metadata patches
// cannot override them.
var reservedKeys = map[string]bool{
	"content":           true,
	filter.KeyUserID:    true,
	filter.KeyCreatedAt: true,
}

func payloadContent(payload map[string]any) string {
	if s, ok := payload["content"].(string); ok {
		return s
	}
	return ""
}

// wrapStoreErr maps a vector store error onto this package's error
// kinds.
func wrapStoreErr(err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return ErrDimensionMismatch
	case errors.Is(err, vectorstore.ErrConnectionFailed):
		return ErrBackendUnavailable
	default:
		return ErrBackendUnavailable
	}
}

func addFailure(err error) (*AddResult, error) {
	return &AddResult{Success: false, Error: err.Error()}, err
}

func updateFailure(err error) (*UpdateResult, error) {
	return &UpdateResult{Success: false, Error: err.Error()}, err
}

func deleteFailure(err error) (*DeleteResult, error) {
	return &DeleteResult{Success: false, Error: err.Error()}, err
}

func fromRecords(records []normalize.Record) []Result {
	out := make([]Result, len(records))
	for i, r := range records {
		out[i] = Result{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Score: r.Score}
	}
	return out
}

// Ensure Memory implements Provider.
var _ Provider = (*Memory)(nil)
