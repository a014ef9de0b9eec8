package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/filter"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("recalld.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/recalld/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/recalld/vectorstore"
	}
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database with persistence to gob files. It needs no external
// service, which makes it the default backend for local use.
//
// chromem's metadata is string-to-string and its where-filter supports
// only exact equality, so the adapter stores payload values as strings
// and evaluates token and range conditions itself after the native
// equality filter.
type ChromemStore struct {
	db     *chromem.DB
	config Config
	logger *zap.Logger
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(cfg Config, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandPath(cfg.Chromem.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Chromem.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &ChromemStore{
		db:     db,
		config: cfg,
		logger: logger,
	}

	logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.String("collection", cfg.CollectionName),
		zap.Int("dims", cfg.EmbeddingDims),
	)

	return s, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbeddingFunc is passed to chromem so it never falls back to its
// default OpenAI embedder. All embeddings are supplied by the caller,
// so this function must never be invoked.
func noEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding is delegated to the caller")
}

func (s *ChromemStore) collection() *chromem.Collection {
	return s.db.GetCollection(s.config.CollectionName, noEmbeddingFunc)
}

// EnsureCollection creates the collection if it does not exist.
func (s *ChromemStore) EnsureCollection(ctx context.Context) error {
	_, err := s.db.GetOrCreateCollection(s.config.CollectionName, nil, noEmbeddingFunc)
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.CollectionName, err)
	}
	return nil
}

// Insert upserts points into the collection.
func (s *ChromemStore) Insert(ctx context.Context, points []Point) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()
	span.SetAttributes(attribute.Int("point_count", len(points)))

	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if len(p.Vector) != s.config.EmbeddingDims {
			err := fmt.Errorf("%w: got %d, collection expects %d", ErrDimensionMismatch, len(p.Vector), s.config.EmbeddingDims)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	if err := s.EnsureCollection(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	col := s.collection()

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.ID,
			Content:   payloadContent(p.Payload),
			Metadata:  payloadToStrings(p.Payload),
			Embedding: p.Vector,
		}
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("inserted points into chromem",
		zap.String("collection", s.config.CollectionName),
		zap.Int("count", len(points)),
	)
	return nil
}

// Search performs filtered similarity search.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, f *filter.Filter, limit int, scoreThreshold float32) ([]ScoredPoint, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	if limit <= 0 {
		return []ScoredPoint{}, nil
	}

	col := s.collection()
	if col == nil {
		return []ScoredPoint{}, nil
	}
	count := col.Count()
	if count == 0 {
		return []ScoredPoint{}, nil
	}

	where := f.Equality()
	residual := f.Residual(equalityFields(f))

	// chromem caps nResults at the collection size. When residual
	// conditions must be applied afterwards, fetch everything so the
	// post-filter cannot starve the limit.
	k := limit
	if len(residual) > 0 || k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.CollectionName, err)
	}

	out := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		payload := stringsToPayload(r.Metadata, r.Content)
		if !filter.MatchConditions(residual, payload) {
			continue
		}
		if scoreThreshold > 0 && r.Similarity < scoreThreshold {
			continue
		}
		out = append(out, ScoredPoint{
			Point: Point{ID: r.ID, Vector: r.Embedding, Payload: payload},
			Score: r.Similarity,
		})
		if len(out) == limit {
			break
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// List returns points matching the filter without similarity ranking.
// chromem has no scroll API, so listing queries the whole collection
// with a probe vector and discards the scores. Results are ordered by
// id for determinism.
func (s *ChromemStore) List(ctx context.Context, f *filter.Filter, limit int) ([]Point, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.List")
	defer span.End()

	col := s.collection()
	if col == nil {
		return []Point{}, nil
	}
	count := col.Count()
	if count == 0 {
		return []Point{}, nil
	}

	probe := make([]float32, s.config.EmbeddingDims)
	probe[0] = 1

	where := f.Equality()
	residual := f.Residual(equalityFields(f))

	results, err := col.QueryEmbedding(ctx, probe, count, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collection %s: %w", s.config.CollectionName, err)
	}

	out := make([]Point, 0, len(results))
	for _, r := range results {
		payload := stringsToPayload(r.Metadata, r.Content)
		if !filter.MatchConditions(residual, payload) {
			continue
		}
		out = append(out, Point{ID: r.ID, Vector: r.Embedding, Payload: payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Get returns the point with the given id, or nil if absent.
func (s *ChromemStore) Get(ctx context.Context, id string) (*Point, error) {
	col := s.collection()
	if col == nil {
		return nil, nil
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		// chromem reports missing ids as errors; absence is not an
		// error at this layer.
		return nil, nil
	}
	return &Point{
		ID:      doc.ID,
		Vector:  doc.Embedding,
		Payload: stringsToPayload(doc.Metadata, doc.Content),
	}, nil
}

// Update replaces a point's vector and payload together. chromem
// upserts by id, so this is an insert of the full point.
func (s *ChromemStore) Update(ctx context.Context, p Point) error {
	return s.Insert(ctx, []Point{p})
}

// Delete removes a single point.
func (s *ChromemStore) Delete(ctx context.Context, id string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("id", id))

	col := s.collection()
	if col == nil {
		return ErrNotFound
	}
	if _, err := col.GetByID(ctx, id); err != nil {
		return ErrNotFound
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteMatching removes all points matching the filter.
func (s *ChromemStore) DeleteMatching(ctx context.Context, f *filter.Filter) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteMatching")
	defer span.End()

	matches, err := s.List(ctx, f, 0)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(matches) == 0 {
		return 0, nil
	}

	col := s.collection()
	ids := make([]string, len(matches))
	for i, p := range matches {
		ids[i] = p.ID
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting %d documents: %w", len(ids), err)
	}

	span.SetAttributes(attribute.Int("deleted_count", len(ids)))
	span.SetStatus(codes.Ok, "success")
	return len(ids), nil
}

// Reset drops and recreates the collection. Destructive.
func (s *ChromemStore) Reset(ctx context.Context) error {
	if err := s.db.DeleteCollection(s.config.CollectionName); err != nil {
		return fmt.Errorf("deleting collection %s: %w", s.config.CollectionName, err)
	}
	s.logger.Info("chromem collection reset", zap.String("collection", s.config.CollectionName))
	return s.EnsureCollection(ctx)
}

// Count returns the number of points in the collection.
func (s *ChromemStore) Count(ctx context.Context) int {
	col := s.collection()
	if col == nil {
		return 0
	}
	return col.Count()
}

// Provider returns "chromem".
func (s *ChromemStore) Provider() string { return ProviderChromem }

// Collection returns the collection name.
func (s *ChromemStore) Collection() string { return s.config.CollectionName }

// Dims returns the configured embedding dimension.
func (s *ChromemStore) Dims() int { return s.config.EmbeddingDims }

// Close closes the store. chromem persists automatically, so there is
// nothing to release.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// equalityFields returns the set of fields the native where-filter
// covers for chromem: exact equality conditions only.
func equalityFields(f *filter.Filter) map[string]bool {
	if f == nil {
		return nil
	}
	native := make(map[string]bool)
	for _, c := range f.Conditions {
		if c.Equals != "" {
			native[c.Field] = true
		}
	}
	return native
}

// payloadContent extracts the record content from a payload.
func payloadContent(payload map[string]any) string {
	if v, ok := payload["content"].(string); ok {
		return v
	}
	return ""
}

// payloadToStrings converts a payload to chromem's string metadata,
// dropping the content key (stored on the document itself).
func payloadToStrings(payload map[string]any) map[string]string {
	if payload == nil {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == "content" {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// stringsToPayload rebuilds a payload from chromem metadata. Numeric
// companion fields are restored to numbers so range conditions and
// timestamp sorting see comparable values.
func stringsToPayload(metadata map[string]string, content string) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		if k == filter.KeyCreatedAtTS {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[k] = n
				continue
			}
		}
		out[k] = v
	}
	out["content"] = content
	return out
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
