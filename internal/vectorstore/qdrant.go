package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/recalld/internal/filter"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("recalld.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	// APIKey authenticates against a secured Qdrant deployment.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum retry count for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries,
	// doubling on each attempt.
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store using Qdrant's native gRPC client.
//
// Equality and range conditions are translated into Qdrant's native
// filter. Token conditions on comma-joined list fields cannot be
// expressed as keyword matches, so the adapter overfetches and applies
// them before truncating to the requested limit.
type QdrantStore struct {
	client *qdrant.Client
	config Config
	logger *zap.Logger
}

// NewQdrantStore creates a QdrantStore and verifies connectivity.
func NewQdrantStore(cfg Config, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Qdrant.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.Qdrant.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.Qdrant.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", cfg.Qdrant.Host),
		zap.Int("port", cfg.Qdrant.Port),
		zap.String("collection", cfg.CollectionName),
		zap.Int("dims", cfg.EmbeddingDims),
	)

	return s, nil
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC failures.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := s.config.Qdrant.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == s.config.Qdrant.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.Qdrant.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// EnsureCollection creates the collection if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()

	exists := false
	err := s.retryOperation(ctx, "collection_info", func() error {
		_, err := s.client.GetCollectionInfo(ctx, s.config.CollectionName)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking collection %s: %w", s.config.CollectionName, err)
	}
	if exists {
		return nil
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.EmbeddingDims),
				Distance: qdrant.Distance_Cosine,
				OnDisk:   qdrant.PtrOf(s.config.OnDisk),
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", s.config.CollectionName, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("created qdrant collection",
		zap.String("collection", s.config.CollectionName),
		zap.Int("dims", s.config.EmbeddingDims),
		zap.Bool("on_disk", s.config.OnDisk),
	)
	return nil
}

// pointID maps a logical record id onto a Qdrant point id. Valid UUIDs
// pass through; anything else maps to a deterministic UUIDv5 so that
// re-inserting the same logical id overwrites the same point.
func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

// Insert upserts points into the collection.
func (s *QdrantStore) Insert(ctx context.Context, points []Point) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.Int("point_count", len(points)),
		attribute.String("collection", s.config.CollectionName),
	)

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

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := payloadToValues(p.Payload)
		// The logical id rides in the payload so lookups survive the
		// UUID mapping above.
		payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.ID}}
		qpoints[i] = &qdrant.PointStruct{
			Id:      pointID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.CollectionName,
			Points:         qpoints,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search performs filtered similarity search.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, f *filter.Filter, limit int, scoreThreshold float32) ([]ScoredPoint, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", s.config.CollectionName),
		attribute.Int("limit", limit),
	)

	if limit <= 0 {
		return []ScoredPoint{}, nil
	}

	native, residual := s.translateFilter(f)

	// Token conditions are applied after the fetch; overfetch so the
	// post-filter cannot starve the limit on mixed collections.
	fetch := uint64(limit)
	if len(residual) > 0 {
		fetch = uint64(limit * 4)
		if fetch > 1024 {
			fetch = 1024
		}
	}

	query := &qdrant.QueryPoints{
		CollectionName: s.config.CollectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(fetch),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         native,
	}
	if scoreThreshold > 0 {
		query.ScoreThreshold = qdrant.PtrOf(scoreThreshold)
	}

	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, query)
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.CollectionName, err)
	}

	out := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		payload := valuesToPayload(r.Payload)
		if !filter.MatchConditions(residual, payload) {
			continue
		}
		out = append(out, ScoredPoint{
			Point: Point{ID: logicalID(payload), Payload: payload},
			Score: r.Score,
		})
		if len(out) == limit {
			break
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// List returns points matching the filter via scroll, without ranking.
func (s *QdrantStore) List(ctx context.Context, f *filter.Filter, limit int) ([]Point, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.List")
	defer span.End()
	span.SetAttributes(attribute.String("collection", s.config.CollectionName))

	native, residual := s.translateFilter(f)

	fetch := uint32(1024)
	if limit > 0 && len(residual) == 0 && limit < 1024 {
		fetch = uint32(limit)
	}

	var results []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "scroll", func() error {
		res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.config.CollectionName,
			Filter:         native,
			Limit:          qdrant.PtrOf(fetch),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collection %s: %w", s.config.CollectionName, err)
	}

	out := make([]Point, 0, len(results))
	for _, r := range results {
		payload := valuesToPayload(r.Payload)
		if !filter.MatchConditions(residual, payload) {
			continue
		}
		out = append(out, Point{
			ID:      logicalID(payload),
			Vector:  vectorData(r.Vectors),
			Payload: payload,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Get returns the point with the given id, or nil if absent.
func (s *QdrantStore) Get(ctx context.Context, id string) (*Point, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("id", id))

	var results []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "get", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.config.CollectionName,
			Ids:            []*qdrant.PointId{pointID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("getting point %s: %w", id, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	payload := valuesToPayload(results[0].Payload)
	return &Point{
		ID:      logicalID(payload),
		Vector:  vectorData(results[0].Vectors),
		Payload: payload,
	}, nil
}

// Update replaces a point's vector and payload together via upsert.
func (s *QdrantStore) Update(ctx context.Context, p Point) error {
	return s.Insert(ctx, []Point{p})
}

// Delete removes a single point. Returns ErrNotFound if absent.
func (s *QdrantStore) Delete(ctx context.Context, id string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("id", id))

	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}

	err = s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.CollectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(id)}},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting point %s: %w", id, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteMatching removes all points matching the filter.
func (s *QdrantStore) DeleteMatching(ctx context.Context, f *filter.Filter) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteMatching")
	defer span.End()

	native, residual := s.translateFilter(f)

	// Residual conditions force id enumeration; a purely native filter
	// can be handed to Qdrant as a bulk delete.
	if len(residual) > 0 {
		matches, err := s.List(ctx, f, 0)
		if err != nil {
			return 0, err
		}
		ids := make([]*qdrant.PointId, len(matches))
		for i, p := range matches {
			ids[i] = pointID(p.ID)
		}
		if len(ids) == 0 {
			return 0, nil
		}
		err = s.retryOperation(ctx, "delete_matching", func() error {
			_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
				CollectionName: s.config.CollectionName,
				Points: &qdrant.PointsSelector{
					PointsSelectorOneOf: &qdrant.PointsSelector_Points{
						Points: &qdrant.PointsIdsList{Ids: ids},
					},
				},
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("deleting %d points: %w", len(ids), err)
		}
		return len(ids), nil
	}

	var count uint64
	err := s.retryOperation(ctx, "count_matching", func() error {
		c, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.CollectionName,
			Filter:         native,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = c
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("counting matching points: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	err = s.retryOperation(ctx, "delete_matching", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.CollectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: native},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting matching points: %w", err)
	}

	span.SetAttributes(attribute.Int("deleted_count", int(count)))
	span.SetStatus(codes.Ok, "success")
	return int(count), nil
}

// Reset drops and recreates the collection. Destructive.
func (s *QdrantStore) Reset(ctx context.Context) error {
	err := s.retryOperation(ctx, "delete_collection", func() error {
		return s.client.DeleteCollection(ctx, s.config.CollectionName)
	})
	if err != nil {
		return fmt.Errorf("deleting collection %s: %w", s.config.CollectionName, err)
	}
	s.logger.Info("qdrant collection reset", zap.String("collection", s.config.CollectionName))
	return s.EnsureCollection(ctx)
}

// Count returns the number of points in the collection. Errors are
// logged and reported as 0; count is advisory, never load-bearing.
func (s *QdrantStore) Count(ctx context.Context) int {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.config.CollectionName,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		s.logger.Warn("count failed",
			zap.String("collection", s.config.CollectionName),
			zap.Error(err),
		)
		return 0
	}
	return int(count)
}

// Provider returns "qdrant".
func (s *QdrantStore) Provider() string { return ProviderQdrant }

// Collection returns the collection name.
func (s *QdrantStore) Collection() string { return s.config.CollectionName }

// Dims returns the configured embedding dimension.
func (s *QdrantStore) Dims() int { return s.config.EmbeddingDims }

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// translateFilter splits a filter into Qdrant-native conditions
// (equality and range) and residual token conditions.
func (s *QdrantStore) translateFilter(f *filter.Filter) (*qdrant.Filter, []filter.Condition) {
	if f == nil {
		return nil, nil
	}

	native := make(map[string]bool)
	var conditions []*qdrant.Condition
	for _, c := range f.Conditions {
		switch {
		case c.Equals != "":
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: c.Field,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: c.Equals},
						},
					},
				},
			})
			native[c.Field] = true
		case c.Range != nil:
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   c.Field,
						Range: &qdrant.Range{Gte: c.Range.GTE, Lte: c.Range.LTE},
					},
				},
			})
			native[c.Field] = true
		}
	}

	var qf *qdrant.Filter
	if len(conditions) > 0 {
		qf = &qdrant.Filter{Must: conditions}
	}
	return qf, f.Residual(native)
}

// logicalID extracts the record id from a payload.
func logicalID(payload map[string]any) string {
	if v, ok := payload["id"].(string); ok {
		return v
	}
	return ""
}

// vectorData extracts the dense vector from a Qdrant vectors output.
func vectorData(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if vec := v.GetVector(); vec != nil {
		return vec.GetData()
	}
	return nil
}

// payloadToValues converts a payload to Qdrant's value map.
func payloadToValues(payload map[string]any) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, len(payload)+1)
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case bool:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		case int:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		default:
			out[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return out
}

// valuesToPayload converts Qdrant's value map back to a payload.
func valuesToPayload(values map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
