package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/filter"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// fakeEmbedder embeds by keyword so similarity is predictable: texts
// sharing a keyword land on the same axis.
type fakeEmbedder struct {
	failing bool
}

func (e *fakeEmbedder) vector(text string) []float32 {
	switch {
	case strings.Contains(text, "pizza"):
		return []float32{1, 0, 0, 0}
	case strings.Contains(text, "basketball"):
		return []float32{0, 1, 0, 0}
	default:
		h := fnv.New32a()
		h.Write([]byte(text)) //nolint:errcheck
		angle := float64(h.Sum32()%360) * math.Pi / 180
		return []float32{0, 0, float32(math.Cos(angle)), float32(math.Sin(angle))}
	}
}

func (e *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.failing {
		return nil, embeddings.ErrProviderUnavailable
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.failing {
		return nil, embeddings.ErrProviderUnavailable
	}
	return e.vector(text), nil
}

func (e *fakeEmbedder) Dimension() int               { return 4 }
func (e *fakeEmbedder) Model() string                { return "fake" }
func (e *fakeEmbedder) Health(context.Context) error { return nil }
func (e *fakeEmbedder) Close() error                 { return nil }

// fakeStore is an in-memory vectorstore.Store with cosine scoring.
type fakeStore struct {
	points  map[string]vectorstore.Point
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{points: map[string]vectorstore.Point{}}
}

func (s *fakeStore) err() error {
	if s.failing {
		return fmt.Errorf("%w: store offline", vectorstore.ErrConnectionFailed)
	}
	return nil
}

func (s *fakeStore) EnsureCollection(context.Context) error { return s.err() }

func (s *fakeStore) Insert(_ context.Context, points []vectorstore.Point) error {
	if err := s.err(); err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != 4 {
			return vectorstore.ErrDimensionMismatch
		}
		s.points[p.ID] = p
	}
	return nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func (s *fakeStore) Search(_ context.Context, vector []float32, f *filter.Filter, limit int, threshold float32) ([]vectorstore.ScoredPoint, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	var out []vectorstore.ScoredPoint
	for _, p := range s.points {
		if !f.Matches(p.Payload) {
			continue
		}
		score := cosine(vector, p.Vector)
		if threshold > 0 && score < threshold {
			continue
		}
		out = append(out, vectorstore.ScoredPoint{Point: p, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) List(_ context.Context, f *filter.Filter, limit int) ([]vectorstore.Point, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	var out []vectorstore.Point
	for _, p := range s.points {
		if f.Matches(p.Payload) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*vectorstore.Point, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	if p, ok := s.points[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *fakeStore) Update(ctx context.Context, p vectorstore.Point) error {
	return s.Insert(ctx, []vectorstore.Point{p})
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	if err := s.err(); err != nil {
		return err
	}
	if _, ok := s.points[id]; !ok {
		return vectorstore.ErrNotFound
	}
	delete(s.points, id)
	return nil
}

func (s *fakeStore) DeleteMatching(ctx context.Context, f *filter.Filter) (int, error) {
	matches, err := s.List(ctx, f, 0)
	if err != nil {
		return 0, err
	}
	for _, p := range matches {
		delete(s.points, p.ID)
	}
	return len(matches), nil
}

func (s *fakeStore) Reset(context.Context) error {
	if err := s.err(); err != nil {
		return err
	}
	s.points = map[string]vectorstore.Point{}
	return nil
}

func (s *fakeStore) Count(context.Context) int { return len(s.points) }
func (s *fakeStore) Provider() string          { return "fake" }
func (s *fakeStore) Collection() string        { return "test" }
func (s *fakeStore) Dims() int                 { return 4 }
func (s *fakeStore) Close() error              { return nil }

var _ vectorstore.Store = (*fakeStore)(nil)

func newTestMemory(t *testing.T) (*Memory, *fakeStore, *fakeEmbedder) {
	t.Helper()
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	return newWithComponents(store, embedder, nil), store, embedder
}

func mustAdd(t *testing.T, m *Memory, content, userID string) string {
	t.Helper()
	result, err := m.Add(context.Background(), AddRequest{Content: content, UserID: userID})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotEmpty(t, result.MemoryID)
	return result.MemoryID
}

func TestAddValidation(t *testing.T) {
	m, store, _ := newTestMemory(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  AddRequest
	}{
		{"empty content", AddRequest{UserID: "u1"}},
		{"whitespace content", AddRequest{Content: "   ", UserID: "u1"}},
		{"missing user", AddRequest{Content: "hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := m.Add(ctx, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			require.NotNil(t, result)
			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Error)
		})
	}
	assert.Zero(t, store.Count(ctx), "failed adds persist nothing")
}

func TestAddSearchRoundTrip(t *testing.T) {
	m, _, _ := newTestMemory(t)
	ctx := context.Background()

	mustAdd(t, m, "I love pizza", "u1")

	resp, err := m.GetAll(ctx, GetAllRequest{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "I love pizza", resp.Results[0].Content)
	assert.Equal(t, "u1", resp.Results[0].Metadata[filter.KeyUserID])
	assert.Nil(t, resp.Results[0].Score, "list results carry no score")
}

func TestTenantIsolation(t *testing.T) {
	m, _, _ := newTestMemory(t)
	ctx := context.Background()

	mustAdd(t, m, "I love pizza", "u1")
	mustAdd(t, m, "I love basketball", "u2")

	resp, err := m.Search(ctx, SearchRequest{Query: "pizza", UserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Content, "pizza")

	resp, err = m.Search(ctx, SearchRequest{Query: "pizza", UserID: "u2"})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.Equal(t, "u2", r.Metadata[filter.KeyUserID],
			"another tenant's records never leak")
		assert.NotContains(t, r.Content, "pizza")
	}
}

func TestSearchEmptyQueryLists(t *testing.T) {
	m, _, embedder := newTestMemory(t)
	ctx := context.Background()

	mustAdd(t, m, "I love pizza", "u1")
	mustAdd(t, m, "basketball practice notes", "u1")

	// An embedding failure would surface if the empty query were
	// embedded; the empty query must take the pure list path.
	embedder.failing = true

	resp, err := m.Search(ctx, SearchRequest{Query: "", UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Nil(t, r.Score)
	}
}

func TestSearchTagFilter(t *testing.T) {
	m, _, _ := newTestMemory(t)
	ctx := context.Background()

	_, err := m.Add(ctx, AddRequest{Content: "pasta recipe", UserID: "u1", Tags: []string{"cooking"}})
	require.NoError(t, err)
	_, err = m.Add(ctx, AddRequest{Content: "trip to rome", UserID: "u1", Tags: []string{"travel"}})
	require.NoError(t, err)

	resp, err := m.Search(ctx, SearchRequest{UserID: "u1", Tags: []string{"cooking"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "pasta recipe", resp.Results[0].Content)

	// An empty tag list matches all of the tenant's records.
	resp, err = m.Search(ctx, SearchRequest{UserID: "u1", Tags: []string{}})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
}

func TestSearchLimits(t *testing.T) {
	m, _, _ := newTestMemory(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		mustAdd(t, m, fmt.Sprintf("pizza note %d", i), "u1")
	}

	resp, err := m.Search(ctx, SearchRequest{Query: "pizza", UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, DefaultSearchLimit, "limit 0 uses the default")

	resp, err = m.Search(ctx, SearchRequest{Query: "pizza", UserID: "u1", Limit: -1})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "negative limit fails safe to no results")

	resp, err = m.Search(ctx, SearchRequest{Query: "pizza", UserID: "u1", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestSearchThresholdSubset(t *testing.T) {
	m, _, _ := newTestMemory(t)
	ctx := context.Background()

	mustAdd(t, m, "I love pizza", "u1")
	mustAdd(t, m, "basketball schedule", "u1")
	mustAdd(t, m, "random note about weather", "u1")

	loose, err := m.Search(ctx, SearchRequest{Query: "pizza", UserID: "u1", Threshold: 0})
	require.NoError(t, err)
	strict, err := m.Search(ctx, SearchRequest{Query: "pizza", UserID: "u1", Threshold: 0.9})
	require.NoError(t, err)

	looseIDs := map[string]bool{}
	for _, r := range loose.Results {
		looseIDs[r.ID] = true
	}
	for _, r := range strict.Results {
		assert.True(t, looseIDs[r.ID])
		require.NotNil(t, r.Score)
		assert.GreaterOrEqual(t, *r.Score, float32(0.9))
	}
	assert.LessOrEqual(t, len(strict.Results), len(loose.Results))
}

func TestSearchDegradesOnBackendFailure(t *testing.T) {
	m, store, _ := newTestMemory(t)
	ctx := context.Background()

	mustAdd(t, m, "I love pizza", "u1")
	store.failing = true

	resp, err := m.Search(ctx, SearchRequest{Query: "pizza", UserID: "u1"})
	require.NoError(t, err, "read failures degrade, never propagate")
	assert.Empty(t, resp.Results)

	resp, err = m.GetAll(ctx, GetAllRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestUpdate(t *testing.T) {
	m, store, _ := newTestMemory(t)
	ctx := context.Background()

	id := mustAdd(t, m, "I love pizza", "u1")

	t.Run("content change re-embeds", func(t *testing.T) {
		result, err := m.Update(ctx, UpdateRequest{MemoryID: id, Content: "I love basketball"})
		require.NoError(t, err)
		assert.True(t, result.Success)

		p, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "I love basketball", p.Payload["content"])
		assert.Equal(t, []float32{0, 1, 0, 0}, p.Vector)
	})

	t.Run("metadata patch preserves reserved keys", func(t *testing.T) {
		result, err := m.Update(ctx, UpdateRequest{
			MemoryID:      id,
			MetadataPatch: map[string]any{"source": "chat", filter.KeyUserID: "attacker"},
		})
		require.NoError(t, err)
		assert.True(t, result.Success)

		p, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "chat", p.Payload["source"])
		assert.Equal(t, "u1", p.Payload[filter.KeyUserID])
	})

	t.Run("missing id", func(t *testing.T) {
		result, err := m.Update(ctx, UpdateRequest{MemoryID: "missing", Content: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, result.Success)
	})
}

func TestDeleteIdempotent(t *testing.T) {
	m, _, _ := newTestMemory(t)
	ctx := context.Background()

	id := mustAdd(t, m, "I love pizza", "u1")

	result, err := m.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.DeletedCount)

	result, err = m.Delete(ctx, id)
	require.NoError(t, err, "deleting a missing id never raises")
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.DeletedCount)
	assert.Contains(t, result.Error, "not found")
}

func TestDeleteAll(t *testing.T) {
	m, store, _ := newTestMemory(t)
	ctx := context.Background()

	mustAdd(t, m, "a", "u1")
	mustAdd(t, m, "b", "u1")
	mustAdd(t, m, "c", "u2")

	result, err := m.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.DeletedCount)
	assert.Equal(t, 1, store.Count(ctx), "other tenants untouched")

	result, err = m.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.DeletedCount)

	// Empty user id resets the whole collection.
	result, err = m.DeleteAll(ctx, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.DeletedCount)
	assert.Zero(t, store.Count(ctx))
}

func TestStatsAndHealth(t *testing.T) {
	m, _, _ := newTestMemory(t)
	ctx := context.Background()

	mustAdd(t, m, "a", "u1")

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fake", stats.EmbeddingModel)
	assert.Equal(t, "fake", stats.VectorStore)
	assert.Equal(t, StatusHealthy, stats.Status)
	assert.Equal(t, 1, stats.MemoryCount)

	health, err := m.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, health.Status)
}

func TestHealthDegrades(t *testing.T) {
	m, store, _ := newTestMemory(t)
	store.failing = true

	health, err := m.HealthCheck(context.Background())
	require.NoError(t, err, "health checks never throw")
	assert.Equal(t, StatusDegraded, health.Status)
	assert.NotEmpty(t, health.Message)
}

func TestClosedOperations(t *testing.T) {
	m, _, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")

	_, err := m.Add(ctx, AddRequest{Content: "x", UserID: "u1"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Search(ctx, SearchRequest{Query: "x", UserID: "u1"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Delete(ctx, "id")
	assert.ErrorIs(t, err, ErrClosed)

	health, err := m.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusError, health.Status)
}

func TestSearchSortByTimestamp(t *testing.T) {
	m, store, _ := newTestMemory(t)
	ctx := context.Background()

	id1 := mustAdd(t, m, "pizza one", "u1")
	id2 := mustAdd(t, m, "pizza two", "u1")

	// Force distinct timestamps; adds within the same second tie.
	p1, _ := store.Get(ctx, id1)
	p1.Payload[filter.KeyCreatedAtTS] = int64(100)
	require.NoError(t, store.Update(ctx, *p1))
	p2, _ := store.Get(ctx, id2)
	p2.Payload[filter.KeyCreatedAtTS] = int64(200)
	require.NoError(t, store.Update(ctx, *p2))

	resp, err := m.Search(ctx, SearchRequest{Query: "pizza", UserID: "u1", SortBy: SortByTimestamp})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, id2, resp.Results[0].ID, "newest first")
	assert.Equal(t, id1, resp.Results[1].ID)
}

func TestAddEmbedderFailure(t *testing.T) {
	m, store, embedder := newTestMemory(t)
	embedder.failing = true

	result, err := m.Add(context.Background(), AddRequest{Content: "x", UserID: "u1"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.False(t, result.Success)
	assert.Zero(t, store.Count(context.Background()))
}
