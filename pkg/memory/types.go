package memory

import (
	"context"
	"time"
)

// Result is the canonical shape of a memory record returned by reads:
// id, content, metadata, and a similarity score present only on search
// results. Content is always a string, never null.
type Result struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    *float32       `json:"score,omitempty"`
}

// TimeRange bounds a search by creation time. A zero Start or End
// leaves that side unbounded.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Sort orders for SearchRequest.SortBy.
const (
	// SortByRelevance orders by similarity score descending, ties
	// broken by id for determinism. The default.
	SortByRelevance = "relevance"

	// SortByScore is an alias of SortByRelevance.
	SortByScore = "score"

	// SortByTimestamp orders by creation time descending; records
	// without a timestamp sort last.
	SortByTimestamp = "timestamp"
)

// AddRequest stores one memory for a tenant.
type AddRequest struct {
	// Content is the memory text. Required.
	Content string `json:"content"`
	// UserID is the owning tenant. Required.
	UserID string `json:"user_id"`
	// AgentID optionally scopes the memory to an agent.
	AgentID string `json:"agent_id,omitempty"`
	// RunID optionally scopes the memory to a run or session.
	RunID string `json:"run_id,omitempty"`
	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`
	// PeopleMentioned lists people referenced by the memory.
	PeopleMentioned []string `json:"people_mentioned,omitempty"`
	// TopicCategory is a single categorical label.
	TopicCategory string `json:"topic_category,omitempty"`
	// Metadata carries additional caller keys. Reserved keys
	// (user_id, tags, ...) cannot be overridden here.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AddResult reports the outcome of Add.
type AddResult struct {
	Success  bool   `json:"success"`
	MemoryID string `json:"memory_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SearchRequest is a filtered semantic search. An empty Query switches
// to a pure metadata-filtered list with no similarity ranking; the
// query is never embedded as an empty string.
type SearchRequest struct {
	Query string `json:"query"`
	// UserID scopes results to one tenant. Strongly recommended;
	// leaving it empty searches across all tenants.
	UserID string `json:"user_id,omitempty"`
	// Tags matches records carrying any of the given tags, or all of
	// them when MatchAllTags is set. Empty matches regardless of tags.
	Tags         []string `json:"tags,omitempty"`
	MatchAllTags bool     `json:"match_all_tags,omitempty"`
	// PeopleMentioned matches records mentioning any of the given
	// people.
	PeopleMentioned []string `json:"people_mentioned,omitempty"`
	// TopicCategory matches records with the exact topic.
	TopicCategory string `json:"topic_category,omitempty"`
	// TimeRange bounds results by creation time.
	TimeRange *TimeRange `json:"time_range,omitempty"`
	// Limit bounds the result count. 0 defaults to 10; a negative
	// limit yields no results rather than unlimited results.
	Limit int `json:"limit,omitempty"`
	// Threshold drops results scoring below it.
	Threshold float32 `json:"threshold,omitempty"`
	// SortBy is "relevance" (default), "score", or "timestamp".
	SortBy string `json:"sort_by,omitempty"`
}

// SearchResponse holds search or list results. Results is never nil.
type SearchResponse struct {
	Results []Result `json:"results"`
}

// GetAllRequest lists a tenant's memories without similarity ranking.
type GetAllRequest struct {
	// UserID scopes results to one tenant; empty lists everything.
	UserID string `json:"user_id,omitempty"`
	// Limit bounds the result count. 0 defaults to 100.
	Limit int `json:"limit,omitempty"`
}

// UpdateRequest modifies an existing memory in place.
type UpdateRequest struct {
	// MemoryID identifies the record. Required.
	MemoryID string `json:"memory_id"`
	// Content, when non-empty, replaces the stored text and re-embeds.
	Content string `json:"content,omitempty"`
	// MetadataPatch merges into the existing payload. Reserved keys
	// cannot be overridden.
	MetadataPatch map[string]any `json:"metadata_patch,omitempty"`
}

// UpdateResult reports the outcome of Update.
type UpdateResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DeleteResult reports the outcome of Delete and DeleteAll.
type DeleteResult struct {
	Success      bool   `json:"success"`
	DeletedCount int    `json:"deleted_count"`
	Error        string `json:"error,omitempty"`
}

// Stats is read-only introspection of the configured components.
type Stats struct {
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	VectorStore       string `json:"vector_store"`
	Collection        string `json:"collection"`
	Status            string `json:"status"`
	MemoryCount       int    `json:"memory_count"`
}

// Health is the result of a health check. Status is "healthy",
// "degraded", or "error"; Message explains anything non-healthy.
type Health struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health status values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Provider is the memory operation surface. Two implementations exist:
// the embedded Memory facade and the platform remote.Client. Callers
// pick one at startup and inject it everywhere; no call site branches
// on the mode again.
type Provider interface {
	Add(ctx context.Context, req AddRequest) (*AddResult, error)
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	GetAll(ctx context.Context, req GetAllRequest) (*SearchResponse, error)
	Update(ctx context.Context, req UpdateRequest) (*UpdateResult, error)
	Delete(ctx context.Context, memoryID string) (*DeleteResult, error)
	DeleteAll(ctx context.Context, userID string) (*DeleteResult, error)
	GetStats(ctx context.Context) (*Stats, error)
	HealthCheck(ctx context.Context) (*Health, error)
	Close() error
}
