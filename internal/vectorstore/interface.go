// Package vectorstore defines the backend adapter contract for memory
// storage and provides the chromem-go (embedded) and Qdrant (remote)
// implementations.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/recalld/internal/filter"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrNotFound is returned when a point id does not exist.
	ErrNotFound = errors.New("point not found")

	// ErrDimensionMismatch is returned when a vector's length does not
	// match the collection's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrConnectionFailed indicates the backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Point is a stored record: id, embedding, and payload. The payload
// carries the record content under "content" plus the metadata keys
// built by the filter package.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a Point with a similarity score from a vector search.
type ScoredPoint struct {
	Point
	Score float32
}

// Store is the contract every vector backend must satisfy. The memory
// facade is shape-agnostic: embedded (file path based) and remote
// (host:port based) stores implement the same interface.
//
// Equality conditions (including the user_id isolation condition) are
// always translated into the backend's native filter; token and range
// conditions the backend cannot express natively are evaluated by the
// adapter before results are returned.
type Store interface {
	// EnsureCollection creates the configured collection if it does not
	// exist, with the configured dimension and storage mode.
	EnsureCollection(ctx context.Context) error

	// Insert upserts points. Re-inserting an existing id overwrites the
	// point rather than duplicating it. Fails with ErrDimensionMismatch
	// if any vector length differs from the collection dimension.
	Insert(ctx context.Context, points []Point) error

	// Search performs filtered similarity search, ranked by score
	// descending. A scoreThreshold > 0 drops results scoring below it.
	Search(ctx context.Context, vector []float32, f *filter.Filter, limit int, scoreThreshold float32) ([]ScoredPoint, error)

	// List returns points matching the filter without similarity
	// ranking. limit <= 0 means no limit.
	List(ctx context.Context, f *filter.Filter, limit int) ([]Point, error)

	// Get returns the point with the given id, or nil if absent.
	Get(ctx context.Context, id string) (*Point, error)

	// Update replaces a point's vector and payload together.
	Update(ctx context.Context, p Point) error

	// Delete removes a single point. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// DeleteMatching removes all points matching the filter and
	// returns how many were removed.
	DeleteMatching(ctx context.Context, f *filter.Filter) (int, error)

	// Reset drops and recreates the collection. Destructive.
	Reset(ctx context.Context) error

	// Count returns the number of points in the collection. Count is
	// advisory: backend errors are logged and reported as 0, never
	// surfaced.
	Count(ctx context.Context) int

	// Provider returns the backend name ("chromem" or "qdrant").
	Provider() string

	// Collection returns the collection name.
	Collection() string

	// Dims returns the configured embedding dimension.
	Dims() int

	// Close releases backend resources.
	Close() error
}
