// Package vectorindex provides the C2 vector index contract: named
// collections of (id, vector, tag-map) tuples supporting cosine/dot kNN
// with metadata equality filters, per SPEC_FULL.md §4.4.
package vectorindex

import "context"

// Distance selects the similarity metric a collection was created with.
type Distance string

const (
	Cosine Distance = "cosine"
	Dot    Distance = "dot"
)

// Point is a single vector record with its scalar metadata payload.
type Point struct {
	Payload map[string]any
	Vector  []float32
	ID      uint64
}

// Filter is an AND of field-equality predicates evaluated against a
// point's payload.
type Filter map[string]any

// SearchResult is one hit from Search, carrying the stored payload back so
// callers don't need a second round-trip to the metadata store.
type SearchResult struct {
	Payload map[string]any
	ID      uint64
	Score   float32
}

// SchemaType names the Go-ish type of a payload field for
// CreatePayloadIndex; the concrete backend maps it to its own index
// schema (e.g. Postgres B-tree expression index, Qdrant keyword/integer
// index).
type SchemaType string

const (
	SchemaInteger SchemaType = "integer"
	SchemaFloat   SchemaType = "float"
	SchemaKeyword SchemaType = "keyword"
)

// Index is the C2 contract.
type Index interface {
	CreateCollection(ctx context.Context, name string, vectorSize int, distance Distance) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)

	UpsertPoints(ctx context.Context, collection string, points []Point) error
	DeletePoints(ctx context.Context, collection string, ids []uint64) error

	// Search returns hits ordered by similarity score descending, already
	// restricted to scores >= scoreThreshold. The core does not re-sort.
	Search(ctx context.Context, collection string, vector []float32, filter Filter, limit int, scoreThreshold float32) ([]SearchResult, error)

	// CreatePayloadIndex is idempotent: creating an index that already
	// exists is not an error.
	CreatePayloadIndex(ctx context.Context, collection, field string, schema SchemaType) error

	Close() error
}
