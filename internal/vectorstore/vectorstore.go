// Package vectorstore provides the similarity index that holds embedded
// chunks. Points are keyed by the relational embedding record's ID, with a
// payload carrying catalog_id, kind and the chunk metadata; the relational
// store remains the source of truth for display content.
package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

// Payload field names indexed for filtering.
const (
	FieldCatalogID = "catalog_id"
	FieldKind      = "kind"
	FieldMetadata  = "metadata"
)

// Point is one vector plus its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	Point
	Score float32
}

// SearchFilter restricts a similarity search. CatalogID is mandatory;
// Kind, Schema and Table narrow by payload fields when non-empty.
type SearchFilter struct {
	CatalogID uuid.UUID
	Kind      string
	Schema    string
	Table     string
}

// Store is the vector index the indexing saga writes and the retrieval
// engine reads.
type Store interface {
	// UpsertBatch writes all points in one call. Partial writes after an
	// error are possible and are the caller's to compensate.
	UpsertBatch(ctx context.Context, points []*Point) error

	// SetPayload replaces the named payload fields of an existing point,
	// leaving its vector in place.
	SetPayload(ctx context.Context, id string, payload map[string]any) error

	// Search returns up to limit nearest neighbors of vector under the
	// filter, ordered by decreasing similarity.
	Search(ctx context.Context, vector []float32, limit uint64, filter *SearchFilter) ([]*ScoredPoint, error)

	// DeleteByIDs removes the given points. Missing IDs are not an error.
	DeleteByIDs(ctx context.Context, ids []string) error

	// DeleteByCatalog removes every point belonging to the catalog and
	// returns how many there were before deletion.
	DeleteByCatalog(ctx context.Context, catalogID uuid.UUID) (uint64, error)

	// CountByCatalog counts the catalog's points.
	CountByCatalog(ctx context.Context, catalogID uuid.UUID) (uint64, error)

	// Health reports whether the store is reachable.
	Health(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
