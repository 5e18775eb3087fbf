// Package domain defines the entities shared across the queryd services:
// catalogs, knowledge items, embedding records and the chunks derived
// from them.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ChunkKind classifies a chunk (and its embedding record) by the kind of
// source entity it was derived from.
type ChunkKind string

const (
	KindObject  ChunkKind = "object"
	KindNote    ChunkKind = "note"
	KindMetric  ChunkKind = "metric"
	KindExample ChunkKind = "example"
)

// Valid reports whether k is one of the known chunk kinds.
func (k ChunkKind) Valid() bool {
	switch k {
	case KindObject, KindNote, KindMetric, KindExample:
		return true
	}
	return false
}

// Knowledge item statuses. StatusRejectedTypo is a historical misspelling
// that exists in production data; cleanup treats it as rejected.
const (
	StatusPending      = "pending"
	StatusApproved     = "approved"
	StatusRejected     = "rejected"
	StatusRejectedTypo = "rejectd"
)

// EntityRef is a polymorphic reference to the source entity an embedding
// was derived from. The kind tags which table the ID points into.
type EntityRef struct {
	Kind ChunkKind
	ID   uuid.UUID
}

// Validate checks that the reference carries a known kind and a non-nil ID.
func (r EntityRef) Validate() error {
	switch r.Kind {
	case KindObject, KindNote, KindMetric, KindExample:
	default:
		return fmt.Errorf("unknown entity kind %q", r.Kind)
	}
	if r.ID == uuid.Nil {
		return fmt.Errorf("entity reference requires an ID")
	}
	return nil
}

// Catalog is a versioned snapshot of a database's schema used as
// grounding context for generation.
type Catalog struct {
	ID       uuid.UUID
	Name     string
	Engine   string
	IsActive bool
}

// CatalogObject is one flattened row of a catalog: either a table or a
// column belonging to a table.
type CatalogObject struct {
	ID           uuid.UUID
	CatalogID    uuid.UUID
	ObjectType   string // "table" or "column"
	SchemaName   string
	TableName    string
	ColumnName   string
	DataType     string
	IsNullable   bool
	IsPrimaryKey bool
	IsForeignKey bool
	Comment      string
}

// Note is a free-form guideline attached to a catalog.
type Note struct {
	ID        uuid.UUID
	CatalogID uuid.UUID
	Title     string
	Content   string
	Tags      []string
	Status    string
}

// Metric is a named, reusable SQL expression.
type Metric struct {
	ID          uuid.UUID
	CatalogID   uuid.UUID
	Name        string
	Description string
	Expression  string
	Engine      string
	Tags        []string
	Status      string
}

// Example is a curated question-to-SQL example.
type Example struct {
	ID          uuid.UUID
	CatalogID   uuid.UUID
	Title       string
	Description string
	SQLSnippet  string
	Engine      string
	Tags        []string
	Status      string
}

// Chunk is a unit of text derived from a catalog object or knowledge item,
// ready to be embedded. Chunks are immutable once embedded; a source change
// produces a new chunk.
type Chunk struct {
	Content  string
	Kind     ChunkKind
	Metadata map[string]any
	Entity   *EntityRef
}

// EmbeddingRecord is the relational half of an embedded chunk. The vector
// half lives in the vector store under VectorPointID; a record with a
// non-empty VectorPointID asserts that the point exists.
type EmbeddingRecord struct {
	ID            uuid.UUID
	CatalogID     uuid.UUID
	Kind          ChunkKind
	Entity        *EntityRef
	VectorPointID string
	Content       string
	Metadata      map[string]any
}

// ContextChunk is a retrieval hit joined back to its relational record.
type ContextChunk struct {
	Content  string
	Metadata map[string]any
	Kind     ChunkKind
	Score    float32
}
