// Package retrieval answers "what context is relevant to this question".
// It embeds the question, searches the vector store scoped to one catalog,
// and joins every hit back to its relational record. Points with no
// relational record are orphans from interrupted indexing passes and are
// skipped, so retrieval only ever surfaces committed content.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/domain"
	"github.com/fyrsmithlabs/queryd/internal/logging"
	"github.com/fyrsmithlabs/queryd/internal/oracle"
	"github.com/fyrsmithlabs/queryd/internal/store"
	"github.com/fyrsmithlabs/queryd/internal/vectorstore"
)

// DefaultMaxChunks bounds retrieval when the request does not.
const DefaultMaxChunks = 12

// Request scopes one retrieval pass.
type Request struct {
	CatalogID uuid.UUID
	Question  string
	// MaxChunks caps the number of returned chunks. Zero means
	// DefaultMaxChunks.
	MaxChunks int
	// Kind, Schema and Table narrow the search when set.
	Kind   string
	Schema string
	Table  string
}

// Engine retrieves grounding context for questions.
type Engine struct {
	store    *store.Store
	vectors  vectorstore.Store
	embedder oracle.Embedder
	logger   *logging.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(st *store.Store, vectors vectorstore.Store, embedder oracle.Embedder, logger *logging.Logger) *Engine {
	return &Engine{
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		logger:   logger.Named("retrieval"),
	}
}

// Retrieve returns the chunks most similar to the question, ordered by
// decreasing score.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]domain.ContextChunk, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}
	maxChunks := req.MaxChunks
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}

	vector, err := e.embedder.EmbedQuery(ctx, req.Question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	filter := &vectorstore.SearchFilter{
		CatalogID: req.CatalogID,
		Kind:      req.Kind,
		Schema:    req.Schema,
		Table:     req.Table,
	}
	hits, err := e.vectors.Search(ctx, vector, uint64(maxChunks), filter)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	chunks := make([]domain.ContextChunk, 0, len(hits))
	for _, hit := range hits {
		rec, err := e.store.GetEmbeddingByPointID(ctx, hit.ID)
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Warn(ctx, "skipping orphan vector point",
				zap.String("point_id", hit.ID),
				zap.String("catalog_id", req.CatalogID.String()),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("joining point %s: %w", hit.ID, err)
		}
		chunks = append(chunks, domain.ContextChunk{
			Content:  rec.Content,
			Metadata: rec.Metadata,
			Kind:     rec.Kind,
			Score:    hit.Score,
		})
	}

	e.logger.Debug(ctx, "context retrieved",
		zap.String("catalog_id", req.CatalogID.String()),
		zap.Int("hits", len(hits)),
		zap.Int("chunks", len(chunks)),
	)
	return chunks, nil
}

// BuildContextString renders retrieved chunks into the prompt context
// block. Chunks are grouped under per-kind section headers; within one
// section the retrieval order (decreasing score) is preserved.
func BuildContextString(chunks []domain.ContextChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	sections := []struct {
		kind   domain.ChunkKind
		header string
	}{
		{domain.KindObject, "--- DATABASE SCHEMA ---"},
		{domain.KindMetric, "--- METRICS ---"},
		{domain.KindExample, "--- EXAMPLES ---"},
		{domain.KindNote, "--- NOTES ---"},
	}

	var b strings.Builder
	b.WriteString("=== RELEVANT CONTEXT ===\n")
	for _, section := range sections {
		var parts []string
		for _, chunk := range chunks {
			if chunk.Kind == section.kind {
				parts = append(parts, chunk.Content)
			}
		}
		if len(parts) == 0 {
			continue
		}
		b.WriteString("\n")
		b.WriteString(section.header)
		b.WriteString("\n")
		b.WriteString(strings.Join(parts, "\n\n"))
		b.WriteString("\n")
	}
	b.WriteString("\n=== END CONTEXT ===")
	return b.String()
}
