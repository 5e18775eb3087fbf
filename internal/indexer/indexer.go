// Package indexer keeps the vector store synchronized with the metadata
// store. One Reindex pass is a saga over the two stores: relational
// mutations are staged in an open transaction, the vector store is mutated
// while the transaction is pending, and the relational side commits last.
// A vector-side failure rolls the transaction back and compensates the
// partial vector writes, so the metadata store never references points
// that were not written and at worst the vector store carries orphans
// that retrieval filters out.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/chunker"
	"github.com/fyrsmithlabs/queryd/internal/domain"
	"github.com/fyrsmithlabs/queryd/internal/logging"
	"github.com/fyrsmithlabs/queryd/internal/oracle"
	"github.com/fyrsmithlabs/queryd/internal/store"
	"github.com/fyrsmithlabs/queryd/internal/vectorstore"
)

// ErrReindexInProgress indicates another reindex holds the catalog.
var ErrReindexInProgress = errors.New("reindex already in progress for catalog")

// Summary reports what one reindex pass did.
type Summary struct {
	Created         int `json:"created"`
	Updated         int `json:"updated"`
	RejectedDeleted int `json:"rejected_deleted"`
	ForceDeleted    int `json:"force_deleted"`
}

// Service runs indexing passes. Passes for the same catalog are mutually
// exclusive; different catalogs may index concurrently.
type Service struct {
	store    *store.Store
	vectors  vectorstore.Store
	embedder oracle.Embedder
	logger   *logging.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewService creates an indexing service.
func NewService(st *store.Store, vectors vectorstore.Store, embedder oracle.Embedder, logger *logging.Logger) *Service {
	return &Service{
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		logger:   logger.Named("indexer"),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *Service) catalogLock(catalogID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[catalogID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[catalogID] = lock
	}
	return lock
}

// Reindex embeds a catalog's current chunks into the vector store. With
// force set, all existing embeddings are deleted first and everything is
// rebuilt from scratch. Rejected sources are cleaned up on every pass.
// Unchanged chunks (identical content) are not re-embedded; only their
// metadata and point payload are refreshed.
func (s *Service) Reindex(ctx context.Context, catalogID uuid.UUID, force bool) (*Summary, error) {
	lock := s.catalogLock(catalogID)
	if !lock.TryLock() {
		return nil, fmt.Errorf("%w %s", ErrReindexInProgress, catalogID)
	}
	defer lock.Unlock()

	catalog, err := s.store.GetCatalog(ctx, catalogID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}

	if force {
		deleted, err := s.forceDelete(ctx, catalogID)
		if err != nil {
			return nil, err
		}
		summary.ForceDeleted = deleted
	}

	// Rejected cleanup runs on every pass; after a force delete it is a
	// no-op since the embeddings are already gone.
	deleted, err := s.cleanupRejected(ctx, catalogID)
	if err != nil {
		return nil, err
	}
	summary.RejectedDeleted = deleted

	chunks, err := s.collectChunks(ctx, *catalog)
	if err != nil {
		return nil, err
	}
	if err := s.upsertChunks(ctx, catalogID, chunks, summary); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "reindex complete",
		zap.String("catalog_id", catalogID.String()),
		zap.Bool("force", force),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("rejected_deleted", summary.RejectedDeleted),
		zap.Int("force_deleted", summary.ForceDeleted),
	)
	return summary, nil
}

// forceDelete removes every embedding of the catalog from both stores.
// Relational delete is staged first, vectors are deleted while the
// transaction is open, and the relational side commits only after the
// vector delete succeeded.
func (s *Service) forceDelete(ctx context.Context, catalogID uuid.UUID) (int, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	pointIDs, err := tx.DeleteEmbeddingsByCatalog(catalogID)
	if err != nil {
		return 0, err
	}
	if _, err := s.vectors.DeleteByCatalog(ctx, catalogID); err != nil {
		return 0, fmt.Errorf("deleting catalog vectors: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(pointIDs), nil
}

// cleanupRejected removes embeddings whose source entity has since been
// rejected. The misspelled legacy status counts as rejected.
func (s *Service) cleanupRejected(ctx context.Context, catalogID uuid.UUID) (int, error) {
	statuses := []string{domain.StatusRejected, domain.StatusRejectedTypo}

	var refs []domain.EntityRef
	notes, err := s.store.ListNotes(ctx, catalogID, statuses)
	if err != nil {
		return 0, err
	}
	for _, n := range notes {
		refs = append(refs, domain.EntityRef{Kind: domain.KindNote, ID: n.ID})
	}
	metrics, err := s.store.ListMetrics(ctx, catalogID, statuses)
	if err != nil {
		return 0, err
	}
	for _, m := range metrics {
		refs = append(refs, domain.EntityRef{Kind: domain.KindMetric, ID: m.ID})
	}
	examples, err := s.store.ListExamples(ctx, catalogID, statuses)
	if err != nil {
		return 0, err
	}
	for _, e := range examples {
		refs = append(refs, domain.EntityRef{Kind: domain.KindExample, ID: e.ID})
	}
	if len(refs) == 0 {
		return 0, nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var pointIDs []string
	for _, ref := range refs {
		ids, err := tx.DeleteEmbeddingsByEntity(ref)
		if err != nil {
			return 0, err
		}
		pointIDs = append(pointIDs, ids...)
	}
	if len(pointIDs) == 0 {
		return 0, tx.Commit()
	}

	if err := s.vectors.DeleteByIDs(ctx, pointIDs); err != nil {
		return 0, fmt.Errorf("deleting rejected vectors: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(pointIDs), nil
}

// collectChunks loads a catalog's objects and approved knowledge items
// and renders them to chunks.
func (s *Service) collectChunks(ctx context.Context, catalog domain.Catalog) ([]domain.Chunk, error) {
	approved := []string{domain.StatusApproved}

	objects, err := s.store.ListCatalogObjects(ctx, catalog.ID)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, catalog.ID, approved)
	if err != nil {
		return nil, err
	}
	metrics, err := s.store.ListMetrics(ctx, catalog.ID, approved)
	if err != nil {
		return nil, err
	}
	examples, err := s.store.ListExamples(ctx, catalog.ID, approved)
	if err != nil {
		return nil, err
	}
	return chunker.BuildAll(catalog, objects, notes, metrics, examples), nil
}

// upsertChunks embeds new chunks and writes both halves of each record.
// Existing records with identical content are not re-embedded; only their
// metadata is refreshed.
func (s *Service) upsertChunks(ctx context.Context, catalogID uuid.UUID, chunks []domain.Chunk, summary *Summary) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		newChunks []domain.Chunk
		staged    []domain.EmbeddingRecord
	)
	for _, chunk := range chunks {
		existing, err := tx.FindEmbeddingByContent(catalogID, chunk.Content)
		if err == nil {
			if err := tx.UpdateEmbeddingMetadata(existing.ID, chunk.Metadata); err != nil {
				return err
			}
			// The point's payload drives search filters, so it must track
			// the refreshed metadata even when the vector is reused.
			payload := map[string]any{
				vectorstore.FieldCatalogID: catalogID.String(),
				vectorstore.FieldKind:      string(chunk.Kind),
				vectorstore.FieldMetadata:  chunk.Metadata,
			}
			if err := s.vectors.SetPayload(ctx, existing.VectorPointID, payload); err != nil {
				return fmt.Errorf("refreshing vector payload: %w", err)
			}
			summary.Updated++
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		newChunks = append(newChunks, chunk)
	}

	if len(newChunks) == 0 {
		return tx.Commit()
	}

	texts := make([]string, len(newChunks))
	for i, chunk := range newChunks {
		texts[i] = chunk.Content
	}
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(newChunks) {
		return fmt.Errorf("embedding count mismatch: got %d for %d chunks", len(vectors), len(newChunks))
	}

	points := make([]*vectorstore.Point, len(newChunks))
	for i, chunk := range newChunks {
		pointID := uuid.NewString()
		rec := domain.EmbeddingRecord{
			ID:            uuid.New(),
			CatalogID:     catalogID,
			Kind:          chunk.Kind,
			Entity:        chunk.Entity,
			VectorPointID: pointID,
			Content:       chunk.Content,
			Metadata:      chunk.Metadata,
		}
		if err := tx.InsertEmbedding(rec); err != nil {
			return err
		}
		staged = append(staged, rec)
		points[i] = &vectorstore.Point{
			ID:     pointID,
			Vector: vectors[i],
			Payload: map[string]any{
				vectorstore.FieldCatalogID: catalogID.String(),
				vectorstore.FieldKind:      string(chunk.Kind),
				vectorstore.FieldMetadata:  chunk.Metadata,
			},
		}
	}

	if err := s.vectors.UpsertBatch(ctx, points); err != nil {
		s.compensate(ctx, staged)
		return fmt.Errorf("upserting vectors: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.compensate(ctx, staged)
		return err
	}

	summary.Created += len(newChunks)
	return nil
}

// compensate best-effort deletes vector points that may have landed before
// the saga failed. Its own failure is logged and never replaces the
// original error; leftover points are orphans the retrieval join ignores.
func (s *Service) compensate(ctx context.Context, staged []domain.EmbeddingRecord) {
	if len(staged) == 0 {
		return
	}
	pointIDs := make([]string, len(staged))
	for i, rec := range staged {
		pointIDs[i] = rec.VectorPointID
	}
	if err := s.vectors.DeleteByIDs(ctx, pointIDs); err != nil {
		s.logger.Warn(ctx, "compensating vector delete failed, orphan points may remain",
			zap.Int("points", len(pointIDs)),
			zap.Error(err),
		)
	}
}
