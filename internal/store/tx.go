package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/queryd/internal/domain"
)

// Tx stages relational embedding mutations for one indexing pass. Nothing
// becomes visible until Commit; the indexer mutates the vector store while
// the transaction is still open and commits only after the vector side
// succeeded, so the relational rows never claim points that do not exist.
type Tx struct {
	tx  *sql.Tx
	ctx context.Context
}

// Begin opens an indexing transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{tx: tx, ctx: ctx}, nil
}

// Commit commits the staged mutations.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback discards the staged mutations. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// DeleteEmbeddingsByCatalog stages deletion of every embedding record of a
// catalog and returns the vector point IDs those records held.
func (t *Tx) DeleteEmbeddingsByCatalog(catalogID uuid.UUID) ([]string, error) {
	pointIDs, err := t.collectPointIDs(
		"SELECT vector_point_id FROM embeddings WHERE catalog_id = ? AND vector_point_id != ''",
		catalogID.String())
	if err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM embeddings WHERE catalog_id = ?", catalogID.String()); err != nil {
		return nil, fmt.Errorf("deleting embeddings by catalog: %w", err)
	}
	return pointIDs, nil
}

// DeleteEmbeddingsByEntity stages deletion of the embedding records derived
// from one source entity and returns their vector point IDs.
func (t *Tx) DeleteEmbeddingsByEntity(ref domain.EntityRef) ([]string, error) {
	pointIDs, err := t.collectPointIDs(
		"SELECT vector_point_id FROM embeddings WHERE entity_kind = ? AND entity_id = ? AND vector_point_id != ''",
		string(ref.Kind), ref.ID.String())
	if err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM embeddings WHERE entity_kind = ? AND entity_id = ?",
		string(ref.Kind), ref.ID.String()); err != nil {
		return nil, fmt.Errorf("deleting embeddings by entity: %w", err)
	}
	return pointIDs, nil
}

func (t *Tx) collectPointIDs(query string, args ...any) ([]string, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("collecting point ids: %w", err)
	}
	defer rows.Close()

	var pointIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning point id: %w", err)
		}
		pointIDs = append(pointIDs, id)
	}
	return pointIDs, rows.Err()
}

// FindEmbeddingByContent looks up an existing record with identical chunk
// content within the transaction's view.
func (t *Tx) FindEmbeddingByContent(catalogID uuid.UUID, content string) (*domain.EmbeddingRecord, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT id, catalog_id, kind, entity_kind, entity_id, vector_point_id, content, metadata
		FROM embeddings WHERE catalog_id = ? AND content = ?`,
		catalogID.String(), content)
	return scanEmbedding(row)
}

// InsertEmbedding stages a new embedding record.
func (t *Tx) InsertEmbedding(rec domain.EmbeddingRecord) error {
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	var entityKind, entityID string
	if rec.Entity != nil {
		entityKind = string(rec.Entity.Kind)
		entityID = rec.Entity.ID.String()
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO embeddings (id, catalog_id, kind, entity_kind, entity_id,
		    vector_point_id, content, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.CatalogID.String(), string(rec.Kind), entityKind, entityID,
		rec.VectorPointID, rec.Content, metadata)
	if err != nil {
		return fmt.Errorf("inserting embedding: %w", err)
	}
	return nil
}

// UpdateEmbeddingMetadata stages a metadata refresh on an existing record,
// leaving content and vector point untouched.
func (t *Tx) UpdateEmbeddingMetadata(id uuid.UUID, metadata map[string]any) error {
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx,
		"UPDATE embeddings SET metadata = ?, updated_at = ? WHERE id = ?",
		encoded, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("updating embedding metadata: %w", err)
	}
	return nil
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(data), nil
}
