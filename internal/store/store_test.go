package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/queryd/internal/domain"
	"github.com/fyrsmithlabs/queryd/internal/guardrails"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCatalog(t *testing.T, s *Store) *domain.Catalog {
	t.Helper()
	catalog := domain.Catalog{
		ID:       uuid.New(),
		Name:     "warehouse",
		Engine:   "postgres",
		IsActive: true,
	}
	require.NoError(t, s.InsertCatalog(context.Background(), catalog))
	return &catalog
}

func TestCatalogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	got, err := s.GetCatalog(ctx, catalog.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.Name, got.Name)
	assert.Equal(t, catalog.Engine, got.Engine)
	assert.True(t, got.IsActive)

	byName, err := s.GetCatalogByName(ctx, "warehouse")
	require.NoError(t, err)
	assert.Equal(t, catalog.ID, byName.ID)

	_, err = s.GetCatalog(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogObjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	objects := []domain.CatalogObject{
		{
			ID: uuid.New(), CatalogID: catalog.ID, ObjectType: "table",
			SchemaName: "public", TableName: "users",
			Comment: "registered users",
		},
		{
			ID: uuid.New(), CatalogID: catalog.ID, ObjectType: "column",
			SchemaName: "public", TableName: "users", ColumnName: "id",
			DataType: "bigint", IsNullable: false, IsPrimaryKey: true,
		},
		{
			ID: uuid.New(), CatalogID: catalog.ID, ObjectType: "column",
			SchemaName: "public", TableName: "users", ColumnName: "email",
			DataType: "text", IsNullable: false,
		},
	}
	require.NoError(t, s.InsertCatalogObjects(ctx, objects))

	got, err := s.ListCatalogObjects(ctx, catalog.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Table rows sort before their columns.
	assert.Equal(t, "table", got[0].ObjectType)
	assert.True(t, got[1].ObjectType == "column" && got[2].ObjectType == "column")
}

func TestKnowledgeItemsStatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	for _, status := range []string{
		domain.StatusApproved, domain.StatusPending,
		domain.StatusRejected, domain.StatusRejectedTypo,
	} {
		require.NoError(t, s.InsertNote(ctx, domain.Note{
			ID: uuid.New(), CatalogID: catalog.ID,
			Title: "note " + status, Content: "content", Status: status,
			Tags: []string{"ops"},
		}))
	}

	approved, err := s.ListNotes(ctx, catalog.ID, []string{domain.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "note approved", approved[0].Title)
	assert.Equal(t, []string{"ops"}, approved[0].Tags)

	// The historical misspelled status is queryable alongside the correct one.
	rejected, err := s.ListNotes(ctx, catalog.ID,
		[]string{domain.StatusRejected, domain.StatusRejectedTypo})
	require.NoError(t, err)
	assert.Len(t, rejected, 2)

	all, err := s.ListNotes(ctx, catalog.ID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMetricsAndExamples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	require.NoError(t, s.InsertMetric(ctx, domain.Metric{
		ID: uuid.New(), CatalogID: catalog.ID, Name: "monthly_revenue",
		Description: "Total revenue per month", Expression: "SUM(total_amount)",
		Status: domain.StatusApproved,
	}))
	require.NoError(t, s.InsertExample(ctx, domain.Example{
		ID: uuid.New(), CatalogID: catalog.ID, Title: "top customers",
		SQLSnippet: "SELECT user_id FROM orders GROUP BY user_id",
		Engine:     "postgres", Status: domain.StatusApproved,
	}))

	metrics, err := s.ListMetrics(ctx, catalog.ID, []string{domain.StatusApproved})
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, "SUM(total_amount)", metrics[0].Expression)

	examples, err := s.ListExamples(ctx, catalog.ID, []string{domain.StatusApproved})
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, "top customers", examples[0].Title)
}

func TestPolicyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	_, err := s.GetPolicy(ctx, catalog.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	policy := guardrails.Policy{
		AllowWrite:        false,
		DefaultLimit:      500,
		BannedTables:      []string{"salaries"},
		BannedSchemas:     []string{"internal"},
		PIITags:           []string{"email", "ssn"},
		PIIMaskingEnabled: true,
		MaxRowsReturned:   1000,
		BlockedFunctions:  []string{"LOAD_FILE"},
	}
	require.NoError(t, s.UpsertPolicy(ctx, catalog.ID, policy))

	got, err := s.GetPolicy(ctx, catalog.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, got.DefaultLimit)
	assert.Equal(t, []string{"salaries"}, got.BannedTables)
	assert.True(t, got.PIIMaskingEnabled)
	// No allow-list stored means no allow-list enforced.
	assert.Nil(t, got.AllowedFunctions)

	policy.AllowedFunctions = []string{"COUNT", "SUM"}
	policy.DefaultLimit = 100
	require.NoError(t, s.UpsertPolicy(ctx, catalog.ID, policy))

	got, err = s.GetPolicy(ctx, catalog.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.DefaultLimit)
	assert.Equal(t, []string{"COUNT", "SUM"}, got.AllowedFunctions)
}

func TestEmbeddingTxLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	noteID := uuid.New()
	rec := domain.EmbeddingRecord{
		ID:            uuid.New(),
		CatalogID:     catalog.ID,
		Kind:          domain.KindNote,
		Entity:        &domain.EntityRef{Kind: domain.KindNote, ID: noteID},
		VectorPointID: uuid.NewString(),
		Content:       "Note: naming\nContent: use snake_case",
		Metadata:      map[string]any{"title": "naming"},
	}

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertEmbedding(rec))

	// Uncommitted rows are invisible outside the transaction.
	_, err = s.GetEmbeddingByPointID(ctx, rec.VectorPointID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tx.Commit())

	got, err := s.GetEmbeddingByPointID(ctx, rec.VectorPointID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
	require.NotNil(t, got.Entity)
	assert.Equal(t, noteID, got.Entity.ID)
	assert.Equal(t, domain.KindNote, got.Entity.Kind)
	assert.Equal(t, "naming", got.Metadata["title"])

	count, err := s.CountEmbeddings(ctx, catalog.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTxRollbackDiscardsStagedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertEmbedding(domain.EmbeddingRecord{
		ID: uuid.New(), CatalogID: catalog.ID, Kind: domain.KindObject,
		VectorPointID: uuid.NewString(), Content: "Table: public.users",
	}))
	require.NoError(t, tx.Rollback())

	count, err := s.CountEmbeddings(ctx, catalog.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Rollback after commit is a no-op.
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback())
}

func TestDeleteEmbeddingsByCatalogReturnsPointIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	pointA, pointB := uuid.NewString(), uuid.NewString()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for i, point := range []string{pointA, pointB} {
		require.NoError(t, tx.InsertEmbedding(domain.EmbeddingRecord{
			ID: uuid.New(), CatalogID: catalog.ID, Kind: domain.KindObject,
			VectorPointID: point, Content: "Table: public.t" + string(rune('a'+i)),
		}))
	}
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	pointIDs, err := tx.DeleteEmbeddingsByCatalog(catalog.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pointA, pointB}, pointIDs)
	require.NoError(t, tx.Commit())

	count, err := s.CountEmbeddings(ctx, catalog.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteEmbeddingsByEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	noteID := uuid.New()
	keepPoint, dropPoint := uuid.NewString(), uuid.NewString()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertEmbedding(domain.EmbeddingRecord{
		ID: uuid.New(), CatalogID: catalog.ID, Kind: domain.KindObject,
		VectorPointID: keepPoint, Content: "Table: public.users",
	}))
	require.NoError(t, tx.InsertEmbedding(domain.EmbeddingRecord{
		ID: uuid.New(), CatalogID: catalog.ID, Kind: domain.KindNote,
		Entity:        &domain.EntityRef{Kind: domain.KindNote, ID: noteID},
		VectorPointID: dropPoint, Content: "Note: stale",
	}))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	pointIDs, err := tx.DeleteEmbeddingsByEntity(domain.EntityRef{Kind: domain.KindNote, ID: noteID})
	require.NoError(t, err)
	assert.Equal(t, []string{dropPoint}, pointIDs)
	require.NoError(t, tx.Commit())

	// The unrelated record survives.
	_, err = s.GetEmbeddingByPointID(ctx, keepPoint)
	assert.NoError(t, err)
	_, err = s.GetEmbeddingByPointID(ctx, dropPoint)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindEmbeddingByContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	content := "Metric: monthly_revenue\nExpression: SUM(total_amount)"
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	rec := domain.EmbeddingRecord{
		ID: uuid.New(), CatalogID: catalog.ID, Kind: domain.KindMetric,
		VectorPointID: uuid.NewString(), Content: content,
	}
	require.NoError(t, tx.InsertEmbedding(rec))

	// Staged rows are visible inside the same transaction.
	found, err := tx.FindEmbeddingByContent(catalog.ID, content)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)

	_, err = tx.FindEmbeddingByContent(catalog.ID, "no such chunk")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tx.UpdateEmbeddingMetadata(rec.ID, map[string]any{"kind": "metric"}))
	require.NoError(t, tx.Commit())

	got, err := s.GetEmbeddingByPointID(ctx, rec.VectorPointID)
	require.NoError(t, err)
	assert.Equal(t, "metric", got.Metadata["kind"])
}

func TestContextSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	require.NoError(t, s.InsertCatalogObjects(ctx, []domain.CatalogObject{
		{ID: uuid.New(), CatalogID: catalog.ID, ObjectType: "table", SchemaName: "public", TableName: "users"},
		{ID: uuid.New(), CatalogID: catalog.ID, ObjectType: "column", SchemaName: "public", TableName: "users", ColumnName: "id"},
	}))
	require.NoError(t, s.InsertNote(ctx, domain.Note{
		ID: uuid.New(), CatalogID: catalog.ID, Title: "a", Content: "b",
		Status: domain.StatusApproved,
	}))
	require.NoError(t, s.InsertNote(ctx, domain.Note{
		ID: uuid.New(), CatalogID: catalog.ID, Title: "c", Content: "d",
		Status: domain.StatusPending,
	}))

	summary, err := s.GetContextSummary(ctx, catalog.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Objects)
	assert.Equal(t, 1, summary.Notes)
	assert.Equal(t, 0, summary.Metrics)
	assert.Equal(t, 0, summary.Embeddings)
	assert.Equal(t, []string{"public.users"}, summary.Tables)
}

func TestInsertHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	catalog := seedCatalog(t, s)

	require.NoError(t, s.InsertHistory(ctx, HistoryRecord{
		CatalogID:        catalog.ID,
		Question:         "how many users signed up last month",
		GeneratedSQL:     "SELECT COUNT(*) FROM users",
		Status:           "success",
		GenerationTimeMS: 420,
		TokensUsed:       1234,
	}))

	var count int
	require.NoError(t, s.db.QueryRow(
		"SELECT COUNT(*) FROM query_history WHERE catalog_id = ?",
		catalog.ID.String()).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGetCatalogQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT id, name, engine, is_active FROM catalogs").
		WithArgs(id.String()).
		WillReturnError(assert.AnError)

	s := NewWithDB(db)
	_, err = s.GetCatalog(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(assert.AnError)

	s := NewWithDB(db)
	_, err = s.Begin(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
