package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func point(catalogID uuid.UUID, kind string, vector []float32, meta map[string]any) *Point {
	payload := map[string]any{
		FieldCatalogID: catalogID.String(),
		FieldKind:      kind,
	}
	if meta != nil {
		payload[FieldMetadata] = meta
	}
	return &Point{ID: uuid.NewString(), Vector: vector, Payload: payload}
}

func TestMemoryStoreSearchRanking(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	catalogID := uuid.New()

	close1 := point(catalogID, "object", []float32{1, 0, 0}, nil)
	close2 := point(catalogID, "object", []float32{0.9, 0.1, 0}, nil)
	far := point(catalogID, "object", []float32{0, 0, 1}, nil)
	require.NoError(t, store.UpsertBatch(ctx, []*Point{far, close2, close1}))

	hits, err := store.Search(ctx, []float32{1, 0, 0}, 10, &SearchFilter{CatalogID: catalogID})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, close1.ID, hits[0].Point.ID)
	assert.Equal(t, close2.ID, hits[1].Point.ID)
	assert.Equal(t, far.ID, hits[2].Point.ID)
	assert.True(t, hits[0].Score >= hits[1].Score)
	assert.True(t, hits[1].Score >= hits[2].Score)
}

func TestMemoryStoreSearchLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	catalogID := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.UpsertBatch(ctx, []*Point{
			point(catalogID, "object", []float32{1, float32(i), 0}, nil),
		}))
	}

	hits, err := store.Search(ctx, []float32{1, 0, 0}, 2, &SearchFilter{CatalogID: catalogID})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestMemoryStoreFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	catalogA := uuid.New()
	catalogB := uuid.New()

	tableChunk := point(catalogA, "object", []float32{1, 0, 0}, map[string]any{
		"schema": "public",
		"table":  "users",
	})
	noteChunk := point(catalogA, "note", []float32{1, 0, 0}, nil)
	other := point(catalogB, "object", []float32{1, 0, 0}, nil)
	require.NoError(t, store.UpsertBatch(ctx, []*Point{tableChunk, noteChunk, other}))

	hits, err := store.Search(ctx, []float32{1, 0, 0}, 10, &SearchFilter{CatalogID: catalogA})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = store.Search(ctx, []float32{1, 0, 0}, 10, &SearchFilter{CatalogID: catalogA, Kind: "note"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, noteChunk.ID, hits[0].Point.ID)

	hits, err = store.Search(ctx, []float32{1, 0, 0}, 10, &SearchFilter{
		CatalogID: catalogA,
		Schema:    "public",
		Table:     "users",
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, tableChunk.ID, hits[0].Point.ID)

	hits, err = store.Search(ctx, []float32{1, 0, 0}, 10, &SearchFilter{
		CatalogID: catalogA,
		Table:     "orders",
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryStoreSetPayload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	catalogID := uuid.New()

	p := point(catalogID, "object", []float32{1, 0, 0}, map[string]any{"table": "users"})
	require.NoError(t, store.UpsertBatch(ctx, []*Point{p}))

	require.NoError(t, store.SetPayload(ctx, p.ID, map[string]any{
		FieldMetadata: map[string]any{"table": "orders"},
	}))

	got := store.Get(p.ID)
	require.NotNil(t, got)
	meta, ok := got.Payload[FieldMetadata].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "orders", meta["table"])
	// Fields not named in the payload stay in place.
	assert.Equal(t, "object", got.Payload[FieldKind])

	assert.Error(t, store.SetPayload(ctx, "missing", map[string]any{"k": "v"}))

	store.FailUpserts = true
	require.ErrorIs(t, store.SetPayload(ctx, p.ID, map[string]any{"k": "v"}), ErrInjectedFailure)
}

func TestMemoryStoreDeleteByIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	catalogID := uuid.New()

	p1 := point(catalogID, "object", []float32{1, 0, 0}, nil)
	p2 := point(catalogID, "object", []float32{0, 1, 0}, nil)
	require.NoError(t, store.UpsertBatch(ctx, []*Point{p1, p2}))

	require.NoError(t, store.DeleteByIDs(ctx, []string{p1.ID}))
	assert.Equal(t, 1, store.Len())
	assert.Nil(t, store.Get(p1.ID))
	assert.NotNil(t, store.Get(p2.ID))
}

func TestMemoryStoreDeleteByCatalog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	catalogA := uuid.New()
	catalogB := uuid.New()

	require.NoError(t, store.UpsertBatch(ctx, []*Point{
		point(catalogA, "object", []float32{1, 0, 0}, nil),
		point(catalogA, "note", []float32{0, 1, 0}, nil),
		point(catalogB, "object", []float32{0, 0, 1}, nil),
	}))

	count, err := store.CountByCatalog(ctx, catalogA)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	deleted, err := store.DeleteByCatalog(ctx, catalogA)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), deleted)
	assert.Equal(t, 1, store.Len())

	count, err = store.CountByCatalog(ctx, catalogA)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryStoreInjectedFailures(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	catalogID := uuid.New()
	p := point(catalogID, "object", []float32{1, 0, 0}, nil)

	store.FailUpserts = true
	err := store.UpsertBatch(ctx, []*Point{p})
	require.ErrorIs(t, err, ErrInjectedFailure)
	assert.Zero(t, store.Len())

	store.FailUpserts = false
	require.NoError(t, store.UpsertBatch(ctx, []*Point{p}))

	store.FailDeletes = true
	err = store.DeleteByIDs(ctx, []string{p.ID})
	require.ErrorIs(t, err, ErrInjectedFailure)
	_, err = store.DeleteByCatalog(ctx, catalogID)
	require.ErrorIs(t, err, ErrInjectedFailure)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	catalogID := uuid.New()

	p := point(catalogID, "object", []float32{1, 0, 0}, nil)
	require.NoError(t, store.UpsertBatch(ctx, []*Point{p}))

	got := store.Get(p.ID)
	require.NotNil(t, got)
	got.ID = "changed"
	assert.NotNil(t, store.Get(p.ID))
	assert.Nil(t, store.Get("changed"))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, cosine([]float32{1, 0}, []float32{1}))
	assert.Zero(t, cosine(nil, nil))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestQdrantConfigDefaults(t *testing.T) {
	cfg := &QdrantConfig{VectorSize: 8}
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "queryd_embeddings", cfg.Collection)
	assert.Equal(t, 3, cfg.RetryAttempts)
	require.NoError(t, cfg.Validate())
}

func TestQdrantConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  QdrantConfig
	}{
		{"missing host", QdrantConfig{Port: 6334, VectorSize: 8}},
		{"bad port", QdrantConfig{Host: "localhost", Port: 99999, VectorSize: 8}},
		{"missing vector size", QdrantConfig{Host: "localhost", Port: 6334}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestPayloadConversionRoundTrip(t *testing.T) {
	payload := map[string]any{
		"catalog_id": "abc",
		"count":      int64(7),
		"score":      0.5,
		"active":     true,
		"metadata": map[string]any{
			"schema": "public",
			"tags":   []any{"a", "b"},
		},
	}

	got := fromQdrantPayload(toQdrantPayload(payload))
	assert.Equal(t, payload, got)
}

func TestPayloadConversionEdgeCases(t *testing.T) {
	assert.Nil(t, toQdrantPayload(nil))
	assert.Nil(t, fromQdrantPayload(nil))
	assert.Nil(t, fromQdrantValue(nil))

	// int normalizes to int64, []string to []any.
	got := fromQdrantPayload(toQdrantPayload(map[string]any{
		"n":    3,
		"tags": []string{"x"},
	}))
	assert.Equal(t, int64(3), got["n"])
	assert.Equal(t, []any{"x"}, got["tags"])

	// Unknown types stringify rather than drop.
	v := toQdrantValue(uuid.Nil)
	assert.Equal(t, uuid.Nil.String(), v.GetStringValue())

	null := toQdrantValue(nil)
	_, ok := null.Kind.(*qdrant.Value_NullValue)
	assert.True(t, ok)
	assert.Nil(t, fromQdrantValue(null))
}

func TestTransientErrorDetection(t *testing.T) {
	assert.True(t, isTransientError(status.Error(codes.Unavailable, "server down")))
	assert.True(t, isTransientError(status.Error(codes.DeadlineExceeded, "slow")))
	assert.False(t, isTransientError(status.Error(codes.InvalidArgument, "bad filter")))
	assert.False(t, isTransientError(context.Canceled))
	assert.False(t, isTransientError(ErrInjectedFailure))
}
