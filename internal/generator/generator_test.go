package generator

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/queryd/internal/domain"
	"github.com/fyrsmithlabs/queryd/internal/guardrails"
	"github.com/fyrsmithlabs/queryd/internal/indexer"
	"github.com/fyrsmithlabs/queryd/internal/logging"
	"github.com/fyrsmithlabs/queryd/internal/oracle"
	"github.com/fyrsmithlabs/queryd/internal/prompt"
	"github.com/fyrsmithlabs/queryd/internal/retrieval"
	"github.com/fyrsmithlabs/queryd/internal/store"
	"github.com/fyrsmithlabs/queryd/internal/vectorstore"
)

type fixture struct {
	store   *store.Store
	oracle  *oracle.FakeOracle
	service *Service
	catalog *domain.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	catalog := domain.Catalog{ID: uuid.New(), Name: "warehouse", Engine: "postgres", IsActive: true}
	require.NoError(t, st.InsertCatalog(ctx, catalog))
	require.NoError(t, st.InsertCatalogObjects(ctx, []domain.CatalogObject{
		{
			ID: uuid.New(), CatalogID: catalog.ID, ObjectType: "table",
			SchemaName: "public", TableName: "users",
		},
		{
			ID: uuid.New(), CatalogID: catalog.ID, ObjectType: "column",
			SchemaName: "public", TableName: "users", ColumnName: "id",
			DataType: "bigint",
		},
	}))

	vectors := vectorstore.NewMemoryStore()
	fake := &oracle.FakeOracle{Dim: 8}
	logger := logging.NewNop()

	_, err = indexer.NewService(st, vectors, fake, logger).Reindex(ctx, catalog.ID, false)
	require.NoError(t, err)

	retriever := retrieval.NewEngine(st, vectors, fake, logger)
	service := NewService(st, retriever, fake, guardrails.NewEngine(logger), Config{}, logger)
	return &fixture{store: st, oracle: fake, service: service, catalog: &catalog}
}

func (f *fixture) request() GenerationRequest {
	return GenerationRequest{
		CatalogID: f.catalog.ID,
		Engine:    "postgres",
		Question:  "how many users do we have",
	}
}

func countHistory(t *testing.T, f *fixture, status string) int {
	t.Helper()
	count, err := f.store.CountHistoryByStatus(context.Background(), f.catalog.ID, status)
	require.NoError(t, err)
	return count
}

func TestGenerateSuccess(t *testing.T) {
	f := newFixture(t)
	f.oracle.Response = `{"sql": "SELECT id FROM users", "explanation": "counts users"}`
	f.oracle.Usage = oracle.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}

	resp, err := f.service.Generate(context.Background(), f.request())
	require.NoError(t, err)

	require.NotNil(t, resp.SQL)
	// The default policy injects LIMIT 1000 into unbounded reads.
	assert.Equal(t, "SELECT id FROM users LIMIT 1000", *resp.SQL)
	require.NotNil(t, resp.Explanation)
	assert.Equal(t, "counts users", *resp.Explanation)
	assert.True(t, resp.Validation.SyntaxValid)
	assert.Equal(t, []string{"users"}, resp.Validation.ParsedTables)
	assert.True(t, resp.Policy.DefaultLimitApplied)
	assert.False(t, resp.Policy.PIIMaskingApplied)
	assert.Empty(t, resp.Policy.Violations)
	assert.Equal(t, 1, resp.ContextUsed)
	require.NotNil(t, resp.TokensUsed)
	assert.Equal(t, 120, resp.TokensUsed.TotalTokens)

	assert.Equal(t, 1, countHistory(t, f, "success"))
}

func TestGeneratePolicyViolation(t *testing.T) {
	f := newFixture(t)
	f.oracle.Response = `{"sql": "DELETE FROM users", "explanation": "removes users"}`

	resp, err := f.service.Generate(context.Background(), f.request())
	require.NoError(t, err)

	assert.Nil(t, resp.SQL)
	assert.Nil(t, resp.Explanation)
	assert.Contains(t, resp.Policy.Violations, "Write operations not allowed")
	assert.Equal(t, 1, countHistory(t, f, "policy_violation"))
}

func TestGenerateWithStoredPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPolicy(ctx, f.catalog.ID, guardrails.Policy{
		DefaultLimit:      100,
		PIITags:           []string{"email"},
		PIIMaskingEnabled: true,
	}))
	f.oracle.Response = `{"sql": "SELECT email FROM users", "explanation": "lists emails"}`

	resp, err := f.service.Generate(ctx, f.request())
	require.NoError(t, err)
	require.NotNil(t, resp.SQL)
	assert.Equal(t, "SELECT SHA256(email) FROM users LIMIT 100", *resp.SQL)
	assert.True(t, resp.Policy.PIIMaskingApplied)
	assert.True(t, resp.Policy.DefaultLimitApplied)
}

func TestGenerateSystemPromptCarriesPolicy(t *testing.T) {
	f := newFixture(t)
	f.oracle.Response = `{"sql": "SELECT id FROM users", "explanation": "x"}`

	_, err := f.service.Generate(context.Background(), f.request())
	require.NoError(t, err)
	assert.Contains(t, f.oracle.LastSystemPrompt, "expert POSTGRES SQL generator")
	assert.Contains(t, f.oracle.LastSystemPrompt, "ONLY SELECT queries are allowed")
	assert.Contains(t, f.oracle.LastUserPrompt, "QUESTION:\nhow many users do we have")
	assert.Contains(t, f.oracle.LastUserPrompt, "=== RELEVANT CONTEXT ===")
}

func TestGenerateCatalogNotFound(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.CatalogID = uuid.New()
	_, err := f.service.Generate(context.Background(), req)
	assert.ErrorIs(t, err, ErrCatalogNotFound)
}

func TestGenerateCatalogInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inactive := domain.Catalog{ID: uuid.New(), Name: "stale", Engine: "postgres", IsActive: false}
	require.NoError(t, f.store.InsertCatalog(ctx, inactive))

	req := f.request()
	req.CatalogID = inactive.ID
	_, err := f.service.Generate(ctx, req)
	assert.ErrorIs(t, err, ErrCatalogInactive)
}

func TestGenerateBadModelOutput(t *testing.T) {
	f := newFixture(t)
	f.oracle.Response = "sorry, I cannot do that"

	_, err := f.service.Generate(context.Background(), f.request())
	assert.ErrorIs(t, err, ErrBadModelOutput)
	assert.Equal(t, 1, countHistory(t, f, "error"))
}

func TestGenerateCompleterFailure(t *testing.T) {
	f := newFixture(t)
	f.oracle.CompleteErr = assert.AnError

	_, err := f.service.Generate(context.Background(), f.request())
	require.Error(t, err)
	assert.Equal(t, 1, countHistory(t, f, "error"))
}

func TestGenerateRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request()
	req.Question = "hi"
	_, err := f.service.Generate(ctx, req)
	assert.ErrorContains(t, err, "at least 5 characters")

	req = f.request()
	req.Engine = "oracle11g"
	_, err = f.service.Generate(ctx, req)
	assert.Error(t, err)

	req = f.request()
	req.CatalogID = uuid.Nil
	_, err = f.service.Generate(ctx, req)
	assert.ErrorContains(t, err, "catalog_id is required")
}

func TestGenerateIncludesSteerPrompt(t *testing.T) {
	f := newFixture(t)
	f.oracle.Response = `{"sql": "SELECT id FROM users", "explanation": "x"}`
	req := f.request()
	req.Include = &prompt.Includes{Schemas: []string{"public"}, Tables: []string{"users"}}
	req.Constraints = &prompt.Constraints{TimeRange: "last 30 days"}

	resp, err := f.service.Generate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.SQL)
	assert.Contains(t, f.oracle.LastUserPrompt, "Focus on tables: users")
	assert.Contains(t, f.oracle.LastUserPrompt, "Time range: last 30 days")
}

func TestValidateSyntaxOnly(t *testing.T) {
	f := newFixture(t)

	resp, err := f.service.Validate(context.Background(), ValidationRequest{
		Engine: "postgres",
		SQL:    "SELECT id FROM users",
	})
	require.NoError(t, err)
	assert.True(t, resp.Validation.SyntaxValid)
	assert.Equal(t, []string{"users"}, resp.Validation.ParsedTables)
	assert.Nil(t, resp.Policy)

	resp, err = f.service.Validate(context.Background(), ValidationRequest{
		Engine: "postgres",
		SQL:    "SELEC id FORM users",
	})
	require.NoError(t, err)
	assert.False(t, resp.Validation.SyntaxValid)
	assert.NotEmpty(t, resp.Validation.Errors)
}

func TestValidateWithPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPolicy(ctx, f.catalog.ID, guardrails.Policy{
		DefaultLimit: 1000,
		BannedTables: []string{"salaries"},
	}))

	resp, err := f.service.Validate(ctx, ValidationRequest{
		Engine:    "postgres",
		SQL:       "SELECT amount FROM salaries",
		CatalogID: &f.catalog.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Policy)
	assert.Contains(t, resp.Policy.Violations, "Banned table: salaries")
	// Validation reports but never rewrites.
	assert.False(t, resp.Policy.DefaultLimitApplied)
	assert.False(t, resp.Policy.PIIMaskingApplied)
}

func TestValidateEmptySQL(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Validate(context.Background(), ValidationRequest{Engine: "postgres", SQL: "  "})
	assert.Error(t, err)
}
