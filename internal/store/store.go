// Package store is the SQLite-backed metadata store. It holds catalogs,
// knowledge items, guardrail policies, the relational half of every
// embedding, and the query history. The relational side is the source of
// truth for what is indexed; the vector store is treated as a cache that
// must only ever trail it.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/queryd/internal/domain"
	"github.com/fyrsmithlabs/queryd/internal/guardrails"
	"github.com/fyrsmithlabs/queryd/internal/store/migrations"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides access to the metadata database.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the metadata database under dataDir
// and applies pending migrations. WAL mode keeps readers unblocked during
// indexing transactions.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".queryd", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "metadata.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing database handle. Migrations are not run;
// the caller owns the schema. Used with sqlmock in tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies all pending NNN_*.up.sql migrations in order.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// ==================== Catalogs ====================

// GetCatalog fetches a catalog by ID.
func (s *Store) GetCatalog(ctx context.Context, id uuid.UUID) (*domain.Catalog, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, engine, is_active FROM catalogs WHERE id = ?", id.String())
	return scanCatalog(row)
}

// GetCatalogByName fetches a catalog by its unique name.
func (s *Store) GetCatalogByName(ctx context.Context, name string) (*domain.Catalog, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, engine, is_active FROM catalogs WHERE name = ?", name)
	return scanCatalog(row)
}

func scanCatalog(row *sql.Row) (*domain.Catalog, error) {
	var c domain.Catalog
	var id string
	err := row.Scan(&id, &c.Name, &c.Engine, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning catalog: %w", err)
	}
	c.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog id: %w", err)
	}
	return &c, nil
}

// InsertCatalog stores a new catalog.
func (s *Store) InsertCatalog(ctx context.Context, c domain.Catalog) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO catalogs (id, name, engine, is_active) VALUES (?, ?, ?, ?)",
		c.ID.String(), c.Name, c.Engine, c.IsActive)
	if err != nil {
		return fmt.Errorf("inserting catalog: %w", err)
	}
	return nil
}

// ==================== Catalog objects ====================

// ListCatalogObjects returns every object row of a catalog, tables and
// columns alike, ordered so columns of one table are contiguous.
func (s *Store) ListCatalogObjects(ctx context.Context, catalogID uuid.UUID) ([]domain.CatalogObject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, catalog_id, object_type, schema_name, table_name, column_name,
		       data_type, is_nullable, is_primary_key, is_foreign_key, comment
		FROM catalog_objects
		WHERE catalog_id = ?
		ORDER BY schema_name, table_name, object_type DESC, column_name`,
		catalogID.String())
	if err != nil {
		return nil, fmt.Errorf("listing catalog objects: %w", err)
	}
	defer rows.Close()

	var objects []domain.CatalogObject
	for rows.Next() {
		var o domain.CatalogObject
		var id, catID string
		if err := rows.Scan(&id, &catID, &o.ObjectType, &o.SchemaName, &o.TableName,
			&o.ColumnName, &o.DataType, &o.IsNullable, &o.IsPrimaryKey, &o.IsForeignKey,
			&o.Comment); err != nil {
			return nil, fmt.Errorf("scanning catalog object: %w", err)
		}
		if o.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing object id: %w", err)
		}
		if o.CatalogID, err = uuid.Parse(catID); err != nil {
			return nil, fmt.Errorf("parsing object catalog id: %w", err)
		}
		objects = append(objects, o)
	}
	return objects, rows.Err()
}

// InsertCatalogObjects stores object rows in one transaction.
func (s *Store) InsertCatalogObjects(ctx context.Context, objects []domain.CatalogObject) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_objects (id, catalog_id, object_type, schema_name, table_name,
		    column_name, data_type, is_nullable, is_primary_key, is_foreign_key, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range objects {
		if _, err := stmt.ExecContext(ctx, o.ID.String(), o.CatalogID.String(), o.ObjectType,
			o.SchemaName, o.TableName, o.ColumnName, o.DataType, o.IsNullable,
			o.IsPrimaryKey, o.IsForeignKey, o.Comment); err != nil {
			return fmt.Errorf("inserting catalog object: %w", err)
		}
	}
	return tx.Commit()
}

// ==================== Knowledge items ====================

// ListNotes returns a catalog's notes filtered by status.
func (s *Store) ListNotes(ctx context.Context, catalogID uuid.UUID, statuses []string) ([]domain.Note, error) {
	query, args := statusQuery(
		"SELECT id, catalog_id, title, content, tags, status FROM notes WHERE catalog_id = ?",
		catalogID, statuses)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var n domain.Note
		var id, catID, tags string
		if err := rows.Scan(&id, &catID, &n.Title, &n.Content, &tags, &n.Status); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		if err := fillIDs(&n.ID, &n.CatalogID, id, catID); err != nil {
			return nil, err
		}
		if n.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// ListMetrics returns a catalog's metrics filtered by status.
func (s *Store) ListMetrics(ctx context.Context, catalogID uuid.UUID, statuses []string) ([]domain.Metric, error) {
	query, args := statusQuery(
		"SELECT id, catalog_id, name, description, expression, engine, tags, status FROM metrics WHERE catalog_id = ?",
		catalogID, statuses)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing metrics: %w", err)
	}
	defer rows.Close()

	var metrics []domain.Metric
	for rows.Next() {
		var m domain.Metric
		var id, catID, tags string
		if err := rows.Scan(&id, &catID, &m.Name, &m.Description, &m.Expression,
			&m.Engine, &tags, &m.Status); err != nil {
			return nil, fmt.Errorf("scanning metric: %w", err)
		}
		if err := fillIDs(&m.ID, &m.CatalogID, id, catID); err != nil {
			return nil, err
		}
		if m.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// ListExamples returns a catalog's examples filtered by status.
func (s *Store) ListExamples(ctx context.Context, catalogID uuid.UUID, statuses []string) ([]domain.Example, error) {
	query, args := statusQuery(
		"SELECT id, catalog_id, title, description, sql_snippet, engine, tags, status FROM examples WHERE catalog_id = ?",
		catalogID, statuses)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing examples: %w", err)
	}
	defer rows.Close()

	var examples []domain.Example
	for rows.Next() {
		var e domain.Example
		var id, catID, tags string
		if err := rows.Scan(&id, &catID, &e.Title, &e.Description, &e.SQLSnippet,
			&e.Engine, &tags, &e.Status); err != nil {
			return nil, fmt.Errorf("scanning example: %w", err)
		}
		if err := fillIDs(&e.ID, &e.CatalogID, id, catID); err != nil {
			return nil, err
		}
		if e.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		examples = append(examples, e)
	}
	return examples, rows.Err()
}

// InsertNote stores a note.
func (s *Store) InsertNote(ctx context.Context, n domain.Note) error {
	tags, err := encodeTags(n.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO notes (id, catalog_id, title, content, tags, status) VALUES (?, ?, ?, ?, ?, ?)",
		n.ID.String(), n.CatalogID.String(), n.Title, n.Content, tags, n.Status)
	if err != nil {
		return fmt.Errorf("inserting note: %w", err)
	}
	return nil
}

// UpdateNoteStatus moves a note through the review workflow.
func (s *Store) UpdateNoteStatus(ctx context.Context, id uuid.UUID, status string) error {
	return s.updateStatus(ctx, "notes", id, status)
}

// UpdateMetricStatus moves a metric through the review workflow.
func (s *Store) UpdateMetricStatus(ctx context.Context, id uuid.UUID, status string) error {
	return s.updateStatus(ctx, "metrics", id, status)
}

// UpdateExampleStatus moves an example through the review workflow.
func (s *Store) UpdateExampleStatus(ctx context.Context, id uuid.UUID, status string) error {
	return s.updateStatus(ctx, "examples", id, status)
}

func (s *Store) updateStatus(ctx context.Context, table string, id uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE "+table+" SET status = ? WHERE id = ?", status, id.String())
	if err != nil {
		return fmt.Errorf("updating %s status: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking %s status update: %w", table, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", table, ErrNotFound)
	}
	return nil
}

// InsertMetric stores a metric.
func (s *Store) InsertMetric(ctx context.Context, m domain.Metric) error {
	tags, err := encodeTags(m.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO metrics (id, catalog_id, name, description, expression, engine, tags, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		m.ID.String(), m.CatalogID.String(), m.Name, m.Description, m.Expression, m.Engine, tags, m.Status)
	if err != nil {
		return fmt.Errorf("inserting metric: %w", err)
	}
	return nil
}

// InsertExample stores an example.
func (s *Store) InsertExample(ctx context.Context, e domain.Example) error {
	tags, err := encodeTags(e.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO examples (id, catalog_id, title, description, sql_snippet, engine, tags, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID.String(), e.CatalogID.String(), e.Title, e.Description, e.SQLSnippet, e.Engine, tags, e.Status)
	if err != nil {
		return fmt.Errorf("inserting example: %w", err)
	}
	return nil
}

// ==================== Policies ====================

// GetPolicy fetches the guardrail policy for a catalog. ErrNotFound means
// no policy row exists; callers fall back to the default policy.
func (s *Store) GetPolicy(ctx context.Context, catalogID uuid.UUID) (*guardrails.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT allow_write, default_limit, banned_tables, banned_columns, banned_schemas,
		       pii_tags, pii_masking_enabled, max_rows_returned, allowed_functions, blocked_functions
		FROM policies WHERE catalog_id = ?`, catalogID.String())

	var p guardrails.Policy
	var bannedTables, bannedColumns, bannedSchemas, piiTags, blockedFns string
	var allowedFns sql.NullString
	err := row.Scan(&p.AllowWrite, &p.DefaultLimit, &bannedTables, &bannedColumns,
		&bannedSchemas, &piiTags, &p.PIIMaskingEnabled, &p.MaxRowsReturned,
		&allowedFns, &blockedFns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning policy: %w", err)
	}

	for _, pair := range []struct {
		raw  string
		dest *[]string
	}{
		{bannedTables, &p.BannedTables},
		{bannedColumns, &p.BannedColumns},
		{bannedSchemas, &p.BannedSchemas},
		{piiTags, &p.PIITags},
		{blockedFns, &p.BlockedFunctions},
	} {
		if *pair.dest, err = decodeTags(pair.raw); err != nil {
			return nil, err
		}
	}
	// NULL means no allow-list; an empty JSON array means allow nothing.
	if allowedFns.Valid {
		list, err := decodeTags(allowedFns.String)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []string{}
		}
		p.AllowedFunctions = list
	}
	return &p, nil
}

// UpsertPolicy stores or replaces a catalog's policy.
func (s *Store) UpsertPolicy(ctx context.Context, catalogID uuid.UUID, p guardrails.Policy) error {
	encode := func(items []string) (string, error) {
		if items == nil {
			items = []string{}
		}
		return encodeTags(items)
	}
	bannedTables, err := encode(p.BannedTables)
	if err != nil {
		return err
	}
	bannedColumns, err := encode(p.BannedColumns)
	if err != nil {
		return err
	}
	bannedSchemas, err := encode(p.BannedSchemas)
	if err != nil {
		return err
	}
	piiTags, err := encode(p.PIITags)
	if err != nil {
		return err
	}
	blockedFns, err := encode(p.BlockedFunctions)
	if err != nil {
		return err
	}
	var allowedFns any
	if p.AllowedFunctions != nil {
		encoded, err := encode(p.AllowedFunctions)
		if err != nil {
			return err
		}
		allowedFns = encoded
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (catalog_id, allow_write, default_limit, banned_tables,
		    banned_columns, banned_schemas, pii_tags, pii_masking_enabled,
		    max_rows_returned, allowed_functions, blocked_functions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(catalog_id) DO UPDATE SET
		    allow_write = excluded.allow_write,
		    default_limit = excluded.default_limit,
		    banned_tables = excluded.banned_tables,
		    banned_columns = excluded.banned_columns,
		    banned_schemas = excluded.banned_schemas,
		    pii_tags = excluded.pii_tags,
		    pii_masking_enabled = excluded.pii_masking_enabled,
		    max_rows_returned = excluded.max_rows_returned,
		    allowed_functions = excluded.allowed_functions,
		    blocked_functions = excluded.blocked_functions`,
		catalogID.String(), p.AllowWrite, p.DefaultLimit, bannedTables, bannedColumns,
		bannedSchemas, piiTags, p.PIIMaskingEnabled, p.MaxRowsReturned, allowedFns, blockedFns)
	if err != nil {
		return fmt.Errorf("upserting policy: %w", err)
	}
	return nil
}

// ==================== Embeddings ====================

// GetEmbeddingByPointID joins a vector search hit back to its relational
// record.
func (s *Store) GetEmbeddingByPointID(ctx context.Context, pointID string) (*domain.EmbeddingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, catalog_id, kind, entity_kind, entity_id, vector_point_id, content, metadata
		FROM embeddings WHERE vector_point_id = ?`, pointID)
	return scanEmbedding(row)
}

// CountEmbeddings counts a catalog's embedding records.
func (s *Store) CountEmbeddings(ctx context.Context, catalogID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM embeddings WHERE catalog_id = ?", catalogID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting embeddings: %w", err)
	}
	return count, nil
}

// ContextSummary describes what a catalog contributes to retrieval.
type ContextSummary struct {
	Objects    int      `json:"objects"`
	Notes      int      `json:"notes"`
	Metrics    int      `json:"metrics"`
	Examples   int      `json:"examples"`
	Embeddings int      `json:"embeddings"`
	Tables     []string `json:"tables"`
}

// GetContextSummary counts a catalog's objects, approved knowledge items
// and embedding records, plus the schema-qualified tables it covers.
func (s *Store) GetContextSummary(ctx context.Context, catalogID uuid.UUID) (*ContextSummary, error) {
	var summary ContextSummary
	id := catalogID.String()
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM catalog_objects WHERE catalog_id = ?", &summary.Objects},
		{"SELECT COUNT(*) FROM notes WHERE catalog_id = ? AND status = 'approved'", &summary.Notes},
		{"SELECT COUNT(*) FROM metrics WHERE catalog_id = ? AND status = 'approved'", &summary.Metrics},
		{"SELECT COUNT(*) FROM examples WHERE catalog_id = ? AND status = 'approved'", &summary.Examples},
		{"SELECT COUNT(*) FROM embeddings WHERE catalog_id = ?", &summary.Embeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, id).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting context: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT schema_name || '.' || table_name FROM catalog_objects
		 WHERE catalog_id = ? ORDER BY 1`, id)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		summary.Tables = append(summary.Tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	return &summary, nil
}

func scanEmbedding(row *sql.Row) (*domain.EmbeddingRecord, error) {
	var rec domain.EmbeddingRecord
	var id, catID, kind, entityKind, entityID, metadata string
	err := row.Scan(&id, &catID, &kind, &entityKind, &entityID, &rec.VectorPointID,
		&rec.Content, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("embedding: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning embedding: %w", err)
	}
	if err := fillIDs(&rec.ID, &rec.CatalogID, id, catID); err != nil {
		return nil, err
	}
	rec.Kind = domain.ChunkKind(kind)
	if entityKind != "" && entityID != "" {
		eid, err := uuid.Parse(entityID)
		if err != nil {
			return nil, fmt.Errorf("parsing entity id: %w", err)
		}
		rec.Entity = &domain.EntityRef{Kind: domain.ChunkKind(entityKind), ID: eid}
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding embedding metadata: %w", err)
		}
	}
	return &rec, nil
}

// ==================== Query history ====================

// HistoryRecord is one generation attempt, successful or not.
type HistoryRecord struct {
	ID               uuid.UUID
	CatalogID        uuid.UUID
	Question         string
	GeneratedSQL     string
	Status           string // "success", "policy_violation" or "error"
	Error            string
	GenerationTimeMS int64
	TokensUsed       int
}

// InsertHistory records a generation attempt. History is advisory; callers
// log and continue on failure.
func (s *Store) InsertHistory(ctx context.Context, rec HistoryRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_history (id, catalog_id, question, generated_sql, status, error,
		    generation_time_ms, tokens_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.CatalogID.String(), rec.Question, rec.GeneratedSQL,
		rec.Status, rec.Error, rec.GenerationTimeMS, rec.TokensUsed)
	if err != nil {
		return fmt.Errorf("inserting history: %w", err)
	}
	return nil
}

// CountHistoryByStatus counts a catalog's history entries with the given
// outcome status.
func (s *Store) CountHistoryByStatus(ctx context.Context, catalogID uuid.UUID, status string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM query_history WHERE catalog_id = ? AND status = ?",
		catalogID.String(), status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return count, nil
}

// ==================== Helpers ====================

func statusQuery(base string, catalogID uuid.UUID, statuses []string) (string, []any) {
	args := []any{catalogID.String()}
	if len(statuses) == 0 {
		return base, args
	}
	placeholders := make([]string, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, st)
	}
	return base + " AND status IN (" + strings.Join(placeholders, ", ") + ")", args
}

func fillIDs(id, catalogID *uuid.UUID, rawID, rawCatalogID string) error {
	parsed, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("parsing id: %w", err)
	}
	*id = parsed
	parsed, err = uuid.Parse(rawCatalogID)
	if err != nil {
		return fmt.Errorf("parsing catalog id: %w", err)
	}
	*catalogID = parsed
	return nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		return "[]", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}
