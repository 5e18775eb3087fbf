// Package chunker turns catalog objects and knowledge items into the text
// chunks that get embedded. Chunk text is the identity of an embedding:
// two passes over unchanged sources produce byte-identical chunks, which
// is what lets indexing skip re-embedding unchanged content.
package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/queryd/internal/domain"
)

// BuildAll derives every chunk for a catalog, deduplicated by content.
// Order is stable: tables first (by schema then name), then notes, metrics
// and examples in input order.
func BuildAll(
	catalog domain.Catalog,
	objects []domain.CatalogObject,
	notes []domain.Note,
	metrics []domain.Metric,
	examples []domain.Example,
) []domain.Chunk {
	var chunks []domain.Chunk
	chunks = append(chunks, BuildTableChunks(catalog, objects)...)
	for _, n := range notes {
		chunks = append(chunks, BuildNoteChunk(catalog, n))
	}
	for _, m := range metrics {
		chunks = append(chunks, BuildMetricChunk(catalog, m))
	}
	for _, e := range examples {
		chunks = append(chunks, BuildExampleChunk(catalog, e))
	}

	seen := make(map[string]struct{}, len(chunks))
	deduped := chunks[:0]
	for _, c := range chunks {
		if _, dup := seen[c.Content]; dup {
			continue
		}
		seen[c.Content] = struct{}{}
		deduped = append(deduped, c)
	}
	return deduped
}

// BuildTableChunks produces one chunk per table, folding the table's
// columns into it. Column-only tables (no table row) still get a chunk;
// the entity reference then falls back to the first column's ID.
func BuildTableChunks(catalog domain.Catalog, objects []domain.CatalogObject) []domain.Chunk {
	type tableGroup struct {
		table   *domain.CatalogObject
		columns []domain.CatalogObject
	}

	groups := make(map[string]*tableGroup)
	var keys []string
	for i := range objects {
		o := objects[i]
		key := o.SchemaName + "." + o.TableName
		g, ok := groups[key]
		if !ok {
			g = &tableGroup{}
			groups[key] = g
			keys = append(keys, key)
		}
		switch o.ObjectType {
		case "table":
			g.table = &objects[i]
		case "column":
			g.columns = append(g.columns, o)
		}
	}
	sort.Strings(keys)

	var chunks []domain.Chunk
	for _, key := range keys {
		g := groups[key]
		chunk, ok := buildTableChunk(catalog, key, g.table, g.columns)
		if ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func buildTableChunk(catalog domain.Catalog, qualified string, table *domain.CatalogObject, columns []domain.CatalogObject) (domain.Chunk, bool) {
	if table == nil && len(columns) == 0 {
		return domain.Chunk{}, false
	}

	schema, name, _ := strings.Cut(qualified, ".")

	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", qualified)
	fmt.Fprintf(&b, "Catalog: %s\n", catalog.Name)
	if table != nil && table.Comment != "" {
		fmt.Fprintf(&b, "Description: %s\n", table.Comment)
	}

	sort.Slice(columns, func(i, j int) bool {
		return columns[i].ColumnName < columns[j].ColumnName
	})

	var primaryKeys, foreignKeys []string
	for _, c := range columns {
		if c.IsPrimaryKey {
			primaryKeys = append(primaryKeys, c.ColumnName)
		}
		if c.IsForeignKey {
			foreignKeys = append(foreignKeys, c.ColumnName)
		}
	}
	if len(primaryKeys) > 0 {
		fmt.Fprintf(&b, "Primary Key: %s\n", strings.Join(primaryKeys, ", "))
	}
	if len(foreignKeys) > 0 {
		fmt.Fprintf(&b, "Foreign Keys: %s\n", strings.Join(foreignKeys, ", "))
	}

	if len(columns) > 0 {
		b.WriteString("Columns:\n")
		for _, c := range columns {
			fmt.Fprintf(&b, "  - %s (%s)", c.ColumnName, c.DataType)
			if !c.IsNullable {
				b.WriteString(" NOT NULL")
			}
			if c.Comment != "" {
				fmt.Fprintf(&b, " -- %s", c.Comment)
			}
			b.WriteString("\n")
		}
	}

	entity := domain.EntityRef{Kind: domain.KindObject}
	if table != nil {
		entity.ID = table.ID
	} else {
		entity.ID = columns[0].ID
	}

	return domain.Chunk{
		Content: strings.TrimRight(b.String(), "\n"),
		Kind:    domain.KindObject,
		Entity:  &entity,
		Metadata: map[string]any{
			"catalog_id":  catalog.ID.String(),
			"kind":        string(domain.KindObject),
			"schema":      schema,
			"table":       name,
			"object_type": "table",
			"entity_id":   entity.ID.String(),
		},
	}, true
}

// BuildNoteChunk renders a note.
func BuildNoteChunk(catalog domain.Catalog, n domain.Note) domain.Chunk {
	parts := []string{
		"Note: " + n.Title,
		"Content: " + n.Content,
	}
	if len(n.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(n.Tags, ", "))
	}

	return domain.Chunk{
		Content: strings.Join(parts, "\n"),
		Kind:    domain.KindNote,
		Entity:  &domain.EntityRef{Kind: domain.KindNote, ID: n.ID},
		Metadata: map[string]any{
			"catalog_id": catalog.ID.String(),
			"kind":       string(domain.KindNote),
			"title":      n.Title,
			"entity_id":  n.ID.String(),
		},
	}
}

// BuildMetricChunk renders a metric.
func BuildMetricChunk(catalog domain.Catalog, m domain.Metric) domain.Chunk {
	parts := []string{"Metric: " + m.Name}
	if m.Description != "" {
		parts = append(parts, "Description: "+m.Description)
	}
	parts = append(parts, "Expression: "+m.Expression)
	if m.Engine != "" {
		parts = append(parts, "Engine: "+m.Engine)
	}
	if len(m.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(m.Tags, ", "))
	}

	return domain.Chunk{
		Content: strings.Join(parts, "\n"),
		Kind:    domain.KindMetric,
		Entity:  &domain.EntityRef{Kind: domain.KindMetric, ID: m.ID},
		Metadata: map[string]any{
			"catalog_id": catalog.ID.String(),
			"kind":       string(domain.KindMetric),
			"name":       m.Name,
			"entity_id":  m.ID.String(),
		},
	}
}

// BuildExampleChunk renders a curated question-to-SQL example.
func BuildExampleChunk(catalog domain.Catalog, e domain.Example) domain.Chunk {
	parts := []string{"Example: " + e.Title}
	if e.Description != "" {
		parts = append(parts, "Description: "+e.Description)
	}
	if e.Engine != "" {
		parts = append(parts, "Engine: "+e.Engine)
	}
	parts = append(parts, "SQL: "+e.SQLSnippet)
	if len(e.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(e.Tags, ", "))
	}

	return domain.Chunk{
		Content: strings.Join(parts, "\n"),
		Kind:    domain.KindExample,
		Entity:  &domain.EntityRef{Kind: domain.KindExample, ID: e.ID},
		Metadata: map[string]any{
			"catalog_id": catalog.ID.String(),
			"kind":       string(domain.KindExample),
			"title":      e.Title,
			"engine":     e.Engine,
			"entity_id":  e.ID.String(),
		},
	}
}
