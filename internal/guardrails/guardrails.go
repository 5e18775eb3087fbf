// Package guardrails validates and rewrites generated SQL against a
// per-catalog policy. A single pass either rejects the query with a
// violation list (SQL untouched) or returns a rewritten, policy-compliant
// query with the applied modifications recorded - never a partially
// rewritten dangerous query.
package guardrails

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/logging"
	"github.com/fyrsmithlabs/queryd/internal/sqlast"
)

// Result is the outcome of one validation pass. SQL is empty when the
// query was rejected (syntax failure or policy violation).
type Result struct {
	SQL           string   `json:"sql,omitempty"`
	SyntaxValid   bool     `json:"syntax_valid"`
	Errors        []string `json:"errors,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	Violations    []string `json:"violations,omitempty"`
	Modifications []string `json:"modifications,omitempty"`
	Tables        []string `json:"parsed_tables,omitempty"`
	Columns       []string `json:"parsed_columns,omitempty"`
}

// Accepted reports whether the pass produced usable SQL.
func (r *Result) Accepted() bool {
	return r.SyntaxValid && len(r.Violations) == 0
}

// Engine applies guardrails. It is stateless and safe for concurrent use.
type Engine struct {
	logger *logging.Logger
}

// NewEngine creates a guardrails engine.
func NewEngine(logger *logging.Logger) *Engine {
	return &Engine{logger: logger.Named("guardrails")}
}

// Apply runs the full guardrail pass over sql: parse, extract, read-only
// and banned-item checks, then PII masking, LIMIT injection, function
// validation and the max-rows check against the rewritten query.
func (e *Engine) Apply(ctx context.Context, sql string, policy Policy, dialect sqlast.Dialect) *Result {
	result := &Result{}

	e.logger.Debug(ctx, "applying guardrails",
		zap.Int("sql_length", len(sql)),
		zap.String("dialect", string(dialect)),
	)

	stmt, parseErrs := sqlast.Parse(sql, dialect)
	if len(parseErrs) > 0 {
		result.Errors = parseErrs
		result.SyntaxValid = false
		return result
	}
	result.SyntaxValid = true
	result.Tables = stmt.Tables()
	result.Columns = stmt.Columns()

	if !policy.AllowWrite && !stmt.IsReadOnly() {
		result.Violations = append(result.Violations, "Write operations not allowed")
		return result
	}

	result.Violations = append(result.Violations,
		checkBannedItems(result.Tables, result.Columns, policy)...)
	if len(result.Violations) > 0 {
		// Violations and rewrites are mutually exclusive: the original
		// SQL is never mutated once the query is rejected.
		return result
	}

	current := sql

	if policy.PIIMaskingEnabled && len(policy.PIITags) > 0 {
		rewritten, masked, err := sqlast.MaskColumns(current, policy.PIITags, dialect)
		if err != nil {
			result.Warnings = append(result.Warnings, err.Error())
		}
		current = rewritten
		for _, col := range masked {
			result.Modifications = append(result.Modifications, "Masked PII column: "+col)
		}
	}

	if policy.DefaultLimit > 0 {
		rewritten, modified, err := sqlast.InjectLimit(current, policy.DefaultLimit, dialect)
		if err != nil {
			result.Warnings = append(result.Warnings, err.Error())
		}
		current = rewritten
		if modified {
			result.Modifications = append(result.Modifications,
				fmt.Sprintf("Added LIMIT %d", policy.DefaultLimit))
		}
	}

	// Function checks run against the original statement: the mask rewrite
	// introduces its own hash call, which must not trip the allow-list.
	result.Violations = append(result.Violations, checkFunctions(stmt, policy)...)

	if policy.MaxRowsReturned > 0 {
		if v := checkMaxRows(current, policy.MaxRowsReturned, dialect); v != "" {
			result.Violations = append(result.Violations, v)
		}
	}

	if len(result.Violations) > 0 {
		e.logger.Info(ctx, "guardrails rejected query",
			zap.Int("violations", len(result.Violations)),
		)
		return result
	}

	result.SQL = current
	e.logger.Debug(ctx, "guardrails applied",
		zap.Int("modifications", len(result.Modifications)),
	)
	return result
}

// ValidateSyntax parses sql and reports structure without applying policy.
func (e *Engine) ValidateSyntax(ctx context.Context, sql string, dialect sqlast.Dialect) *Result {
	result := &Result{}
	stmt, parseErrs := sqlast.Parse(sql, dialect)
	if len(parseErrs) > 0 {
		result.Errors = parseErrs
		return result
	}
	result.SyntaxValid = true
	result.Tables = stmt.Tables()
	result.Columns = stmt.Columns()
	return result
}

// checkBannedItems matches tables by unqualified name, schemas by
// qualifier and columns by name, case-insensitively. A single reference
// can report both a table and a schema violation.
func checkBannedItems(tables, columns []string, policy Policy) []string {
	bannedTables := loweredSet(policy.BannedTables)
	bannedColumns := loweredSet(policy.BannedColumns)
	bannedSchemas := loweredSet(policy.BannedSchemas)

	var violations []string
	for _, table := range tables {
		name := table
		schema := ""
		if idx := strings.LastIndex(table, "."); idx >= 0 {
			schema = table[:idx]
			name = table[idx+1:]
		}
		if _, ok := bannedTables[strings.ToLower(name)]; ok {
			violations = append(violations, "Banned table: "+table)
		}
		if schema != "" {
			if _, ok := bannedSchemas[strings.ToLower(schema)]; ok {
				violations = append(violations, "Banned schema: "+schema)
			}
		}
	}
	for _, column := range columns {
		if _, ok := bannedColumns[strings.ToLower(column)]; ok {
			violations = append(violations, "Banned column: "+column)
		}
	}
	return violations
}

// checkFunctions gates the allow-list on nil, not emptiness: a non-nil
// empty AllowedFunctions means no function is permitted.
func checkFunctions(stmt *sqlast.Statement, policy Policy) []string {
	if policy.AllowedFunctions == nil && len(policy.BlockedFunctions) == 0 {
		return nil
	}
	functions := stmt.Functions()

	var violations []string
	if policy.AllowedFunctions != nil {
		allowed := loweredSet(policy.AllowedFunctions)
		for _, fn := range functions {
			if _, ok := allowed[strings.ToLower(fn)]; !ok {
				violations = append(violations, "Function not allowed: "+fn)
			}
		}
	}
	if len(policy.BlockedFunctions) > 0 {
		blocked := loweredSet(policy.BlockedFunctions)
		for _, fn := range functions {
			if _, ok := blocked[strings.ToLower(fn)]; ok {
				violations = append(violations, "Function blocked: "+fn)
			}
		}
	}
	return violations
}

// checkMaxRows inspects the LIMIT value actually present in the rewritten
// query, so a policy-injected LIMIT is itself subject to the cap.
func checkMaxRows(sql string, maxRows int, dialect sqlast.Dialect) string {
	stmt, parseErrs := sqlast.Parse(sql, dialect)
	if len(parseErrs) > 0 {
		return ""
	}
	value, ok := stmt.LimitValue()
	if !ok {
		return ""
	}
	if value > maxRows {
		return fmt.Sprintf("LIMIT %d exceeds maximum allowed %d", value, maxRows)
	}
	return ""
}
