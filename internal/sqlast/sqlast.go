// Package sqlast parses SQL into a structural representation and exposes
// the extraction, search and rewrite primitives the guardrails engine is
// built on. Parsing never panics: grammar failures come back as an error
// list, and rewrites fail closed by returning the input untouched.
package sqlast

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Dialect identifies the SQL dialect a query is written in. The grammar
// is shared; the dialect is carried through so callers can reject engines
// queryd was never asked to support.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ErrUnknownDialect is returned when a request names an unsupported dialect.
var ErrUnknownDialect = errors.New("unknown SQL dialect")

// ParseDialect validates a dialect name. Empty defaults to postgres.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(s)) {
	case "":
		return DialectPostgres, nil
	case DialectPostgres:
		return DialectPostgres, nil
	case DialectMySQL:
		return DialectMySQL, nil
	case DialectSQLite:
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDialect, s)
}

// Statement wraps a parsed SQL statement.
type Statement struct {
	node    sqlparser.Statement
	dialect Dialect
}

// Parse parses sql for the given dialect. On failure it returns a nil
// statement and a non-empty error list.
func Parse(sql string, dialect Dialect) (*Statement, []string) {
	node, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, []string{err.Error()}
	}
	return &Statement{node: node, dialect: dialect}, nil
}

// String serializes the statement back to SQL with keywords uppercased.
func (s *Statement) String() string {
	return FormatSQL(sqlparser.String(s.node))
}

// Tables returns the distinct table references in the statement. A
// schema-qualified reference is returned as "schema.table".
func (s *Statement) Tables() []string {
	seen := map[string]struct{}{}
	collect := func(tn sqlparser.TableName) {
		if tn.Name.IsEmpty() {
			return
		}
		name := tn.Name.String()
		if !tn.Qualifier.IsEmpty() {
			name = tn.Qualifier.String() + "." + name
		}
		seen[name] = struct{}{}
	}

	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.AliasedTableExpr:
			if tn, ok := n.Expr.(sqlparser.TableName); ok {
				collect(tn)
			}
		case *sqlparser.Insert:
			collect(n.Table)
		case *sqlparser.DDL:
			collect(n.Table)
		}
		return true, nil
	}, s.node)

	return sortedKeys(seen)
}

// Columns returns the distinct column references in the statement.
func (s *Statement) Columns() []string {
	seen := map[string]struct{}{}
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if col, ok := node.(*sqlparser.ColName); ok && !col.Name.IsEmpty() {
			seen[col.Name.String()] = struct{}{}
		}
		return true, nil
	}, s.node)
	return sortedKeys(seen)
}

// IsReadOnly reports whether the statement is free of write and DDL
// operations (insert, replace, update, delete, drop, create, alter,
// truncate, rename).
func (s *Statement) IsReadOnly() bool {
	readonly := true
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlparser.Insert, *sqlparser.Update, *sqlparser.Delete,
			*sqlparser.DDL, *sqlparser.DBDDL:
			readonly = false
			return false, nil
		}
		return true, nil
	}, s.node)
	return readonly
}

// IsSelect reports whether the statement is a plain SELECT.
func (s *Statement) IsSelect() bool {
	_, ok := s.node.(*sqlparser.Select)
	return ok
}

// HasLimit reports whether any LIMIT clause is present.
func (s *Statement) HasLimit() bool {
	found := false
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if l, ok := node.(*sqlparser.Limit); ok && l != nil {
			found = true
			return false, nil
		}
		return true, nil
	}, s.node)
	return found
}

// LimitValue returns the integer row count of the outermost LIMIT clause,
// if one is present with a literal value.
func (s *Statement) LimitValue() (int, bool) {
	var limit *sqlparser.Limit
	switch n := s.node.(type) {
	case *sqlparser.Select:
		limit = n.Limit
	case *sqlparser.Union:
		limit = n.Limit
	}
	if limit == nil || limit.Rowcount == nil {
		return 0, false
	}
	val, ok := limit.Rowcount.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.IntVal {
		return 0, false
	}
	n, err := strconv.Atoi(string(val.Val))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Functions returns the uppercased names of all function calls in the
// statement.
func (s *Statement) Functions() []string {
	seen := map[string]struct{}{}
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if fn, ok := node.(*sqlparser.FuncExpr); ok {
			seen[strings.ToUpper(fn.Name.String())] = struct{}{}
		}
		return true, nil
	}, s.node)
	return sortedKeys(seen)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
