package sqlast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// MaskFunc is the deterministic one-way hash applied to masked columns.
const MaskFunc = "SHA256"

// InjectLimit appends a LIMIT clause with the given row count to a SELECT
// statement that does not already carry one. It returns the (possibly
// rewritten) SQL and whether a rewrite happened. Any failure leaves the
// input untouched.
func InjectLimit(sql string, limit int, dialect Dialect) (out string, modified bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, modified = sql, false
			err = fmt.Errorf("limit injection failed: %v", r)
		}
	}()

	stmt, errs := Parse(sql, dialect)
	if len(errs) > 0 {
		return sql, false, fmt.Errorf("limit injection failed: %s", errs[0])
	}
	if stmt.HasLimit() {
		return sql, false, nil
	}
	sel, ok := stmt.node.(*sqlparser.Select)
	if !ok {
		return sql, false, nil
	}
	sel.Limit = &sqlparser.Limit{
		Rowcount: sqlparser.NewIntVal([]byte(strconv.Itoa(limit))),
	}
	return stmt.String(), true, nil
}

// MaskColumns wraps every column reference whose name matches one of the
// given names (case-insensitive) in a MaskFunc call. It returns the
// rewritten SQL and the names of the columns that were masked, in the
// order encountered. Any failure leaves the input untouched.
func MaskColumns(sql string, columns []string, dialect Dialect) (out string, masked []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, masked = sql, nil
			err = fmt.Errorf("column masking failed: %v", r)
		}
	}()

	if len(columns) == 0 {
		return sql, nil, nil
	}
	match := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		match[strings.ToLower(c)] = struct{}{}
	}

	stmt, errs := Parse(sql, dialect)
	if len(errs) > 0 {
		return sql, nil, fmt.Errorf("column masking failed: %s", errs[0])
	}

	m := &masker{match: match}
	m.statement(stmt.node)
	if len(m.masked) == 0 {
		return sql, nil, nil
	}
	return stmt.String(), m.masked, nil
}

// masker rewrites matching column references to MaskFunc(column) across
// the expression positions the grammar allows a column to appear in.
type masker struct {
	match  map[string]struct{}
	masked []string
}

func (m *masker) statement(node sqlparser.Statement) {
	switch n := node.(type) {
	case *sqlparser.Select:
		for _, se := range n.SelectExprs {
			if ae, ok := se.(*sqlparser.AliasedExpr); ok {
				ae.Expr = m.expr(ae.Expr)
			}
		}
		for _, te := range n.From {
			m.tableExpr(te)
		}
		if n.Where != nil {
			n.Where.Expr = m.expr(n.Where.Expr)
		}
		for i, e := range n.GroupBy {
			n.GroupBy[i] = m.expr(e)
		}
		if n.Having != nil {
			n.Having.Expr = m.expr(n.Having.Expr)
		}
		for _, o := range n.OrderBy {
			o.Expr = m.expr(o.Expr)
		}
	case *sqlparser.Union:
		m.statement(n.Left)
		m.statement(n.Right)
		for _, o := range n.OrderBy {
			o.Expr = m.expr(o.Expr)
		}
	case *sqlparser.ParenSelect:
		m.statement(n.Select)
	}
}

// tableExpr descends into the FROM clause: JOIN ON conditions and
// derived-table subqueries can both reference maskable columns.
func (m *masker) tableExpr(te sqlparser.TableExpr) {
	switch n := te.(type) {
	case *sqlparser.AliasedTableExpr:
		if sub, ok := n.Expr.(*sqlparser.Subquery); ok {
			m.statement(sub.Select)
		}
	case *sqlparser.JoinTableExpr:
		m.tableExpr(n.LeftExpr)
		m.tableExpr(n.RightExpr)
		if n.Condition.On != nil {
			n.Condition.On = m.expr(n.Condition.On)
		}
	case *sqlparser.ParenTableExpr:
		for _, e := range n.Exprs {
			m.tableExpr(e)
		}
	}
}

func (m *masker) expr(e sqlparser.Expr) sqlparser.Expr {
	switch n := e.(type) {
	case *sqlparser.ColName:
		if _, ok := m.match[strings.ToLower(n.Name.String())]; ok {
			m.masked = append(m.masked, n.Name.String())
			return &sqlparser.FuncExpr{
				Name:  sqlparser.NewColIdent(MaskFunc),
				Exprs: sqlparser.SelectExprs{&sqlparser.AliasedExpr{Expr: n}},
			}
		}
		return n
	case *sqlparser.AndExpr:
		n.Left, n.Right = m.expr(n.Left), m.expr(n.Right)
	case *sqlparser.OrExpr:
		n.Left, n.Right = m.expr(n.Left), m.expr(n.Right)
	case *sqlparser.NotExpr:
		n.Expr = m.expr(n.Expr)
	case *sqlparser.ParenExpr:
		n.Expr = m.expr(n.Expr)
	case *sqlparser.ComparisonExpr:
		n.Left, n.Right = m.expr(n.Left), m.expr(n.Right)
	case *sqlparser.RangeCond:
		n.Left = m.expr(n.Left)
		n.From = m.expr(n.From)
		n.To = m.expr(n.To)
	case *sqlparser.IsExpr:
		n.Expr = m.expr(n.Expr)
	case *sqlparser.BinaryExpr:
		n.Left, n.Right = m.expr(n.Left), m.expr(n.Right)
	case *sqlparser.UnaryExpr:
		n.Expr = m.expr(n.Expr)
	case *sqlparser.FuncExpr:
		// Already-wrapped mask calls keep their argument untouched so a
		// second pass is a no-op.
		if strings.EqualFold(n.Name.String(), MaskFunc) {
			return n
		}
		for _, se := range n.Exprs {
			if ae, ok := se.(*sqlparser.AliasedExpr); ok {
				ae.Expr = m.expr(ae.Expr)
			}
		}
	case *sqlparser.CaseExpr:
		if n.Expr != nil {
			n.Expr = m.expr(n.Expr)
		}
		for _, w := range n.Whens {
			w.Cond = m.expr(w.Cond)
			w.Val = m.expr(w.Val)
		}
		if n.Else != nil {
			n.Else = m.expr(n.Else)
		}
	case sqlparser.ValTuple:
		for i, v := range n {
			n[i] = m.expr(v)
		}
	case *sqlparser.Subquery:
		m.statement(n.Select)
	case *sqlparser.ExistsExpr:
		m.statement(n.Subquery.Select)
	}
	return e
}
