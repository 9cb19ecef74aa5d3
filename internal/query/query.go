// Package query composes OData-style query strings from expression trees
// and applies them to in-memory sequences.
//
// A Query is an immutable snapshot: every operator returns a new Query and
// leaves the receiver untouched, so derived queries built from one root can
// be used concurrently.
//
//	q := query.New().
//		Where(query.Gt(query.Field("Id"), query.Const(1))).
//		OrderBy(query.Field("Name")).
//		Take(10)
//	s, err := query.Compile(ctx, q) // "$filter=Id%20gt%201&$orderby=Name&$top=10"
//
// Operators always serialize as $filter, $orderby, $skip, $top, then
// $select, whatever order they were applied in.
package query

import (
	"fmt"
	"slices"

	"github.com/c29m/webhttp/internal/faults"
)

// Error codes.
const (
	CodeUnsupportedExpression faults.Code = "UNSUPPORTED_EXPRESSION"
	CodeUnsupportedLiteral    faults.Code = "UNSUPPORTED_LITERAL"
	CodeOperatorOrder         faults.Code = "OPERATOR_ORDER"
	CodeInvalidPaging         faults.Code = "INVALID_PAGING"
	CodeSyntax                faults.Code = "QUERY_SYNTAX"
	CodeEvaluation            faults.Code = "EVALUATION_FAILED"
)

// OrderKey is one $orderby entry.
type OrderKey struct {
	Expr       Expr
	Descending bool
}

// Terminal is a single-element operator ending a query.
type Terminal int

const (
	NoTerminal Terminal = iota
	First
	FirstOrDefault
	Single
)

func (t Terminal) String() string {
	switch t {
	case First:
		return "First"
	case FirstOrDefault:
		return "FirstOrDefault"
	case Single:
		return "Single"
	default:
		return "None"
	}
}

// Query is an immutable query snapshot. The zero value is not usable; start
// from New.
type Query struct {
	filters  []Expr
	order    []OrderKey
	skip     Expr
	top      Expr
	selects  []Expr
	terminal Terminal

	// err is the first composition error; it surfaces at Compile.
	err error
}

// New returns an empty root query.
func New() *Query { return &Query{} }

func (q *Query) clone() *Query {
	cp := *q
	cp.filters = slices.Clone(q.filters)
	cp.order = slices.Clone(q.order)
	cp.selects = slices.Clone(q.selects)
	return &cp
}

func (q *Query) fail(op, format string, args ...any) *Query {
	if q.err != nil {
		return q
	}
	cp := q.clone()
	cp.err = faults.Translation(CodeOperatorOrder, "%s: %s", op, fmt.Sprintf(format, args...))
	return cp
}

func (q *Query) checkOpen(op string) *Query {
	if q.terminal != NoTerminal {
		return q.fail(op, "query already ends with %s", q.terminal)
	}
	return nil
}

// Err returns the first composition error.
func (q *Query) Err() error { return q.err }

// Where adds a predicate. Several predicates combine with and.
func (q *Query) Where(predicate Expr) *Query {
	if bad := q.checkOpen("Where"); bad != nil {
		return bad
	}
	if predicate == nil {
		return q.fail("Where", "predicate must not be nil")
	}
	cp := q.clone()
	cp.filters = append(cp.filters, predicate)
	return cp
}

func (q *Query) orderBy(op string, key Expr, desc, then bool) *Query {
	if bad := q.checkOpen(op); bad != nil {
		return bad
	}
	if key == nil {
		return q.fail(op, "key must not be nil")
	}
	if then && len(q.order) == 0 {
		return q.fail(op, "requires a preceding OrderBy")
	}
	cp := q.clone()
	if !then {
		cp.order = nil
	}
	cp.order = append(cp.order, OrderKey{Expr: key, Descending: desc})
	return cp
}

// OrderBy replaces the ordering with an ascending key.
func (q *Query) OrderBy(key Expr) *Query { return q.orderBy("OrderBy", key, false, false) }

// OrderByDescending replaces the ordering with a descending key.
func (q *Query) OrderByDescending(key Expr) *Query {
	return q.orderBy("OrderByDescending", key, true, false)
}

// ThenBy appends an ascending key.
func (q *Query) ThenBy(key Expr) *Query { return q.orderBy("ThenBy", key, false, true) }

// ThenByDescending appends a descending key.
func (q *Query) ThenByDescending(key Expr) *Query {
	return q.orderBy("ThenByDescending", key, true, true)
}

// Skip bypasses n elements.
func (q *Query) Skip(n int) *Query { return q.SkipExpr(Const(n)) }

// SkipExpr is Skip with a count computed at compile time.
func (q *Query) SkipExpr(n Expr) *Query {
	if bad := q.checkOpen("Skip"); bad != nil {
		return bad
	}
	switch {
	case n == nil:
		return q.fail("Skip", "count must not be nil")
	case q.skip != nil:
		return q.fail("Skip", "already applied")
	}
	cp := q.clone()
	cp.skip = n
	return cp
}

// Take limits the result to n elements.
func (q *Query) Take(n int) *Query { return q.TakeExpr(Const(n)) }

// TakeExpr is Take with a count computed at compile time.
func (q *Query) TakeExpr(n Expr) *Query {
	if bad := q.checkOpen("Take"); bad != nil {
		return bad
	}
	switch {
	case n == nil:
		return q.fail("Take", "count must not be nil")
	case q.top != nil:
		return q.fail("Take", "already applied")
	}
	cp := q.clone()
	cp.top = n
	return cp
}

// Select projects the named members.
func (q *Query) Select(members ...Expr) *Query {
	if bad := q.checkOpen("Select"); bad != nil {
		return bad
	}
	if q.selects != nil {
		return q.fail("Select", "already applied")
	}
	cp := q.clone()
	cp.selects = append([]Expr{}, members...)
	return cp
}

func (q *Query) end(t Terminal) *Query {
	if bad := q.checkOpen(t.String()); bad != nil {
		return bad
	}
	cp := q.clone()
	cp.terminal = t
	return cp
}

// First ends the query with a single-element operator that fails on an
// empty result.
func (q *Query) First() *Query { return q.end(First) }

// FirstOrDefault is First yielding the zero value on an empty result.
func (q *Query) FirstOrDefault() *Query { return q.end(FirstOrDefault) }

// Single requires exactly one element.
func (q *Query) Single() *Query { return q.end(Single) }

// Terminal returns the single-element operator, if any.
func (q *Query) Terminal() Terminal { return q.terminal }

// Filters returns the predicates in application order.
func (q *Query) Filters() []Expr { return slices.Clone(q.filters) }

// Order returns the ordering keys.
func (q *Query) Order() []OrderKey { return slices.Clone(q.order) }

// SkipCount and TopCount return the raw count expressions (nil if unset).
func (q *Query) SkipCount() Expr { return q.skip }
func (q *Query) TopCount() Expr  { return q.top }

// Selects returns the projected members.
func (q *Query) Selects() []Expr { return slices.Clone(q.selects) }
