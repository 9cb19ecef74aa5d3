package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/query"
)

func ptr(n int) *int { return &n }

func newProducts(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler("products", []string{"name", "price", "category", "added"})
	require.NoError(t, err)
	return c
}

func TestCompile_Full(t *testing.T) {
	c := newProducts(t)

	opts := query.Options{
		Filters: []query.Expr{query.Gt(query.Field("Price"), query.Const(5))},
		OrderBy: []query.OrderKey{{Expr: query.Field("Name"), Descending: true}},
		Skip:    ptr(2),
		Top:     ptr(3),
	}
	sql, params, err := c.Compile(opts, nil)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT * FROM "products" WHERE ("price" > ?) ORDER BY "name" DESC, "id" ASC COLLATE BINARY LIMIT ? OFFSET ?`,
		sql)
	assert.Equal(t, []any{5, 3, 2}, params)
}

func TestCompile_AlwaysOrdered(t *testing.T) {
	c := newProducts(t)

	sql, params, err := c.Compile(query.Options{}, nil)
	require.NoError(t, err)

	assert.Equal(t, `SELECT * FROM "products" ORDER BY "id" ASC COLLATE BINARY`, sql)
	assert.Empty(t, params)
}

func TestCompile_ValuesAreParameterized(t *testing.T) {
	c := newProducts(t)

	opts := query.Options{Filters: []query.Expr{
		query.Eq(query.Field("Name"), query.Const("tea'; DROP TABLE products; --")),
	}}
	sql, params, err := c.Compile(opts, nil)
	require.NoError(t, err)

	assert.Contains(t, sql, `WHERE ("name" = ?)`)
	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, []any{"tea'; DROP TABLE products; --"}, params)
}

func TestCompile_Filters(t *testing.T) {
	c := newProducts(t)

	tests := []struct {
		name   string
		filter query.Expr
		where  string
		params []any
	}{
		{
			name:   "and/or",
			filter: query.Or(query.And(query.Ge(query.Field("Price"), query.Const(1)), query.Le(query.Field("Price"), query.Const(9))), query.Ne(query.Field("Category"), query.Const("tea"))),
			where:  `((("price" >= ?) AND ("price" <= ?)) OR ("category" <> ?))`,
			params: []any{1, 9, "tea"},
		},
		{
			name:   "not",
			filter: query.Not(query.Lt(query.Field("Price"), query.Const(2.5))),
			where:  `(NOT ("price" < ?))`,
			params: []any{2.5},
		},
		{
			name:   "arithmetic",
			filter: query.Eq(query.Mod(query.Add(query.Field("Price"), query.Const(1)), query.Const(2)), query.Const(0)),
			where:  `((("price" + ?) % ?) = ?)`,
			params: []any{1, 2, 0},
		},
		{
			name:   "negate",
			filter: query.Lt(query.Negate(query.Field("Price")), query.Const(-5)),
			where:  `((-"price") < ?)`,
			params: []any{-5},
		},
		{
			name:   "eq null",
			filter: query.Eq(query.Field("Category"), query.Const(nil)),
			where:  `("category" IS NULL)`,
		},
		{
			name:   "null ne",
			filter: query.Ne(query.Const(nil), query.Field("Category")),
			where:  `("category" IS NOT NULL)`,
		},
		{
			name:   "contains",
			filter: query.Contains(query.Field("Name"), query.Const("te")),
			where:  `(instr("name", ?) > 0)`,
			params: []any{"te"},
		},
		{
			name:   "startswith",
			filter: query.StartsWith(query.Field("Name"), query.Const("t")),
			where:  `(substr("name", 1, length(?)) = ?)`,
			params: []any{"t", "t"},
		},
		{
			name:   "endswith",
			filter: query.EndsWith(query.Field("Name"), query.Const("a")),
			where:  `(substr("name", length("name") - length(?) + 1) = ?)`,
			params: []any{"a", "a"},
		},
		{
			name:   "tolower",
			filter: query.Eq(query.ToLower(query.Field("Name")), query.Const("tea")),
			where:  `(lower("name") = ?)`,
			params: []any{"tea"},
		},
		{
			name:   "length",
			filter: query.Gt(query.Length(query.Trim(query.Field("Name"))), query.Const(3)),
			where:  `(length(trim("name")) > ?)`,
			params: []any{3},
		},
		{
			name:   "substring",
			filter: query.Eq(query.Substring(query.Field("Name"), query.Const(1), query.Const(2)), query.Const("ea")),
			where:  `(substr("name", ? + 1, ?) = ?)`,
			params: []any{1, 2, "ea"},
		},
		{
			name:   "concat",
			filter: query.Eq(query.Concat(query.Field("Name"), query.Const("-"), query.Field("Category")), query.Const("tea-drink")),
			where:  `(("name" || ? || "category") = ?)`,
			params: []any{"-", "tea-drink"},
		},
		{
			name:   "year",
			filter: query.Eq(query.Year(query.Field("Added")), query.Const(2024)),
			where:  `(CAST(strftime('%Y', "added") AS INTEGER) = ?)`,
			params: []any{2024},
		},
		{
			name:   "replace",
			filter: query.Eq(query.Replace(query.Field("Name"), query.Const("a"), query.Const("o")), query.Const("teo")),
			where:  `(replace("name", ?, ?) = ?)`,
			params: []any{"a", "o", "teo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := c.Compile(query.Options{Filters: []query.Expr{tt.filter}}, nil)
			require.NoError(t, err)
			assert.Equal(t, `SELECT * FROM "products" WHERE `+tt.where+` ORDER BY "id" ASC COLLATE BINARY`, sql)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCompile_MultipleFiltersCombineWithAnd(t *testing.T) {
	c := newProducts(t)

	opts := query.Options{Filters: []query.Expr{
		query.Gt(query.Field("Price"), query.Const(1)),
		query.Eq(query.Field("Category"), query.Const("tea")),
	}}
	sql, params, err := c.Compile(opts, nil)
	require.NoError(t, err)

	assert.Contains(t, sql, `WHERE (("price" > ?) AND ("category" = ?))`)
	assert.Equal(t, []any{1, "tea"}, params)
}

func TestCompile_Equals(t *testing.T) {
	c := newProducts(t)

	opts := query.Options{Filters: []query.Expr{query.Gt(query.Field("Price"), query.Const(1))}}
	sql, params, err := c.Compile(opts, map[string]any{"name": "tea", "category": nil, "Id": int64(4)})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT * FROM "products" WHERE ("price" > ?) AND "id" = ? AND "category" IS NULL AND "name" = ? ORDER BY "id" ASC COLLATE BINARY`,
		sql)
	assert.Equal(t, []any{1, int64(4), "tea"}, params)
}

func TestCompile_Select(t *testing.T) {
	c := newProducts(t)

	sql, _, err := c.Compile(query.Options{Select: []string{"Name", "price"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, `SELECT "name", "price" FROM "products" ORDER BY "id" ASC COLLATE BINARY`, sql)
}

func TestCompile_SkipWithoutTop(t *testing.T) {
	c := newProducts(t)

	sql, params, err := c.Compile(query.Options{Skip: ptr(10)}, nil)
	require.NoError(t, err)

	assert.Contains(t, sql, "LIMIT -1 OFFSET ?")
	assert.Equal(t, []any{10}, params)
}

func TestCompile_ParsedOptions(t *testing.T) {
	c := newProducts(t)

	opts, err := query.Parse("$filter=Price%20gt%205&$orderby=Name&$top=1")
	require.NoError(t, err)

	sql, params, err := c.Compile(opts, nil)
	require.NoError(t, err)

	assert.Contains(t, sql, `WHERE ("price" > ?)`)
	assert.Contains(t, sql, `ORDER BY "name" ASC, "id" ASC COLLATE BINARY LIMIT ?`)
	assert.Equal(t, []any{5, 1}, params)
}

func TestCompile_Errors(t *testing.T) {
	c := newProducts(t)

	tests := []struct {
		name   string
		opts   query.Options
		equals map[string]any
		code   faults.Code
	}{
		{
			name: "unknown column",
			opts: query.Options{Filters: []query.Expr{query.Eq(query.Field("Colour"), query.Const("red"))}},
			code: CodeUnknownColumn,
		},
		{
			name: "nested member",
			opts: query.Options{Filters: []query.Expr{query.Eq(query.Field("Address", "City"), query.Const("Oslo"))}},
			code: CodeUnsupported,
		},
		{
			name: "type test",
			opts: query.Options{Filters: []query.Expr{query.IsOf(nil, "Edm.String")}},
			code: CodeUnsupported,
		},
		{
			name: "floor",
			opts: query.Options{Filters: []query.Expr{query.Eq(query.Floor(query.Field("Price")), query.Const(1))}},
			code: CodeUnsupported,
		},
		{
			name: "nested select",
			opts: query.Options{Select: []string{"Address/City"}},
			code: CodeUnsupported,
		},
		{
			name: "unknown order key",
			opts: query.Options{OrderBy: []query.OrderKey{{Expr: query.Field("Rank")}}},
			code: CodeUnknownColumn,
		},
		{
			name:   "unknown equals column",
			equals: map[string]any{"owner": "x"},
			code:   CodeUnknownColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.Compile(tt.opts, tt.equals)
			require.Error(t, err)
			assert.True(t, faults.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, faults.KindTranslation, faults.KindOf(err))
		})
	}
}

func TestNewCompiler_RejectsInvalidIdentifiers(t *testing.T) {
	_, err := NewCompiler("products; DROP TABLE x", nil)
	require.Error(t, err)
	assert.True(t, faults.HasCode(err, CodeInvalidIdentifier))

	_, err = NewCompiler("products", []string{"ok", "bad name"})
	require.Error(t, err)
	assert.True(t, faults.HasCode(err, CodeInvalidIdentifier))
}

func TestNewCompiler_Columns(t *testing.T) {
	c, err := NewCompiler("t", []string{"a", "A", "id", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "a", "b"}, c.Columns())
}
