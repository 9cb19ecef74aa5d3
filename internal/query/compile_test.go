package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c29m/webhttp/internal/faults"
)

func compile(t *testing.T, q *Query) string {
	t.Helper()
	s, err := Compile(context.Background(), q)
	require.NoError(t, err)
	return s
}

func TestCompile_Basics(t *testing.T) {
	customers := New()

	assert.Equal(t, "$filter=Id%20gt%201",
		compile(t, customers.Where(Gt(Field("Id"), Const(1)))))
	assert.Equal(t, "$skip=2&$top=3",
		compile(t, customers.Skip(2).Take(3)))
	assert.Equal(t, "$orderby=Id,Name%20desc",
		compile(t, customers.OrderBy(Field("Id")).ThenByDescending(Field("Name"))))
	assert.Equal(t, "", compile(t, customers))
}

func TestCompile_FixedOperatorOrder(t *testing.T) {
	want := "$filter=Id%20gt%201&$orderby=Name&$skip=1&$top=2"

	a := New().OrderBy(Field("Name")).Where(Gt(Field("Id"), Const(1))).Skip(1).Take(2)
	b := New().Where(Gt(Field("Id"), Const(1))).OrderBy(Field("Name")).Skip(1).Take(2)

	assert.Equal(t, want, compile(t, a))
	assert.Equal(t, want, compile(t, b))
}

func TestCompile_OperatorsInAnyOrder(t *testing.T) {
	tests := []struct {
		name string
		q    *Query
		want string
	}{
		{"Skip after Take", New().Take(3).Skip(2), "$skip=2&$top=3"},
		{"Where after Skip", New().Skip(2).Where(Gt(Field("Id"), Const(1))), "$filter=Id%20gt%201&$skip=2"},
		{"Where after Take", New().Take(1).Where(Eq(Field("Id"), Const(1))), "$filter=Id%20eq%201&$top=1"},
		{"OrderBy after Take", New().Take(3).OrderBy(Field("Id")), "$orderby=Id&$top=3"},
		{"ThenBy after Skip", New().OrderBy(Field("A")).Skip(1).ThenBy(Field("B")), "$orderby=A,B&$skip=1"},
		{
			"everything reversed",
			New().Take(2).Skip(1).OrderBy(Field("Name")).Where(Gt(Field("Id"), Const(1))),
			"$filter=Id%20gt%201&$orderby=Name&$skip=1&$top=2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.q.Err())
			assert.Equal(t, tt.want, compile(t, tt.q))
		})
	}
}

func TestCompile_Idempotent(t *testing.T) {
	q := New().
		Where(And(Contains(Field("Name"), Const("an")), Ge(Field("Created"), Const(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))))).
		OrderByDescending(Field("Created")).
		Take(10)
	first := compile(t, q)
	second := compile(t, q)
	assert.Equal(t, first, second)
}

func TestQuery_Immutable(t *testing.T) {
	root := New()
	filtered := root.Where(Gt(Field("Id"), Const(1)))
	paged := filtered.Take(5)

	assert.Empty(t, root.Filters())
	assert.Len(t, filtered.Filters(), 1)
	assert.Nil(t, filtered.TopCount())
	assert.Equal(t, "$filter=Id%20gt%201", compile(t, filtered))
	assert.Equal(t, "$filter=Id%20gt%201&$top=5", compile(t, paged))

	a := filtered.Where(Eq(Field("A"), Const(1)))
	b := filtered.Where(Eq(Field("B"), Const(2)))
	assert.Contains(t, compile(t, a), "A%20eq%201")
	assert.NotContains(t, compile(t, b), "A%20eq%201")
}

func TestQuery_MisuseErrors(t *testing.T) {
	tests := []struct {
		name string
		q    *Query
	}{
		{"ThenBy without OrderBy", New().ThenBy(Field("Id"))},
		{"Skip twice", New().Skip(1).Skip(1)},
		{"Take twice", New().Take(1).Take(1)},
		{"Select twice", New().Select(Field("A")).Select(Field("B"))},
		{"operator after First", New().First().Take(1)},
		{"nil predicate", New().Where(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.q.Err())
			_, err := Compile(context.Background(), tt.q)
			require.Error(t, err)
			assert.True(t, faults.HasCode(err, CodeOperatorOrder))
			assert.True(t, faults.Is(err, faults.KindTranslation))
		})
	}
}

func TestCompile_StringFieldConcat(t *testing.T) {
	tests := []struct {
		name string
		e    Expr
		want string
	}{
		{"two string fields", Add(StringField("First"), StringField("Last")), "concat(First,Last)"},
		{"one string field", Add(Field("First"), StringField("Last")), "concat(First,Last)"},
		{"chained", Add(Add(StringField("First"), Field("Middle")), Field("Last")), "concat(concat(First,Middle),Last)"},
		{"string function", Add(ToUpper(Field("First")), Field("Last")), "concat(toupper(First),Last)"},
		{"untyped fields", Add(Field("First"), Field("Last")), "First%20add%20Last"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New().Where(Eq(tt.e, Const("x")))
			assert.Equal(t, "$filter="+tt.want+"%20eq%20'x'", compile(t, q))
		})
	}
}

func TestCompile_OrderByReplaces(t *testing.T) {
	q := New().OrderBy(Field("A")).ThenBy(Field("B")).OrderByDescending(Field("C"))
	assert.Equal(t, "$orderby=C%20desc", compile(t, q))
}

func TestCompile_UnsupportedExpressions(t *testing.T) {
	tests := []struct {
		name string
		q    *Query
		code faults.Code
	}{
		{"unknown method", New().Where(Call{Method: "Matches", Target: Field("Name"), Args: []Expr{Const("x")}}), CodeUnsupportedExpression},
		{"wrong arity", New().Where(Call{Method: "StartsWith", Target: Field("Name")}), CodeUnsupportedExpression},
		{"static receiver", New().Where(Eq(Call{Method: "Round", Target: Field("A"), Args: []Expr{Field("B")}}, Const(1))), CodeUnsupportedExpression},
		{"element as operand", New().Where(Eq(It(), Const(1))), CodeUnsupportedExpression},
		{"member of call", New().Where(Eq(Member{Target: ToUpper(Field("A")), Name: "B"}, Const(1))), CodeUnsupportedExpression},
		{"literal type", New().Where(Eq(Field("A"), Const(struct{}{}))), CodeUnsupportedLiteral},
		{"element-dependent skip", New().SkipExpr(Field("A")), CodeUnsupportedExpression},
		{"negative take", New().Take(-1), CodeInvalidPaging},
		{"non-integer skip", New().SkipExpr(Const("two")), CodeInvalidPaging},
		{"select expression", New().Select(ToUpper(Field("A"))), CodeUnsupportedExpression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(context.Background(), tt.q)
			require.Error(t, err)
			assert.True(t, faults.HasCode(err, tt.code), "got %v", err)
			assert.True(t, faults.Is(err, faults.KindTranslation))
		})
	}
}

func TestCompile_DeferredValues(t *testing.T) {
	limit := 3
	q := New().
		Where(Gt(Field("Id"), Add(Closure("limit", func() any { return limit }), Const(1)))).
		TakeExpr(Closure("limit", func() any { return limit }))
	assert.Equal(t, "$filter=Id%20gt%204&$top=3", compile(t, q))

	limit = 7
	assert.Equal(t, "$filter=Id%20gt%208&$top=7", compile(t, q))

	calls := 0
	nested := Value{Label: "first customer", Eval: func(context.Context) (any, error) {
		calls++
		return "ALFKI", nil
	}}
	q = New().Where(Eq(Field("CustomerID"), nested))
	assert.Equal(t, "$filter=CustomerID%20eq%20'ALFKI'", compile(t, q))
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	failing := Value{Label: "broken", Eval: func(context.Context) (any, error) { return nil, boom }}
	_, err := Compile(context.Background(), New().Where(Eq(Field("A"), failing)))
	assert.ErrorIs(t, err, boom)
}

func TestCompile_Terminals(t *testing.T) {
	assert.Equal(t, "$skip=2&$top=1", compile(t, New().Skip(2).First()))
	assert.Equal(t, "$top=1", compile(t, New().Take(5).FirstOrDefault()))
	assert.Equal(t, "$top=2", compile(t, New().Single()))
	assert.Equal(t, "$top=0", compile(t, New().Take(0).First()))
	assert.Equal(t, Single, New().Single().Terminal())
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{"O'Hare", "'O''Hare'"},
		{"\u00e9", "'\u00e9'"},
		{"e\u0301", "'\u00e9'"},
		{true, "true"},
		{42, "42"},
		{int32(-7), "-7"},
		{int64(42), "42L"},
		{uint8(9), "9"},
		{uint32(9), "9L"},
		{float32(1.5), "1.5f"},
		{2.0, "2.0"},
		{0.25, "0.25"},
		{1e21, "1e+21"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "datetime'2024-01-02T03:04:05'"},
		{time.Date(2024, 1, 2, 3, 4, 5, 500000000, time.UTC), "datetime'2024-01-02T03:04:05.5'"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("", 2*3600)), "datetimeoffset'2024-01-02T03:04:05+02:00'"},
		{uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), "guid'6ba7b810-9dad-11d1-80b4-00c04fd430c8'"},
		{[]byte{0x0a, 0xff}, "X'0AFF'"},
	}
	for _, tt := range tests {
		got, err := Literal(tt.in)
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%#v", tt.in)
	}

	_, err := Literal(uint64(1) << 63)
	assert.True(t, faults.HasCode(err, CodeUnsupportedLiteral))
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "a%20b", Escape("a b"))
	assert.Equal(t, "'x''y'", Escape("'x''y'"))
	assert.Equal(t, "%26%3D%2B%23%25%3F", Escape("&=+#%?"))
	assert.Equal(t, "-._~!$'()*,/:@", Escape("-._~!$'()*,/:@"))
	assert.Equal(t, "%C3%A9", Escape("\u00e9"))
}

// Golden tests pin the wire form of representative queries.
func TestCompile_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		q    *Query
	}{
		{"chained_where", New().
			Where(Gt(Field("Id"), Const(1))).
			Where(Eq(Field("City"), Const("O'Hare")))},
		{"functions", New().
			Where(And(Contains(Field("Name"), Const("an")), StartsWith(ToUpper(Field("City")), Const("L"))))},
		{"precedence", New().
			Where(Or(And(Eq(Mul(Add(Field("A"), Const(1)), Const(2)), Const(10)), Field("Flag")), Not(Eq(Field("Active"), Const(true)))))},
		{"literals", New().
			Where(And(And(Eq(Field("Big"), Const(int64(5))), Eq(Field("Ratio"), Const(float32(1.5)))),
				And(Eq(Field("Created"), Const(created)), Eq(Field("Manager"), Const(nil)))))},
		{"escaping", New().
			Where(Eq(Field("Note"), Const("a&b=c+d#e%f \u00e9")))},
		{"member_paths", New().
			Where(Eq(Field("Address", "City"), Const("Oslo"))).
			Select(Field("Name"), Field("Address", "City"))},
		{"concat", New().
			Where(Eq(Concat(Field("First"), Const("-"), Field("Last")), Add(Field("Code"), Const(" "))))},
		{"types", New().
			Where(And(IsOf(nil, "Model.Customer"), Gt(Cast(Field("Qty"), "Edm.Int64"), Const(int64(10)))))},
		{"full", New().
			OrderBy(Field("Name")).
			ThenByDescending(Year(Field("Created"))).
			Where(Lt(Negate(Field("Delta")), Const(0))).
			Skip(20).
			Take(10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(compile(t, tt.q)))
		})
	}
}
