package query

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/c29m/webhttp/internal/faults"
)

// Options is the evaluated form of a query: every element-independent
// subtree has been reduced to a Constant. It is produced by Translate on
// the client and by Parse on the server.
type Options struct {
	// Filters combine with and.
	Filters []Expr
	OrderBy []OrderKey
	Skip    *int
	Top     *int
	Select  []string
}

// IsEmpty reports whether no operator is present.
func (o Options) IsEmpty() bool {
	return len(o.Filters) == 0 && len(o.OrderBy) == 0 && o.Skip == nil && o.Top == nil && len(o.Select) == 0
}

// Filter returns the filters folded into one and-tree, or nil.
func (o Options) Filter() Expr {
	var out Expr
	for _, f := range o.Filters {
		if out == nil {
			out = f
			continue
		}
		out = And(out, f)
	}
	return out
}

// Compile translates q into a query string such as
// "$filter=Id%20gt%201&$top=3". Nested queries and closures are evaluated
// first. Compiling the same query twice yields identical strings as long as
// its deferred values do not change.
func Compile(ctx context.Context, q *Query) (string, error) {
	opts, err := Translate(ctx, q)
	if err != nil {
		return "", err
	}
	return opts.Encode()
}

// Translate evaluates every element-independent part of q.
func Translate(ctx context.Context, q *Query) (Options, error) {
	if q == nil {
		return Options{}, faults.ArgumentNull("query")
	}
	if q.err != nil {
		return Options{}, q.err
	}

	var opts Options
	for _, f := range q.filters {
		r, err := reduce(ctx, f)
		if err != nil {
			return Options{}, err
		}
		opts.Filters = append(opts.Filters, r)
	}
	for _, k := range q.order {
		r, err := reduce(ctx, k.Expr)
		if err != nil {
			return Options{}, err
		}
		opts.OrderBy = append(opts.OrderBy, OrderKey{Expr: r, Descending: k.Descending})
	}

	var err error
	if opts.Skip, err = count(ctx, "Skip", q.skip); err != nil {
		return Options{}, err
	}
	if opts.Top, err = count(ctx, "Take", q.top); err != nil {
		return Options{}, err
	}
	switch q.terminal {
	case First, FirstOrDefault:
		opts.Top = capTop(opts.Top, 1)
	case Single:
		opts.Top = capTop(opts.Top, 2)
	}

	for _, s := range q.selects {
		path, ok := memberPath(s)
		if !ok {
			return Options{}, faults.Translation(CodeUnsupportedExpression,
				"Select accepts element members only, got %T", s)
		}
		opts.Select = append(opts.Select, path)
	}
	return opts, nil
}

func capTop(top *int, limit int) *int {
	if top != nil && *top <= limit {
		return top
	}
	return &limit
}

func count(ctx context.Context, op string, e Expr) (*int, error) {
	if e == nil {
		return nil, nil
	}
	if referencesParam(e) {
		return nil, faults.Translation(CodeUnsupportedExpression, "%s count cannot depend on the element", op)
	}
	r, err := reduce(ctx, e)
	if err != nil {
		return nil, err
	}
	n, ok := toInt64(r.(Constant).Value)
	if !ok || n < 0 || n > math.MaxInt32 {
		return nil, faults.Translation(CodeInvalidPaging, "%s count must be a non-negative integer, got %v",
			op, r.(Constant).Value)
	}
	v := int(n)
	return &v, nil
}

// reduce evaluates Values and folds element-independent subtrees into
// constants, leaving the rest of the tree intact.
func reduce(ctx context.Context, e Expr) (Expr, error) {
	var err error
	switch n := e.(type) {
	case Constant, Param:
		return e, nil
	case Value:
		if n.Eval == nil {
			return nil, faults.ArgumentNull("value " + n.Label)
		}
		v, err := n.Eval(ctx)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", n.Label, err)
		}
		return Const(v), nil
	case Member:
		if n.Target != nil {
			if n.Target, err = reduce(ctx, n.Target); err != nil {
				return nil, err
			}
		}
		e = n
	case Binary:
		if n.Left, err = reduce(ctx, n.Left); err != nil {
			return nil, err
		}
		if n.Right, err = reduce(ctx, n.Right); err != nil {
			return nil, err
		}
		e = n
	case Unary:
		if n.Operand, err = reduce(ctx, n.Operand); err != nil {
			return nil, err
		}
		e = n
	case Call:
		if n.Target != nil {
			if n.Target, err = reduce(ctx, n.Target); err != nil {
				return nil, err
			}
		}
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			if args[i], err = reduce(ctx, a); err != nil {
				return nil, err
			}
		}
		n.Args = args
		e = n
	case TypeIs:
		if n.Operand != nil {
			if n.Operand, err = reduce(ctx, n.Operand); err != nil {
				return nil, err
			}
		}
		e = n
	case Convert:
		if n.Operand, err = reduce(ctx, n.Operand); err != nil {
			return nil, err
		}
		e = n
	case nil:
		return nil, faults.ArgumentNull("expression")
	default:
		return nil, faults.Translation(CodeUnsupportedExpression, "unsupported expression %T", e)
	}

	if referencesParam(e) {
		return e, nil
	}
	v, err := Eval(ctx, e, nil)
	if err != nil {
		return nil, faults.Translation(CodeUnsupportedExpression, "cannot evaluate %T locally", e).Wrap(err)
	}
	return Const(v), nil
}

// Encode renders the options as a query string without the leading "?".
func (o Options) Encode() (string, error) {
	var parts []string

	if len(o.Filters) > 0 {
		var b strings.Builder
		for i, f := range o.Filters {
			s, _, err := render(f)
			if err != nil {
				return "", err
			}
			if len(o.Filters) == 1 {
				b.WriteString(s)
				break
			}
			if i > 0 {
				b.WriteString(" and ")
			}
			b.WriteString("(" + s + ")")
		}
		parts = append(parts, "$filter="+Escape(b.String()))
	}

	if len(o.OrderBy) > 0 {
		keys := make([]string, len(o.OrderBy))
		for i, k := range o.OrderBy {
			s, _, err := render(k.Expr)
			if err != nil {
				return "", err
			}
			if k.Descending {
				s += " desc"
			}
			keys[i] = s
		}
		parts = append(parts, "$orderby="+Escape(strings.Join(keys, ",")))
	}

	if o.Skip != nil {
		parts = append(parts, "$skip="+strconv.Itoa(*o.Skip))
	}
	if o.Top != nil {
		parts = append(parts, "$top="+strconv.Itoa(*o.Top))
	}
	if len(o.Select) > 0 {
		parts = append(parts, "$select="+Escape(strings.Join(o.Select, ",")))
	}
	return strings.Join(parts, "&"), nil
}

// Precedence levels, lowest first.
const (
	precOr = iota + 1
	precAnd
	precEquality
	precRelational
	precAdditive
	precMultiplicative
	precUnary
	precPrimary
)

func precedence(op BinaryOp) int {
	switch op {
	case OpOr:
		return precOr
	case OpAnd:
		return precAnd
	case OpEq, OpNe:
		return precEquality
	case OpGt, OpGe, OpLt, OpLe:
		return precRelational
	case OpAdd, OpSub:
		return precAdditive
	default:
		return precMultiplicative
	}
}

// render returns the filter text of e and its precedence.
func render(e Expr) (string, int, error) {
	switch n := e.(type) {
	case Param:
		return "", 0, faults.Translation(CodeUnsupportedExpression, "the element itself cannot be used as an operand")
	case Member:
		path, ok := memberPath(n)
		if !ok {
			return "", 0, faults.Translation(CodeUnsupportedExpression,
				"member %q must be accessed on the element or a member path", n.Name)
		}
		return path, precPrimary, nil
	case Constant:
		s, err := Literal(n.Value)
		return s, precPrimary, err
	case Binary:
		return renderBinary(n)
	case Unary:
		operand, p, err := render(n.Operand)
		if err != nil {
			return "", 0, err
		}
		if p < precUnary {
			operand = "(" + operand + ")"
		}
		if n.Op == OpNot {
			return "not " + operand, precUnary, nil
		}
		return "-" + operand, precUnary, nil
	case Call:
		return renderCall(n)
	case TypeIs:
		if n.Operand == nil {
			return "isof(" + quote(n.TypeName) + ")", precPrimary, nil
		}
		if _, ok := n.Operand.(Param); ok {
			return "isof(" + quote(n.TypeName) + ")", precPrimary, nil
		}
		operand, _, err := render(n.Operand)
		if err != nil {
			return "", 0, err
		}
		return "isof(" + operand + "," + quote(n.TypeName) + ")", precPrimary, nil
	case Convert:
		if _, ok := n.Operand.(Param); ok {
			return "cast(" + quote(n.TypeName) + ")", precPrimary, nil
		}
		operand, _, err := render(n.Operand)
		if err != nil {
			return "", 0, err
		}
		return "cast(" + operand + "," + quote(n.TypeName) + ")", precPrimary, nil
	case Value:
		return "", 0, faults.Translation(CodeUnsupportedExpression, "value %q was not evaluated", n.Label)
	default:
		return "", 0, faults.Translation(CodeUnsupportedExpression, "unsupported expression %T", e)
	}
}

func renderBinary(n Binary) (string, int, error) {
	if n.Op == OpAdd && (isString(n.Left) || isString(n.Right)) {
		return renderCall(Concat(n.Left, n.Right))
	}
	if int(n.Op) >= len(binaryNames) {
		return "", 0, faults.Translation(CodeUnsupportedExpression, "unsupported operator %v", n.Op)
	}
	prec := precedence(n.Op)
	left, lp, err := render(n.Left)
	if err != nil {
		return "", 0, err
	}
	right, rp, err := render(n.Right)
	if err != nil {
		return "", 0, err
	}
	if lp < prec {
		left = "(" + left + ")"
	}
	if rp <= prec {
		right = "(" + right + ")"
	}
	return left + " " + n.Op.String() + " " + right, prec, nil
}

// isString reports whether e is statically known to be a string.
func isString(e Expr) bool {
	switch n := e.(type) {
	case Constant:
		_, ok := n.Value.(string)
		return ok
	case Member:
		return n.Text
	case Call:
		switch n.Method {
		case "Concat", "ToUpper", "ToLower", "Trim", "Substring":
			return true
		}
	case Binary:
		return n.Op == OpAdd && (isString(n.Left) || isString(n.Right))
	}
	return false
}

// function maps a Call method to its wire name. Instance functions render
// the target first; swapped ones (Contains) render it last.
type function struct {
	name    string
	static  bool
	minArgs int
	maxArgs int
	swap    bool
}

var functions = map[string]function{
	"Contains":   {name: "substringof", minArgs: 1, maxArgs: 1, swap: true},
	"StartsWith": {name: "startswith", minArgs: 1, maxArgs: 1},
	"EndsWith":   {name: "endswith", minArgs: 1, maxArgs: 1},
	"IndexOf":    {name: "indexof", minArgs: 1, maxArgs: 1},
	"Substring":  {name: "substring", minArgs: 1, maxArgs: 2},
	"Replace":    {name: "replace", minArgs: 2, maxArgs: 2},
	"ToUpper":    {name: "toupper"},
	"ToLower":    {name: "tolower"},
	"Trim":       {name: "trim"},
	"Length":     {name: "length"},
	"Year":       {name: "year"},
	"Month":      {name: "month"},
	"Day":        {name: "day"},
	"Hour":       {name: "hour"},
	"Minute":     {name: "minute"},
	"Second":     {name: "second"},
	"Concat":     {name: "concat", static: true, minArgs: 2, maxArgs: -1},
	"Round":      {name: "round", static: true, minArgs: 1, maxArgs: 1},
	"Floor":      {name: "floor", static: true, minArgs: 1, maxArgs: 1},
	"Ceiling":    {name: "ceiling", static: true, minArgs: 1, maxArgs: 1},
}

func renderCall(c Call) (string, int, error) {
	fn, ok := functions[c.Method]
	if !ok {
		return "", 0, faults.Translation(CodeUnsupportedExpression, "method %s has no query equivalent", c.Method)
	}
	if len(c.Args) < fn.minArgs || (fn.maxArgs >= 0 && len(c.Args) > fn.maxArgs) {
		return "", 0, faults.Translation(CodeUnsupportedExpression, "%s called with %d arguments", c.Method, len(c.Args))
	}
	if fn.static == (c.Target != nil) {
		return "", 0, faults.Translation(CodeUnsupportedExpression, "%s called on the wrong receiver", c.Method)
	}

	if c.Method == "Concat" && len(c.Args) > 2 {
		return renderCall(Concat(Concat(c.Args[:len(c.Args)-1]...), c.Args[len(c.Args)-1]))
	}

	operands := c.Args
	if !fn.static {
		operands = append([]Expr{c.Target}, c.Args...)
	}
	if fn.swap {
		operands = append(append([]Expr{}, c.Args...), c.Target)
	}
	args := make([]string, len(operands))
	for i, o := range operands {
		s, _, err := render(o)
		if err != nil {
			return "", 0, err
		}
		args[i] = s
	}
	return fn.name + "(" + strings.Join(args, ",") + ")", precPrimary, nil
}

// memberPath renders a member chain rooted at the element as "a/b".
func memberPath(e Expr) (string, bool) {
	m, ok := e.(Member)
	if !ok || m.Name == "" {
		return "", false
	}
	switch t := m.Target.(type) {
	case nil, Param:
		return m.Name, true
	case Member:
		prefix, ok := memberPath(t)
		if !ok {
			return "", false
		}
		return prefix + "/" + m.Name, true
	default:
		return "", false
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(norm.NFC.String(s), "'", "''") + "'"
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// Literal formats v as a filter literal. Go int and the narrower integer
// kinds are written bare, 64-bit and unsigned 32/64-bit integers carry an
// L suffix, float32 an f suffix. Strings are NFC-normalized and quoted.
func Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case time.Time:
		if x.Location() == time.UTC {
			return "datetime'" + x.Format("2006-01-02T15:04:05.9999999") + "'", nil
		}
		return "datetimeoffset'" + x.Format("2006-01-02T15:04:05.9999999Z07:00") + "'", nil
	case uuid.UUID:
		return "guid'" + x.String() + "'", nil
	case []byte:
		return "X'" + strings.ToUpper(hex.EncodeToString(x)) + "'", nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return quote(rv.String()), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10) + "L", nil
	case reflect.Uint8, reflect.Uint16:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return "", faults.Translation(CodeUnsupportedLiteral, "%d overflows a 64-bit integer", rv.Uint())
		}
		return strconv.FormatUint(rv.Uint(), 10) + "L", nil
	case reflect.Float32:
		return formatFloat(rv.Float(), 32) + "f", nil
	case reflect.Float64:
		return formatFloat(rv.Float(), 64), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return "null", nil
		}
		return Literal(rv.Elem().Interface())
	}
	return "", faults.Translation(CodeUnsupportedLiteral, "cannot write %T as a literal", v)
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Escape percent-encodes s, keeping unreserved characters and the
// sub-delimiters that are legal inside a query value unescaped.
func Escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keep(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func keep(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-._~!$'()*,/:@", c) >= 0
}
