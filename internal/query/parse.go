package query

import (
	"encoding/hex"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/c29m/webhttp/internal/faults"
)

// Parse reads the $filter, $orderby, $skip, $top and $select options from
// a raw query string. Other parameters are ignored. Malformed options are
// reported as BadRequest faults.
func Parse(rawQuery string) (Options, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Options{}, faults.BadRequest(CodeSyntax, "malformed query string").Wrap(err)
	}

	var opts Options
	if s := values.Get("$filter"); s != "" {
		f, err := ParseFilter(s)
		if err != nil {
			return Options{}, err
		}
		opts.Filters = []Expr{f}
	}
	if s := values.Get("$orderby"); s != "" {
		if opts.OrderBy, err = ParseOrderBy(s); err != nil {
			return Options{}, err
		}
	}
	if opts.Skip, err = parseCount("$skip", values); err != nil {
		return Options{}, err
	}
	if opts.Top, err = parseCount("$top", values); err != nil {
		return Options{}, err
	}
	if s := values.Get("$select"); s != "" {
		for _, p := range strings.Split(s, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				return Options{}, faults.BadRequest(CodeSyntax, "empty $select item")
			}
			opts.Select = append(opts.Select, p)
		}
	}
	return opts, nil
}

func parseCount(name string, values url.Values) (*int, error) {
	if !values.Has(name) {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(values.Get(name)))
	if err != nil || n < 0 {
		return nil, faults.BadRequest(CodeInvalidPaging, "%s must be a non-negative integer", name)
	}
	return &n, nil
}

// ParseFilter parses a $filter expression.
func ParseFilter(s string) (Expr, error) {
	p, err := newParser(s)
	if err != nil {
		return nil, err
	}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return e, nil
}

// ParseOrderBy parses a comma-separated $orderby list.
func ParseOrderBy(s string) ([]OrderKey, error) {
	p, err := newParser(s)
	if err != nil {
		return nil, err
	}
	var keys []OrderKey
	for {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		key := OrderKey{Expr: e}
		if t := p.peek(); t.kind == tokIdent && (t.text == "asc" || t.text == "desc") {
			key.Descending = t.text == "desc"
			p.next()
		}
		keys = append(keys, key)
		if p.done() {
			return keys, nil
		}
		if p.peek().kind != tokComma {
			return nil, p.errorf("expected ',' got %q", p.peek().text)
		}
		p.next()
	}
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokTyped // prefix'...' literal; text holds the prefix, value the body
	tokLParen
	tokRParen
	tokComma
	tokSlash
	tokMinus
)

type token struct {
	kind  tokenKind
	text  string
	value string
	pos   int
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '/':
			toks = append(toks, token{kind: tokSlash, text: "/", pos: i})
			i++
		case c == '-':
			toks = append(toks, token{kind: tokMinus, text: "-", pos: i})
			i++
		case c == '\'':
			body, n, err := lexQuoted(s, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s[i:n], value: body, pos: i})
			i = n
		case c >= '0' && c <= '9':
			start := i
			for i < len(s) && (isDigit(s[i]) || s[i] == '.') {
				i++
			}
			if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
				i++
				if i < len(s) && (s[i] == '+' || s[i] == '-') {
					i++
				}
				for i < len(s) && isDigit(s[i]) {
					i++
				}
			}
			if i < len(s) && strings.IndexByte("LlfFdDmM", s[i]) >= 0 {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: s[start:i], pos: start})
		case c == '_' || c == '$' || unicode.IsLetter(rune(c)):
			start := i
			for i < len(s) && (s[i] == '_' || s[i] == '.' || isDigit(s[i]) || unicode.IsLetter(rune(s[i]))) {
				i++
			}
			word := s[start:i]
			if i < len(s) && s[i] == '\'' {
				body, n, err := lexQuoted(s, i)
				if err != nil {
					return nil, err
				}
				toks = append(toks, token{kind: tokTyped, text: word, value: body, pos: start})
				i = n
				continue
			}
			toks = append(toks, token{kind: tokIdent, text: word, pos: start})
		default:
			return nil, faults.BadRequest(CodeSyntax, "unexpected character %q at position %d", c, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(s)}), nil
}

// lexQuoted reads a single-quoted string starting at s[i] with '' as an
// escaped quote. It returns the body and the index after the closing quote.
func lexQuoted(s string, i int) (string, int, error) {
	var b strings.Builder
	for j := i + 1; j < len(s); j++ {
		if s[j] != '\'' {
			b.WriteByte(s[j])
			continue
		}
		if j+1 < len(s) && s[j+1] == '\'' {
			b.WriteByte('\'')
			j++
			continue
		}
		return b.String(), j + 1, nil
	}
	return "", 0, faults.BadRequest(CodeSyntax, "unterminated string at position %d", i)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

type parser struct {
	src  string
	toks []token
	pos  int
}

func newParser(s string) (*parser, error) {
	toks, err := lex(s)
	if err != nil {
		return nil, err
	}
	return &parser{src: s, toks: toks}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) done() bool  { return p.peek().kind == tokEOF }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	e := faults.BadRequest(CodeSyntax, format, args...)
	return e.With("position", strconv.Itoa(p.peek().pos))
}

func (p *parser) expect(kind tokenKind, what string) error {
	if p.peek().kind != kind {
		return p.errorf("expected %s at position %d", what, p.peek().pos)
	}
	p.next()
	return nil
}

var levels = [][]BinaryOp{
	{OpOr},
	{OpAnd},
	{OpEq, OpNe},
	{OpGt, OpGe, OpLt, OpLe},
	{OpAdd, OpSub},
	{OpMul, OpDiv, OpMod},
}

func (p *parser) expr() (Expr, error) { return p.binary(0) }

func (p *parser) binary(level int) (Expr, error) {
	if level == len(levels) {
		return p.unary()
	}
	left, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		op, ok := matchOp(t, levels[level])
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
}

func matchOp(t token, ops []BinaryOp) (BinaryOp, bool) {
	if t.kind != tokIdent {
		return 0, false
	}
	for _, op := range ops {
		if t.text == op.String() {
			return op, true
		}
	}
	return 0, false
}

func (p *parser) unary() (Expr, error) {
	t := p.peek()
	switch {
	case t.kind == tokIdent && t.text == "not":
		p.next()
		e, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Not(e), nil
	case t.kind == tokMinus:
		p.next()
		e, err := p.unary()
		if err != nil {
			return nil, err
		}
		if c, ok := e.(Constant); ok {
			if v, err := negate(c.Value); err == nil {
				return Const(v), nil
			}
		}
		return Negate(e), nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case tokString:
		return Const(t.value), nil
	case tokNumber:
		v, err := parseNumber(t.text)
		if err != nil {
			return nil, faults.BadRequest(CodeSyntax, "invalid number %q", t.text)
		}
		return Const(v), nil
	case tokTyped:
		v, err := parseTyped(t.text, t.value)
		if err != nil {
			return nil, err
		}
		return Const(v), nil
	case tokIdent:
		switch t.text {
		case "null":
			return Const(nil), nil
		case "true":
			return Const(true), nil
		case "false":
			return Const(false), nil
		case "INF":
			return Const(math.Inf(1)), nil
		case "NaN":
			return Const(math.NaN()), nil
		}
		if p.peek().kind == tokLParen {
			p.next()
			return p.call(t.text)
		}
		var e Expr = Member{Target: It(), Name: t.text}
		for p.peek().kind == tokSlash {
			p.next()
			seg := p.next()
			if seg.kind != tokIdent {
				return nil, faults.BadRequest(CodeSyntax, "expected member name after '/' at position %d", seg.pos)
			}
			e = Member{Target: e, Name: seg.text}
		}
		return e, nil
	case tokEOF:
		return nil, faults.BadRequest(CodeSyntax, "unexpected end of expression")
	}
	return nil, faults.BadRequest(CodeSyntax, "unexpected %q at position %d", t.text, t.pos)
}

func (p *parser) args() ([]Expr, error) {
	var args []Expr
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		switch p.next().kind {
		case tokComma:
		case tokRParen:
			return args, nil
		default:
			return nil, faults.BadRequest(CodeSyntax, "expected ',' or ')' in argument list")
		}
	}
}

// methods maps wire function names back to Call methods.
var methods = func() map[string]string {
	m := make(map[string]string, len(functions))
	for method, fn := range functions {
		m[fn.name] = method
	}
	return m
}()

func (p *parser) call(name string) (Expr, error) {
	args, err := p.args()
	if err != nil {
		return nil, err
	}

	switch name {
	case "isof", "cast":
		var operand Expr
		typeArg := args
		if len(args) == 2 {
			operand, typeArg = args[0], args[1:]
		}
		var tn string
		if len(typeArg) == 1 {
			if c, ok := typeArg[0].(Constant); ok {
				tn, _ = c.Value.(string)
			}
		}
		if tn == "" {
			return nil, faults.BadRequest(CodeSyntax, "%s expects a quoted type name", name)
		}
		if name == "isof" {
			return IsOf(operand, tn), nil
		}
		if operand == nil {
			operand = It()
		}
		return Cast(operand, tn), nil
	}

	method, ok := methods[name]
	if !ok {
		return nil, faults.BadRequest(CodeSyntax, "unknown function %s", name)
	}
	fn := functions[method]
	if fn.static {
		if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
			return nil, faults.BadRequest(CodeSyntax, "%s called with %d arguments", name, len(args))
		}
		return Call{Method: method, Args: args}, nil
	}
	if len(args)-1 < fn.minArgs || (fn.maxArgs >= 0 && len(args)-1 > fn.maxArgs) {
		return nil, faults.BadRequest(CodeSyntax, "%s called with %d arguments", name, len(args))
	}
	if fn.swap {
		last := len(args) - 1
		return Call{Method: method, Target: args[last], Args: args[:last]}, nil
	}
	return Call{Method: method, Target: args[0], Args: args[1:]}, nil
}

func parseNumber(s string) (any, error) {
	suffix := s[len(s)-1]
	body := s
	if strings.IndexByte("LlfFdDmM", suffix) >= 0 {
		body = s[:len(s)-1]
	} else {
		suffix = 0
	}
	switch suffix {
	case 'L', 'l':
		return strconv.ParseInt(body, 10, 64)
	case 'f', 'F':
		f, err := strconv.ParseFloat(body, 32)
		return float32(f), err
	case 'd', 'D', 'm', 'M':
		return strconv.ParseFloat(body, 64)
	}
	if strings.ContainsAny(body, ".eE") {
		return strconv.ParseFloat(body, 64)
	}
	n, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return nil, err
	}
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return int(n), nil
	}
	return n, nil
}

func parseTyped(prefix, body string) (any, error) {
	switch strings.ToLower(prefix) {
	case "datetime":
		for _, layout := range []string{"2006-01-02T15:04:05.9999999", "2006-01-02T15:04"} {
			if t, err := time.ParseInLocation(layout, body, time.UTC); err == nil {
				return t, nil
			}
		}
	case "datetimeoffset":
		if t, err := time.Parse(time.RFC3339Nano, body); err == nil {
			return t, nil
		}
	case "guid":
		if g, err := uuid.Parse(body); err == nil {
			return g, nil
		}
	case "x", "binary":
		if b, err := hex.DecodeString(body); err == nil {
			return b, nil
		}
	default:
		return nil, faults.BadRequest(CodeSyntax, "unknown literal type %s", prefix)
	}
	return nil, faults.BadRequest(CodeSyntax, "invalid %s literal %q", prefix, body)
}
