// Package querysql compiles parsed query options to parameterized SQL for
// SQLite.
//
// Every compiled statement orders deterministically: the requested keys
// are followed by the id tiebreaker, so pages never overlap or skip rows.
// Values are always bound parameters and never interpolated.
package querysql

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/query"
)

// Error codes.
const (
	CodeUnsupported       faults.Code = "UNSUPPORTED_SQL"
	CodeUnknownColumn     faults.Code = "UNKNOWN_COLUMN"
	CodeInvalidIdentifier faults.Code = "INVALID_IDENTIFIER"
)

// IDColumn is the primary key every table carries. It is the ordering
// tiebreaker.
const IDColumn = "id"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name may be used as a table or column
// name.
func ValidIdentifier(name string) bool {
	return identifier.MatchString(name)
}

// Compiler compiles query options against one table.
//
// Field names resolve to columns case-insensitively, so "Name" in a filter
// addresses the column "name".
type Compiler struct {
	table   string
	columns []string
	byName  map[string]string
}

// NewCompiler creates a compiler for table with the given columns. The id
// column is implied.
func NewCompiler(table string, columns []string) (*Compiler, error) {
	if !ValidIdentifier(table) {
		return nil, faults.Configuration(CodeInvalidIdentifier, "invalid table name %q", table)
	}
	c := &Compiler{table: table, byName: map[string]string{strings.ToLower(IDColumn): IDColumn}}
	c.columns = append(c.columns, IDColumn)
	for _, col := range columns {
		if !ValidIdentifier(col) {
			return nil, faults.Configuration(CodeInvalidIdentifier, "invalid column name %q", col).With("table", table)
		}
		key := strings.ToLower(col)
		if _, dup := c.byName[key]; dup {
			continue
		}
		c.byName[key] = col
		c.columns = append(c.columns, col)
	}
	return c, nil
}

// Columns returns the column names, id first.
func (c *Compiler) Columns() []string {
	return append([]string(nil), c.columns...)
}

// Compile converts opts to a SELECT statement. equals adds column = value
// constraints, as bound from URI variables; keys are applied in sorted
// order so the output is stable.
//
// Returns (sql, params, error).
func (c *Compiler) Compile(opts query.Options, equals map[string]any) (string, []any, error) {
	selectClause, err := c.compileSelect(opts.Select)
	if err != nil {
		return "", nil, err
	}

	var conds []string
	var params []any
	if f := opts.Filter(); f != nil {
		s, p, err := c.compileExpr(f)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		conds = append(conds, s)
		params = append(params, p...)
	}
	keys := make([]string, 0, len(equals))
	for k := range equals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		col, err := c.column(k)
		if err != nil {
			return "", nil, err
		}
		if equals[k] == nil {
			conds = append(conds, quoteIdent(col)+" IS NULL")
			continue
		}
		conds = append(conds, quoteIdent(col)+" = ?")
		params = append(params, equals[k])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", selectClause, quoteIdent(c.table))
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	orderBy, orderParams, err := c.compileOrder(opts.OrderBy)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	params = append(params, orderParams...)

	switch {
	case opts.Top != nil:
		b.WriteString(" LIMIT ?")
		params = append(params, *opts.Top)
	case opts.Skip != nil:
		// SQLite requires a LIMIT before OFFSET; -1 means no limit.
		b.WriteString(" LIMIT -1")
	}
	if opts.Skip != nil {
		b.WriteString(" OFFSET ?")
		params = append(params, *opts.Skip)
	}
	return b.String(), params, nil
}

func (c *Compiler) compileSelect(paths []string) (string, error) {
	if len(paths) == 0 {
		return "*", nil
	}
	cols := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.Contains(p, "/") {
			return "", faults.Translation(CodeUnsupported, "$select path %s addresses a nested field", p)
		}
		col, err := c.column(p)
		if err != nil {
			return "", err
		}
		cols = append(cols, quoteIdent(col))
	}
	return strings.Join(cols, ", "), nil
}

// compileOrder renders the requested keys followed by the stable
// tiebreaker.
func (c *Compiler) compileOrder(keys []query.OrderKey) (string, []any, error) {
	var parts []string
	var params []any
	for _, k := range keys {
		s, p, err := c.compileExpr(k.Expr)
		if err != nil {
			return "", nil, fmt.Errorf("compile order key: %w", err)
		}
		if k.Descending {
			s += " DESC"
		} else {
			s += " ASC"
		}
		parts = append(parts, s)
		params = append(params, p...)
	}
	parts = append(parts, stableOrderKey())
	return strings.Join(parts, ", "), params, nil
}

// stableOrderKey is appended to every ORDER BY. BINARY collation keeps the
// order independent of the connection's collation settings.
func stableOrderKey() string {
	return quoteIdent(IDColumn) + " ASC COLLATE BINARY"
}

func (c *Compiler) column(name string) (string, error) {
	if col, ok := c.byName[strings.ToLower(name)]; ok {
		return col, nil
	}
	return "", faults.Translation(CodeUnknownColumn, "table %s has no column %s", c.table, name)
}

var binaryOps = map[query.BinaryOp]string{
	query.OpEq:  "=",
	query.OpNe:  "<>",
	query.OpGt:  ">",
	query.OpGe:  ">=",
	query.OpLt:  "<",
	query.OpLe:  "<=",
	query.OpAnd: "AND",
	query.OpOr:  "OR",
	query.OpAdd: "+",
	query.OpSub: "-",
	query.OpMul: "*",
	query.OpDiv: "/",
	query.OpMod: "%",
}

// compileExpr renders e as a fully parenthesized SQL expression.
func (c *Compiler) compileExpr(e query.Expr) (string, []any, error) {
	switch n := e.(type) {
	case query.Member:
		switch n.Target.(type) {
		case nil, query.Param:
		default:
			return "", nil, faults.Translation(CodeUnsupported, "member path below %s addresses a nested field", n.Name)
		}
		col, err := c.column(n.Name)
		if err != nil {
			return "", nil, err
		}
		return quoteIdent(col), nil, nil

	case query.Constant:
		if n.Value == nil {
			return "NULL", nil, nil
		}
		return "?", []any{n.Value}, nil

	case query.Binary:
		return c.compileBinary(n)

	case query.Unary:
		s, p, err := c.compileExpr(n.Operand)
		if err != nil {
			return "", nil, err
		}
		if n.Op == query.OpNot {
			return "(NOT " + s + ")", p, nil
		}
		return "(-" + s + ")", p, nil

	case query.Call:
		return c.compileCall(n)

	default:
		return "", nil, faults.Translation(CodeUnsupported, "%T has no SQL equivalent", e)
	}
}

func isNull(e query.Expr) bool {
	k, ok := e.(query.Constant)
	return ok && k.Value == nil
}

func (c *Compiler) compileBinary(n query.Binary) (string, []any, error) {
	op, ok := binaryOps[n.Op]
	if !ok {
		return "", nil, faults.Translation(CodeUnsupported, "operator %s has no SQL equivalent", n.Op)
	}

	// Comparisons with null need IS; = NULL is never true.
	if n.Op == query.OpEq || n.Op == query.OpNe {
		operand := n.Left
		if isNull(n.Left) {
			operand = n.Right
		}
		if isNull(n.Left) || isNull(n.Right) {
			s, p, err := c.compileExpr(operand)
			if err != nil {
				return "", nil, err
			}
			if n.Op == query.OpEq {
				return "(" + s + " IS NULL)", p, nil
			}
			return "(" + s + " IS NOT NULL)", p, nil
		}
	}

	l, lp, err := c.compileExpr(n.Left)
	if err != nil {
		return "", nil, err
	}
	r, rp, err := c.compileExpr(n.Right)
	if err != nil {
		return "", nil, err
	}
	return "(" + l + " " + op + " " + r + ")", append(lp, rp...), nil
}

// sqlFunctions maps a Call method to a SQL template. %[n]s is the n-th
// operand, the receiver first.
var sqlFunctions = map[string]struct {
	format string
	arity  int
}{
	"Contains":   {"(instr(%[1]s, %[2]s) > 0)", 2},
	"StartsWith": {"(substr(%[1]s, 1, length(%[2]s)) = %[2]s)", 2},
	"EndsWith":   {"(substr(%[1]s, length(%[1]s) - length(%[2]s) + 1) = %[2]s)", 2},
	"IndexOf":    {"(instr(%[1]s, %[2]s) - 1)", 2},
	"ToUpper":    {"upper(%[1]s)", 1},
	"ToLower":    {"lower(%[1]s)", 1},
	"Trim":       {"trim(%[1]s)", 1},
	"Length":     {"length(%[1]s)", 1},
	"Replace":    {"replace(%[1]s, %[2]s, %[3]s)", 3},
	"Year":       {"CAST(strftime('%%Y', %[1]s) AS INTEGER)", 1},
	"Month":      {"CAST(strftime('%%m', %[1]s) AS INTEGER)", 1},
	"Day":        {"CAST(strftime('%%d', %[1]s) AS INTEGER)", 1},
	"Hour":       {"CAST(strftime('%%H', %[1]s) AS INTEGER)", 1},
	"Minute":     {"CAST(strftime('%%M', %[1]s) AS INTEGER)", 1},
	"Second":     {"CAST(strftime('%%S', %[1]s) AS INTEGER)", 1},
	"Round":      {"round(%[1]s)", 1},
}

func (c *Compiler) compileCall(n query.Call) (string, []any, error) {
	operands := n.Args
	if n.Target != nil {
		operands = append([]query.Expr{n.Target}, n.Args...)
	}

	switch n.Method {
	case "Concat":
		if len(operands) < 2 {
			return "", nil, faults.Translation(CodeUnsupported, "Concat needs at least 2 operands")
		}
		parts, params, err := c.compileAll(operands)
		if err != nil {
			return "", nil, err
		}
		return "(" + strings.Join(parts, " || ") + ")", params, nil
	case "Substring":
		if len(operands) != 2 && len(operands) != 3 {
			return "", nil, faults.Translation(CodeUnsupported, "Substring called with %d operands", len(operands))
		}
		parts, params, err := c.compileAll(operands)
		if err != nil {
			return "", nil, err
		}
		// substr is 1-based.
		s := "substr(" + parts[0] + ", " + parts[1] + " + 1"
		if len(parts) == 3 {
			s += ", " + parts[2]
		}
		return s + ")", params, nil
	}

	fn, ok := sqlFunctions[n.Method]
	if !ok {
		return "", nil, faults.Translation(CodeUnsupported, "method %s has no SQL equivalent", n.Method)
	}
	if len(operands) != fn.arity {
		return "", nil, faults.Translation(CodeUnsupported, "%s called with %d operands", n.Method, len(operands))
	}
	parts, _, err := c.compileAll(operands)
	if err != nil {
		return "", nil, err
	}

	// Templates may reference an operand more than once; bind its
	// parameters once per reference, in the order they appear.
	args := make([]any, len(parts))
	for i, part := range parts {
		args[i] = part
	}
	var params []any
	for _, idx := range references(fn.format) {
		_, p, err := c.compileExpr(operands[idx])
		if err != nil {
			return "", nil, err
		}
		params = append(params, p...)
	}
	return fmt.Sprintf(fn.format, args...), params, nil
}

func (c *Compiler) compileAll(operands []query.Expr) ([]string, []any, error) {
	parts := make([]string, len(operands))
	var params []any
	for i, o := range operands {
		s, p, err := c.compileExpr(o)
		if err != nil {
			return nil, nil, err
		}
		parts[i] = s
		params = append(params, p...)
	}
	return parts, params, nil
}

var operandRef = regexp.MustCompile(`%\[(\d)\]s`)

// references returns the zero-based operand indexes a template uses, in
// order of appearance.
func references(format string) []int {
	var out []int
	for _, m := range operandRef.FindAllStringSubmatch(format, -1) {
		out = append(out, int(m[1][0]-'1'))
	}
	return out
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
