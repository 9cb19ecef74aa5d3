package query

import "fmt"

// ValidationResult reports portability problems of a query: shapes that
// compile but behave differently across servers or cost extra requests.
type ValidationResult struct {
	// IsPortable is true when Warnings is empty.
	IsPortable bool

	Warnings []string
}

// Validate inspects q without evaluating it.
//
// Rules:
//  1. Paging (Skip/Take) needs an OrderBy to be deterministic.
//  2. Select needs at least one member.
//  3. Ordered comparisons against null are always false.
//  4. Deferred values run when the query is compiled, which for nested
//     queries means an extra request.
//  5. Single needs room for two results to detect duplicates.
//
// Validate is a pure function.
func Validate(q *Query) ValidationResult {
	v := &validator{warnings: []string{}}
	if q == nil {
		v.addWarning("nil query")
	} else {
		v.validateQuery(q)
	}
	return ValidationResult{
		IsPortable: len(v.warnings) == 0,
		Warnings:   v.warnings,
	}
}

type validator struct {
	warnings []string
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q *Query) {
	if q.err != nil {
		v.addWarning("query does not compile: %v", q.err)
	}
	if (q.skip != nil || q.top != nil) && len(q.order) == 0 {
		v.addWarning("Skip/Take without OrderBy - page contents depend on server ordering")
	}
	if q.selects != nil && len(q.selects) == 0 {
		v.addWarning("Select without members - servers return every member")
	}
	if q.terminal == Single {
		if c, ok := q.top.(Constant); ok {
			if n, ok := toInt64(c.Value); ok && n < 2 {
				v.addWarning("Single with Take(%d) cannot detect a second match", n)
			}
		}
	}
	for _, f := range q.filters {
		v.validateExpr(f)
	}
	for _, k := range q.order {
		v.validateExpr(k.Expr)
	}
	if q.skip != nil {
		v.validateExpr(q.skip)
	}
	if q.top != nil {
		v.validateExpr(q.top)
	}
}

func (v *validator) validateExpr(e Expr) {
	switch n := e.(type) {
	case Binary:
		if n.Op >= OpGt && n.Op <= OpLe && (isNull(n.Left) || isNull(n.Right)) {
			v.addWarning("%s compared to null - the comparison is always false", n.Op)
		}
		v.validateExpr(n.Left)
		v.validateExpr(n.Right)
	case Unary:
		v.validateExpr(n.Operand)
	case Member:
		if n.Target != nil {
			v.validateExpr(n.Target)
		}
	case Call:
		if _, ok := functions[n.Method]; !ok {
			v.addWarning("method %s has no query equivalent", n.Method)
		}
		if n.Target != nil {
			v.validateExpr(n.Target)
		}
		for _, a := range n.Args {
			v.validateExpr(a)
		}
	case TypeIs:
		if n.Operand != nil {
			v.validateExpr(n.Operand)
		}
	case Convert:
		v.validateExpr(n.Operand)
	case Value:
		v.addWarning("value %q is evaluated when the query is compiled", n.Label)
	}
}

func isNull(e Expr) bool {
	c, ok := e.(Constant)
	return ok && c.Value == nil
}
