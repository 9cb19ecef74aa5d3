package query

import (
	"context"
	"fmt"
)

// Expr is a node of a query expression tree.
//
// This is a sealed interface - only types in this package implement it.
// The marker method keeps type switches in the compiler, the evaluator and
// the SQL backend exhaustive.
//
// Node types:
//   - Param: the element being queried
//   - Member: field access on the element or on another member
//   - Constant: a literal value
//   - Binary, Unary: operators
//   - Call: a named function such as Contains or ToUpper
//   - TypeIs, Convert: type test and explicit conversion
//   - Value: a value computed when the query is compiled
//
// Trees are never mutated after construction.
type Expr interface {
	exprNode()
}

// Param is the element parameter of a predicate or key selector.
type Param struct {
	Name string
}

// Member reads a named field. A nil Target or a Param target addresses the
// element itself; a Member target forms a path ("Address/City"). Text marks
// a string-typed field, so that Add on it renders as concat.
type Member struct {
	Target Expr
	Name   string
	Text   bool
}

// Constant is a literal operand. Supported value types are nil, string,
// bool, the integer and float kinds, time.Time, uuid.UUID and []byte.
type Constant struct {
	Value any
}

// BinaryOp is an infix operator.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

var binaryNames = [...]string{
	OpEq:  "eq",
	OpNe:  "ne",
	OpGt:  "gt",
	OpGe:  "ge",
	OpLt:  "lt",
	OpLe:  "le",
	OpAnd: "and",
	OpOr:  "or",
	OpAdd: "add",
	OpSub: "sub",
	OpMul: "mul",
	OpDiv: "div",
	OpMod: "mod",
}

// String returns the wire name of the operator.
func (op BinaryOp) String() string {
	if int(op) < len(binaryNames) {
		return binaryNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Binary applies an infix operator.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// UnaryOp is a prefix operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
)

// Unary applies a prefix operator.
type Unary struct {
	Op      UnaryOp
	Operand Expr
}

// Call invokes a named function. Instance-style functions (Contains,
// ToUpper, Year...) take their receiver in Target; static ones (Concat,
// Round...) leave Target nil.
type Call struct {
	Method string
	Target Expr
	Args   []Expr
}

// TypeIs tests whether Operand is of the named type. A nil Operand tests
// the element itself.
type TypeIs struct {
	Operand  Expr
	TypeName string
}

// Convert is an explicit conversion to the named type, e.g. "Edm.Int64".
type Convert struct {
	Operand  Expr
	TypeName string
}

// Value is computed once when the enclosing query is compiled and embedded
// as a literal. It carries closures over local state and nested queries
// that must run before the outer one.
type Value struct {
	Label string
	Eval  func(ctx context.Context) (any, error)
}

func (Param) exprNode()    {}
func (Member) exprNode()   {}
func (Constant) exprNode() {}
func (Binary) exprNode()   {}
func (Unary) exprNode()    {}
func (Call) exprNode()     {}
func (TypeIs) exprNode()   {}
func (Convert) exprNode()  {}
func (Value) exprNode()    {}

// It returns the element parameter.
func It() Param { return Param{Name: "it"} }

// Field addresses a field of the element. Extra names form a path:
// Field("Address", "City") is Address/City.
func Field(name string, path ...string) Expr {
	var e Expr = Member{Target: It(), Name: name}
	for _, p := range path {
		e = Member{Target: e, Name: p}
	}
	return e
}

// StringField is Field for a string-typed member. Add(StringField("First"),
// StringField("Last")) compiles to concat(First,Last); with plain Field
// operands it would compile to First add Last.
func StringField(name string, path ...string) Expr {
	m := Field(name, path...).(Member)
	m.Text = true
	return m
}

// Const wraps a literal value.
func Const(v any) Constant { return Constant{Value: v} }

// Closure defers fn until compilation.
func Closure(label string, fn func() any) Value {
	return Value{Label: label, Eval: func(context.Context) (any, error) { return fn(), nil }}
}

func Eq(l, r Expr) Binary  { return Binary{Op: OpEq, Left: l, Right: r} }
func Ne(l, r Expr) Binary  { return Binary{Op: OpNe, Left: l, Right: r} }
func Gt(l, r Expr) Binary  { return Binary{Op: OpGt, Left: l, Right: r} }
func Ge(l, r Expr) Binary  { return Binary{Op: OpGe, Left: l, Right: r} }
func Lt(l, r Expr) Binary  { return Binary{Op: OpLt, Left: l, Right: r} }
func Le(l, r Expr) Binary  { return Binary{Op: OpLe, Left: l, Right: r} }
func And(l, r Expr) Binary { return Binary{Op: OpAnd, Left: l, Right: r} }
func Or(l, r Expr) Binary  { return Binary{Op: OpOr, Left: l, Right: r} }
func Add(l, r Expr) Binary { return Binary{Op: OpAdd, Left: l, Right: r} }
func Sub(l, r Expr) Binary { return Binary{Op: OpSub, Left: l, Right: r} }
func Mul(l, r Expr) Binary { return Binary{Op: OpMul, Left: l, Right: r} }
func Div(l, r Expr) Binary { return Binary{Op: OpDiv, Left: l, Right: r} }
func Mod(l, r Expr) Binary { return Binary{Op: OpMod, Left: l, Right: r} }

func Not(e Expr) Unary    { return Unary{Op: OpNot, Operand: e} }
func Negate(e Expr) Unary { return Unary{Op: OpNeg, Operand: e} }

// Contains tests whether s occurs in target.
func Contains(target, s Expr) Call { return Call{Method: "Contains", Target: target, Args: []Expr{s}} }

func StartsWith(target, s Expr) Call { return Call{Method: "StartsWith", Target: target, Args: []Expr{s}} }
func EndsWith(target, s Expr) Call   { return Call{Method: "EndsWith", Target: target, Args: []Expr{s}} }
func IndexOf(target, s Expr) Call    { return Call{Method: "IndexOf", Target: target, Args: []Expr{s}} }
func ToUpper(target Expr) Call       { return Call{Method: "ToUpper", Target: target} }
func ToLower(target Expr) Call       { return Call{Method: "ToLower", Target: target} }
func Trim(target Expr) Call          { return Call{Method: "Trim", Target: target} }
func Length(target Expr) Call        { return Call{Method: "Length", Target: target} }

// Substring takes the start index and an optional length.
func Substring(target Expr, args ...Expr) Call {
	return Call{Method: "Substring", Target: target, Args: args}
}

func Replace(target, find, with Expr) Call {
	return Call{Method: "Replace", Target: target, Args: []Expr{find, with}}
}

// Concat joins strings; more than two parts nest pairwise.
func Concat(parts ...Expr) Call { return Call{Method: "Concat", Args: parts} }

func Year(target Expr) Call   { return Call{Method: "Year", Target: target} }
func Month(target Expr) Call  { return Call{Method: "Month", Target: target} }
func Day(target Expr) Call    { return Call{Method: "Day", Target: target} }
func Hour(target Expr) Call   { return Call{Method: "Hour", Target: target} }
func Minute(target Expr) Call { return Call{Method: "Minute", Target: target} }
func Second(target Expr) Call { return Call{Method: "Second", Target: target} }

func Round(e Expr) Call   { return Call{Method: "Round", Args: []Expr{e}} }
func Floor(e Expr) Call   { return Call{Method: "Floor", Args: []Expr{e}} }
func Ceiling(e Expr) Call { return Call{Method: "Ceiling", Args: []Expr{e}} }

// IsOf tests the runtime type of operand (nil for the element).
func IsOf(operand Expr, typeName string) TypeIs { return TypeIs{Operand: operand, TypeName: typeName} }

// Cast converts operand to typeName.
func Cast(operand Expr, typeName string) Convert { return Convert{Operand: operand, TypeName: typeName} }

// referencesParam reports whether e depends on the element.
func referencesParam(e Expr) bool {
	switch n := e.(type) {
	case Param:
		return true
	case Member:
		return n.Target == nil || referencesParam(n.Target)
	case Binary:
		return referencesParam(n.Left) || referencesParam(n.Right)
	case Unary:
		return referencesParam(n.Operand)
	case Call:
		if n.Target != nil && referencesParam(n.Target) {
			return true
		}
		for _, a := range n.Args {
			if referencesParam(a) {
				return true
			}
		}
		return false
	case TypeIs:
		return n.Operand == nil || referencesParam(n.Operand)
	case Convert:
		return referencesParam(n.Operand)
	default:
		return false
	}
}
