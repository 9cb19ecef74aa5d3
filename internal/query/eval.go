package query

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/c29m/webhttp/internal/faults"
)

// Eval evaluates e against elem. Null operands propagate: a member of nil
// is nil, comparisons with nil other than eq/ne are false, and arithmetic
// on nil yields nil.
func Eval(ctx context.Context, e Expr, elem any) (any, error) {
	switch n := e.(type) {
	case Param:
		return elem, nil
	case Constant:
		return n.Value, nil
	case Value:
		if n.Eval == nil {
			return nil, faults.ArgumentNull("value " + n.Label)
		}
		return n.Eval(ctx)
	case Member:
		target := elem
		if n.Target != nil {
			var err error
			if target, err = Eval(ctx, n.Target, elem); err != nil {
				return nil, err
			}
		}
		return fieldValue(target, n.Name)
	case Binary:
		return evalBinary(ctx, n, elem)
	case Unary:
		v, err := Eval(ctx, n.Operand, elem)
		if err != nil || v == nil {
			return nil, err
		}
		if n.Op == OpNot {
			b, ok := v.(bool)
			if !ok {
				return nil, evalError("not requires a boolean, got %T", v)
			}
			return !b, nil
		}
		return negate(v)
	case Call:
		return evalCall(ctx, n, elem)
	case TypeIs:
		v := elem
		if n.Operand != nil {
			var err error
			if v, err = Eval(ctx, n.Operand, elem); err != nil {
				return nil, err
			}
		}
		return typeMatches(v, n.TypeName), nil
	case Convert:
		v, err := Eval(ctx, n.Operand, elem)
		if err != nil || v == nil {
			return nil, err
		}
		return convert(v, n.TypeName)
	case nil:
		return nil, faults.ArgumentNull("expression")
	default:
		return nil, evalError("unsupported expression %T", e)
	}
}

func evalError(format string, args ...any) error {
	return faults.BadRequest(CodeEvaluation, format, args...)
}

func fieldValue(v any, name string) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		if f, ok := structField(rv, name); ok {
			return f.Interface(), nil
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		key := reflect.ValueOf(name).Convert(rv.Type().Key())
		if mv := rv.MapIndex(key); mv.IsValid() {
			return mv.Interface(), nil
		}
		iter := rv.MapRange()
		for iter.Next() {
			if strings.EqualFold(iter.Key().String(), name) {
				return iter.Value().Interface(), nil
			}
		}
		return nil, nil
	}
	return nil, evalError("%T has no member %q", v, name)
}

// structField finds a field by Go name, json tag, or case-insensitive name.
func structField(rv reflect.Value, name string) (reflect.Value, bool) {
	t := rv.Type()
	if f, ok := t.FieldByName(name); ok && f.IsExported() {
		return rv.FieldByIndex(f.Index), true
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == name || strings.EqualFold(f.Name, name) {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// FieldName resolves name to the json name of a struct field of t, if t
// has such a field; otherwise name is returned unchanged.
func FieldName(t reflect.Type, name string) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return name
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if f.Name == name || strings.EqualFold(f.Name, name) || tag == name {
			if tag != "" && tag != "-" {
				return tag
			}
			return f.Name
		}
	}
	return name
}

func evalBinary(ctx context.Context, n Binary, elem any) (any, error) {
	left, err := Eval(ctx, n.Left, elem)
	if err != nil {
		return nil, err
	}

	if n.Op == OpAnd || n.Op == OpOr {
		lb, _ := left.(bool)
		if n.Op == OpAnd && !lb {
			return false, nil
		}
		if n.Op == OpOr && lb {
			return true, nil
		}
		right, err := Eval(ctx, n.Right, elem)
		if err != nil {
			return nil, err
		}
		rb, _ := right.(bool)
		return rb, nil
	}

	right, err := Eval(ctx, n.Right, elem)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case OpEq:
		return equal(left, right), nil
	case OpNe:
		return !equal(left, right), nil
	case OpGt, OpGe, OpLt, OpLe:
		if left == nil || right == nil {
			return false, nil
		}
		c, err := Compare(left, right)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpGt:
			return c > 0, nil
		case OpGe:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	default:
		return arithmetic(n.Op, left, right)
	}
}

func isInt(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isFloat(v any) bool {
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Float32 || k == reflect.Float64
}

func toInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return 0, false
		}
		return int64(rv.Uint()), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	if isFloat(v) {
		return reflect.ValueOf(v).Float(), true
	}
	return 0, false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if (isInt(a) || isFloat(a)) && (isInt(b) || isFloat(b)) {
		c, err := Compare(a, b)
		return err == nil && c == 0
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case uuid.UUID:
		switch y := b.(type) {
		case uuid.UUID:
			return x == y
		case string:
			return strings.EqualFold(x.String(), y)
		}
		return false
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.String && rb.Kind() == reflect.String {
		return ra.String() == rb.String()
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two non-nil values of compatible types.
func Compare(a, b any) (int, error) {
	if isInt(a) && isInt(b) {
		x, okx := toInt64(a)
		y, oky := toInt64(b)
		if okx && oky {
			return cmpOrdered(x, y), nil
		}
	}
	if x, ok := toFloat64(a); ok {
		if y, ok := toFloat64(b); ok {
			return cmpOrdered(x, y), nil
		}
	}
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case uuid.UUID:
		if y, ok := b.(uuid.UUID); ok {
			return bytes.Compare(x[:], y[:]), nil
		}
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.String && rb.Kind() == reflect.String {
		return strings.Compare(ra.String(), rb.String()), nil
	}
	return 0, evalError("cannot compare %T with %T", a, b)
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// sameType converts result back to the operands' type when they share one.
func sameType(result any, a, b any) any {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return result
	}
	rv := reflect.ValueOf(result)
	if rv.CanConvert(ta) {
		return rv.Convert(ta).Interface()
	}
	return result
}

func arithmetic(op BinaryOp, a, b any) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	if op == OpAdd {
		sa, okA := a.(string)
		sb, okB := b.(string)
		if okA || okB {
			if okA && okB {
				return sa + sb, nil
			}
			return fmt.Sprint(a) + fmt.Sprint(b), nil
		}
	}

	if isInt(a) && isInt(b) {
		x, _ := toInt64(a)
		y, _ := toInt64(b)
		var r int64
		switch op {
		case OpAdd:
			r = x + y
		case OpSub:
			r = x - y
		case OpMul:
			r = x * y
		case OpDiv, OpMod:
			if y == 0 {
				return nil, evalError("division by zero")
			}
			if op == OpDiv {
				r = x / y
			} else {
				r = x % y
			}
		default:
			return nil, evalError("unsupported operator %v", op)
		}
		return sameType(r, a, b), nil
	}

	x, okx := toFloat64(a)
	y, oky := toFloat64(b)
	if !okx || !oky {
		return nil, evalError("%v requires numbers, got %T and %T", op, a, b)
	}
	var r float64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		r = x / y
	case OpMod:
		r = math.Mod(x, y)
	default:
		return nil, evalError("unsupported operator %v", op)
	}
	return sameType(r, a, b), nil
}

func negate(v any) (any, error) {
	switch {
	case isInt(v):
		i, ok := toInt64(v)
		if !ok {
			return nil, evalError("cannot negate %v", v)
		}
		return sameType(-i, v, v), nil
	case isFloat(v):
		return sameType(-reflect.ValueOf(v).Float(), v, v), nil
	}
	return nil, evalError("cannot negate %T", v)
}

func evalCall(ctx context.Context, c Call, elem any) (any, error) {
	var target any
	if c.Target != nil {
		var err error
		if target, err = Eval(ctx, c.Target, elem); err != nil {
			return nil, err
		}
	}
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		v, err := Eval(ctx, a, elem)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch c.Method {
	case "Concat":
		var b strings.Builder
		for _, a := range args {
			if a != nil {
				b.WriteString(fmt.Sprint(a))
			}
		}
		return b.String(), nil
	case "Round", "Floor", "Ceiling":
		if len(args) != 1 {
			return nil, evalError("%s takes one argument", c.Method)
		}
		if args[0] == nil || isInt(args[0]) {
			return args[0], nil
		}
		f, ok := toFloat64(args[0])
		if !ok {
			return nil, evalError("%s requires a number, got %T", c.Method, args[0])
		}
		switch c.Method {
		case "Round":
			f = math.Round(f)
		case "Floor":
			f = math.Floor(f)
		default:
			f = math.Ceil(f)
		}
		return sameType(f, args[0], args[0]), nil
	case "Year", "Month", "Day", "Hour", "Minute", "Second":
		if target == nil {
			return nil, nil
		}
		t, ok := target.(time.Time)
		if !ok {
			return nil, evalError("%s requires a time, got %T", c.Method, target)
		}
		return datePart(c.Method, t), nil
	}

	if target == nil {
		return nil, nil
	}
	s, ok := stringOf(target)
	if !ok {
		return nil, evalError("%s requires a string receiver, got %T", c.Method, target)
	}
	strArg := func(i int) (string, error) {
		if i >= len(args) {
			return "", evalError("%s: missing argument %d", c.Method, i+1)
		}
		v, ok := stringOf(args[i])
		if !ok {
			return "", evalError("%s: argument %d must be a string, got %T", c.Method, i+1, args[i])
		}
		return v, nil
	}
	intArg := func(i int) (int, error) {
		if i >= len(args) {
			return 0, evalError("%s: missing argument %d", c.Method, i+1)
		}
		v, ok := toInt64(args[i])
		if !ok {
			return 0, evalError("%s: argument %d must be an integer, got %T", c.Method, i+1, args[i])
		}
		return int(v), nil
	}

	switch c.Method {
	case "Contains", "StartsWith", "EndsWith", "IndexOf":
		sub, err := strArg(0)
		if err != nil {
			return nil, err
		}
		switch c.Method {
		case "Contains":
			return strings.Contains(s, sub), nil
		case "StartsWith":
			return strings.HasPrefix(s, sub), nil
		case "EndsWith":
			return strings.HasSuffix(s, sub), nil
		default:
			i := strings.Index(s, sub)
			if i < 0 {
				return -1, nil
			}
			return utf8.RuneCountInString(s[:i]), nil
		}
	case "ToUpper":
		return strings.ToUpper(s), nil
	case "ToLower":
		return strings.ToLower(s), nil
	case "Trim":
		return strings.TrimSpace(s), nil
	case "Length":
		return utf8.RuneCountInString(s), nil
	case "Substring":
		runes := []rune(s)
		start, err := intArg(0)
		if err != nil {
			return nil, err
		}
		start = max(0, min(start, len(runes)))
		end := len(runes)
		if len(args) > 1 {
			n, err := intArg(1)
			if err != nil {
				return nil, err
			}
			end = max(start, min(start+n, len(runes)))
		}
		return string(runes[start:end]), nil
	case "Replace":
		find, err := strArg(0)
		if err != nil {
			return nil, err
		}
		with, err := strArg(1)
		if err != nil {
			return nil, err
		}
		return strings.ReplaceAll(s, find, with), nil
	}
	return nil, evalError("unknown method %s", c.Method)
}

func stringOf(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

func datePart(part string, t time.Time) int {
	switch part {
	case "Year":
		return t.Year()
	case "Month":
		return int(t.Month())
	case "Day":
		return t.Day()
	case "Hour":
		return t.Hour()
	case "Minute":
		return t.Minute()
	default:
		return t.Second()
	}
}

func typeMatches(v any, name string) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	short := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		short = name[i+1:]
	}
	return t.Name() == name || t.Name() == short || t.String() == name
}

func convert(v any, typeName string) (any, error) {
	switch strings.TrimPrefix(typeName, "Edm.") {
	case "String":
		return fmt.Sprint(v), nil
	case "Boolean":
		b, ok := v.(bool)
		if !ok {
			return nil, evalError("cannot convert %T to %s", v, typeName)
		}
		return b, nil
	}
	f, ok := toFloat64(v)
	if !ok {
		return nil, evalError("cannot convert %T to %s", v, typeName)
	}
	i, isInteger := toInt64(v)
	if !isInteger {
		i = int64(f)
	}
	switch strings.TrimPrefix(typeName, "Edm.") {
	case "Byte":
		return uint8(i), nil
	case "Int16":
		return int16(i), nil
	case "Int32":
		return int32(i), nil
	case "Int64":
		return i, nil
	case "Single":
		return float32(f), nil
	case "Double", "Decimal":
		return f, nil
	}
	return nil, evalError("unknown conversion target %s", typeName)
}
