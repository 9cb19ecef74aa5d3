// Package processors provides the standard request and response processors
// the host chains around every operation: binding URI template variables,
// decoding the request body, and encoding the response entity.
package processors

import (
	"encoding"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/c29m/webhttp/internal/faults"
)

// Error codes.
const (
	CodeConversion  faults.Code = "CONVERSION_FAILED"
	CodeInvalidBody faults.Code = "INVALID_BODY"
	CodeMissingData faults.Code = "MISSING_DATA"
)

var (
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	uuidType            = reflect.TypeOf(uuid.UUID{})
)

// Convert turns the string form of a URI variable into a value of type t.
// Supported are strings, integers, floats, booleans, uuid.UUID, pointers to
// any of them, and every type whose pointer implements
// encoding.TextUnmarshaler.
func Convert(s string, t reflect.Type) (any, error) {
	v, err := convert(s, t)
	if err != nil {
		return nil, faults.BadRequest(CodeConversion, "cannot convert %q to %s", s, t).Wrap(err)
	}
	return v.Interface(), nil
}

func convert(s string, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Pointer {
		elem, err := convert(s, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil
	}

	if t == uuidType {
		id, err := uuid.Parse(s)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(id), nil
	}
	if reflect.PointerTo(t).Implements(textUnmarshalerType) {
		p := reflect.New(t)
		if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return reflect.Value{}, err
		}
		return p.Elem(), nil
	}

	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetFloat(f)
	case reflect.Interface:
		if !reflect.TypeOf(s).AssignableTo(t) {
			return reflect.Value{}, faults.BadRequest(CodeConversion, "unsupported parameter type %s", t)
		}
		v.Set(reflect.ValueOf(s))
	default:
		return reflect.Value{}, faults.BadRequest(CodeConversion, "unsupported parameter type %s", t)
	}
	return v, nil
}
