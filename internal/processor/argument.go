package processor

import (
	"reflect"
	"strings"

	"github.com/c29m/webhttp/internal/faults"
)

// Error codes raised by argument and processor bookkeeping.
const (
	CodeInvalidName       faults.Code = "INVALID_ARGUMENT_NAME"
	CodeInvalidType       faults.Code = "INVALID_ARGUMENT_TYPE"
	CodeDuplicateArgument faults.Code = "DUPLICATE_ARGUMENT"
	CodeArgumentOwned     faults.Code = "ARGUMENT_OWNED"
	CodeCollectionFrozen  faults.Code = "COLLECTION_FROZEN"
	CodeProcessorOwned    faults.Code = "PROCESSOR_OWNED"
)

// Direction tells whether a collection holds inputs or outputs.
type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// AnyType is the type of an argument that accepts every value.
var AnyType = reflect.TypeOf((*any)(nil)).Elem()

// Argument is a named, typed slot on a processor or pipeline.
//
// An argument belongs to exactly one ArgumentCollection once added; its
// name and type never change afterwards.
type Argument struct {
	name       string
	typ        reflect.Type
	attributes []any

	owner *ArgumentCollection
	index int
}

// NewArgument creates an unowned argument. The name must contain a
// non-whitespace character and typ must not be nil.
func NewArgument(name string, typ reflect.Type, attributes ...any) (*Argument, error) {
	if strings.TrimSpace(name) == "" {
		return nil, faults.Configuration(CodeInvalidName, "argument name %q is empty or whitespace", name)
	}
	if typ == nil {
		return nil, faults.Configuration(CodeInvalidType, "argument %q has no type", name)
	}
	return &Argument{
		name:       name,
		typ:        typ,
		attributes: append([]any(nil), attributes...),
		index:      -1,
	}, nil
}

// MustArgument is NewArgument for statically known declarations.
func MustArgument(name string, typ reflect.Type, attributes ...any) *Argument {
	arg, err := NewArgument(name, typ, attributes...)
	if err != nil {
		panic(err)
	}
	return arg
}

// ArgumentOf declares an argument of type T.
func ArgumentOf[T any](name string, attributes ...any) *Argument {
	return MustArgument(name, reflect.TypeOf((*T)(nil)).Elem(), attributes...)
}

func (a *Argument) Name() string       { return a.name }
func (a *Argument) Type() reflect.Type { return a.typ }

// Attributes returns a copy of the opaque metadata attached to the argument.
func (a *Argument) Attributes() []any {
	return append([]any(nil), a.attributes...)
}

// Collection returns the owning collection, or nil.
func (a *Argument) Collection() *ArgumentCollection { return a.owner }

// Index is the position within the owning collection, -1 when unowned.
func (a *Argument) Index() int { return a.index }

// ProcessorName returns the name of the processor owning this argument,
// or "" for unowned and pipeline-level arguments.
func (a *Argument) ProcessorName() string {
	if a.owner == nil || a.owner.owner == nil {
		return ""
	}
	return a.owner.owner.name
}

// AssignableTo reports whether values of a can flow into dst.
func (a *Argument) AssignableTo(dst *Argument) bool {
	return a.typ.AssignableTo(dst.typ)
}

func (a *Argument) String() string {
	return a.name + " " + a.typ.String()
}
