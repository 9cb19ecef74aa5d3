// Package processor defines the units of work composed by pipelines.
//
// A processor declares ordered, typed input and output arguments and
// transforms one value per input into one value per output. Processors are
// implemented by embedding *Base, which owns the argument collections and
// the lifecycle state:
//
//	type upper struct{ *processor.Base }
//
//	func newUpper() *upper {
//		b := processor.NewBase("upper")
//		_ = b.DeclareIn(processor.ArgumentOf[string]("text"))
//		_ = b.DeclareOut(processor.ArgumentOf[string]("upper"))
//		return &upper{Base: b}
//	}
//
//	func (u *upper) Execute(ctx context.Context, in []any) *processor.Result {
//		return processor.Ok(strings.ToUpper(in[0].(string)))
//	}
//
// Argument collections are mutable until Initialize is called. After that
// they are frozen and any attempt to declare or bind arguments fails.
package processor

import (
	"context"

	"github.com/c29m/webhttp/internal/faults"
)

// Processor consumes one value per input argument and produces one value
// per output argument.
//
// Execute must never return nil; a processor with nothing to report still
// returns Ok(). The interface is sealed by Base.
type Processor interface {
	Name() string
	InArguments() *ArgumentCollection
	OutArguments() *ArgumentCollection
	Initialize() error
	Initialized() bool
	Execute(ctx context.Context, inputs []any) *Result

	base() *Base
}

// Base carries the state every processor shares.
type Base struct {
	name        string
	in          *ArgumentCollection
	out         *ArgumentCollection
	initialized bool

	collection *Collection
	position   int
}

// NewBase creates the shared state for a processor called name.
func NewBase(name string) *Base {
	b := &Base{name: name, position: -1}
	b.in = newArgumentCollection(In, b)
	b.out = newArgumentCollection(Out, b)
	return b
}

func (b *Base) base() *Base                       { return b }
func (b *Base) Name() string                      { return b.name }
func (b *Base) InArguments() *ArgumentCollection  { return b.in }
func (b *Base) OutArguments() *ArgumentCollection { return b.out }
func (b *Base) Initialized() bool                 { return b.initialized }

// DeclareIn appends input arguments.
func (b *Base) DeclareIn(args ...*Argument) error {
	for _, arg := range args {
		if err := b.in.Add(arg); err != nil {
			return err
		}
	}
	return nil
}

// DeclareOut appends output arguments.
func (b *Base) DeclareOut(args ...*Argument) error {
	for _, arg := range args {
		if err := b.out.Add(arg); err != nil {
			return err
		}
	}
	return nil
}

// Initialize freezes both argument collections. Calling it again is a no-op.
// Processors that override Initialize must call it.
func (b *Base) Initialize() error {
	b.in.Freeze()
	b.out.Freeze()
	b.initialized = true
	return nil
}

// Status reports whether a processor succeeded.
type Status int

const (
	StatusOK Status = iota
	StatusError
)

// Result is what a processor hands back to the pipeline.
type Result struct {
	Status Status
	Output []any
	Err    error
}

// Ok reports success with one value per output argument.
func Ok(values ...any) *Result {
	return &Result{Status: StatusOK, Output: values}
}

// Fail reports a processor failure.
func Fail(err error) *Result {
	return &Result{Status: StatusError, Err: err}
}

// ExecFunc is the body of a Func processor.
type ExecFunc func(ctx context.Context, inputs []any) ([]any, error)

// Func adapts a function to the Processor interface.
type Func struct {
	*Base
	fn ExecFunc
}

// NewFunc declares a processor with the given arguments and body.
func NewFunc(name string, in, out []*Argument, fn ExecFunc) (*Func, error) {
	if fn == nil {
		return nil, faults.ArgumentNull("fn")
	}
	b := NewBase(name)
	if err := b.DeclareIn(in...); err != nil {
		return nil, err
	}
	if err := b.DeclareOut(out...); err != nil {
		return nil, err
	}
	return &Func{Base: b, fn: fn}, nil
}

// Execute runs the wrapped function.
func (f *Func) Execute(ctx context.Context, inputs []any) *Result {
	out, err := f.fn(ctx, inputs)
	if err != nil {
		return Fail(err)
	}
	return Ok(out...)
}
