// Package pipeline wires processors into a validated dataflow.
//
// A Pipeline has external inputs and outputs and an ordered list of
// processors. Bindings connect a source (a pipeline input or an earlier
// processor's output) to a destination (a later processor's input or a
// pipeline output). An output may fan out to many destinations; every
// destination receives exactly one binding.
//
// Lifecycle:
//
//	p, _ := pipeline.New(procs, inputs, outputs)
//	_ = p.BindArgumentToPipelineInput("request", procs[0].InArguments().At(0))
//	_ = p.BindArgumentToPipelineOutput(procs[0].OutArguments().At(0), "value")
//	if err := p.Initialize(); err != nil { ... }
//	res, err := p.Execute(ctx, []any{req})
//
// Ordering is declared, never inferred. Initialize rejects forward
// references and cycles instead of reordering processors.
//
// After Initialize the pipeline is immutable and Execute may be called from
// many goroutines at once; every call works on its own value arena.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/hashicorp/go-multierror"

	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/processor"
)

// Pipeline is an ordered chain of processors with declared external
// inputs and outputs.
type Pipeline struct {
	name       string
	processors *processor.Collection
	inputs     *processor.ArgumentCollection
	outputs    *processor.ArgumentCollection
	logger     *slog.Logger

	edges []edge
	bound map[endpoint]int // destination -> index into edges

	initialized bool
	plan        *plan
}

// endpoint addresses one argument of one arena node.
type endpoint struct {
	node, arg int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithName sets the name used in errors and logs.
func WithName(name string) Option {
	return func(p *Pipeline) {
		p.name = name
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pipeline over processors, claiming each of them. inputs and
// outputs must be unowned arguments.
func New(processors []processor.Processor, inputs, outputs []*processor.Argument, opts ...Option) (*Pipeline, error) {
	procs, err := processor.NewCollection(processors...)
	if err != nil {
		return nil, err
	}
	in, err := processor.NewArgumentCollection(processor.Out, inputs...)
	if err != nil {
		procs.Release()
		return nil, fmt.Errorf("pipeline inputs: %w", err)
	}
	out, err := processor.NewArgumentCollection(processor.In, outputs...)
	if err != nil {
		procs.Release()
		in.Release()
		return nil, fmt.Errorf("pipeline outputs: %w", err)
	}

	p := &Pipeline{
		name:       "pipeline",
		processors: procs,
		inputs:     in,
		outputs:    out,
		logger:     slog.Default(),
		bound:      make(map[endpoint]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) Name() string                                   { return p.name }
func (p *Pipeline) Processors() *processor.Collection              { return p.processors }
func (p *Pipeline) InputArguments() *processor.ArgumentCollection  { return p.inputs }
func (p *Pipeline) OutputArguments() *processor.ArgumentCollection { return p.outputs }
func (p *Pipeline) Initialized() bool                              { return p.initialized }

// exitNode is the arena index of the pipeline outputs.
func (p *Pipeline) exitNode() int {
	return p.processors.Len() + 1
}

// nodeName renders an arena node for messages.
func (p *Pipeline) nodeName(node int) string {
	switch {
	case node == 0:
		return "pipeline inputs"
	case node == p.exitNode():
		return "pipeline outputs"
	default:
		return fmt.Sprintf("processor %d (%s)", node-1, p.processors.At(node-1).Name())
	}
}

// argument returns the argument addressed by e.
func (p *Pipeline) argument(e endpoint, dir processor.Direction) *processor.Argument {
	switch {
	case e.node == 0:
		return p.inputs.At(e.arg)
	case e.node == p.exitNode():
		return p.outputs.At(e.arg)
	case dir == processor.In:
		return p.processors.At(e.node - 1).InArguments().At(e.arg)
	default:
		return p.processors.At(e.node - 1).OutArguments().At(e.arg)
	}
}

// processorEndpoint locates a processor argument in the arena.
func (p *Pipeline) processorEndpoint(arg *processor.Argument, dir processor.Direction) (endpoint, error) {
	idx := p.processors.OwnerIndex(arg)
	if idx < 0 {
		return endpoint{}, faults.Configuration(CodeNotInCollection,
			"argument %q does not belong to a processor of %s", arg.Name(), p.name)
	}
	if arg.Collection().Direction() != dir {
		return endpoint{}, faults.Configuration(CodeWrongDirection,
			"argument %q of processor %q is an %s argument, expected %s",
			arg.Name(), arg.ProcessorName(), arg.Collection().Direction(), dir)
	}
	return endpoint{node: idx + 1, arg: arg.Index()}, nil
}

// BindArgumentToPipelineInput binds the pipeline input called name to a
// processor input argument.
func (p *Pipeline) BindArgumentToPipelineInput(name string, in *processor.Argument) error {
	if in == nil {
		return faults.ArgumentNull("in")
	}
	src, ok := p.inputs.Find(name)
	if !ok {
		return faults.Configuration(CodeUnknownArgument,
			"%s has no input argument %q", p.name, name)
	}
	to, err := p.processorEndpoint(in, processor.In)
	if err != nil {
		return err
	}
	return p.bind(endpoint{node: 0, arg: src.Index()}, to, src, in)
}

// BindArgumentToPipelineOutput binds a processor output argument to the
// pipeline output called name.
func (p *Pipeline) BindArgumentToPipelineOutput(out *processor.Argument, name string) error {
	if out == nil {
		return faults.ArgumentNull("out")
	}
	dst, ok := p.outputs.Find(name)
	if !ok {
		return faults.Configuration(CodeUnknownArgument,
			"%s has no output argument %q", p.name, name)
	}
	from, err := p.processorEndpoint(out, processor.Out)
	if err != nil {
		return err
	}
	return p.bind(from, endpoint{node: p.exitNode(), arg: dst.Index()}, out, dst)
}

// BindPipelineInputToOutput passes a pipeline input straight through to a
// pipeline output.
func (p *Pipeline) BindPipelineInputToOutput(inputName, outputName string) error {
	src, ok := p.inputs.Find(inputName)
	if !ok {
		return faults.Configuration(CodeUnknownArgument,
			"%s has no input argument %q", p.name, inputName)
	}
	dst, ok := p.outputs.Find(outputName)
	if !ok {
		return faults.Configuration(CodeUnknownArgument,
			"%s has no output argument %q", p.name, outputName)
	}
	return p.bind(endpoint{node: 0, arg: src.Index()},
		endpoint{node: p.exitNode(), arg: dst.Index()}, src, dst)
}

// BindArguments binds a processor output to an input of a later processor.
func (p *Pipeline) BindArguments(out, in *processor.Argument) error {
	if out == nil {
		return faults.ArgumentNull("out")
	}
	if in == nil {
		return faults.ArgumentNull("in")
	}
	from, err := p.processorEndpoint(out, processor.Out)
	if err != nil {
		return err
	}
	to, err := p.processorEndpoint(in, processor.In)
	if err != nil {
		return err
	}
	return p.bind(from, to, out, in)
}

// UnbindArgument removes the binding feeding a processor input.
func (p *Pipeline) UnbindArgument(in *processor.Argument) error {
	if in == nil {
		return faults.ArgumentNull("in")
	}
	if err := p.checkMutable(); err != nil {
		return err
	}
	to, err := p.processorEndpoint(in, processor.In)
	if err != nil {
		return err
	}
	if p.processors.At(to.node - 1).Initialized() {
		return faults.Configuration(CodeAlreadyInitialized,
			"processor %q is initialized; its bindings are fixed", in.ProcessorName())
	}
	idx, ok := p.bound[to]
	if !ok {
		return faults.Configuration(CodeNotBound, "argument %q is not bound", in.Name())
	}

	p.edges = append(p.edges[:idx], p.edges[idx+1:]...)
	p.reindex()
	return nil
}

func (p *Pipeline) checkMutable() error {
	if p.initialized {
		return faults.Configuration(CodeAlreadyInitialized,
			"%s is initialized; bindings can no longer change", p.name)
	}
	return nil
}

func (p *Pipeline) bind(from, to endpoint, src, dst *processor.Argument) error {
	if err := p.checkMutable(); err != nil {
		return err
	}
	for _, node := range []int{from.node, to.node} {
		if node > 0 && node < p.exitNode() && p.processors.At(node-1).Initialized() {
			return faults.Configuration(CodeAlreadyInitialized,
				"%s is initialized; its bindings are fixed", p.nodeName(node))
		}
	}
	if _, taken := p.bound[to]; taken {
		return faults.Configuration(CodeAlreadyBound,
			"argument %q of %s is already bound", dst.Name(), p.nodeName(to.node)).
			With("argument", dst.Name())
	}
	if !src.AssignableTo(dst) {
		return faults.Configuration(CodeTypeMismatch,
			"cannot bind %q (%s) to %q (%s)", src.Name(), src.Type(), dst.Name(), dst.Type()).
			With("argument", dst.Name())
	}
	if from.node >= to.node {
		return faults.Configuration(CodeOrderingViolated,
			"%s must run before %s to feed argument %q",
			p.nodeName(from.node), p.nodeName(to.node), dst.Name())
	}

	p.bound[to] = len(p.edges)
	p.edges = append(p.edges, edge{from: from.node, fromArg: from.arg, to: to.node, toArg: to.arg})
	return nil
}

func (p *Pipeline) reindex() {
	p.bound = make(map[endpoint]int, len(p.edges))
	for i, e := range p.edges {
		p.bound[endpoint{node: e.to, arg: e.toArg}] = i
	}
}

// Binding describes one declared binding.
type Binding struct {
	From string
	To   string
}

// Bindings returns the declared bindings in declaration order.
func (p *Pipeline) Bindings() []Binding {
	out := make([]Binding, len(p.edges))
	for i, e := range p.edges {
		src := p.argument(endpoint{node: e.from, arg: e.fromArg}, processor.Out)
		dst := p.argument(endpoint{node: e.to, arg: e.toArg}, processor.In)
		out[i] = Binding{
			From: fmt.Sprintf("%s.%s", p.nodeName(e.from), src.Name()),
			To:   fmt.Sprintf("%s.%s", p.nodeName(e.to), dst.Name()),
		}
	}
	return out
}

// Initialize validates the binding graph and freezes the pipeline.
//
// Every problem found is reported in one PIPELINE_INVALID error: unbound
// processor inputs, unbound pipeline outputs, forward references, and
// cycles. On success every processor is initialized and an execution plan
// is compiled. Calling Initialize on an initialized pipeline is a no-op.
func (p *Pipeline) Initialize() error {
	if p.initialized {
		return nil
	}

	var result *multierror.Error
	for i := 0; i < p.processors.Len(); i++ {
		proc := p.processors.At(i)
		for j := 0; j < proc.InArguments().Len(); j++ {
			if _, ok := p.bound[endpoint{node: i + 1, arg: j}]; !ok {
				result = multierror.Append(result, faults.Configuration(CodeUnboundInput,
					"input %q of %s is never bound",
					proc.InArguments().At(j).Name(), p.nodeName(i+1)))
			}
		}
	}
	for j := 0; j < p.outputs.Len(); j++ {
		if _, ok := p.bound[endpoint{node: p.exitNode(), arg: j}]; !ok {
			result = multierror.Append(result, faults.Configuration(CodeUnboundOutput,
				"pipeline output %q is never bound", p.outputs.At(j).Name()))
		}
	}
	// bind already refuses edges that do not point forward, so these graph
	// passes only report for an edge set that bypassed it. They validate the
	// recorded edges as a whole rather than one binding at a time.
	for _, e := range forwardReferences(p.edges) {
		result = multierror.Append(result, faults.Configuration(CodeOrderingViolated,
			"%s is bound from %s, which does not run before it",
			p.nodeName(e.to), p.nodeName(e.from)))
	}

	names := make([]string, p.exitNode()+1)
	for i := range names {
		names[i] = p.nodeName(i)
	}
	for _, path := range newGraph(names, p.edges).cycles() {
		result = multierror.Append(result, faults.Configuration(CodeCycle, "%s", formatCycle(path)))
	}

	if err := result.ErrorOrNil(); err != nil {
		return faults.Configuration(CodePipelineInvalid, "%s is invalid", p.name).Wrap(err)
	}

	for i := 0; i < p.processors.Len(); i++ {
		proc := p.processors.At(i)
		if err := proc.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", p.nodeName(i+1), err)
		}
	}
	p.inputs.Freeze()
	p.outputs.Freeze()
	p.plan = compilePlan(p)
	p.initialized = true

	p.logger.Debug("pipeline initialized",
		"pipeline", p.name,
		"processors", p.processors.Len(),
		"bindings", len(p.edges))
	return nil
}

// plan is the immutable execution schedule built by Initialize.
type plan struct {
	steps   [][]endpoint // per processor: source of each input
	outputs []endpoint   // source of each pipeline output
	types   [][]reflect.Type
}

func compilePlan(p *Pipeline) *plan {
	pl := &plan{
		steps:   make([][]endpoint, p.processors.Len()),
		outputs: make([]endpoint, p.outputs.Len()),
		types:   make([][]reflect.Type, p.processors.Len()),
	}
	for i := 0; i < p.processors.Len(); i++ {
		proc := p.processors.At(i)
		pl.steps[i] = make([]endpoint, proc.InArguments().Len())
		pl.types[i] = make([]reflect.Type, proc.OutArguments().Len())
		for j := range pl.types[i] {
			pl.types[i][j] = proc.OutArguments().At(j).Type()
		}
	}
	for _, e := range p.edges {
		src := endpoint{node: e.from, arg: e.fromArg}
		if e.to == p.exitNode() {
			pl.outputs[e.toArg] = src
			continue
		}
		pl.steps[e.to-1][e.toArg] = src
	}
	return pl
}

// Result holds the pipeline outputs of one execution.
type Result struct {
	Output []any
	names  *processor.ArgumentCollection
}

// Value returns the output called name.
func (r *Result) Value(name string) (any, bool) {
	arg, ok := r.names.Find(name)
	if !ok {
		return nil, false
	}
	return r.Output[arg.Index()], true
}

// Execute runs every processor in declared order and returns the pipeline
// outputs. Processors are never cancelled mid-flight; ctx is only handed
// to them.
func (p *Pipeline) Execute(ctx context.Context, inputs []any) (*Result, error) {
	if !p.initialized {
		return nil, faults.Contract(CodeNotInitialized, "%s must be initialized before it executes", p.name)
	}
	if len(inputs) != p.inputs.Len() {
		return nil, faults.Contract(CodeArgumentCount,
			"%s expects %d input values, got %d", p.name, p.inputs.Len(), len(inputs))
	}

	values := make([][]any, len(p.plan.steps)+1)
	values[0] = append([]any(nil), inputs...)

	for i, sources := range p.plan.steps {
		proc := p.processors.At(i)
		args := make([]any, len(sources))
		for j, src := range sources {
			args[j] = values[src.node][src.arg]
		}

		res := proc.Execute(ctx, args)
		if res == nil {
			return nil, faults.Contract(CodeProcessorContract,
				"%s returned a nil result", p.nodeName(i+1))
		}
		if res.Status == processor.StatusError {
			return nil, p.processorFailure(i, res.Err)
		}
		if len(res.Output) != len(p.plan.types[i]) {
			return nil, faults.Contract(CodeProcessorContract,
				"%s returned %d values for %d output arguments",
				p.nodeName(i+1), len(res.Output), len(p.plan.types[i]))
		}
		for j, v := range res.Output {
			if !valueFits(v, p.plan.types[i][j]) {
				return nil, faults.Contract(CodeProcessorContract,
					"%s returned %T for output %q of type %s",
					p.nodeName(i+1), v, proc.OutArguments().At(j).Name(), p.plan.types[i][j])
			}
		}
		values[i+1] = res.Output
	}

	out := make([]any, len(p.plan.outputs))
	for j, src := range p.plan.outputs {
		out[j] = values[src.node][src.arg]
	}
	return &Result{Output: out, names: p.outputs}, nil
}

func (p *Pipeline) processorFailure(i int, err error) error {
	if err == nil {
		return faults.Contract(CodeProcessorContract,
			"%s reported a failure without an error", p.nodeName(i+1))
	}
	if faults.KindOf(err) != faults.KindUnknown {
		return fmt.Errorf("%s: %w", p.nodeName(i+1), err)
	}
	return faults.Processing(CodeProcessorFailed, err, "%s failed", p.nodeName(i+1))
}

// valueFits reports whether v may be stored in an argument of type t.
func valueFits(v any, t reflect.Type) bool {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return true
		}
		return false
	}
	return reflect.TypeOf(v).AssignableTo(t)
}
