// Package host exposes operations over HTTP.
//
// A Builder collects operations and their handlers. Build wires, for every
// operation, a request pipeline that binds URI variables and decodes the
// body into handler arguments, and a response pipeline that encodes the
// handler result. The resulting Service is an immutable http.Handler.
//
// Request flow:
//
//	request id -> selection -> request pipeline -> handler
//	  -> query composition (Queryable operations) -> response pipeline
package host

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-multierror"

	"github.com/c29m/webhttp/internal/content"
	"github.com/c29m/webhttp/internal/dispatch"
	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/pipeline"
	"github.com/c29m/webhttp/internal/processor"
	"github.com/c29m/webhttp/internal/processors"
	"github.com/c29m/webhttp/internal/uritemplate"
)

// Error codes.
const (
	CodeNotFound         faults.Code = "NOT_FOUND"
	CodeMethodNotAllowed faults.Code = "METHOD_NOT_ALLOWED"
	CodeMultipleBodies   faults.Code = "MULTIPLE_BODY_PARAMETERS"
	CodeHandlerFailed    faults.Code = "HANDLER_FAILED"
)

// Handler implements an operation. args holds one value per operation
// input, in declaration order. The returned value is encoded as the
// response entity; nil yields 204 No Content and a *processors.Response is
// written as is.
type Handler func(ctx context.Context, args []any) (any, error)

type registration struct {
	op      dispatch.Operation
	handler Handler
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithFormatters selects formatters by registry tag. The first is the
// default. The default is "json", "xml".
func WithFormatters(tags ...string) Option {
	return func(b *Builder) {
		b.tags = tags
	}
}

// WithRegistry replaces the formatter registry.
func WithRegistry(r *content.Registry) Option {
	return func(b *Builder) {
		if r != nil {
			b.registry = r
		}
	}
}

// WithRequestIDs sets the request id generator. The default generates
// UUIDv7 ids.
func WithRequestIDs(g RequestIDGenerator) Option {
	return func(b *Builder) {
		if g != nil {
			b.ids = g
		}
	}
}

// WithSelectorOptions passes options to the operation selector, such as
// dispatch.WithCatchAll or dispatch.WithMatchMode.
func WithSelectorOptions(opts ...dispatch.Option) Option {
	return func(b *Builder) {
		b.selectorOpts = append(b.selectorOpts, opts...)
	}
}

// Builder collects operations for a Service.
type Builder struct {
	base         *url.URL
	regs         []registration
	registry     *content.Registry
	tags         []string
	ids          RequestIDGenerator
	selectorOpts []dispatch.Option
	logger       *slog.Logger
	errs         *multierror.Error
}

// NewBuilder creates a builder for a service rooted at base.
func NewBuilder(base *url.URL, opts ...Option) *Builder {
	b := &Builder{
		base:     base,
		registry: content.DefaultRegistry(),
		tags:     []string{"json", "xml"},
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle registers op with its handler. Problems are reported here when
// they concern the registration itself and by Build otherwise.
func (b *Builder) Handle(op dispatch.Operation, h Handler) error {
	if h == nil {
		err := faults.ArgumentNull("handler").With("operation", op.Name)
		b.errs = multierror.Append(b.errs, err)
		return err
	}
	b.regs = append(b.regs, registration{op: op, handler: h})
	return nil
}

// Build validates every registration and wires the per-operation
// pipelines. All problems are reported together.
func (b *Builder) Build() (*Service, error) {
	if b.base == nil {
		return nil, faults.ArgumentNull("base")
	}
	result := b.errs

	formatters, err := b.registry.Resolve(b.tags...)
	if err != nil {
		result = multierror.Append(result, err)
	}

	sb := dispatch.NewBuilder(b.base, append([]dispatch.Option{dispatch.WithLogger(b.logger)}, b.selectorOpts...)...)
	for _, reg := range b.regs {
		if err := sb.Add(reg.op); err != nil {
			result = multierror.Append(result, err)
		}
	}
	selector, err := sb.Build()
	if err != nil {
		result = multierror.Append(result, err)
	}

	routes := make(map[string]*route, len(b.regs))
	if formatters != nil {
		for _, reg := range b.regs {
			r, err := newRoute(reg, formatters, b.logger)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("operation %s: %w", reg.op.Name, err))
				continue
			}
			routes[reg.op.Name] = r
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, faults.Configuration(dispatch.CodeInvalidOperation, "service at %s is invalid", b.base).Wrap(err)
	}

	b.logger.Debug("service built",
		"base", b.base.String(),
		"operations", len(routes))
	return &Service{
		base:     b.base,
		selector: selector,
		routes:   routes,
		ids:      b.ids,
		logger:   b.logger,
	}, nil
}

// route is the wired form of one registration.
type route struct {
	op       dispatch.Operation
	handler  Handler
	request  *pipeline.Pipeline
	response *pipeline.Pipeline
}

func newRoute(reg registration, formatters *content.Set, logger *slog.Logger) (*route, error) {
	req, err := requestPipeline(reg.op, formatters, logger)
	if err != nil {
		return nil, err
	}
	resp, err := responsePipeline(reg.op, formatters, logger)
	if err != nil {
		return nil, err
	}
	return &route{op: reg.op, handler: reg.handler, request: req, response: resp}, nil
}

// requestPipeline has inputs "request" and "match" and one output per
// operation input.
func requestPipeline(op dispatch.Operation, formatters *content.Set, logger *slog.Logger) (*pipeline.Pipeline, error) {
	bodies := op.BodyParameters()
	if len(bodies) > 1 {
		return nil, faults.Configuration(CodeMultipleBodies,
			"%d inputs are not bound by the template; at most one may come from the body", len(bodies))
	}

	outputs := make([]*processor.Argument, len(op.Inputs))
	for i, param := range op.Inputs {
		arg, err := processor.NewArgument(param.Name, param.Type)
		if err != nil {
			return nil, err
		}
		outputs[i] = arg
	}

	var procs []processor.Processor
	uri, err := processors.NewURITemplate(op)
	if err != nil {
		return nil, err
	}
	if uri.OutArguments().Len() > 0 {
		procs = append(procs, uri)
	}
	var body *processors.RequestBody
	if len(bodies) == 1 {
		if body, err = processors.NewRequestBody(formatters, bodies[0]); err != nil {
			return nil, err
		}
		procs = append(procs, body)
	}

	inputs := []*processor.Argument{
		processor.ArgumentOf[*http.Request]("request"),
		processor.ArgumentOf[*uritemplate.Match]("match"),
	}
	p, err := pipeline.New(procs, inputs, outputs,
		pipeline.WithName(op.Name+" request"),
		pipeline.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if uri.OutArguments().Len() > 0 {
		if err := p.BindArgumentToPipelineInput("match", uri.InArguments().At(0)); err != nil {
			return nil, err
		}
		for _, out := range uri.OutArguments().All() {
			if err := p.BindArgumentToPipelineOutput(out, out.Name()); err != nil {
				return nil, err
			}
		}
	}
	if body != nil {
		if err := p.BindArgumentToPipelineInput("request", body.InArguments().At(0)); err != nil {
			return nil, err
		}
		out := body.OutArguments().At(0)
		if err := p.BindArgumentToPipelineOutput(out, out.Name()); err != nil {
			return nil, err
		}
	}
	if err := p.Initialize(); err != nil {
		return nil, err
	}
	return p, nil
}

// responsePipeline has inputs "request" and "result" and the output
// "response".
func responsePipeline(op dispatch.Operation, formatters *content.Set, logger *slog.Logger) (*pipeline.Pipeline, error) {
	entity, err := processors.NewResponseEntity(formatters)
	if err != nil {
		return nil, err
	}
	inputs := []*processor.Argument{
		processor.ArgumentOf[*http.Request]("request"),
		processor.MustArgument("result", processor.AnyType),
	}
	outputs := []*processor.Argument{processor.ArgumentOf[*processors.Response]("response")}
	p, err := pipeline.New([]processor.Processor{entity}, inputs, outputs,
		pipeline.WithName(op.Name+" response"),
		pipeline.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	for i, in := range entity.InArguments().All() {
		if err := p.BindArgumentToPipelineInput(inputs[i].Name(), in); err != nil {
			return nil, err
		}
	}
	if err := p.BindArgumentToPipelineOutput(entity.OutArguments().At(0), "response"); err != nil {
		return nil, err
	}
	if err := p.Initialize(); err != nil {
		return nil, err
	}
	return p, nil
}
