package processors

import (
	"context"
	"fmt"
	"reflect"

	"github.com/c29m/webhttp/internal/dispatch"
	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/processor"
	"github.com/c29m/webhttp/internal/uritemplate"
)

// URITemplate binds the variables of a template match to operation
// parameters. It has one input, "match", and one output per operation
// input named by the template, in declaration order.
type URITemplate struct {
	*processor.Base
	params []dispatch.Parameter
}

// NewURITemplate declares the processor for op.
func NewURITemplate(op dispatch.Operation) (*URITemplate, error) {
	tmpl, err := uritemplate.Parse(op.TemplateOrDefault())
	if err != nil {
		return nil, err
	}

	b := processor.NewBase("uri-template")
	if err := b.DeclareIn(processor.ArgumentOf[*uritemplate.Match]("match")); err != nil {
		return nil, err
	}
	p := &URITemplate{Base: b}
	for _, param := range op.Inputs {
		if !tmpl.HasVariable(param.Name) {
			continue
		}
		arg, err := processor.NewArgument(param.Name, param.Type)
		if err != nil {
			return nil, err
		}
		if err := b.DeclareOut(arg); err != nil {
			return nil, err
		}
		p.params = append(p.params, param)
	}
	return p, nil
}

// Execute converts every bound variable. Variables the match did not bind,
// such as an absent query variable, yield the zero value.
func (p *URITemplate) Execute(_ context.Context, inputs []any) *processor.Result {
	m, _ := inputs[0].(*uritemplate.Match)
	if m == nil {
		return processor.Fail(faults.Contract(CodeMissingData, "no template match to bind from"))
	}

	out := make([]any, len(p.params))
	for i, param := range p.params {
		raw, ok := m.Variable(param.Name)
		if !ok || (raw == "" && param.Type.Kind() != reflect.String) {
			out[i] = reflect.Zero(param.Type).Interface()
			continue
		}
		v, err := Convert(raw, param.Type)
		if err != nil {
			return processor.Fail(fmt.Errorf("parameter %s: %w", param.Name, err))
		}
		out[i] = v
	}
	return processor.Ok(out...)
}
