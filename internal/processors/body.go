package processors

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"reflect"

	"github.com/c29m/webhttp/internal/content"
	"github.com/c29m/webhttp/internal/dispatch"
	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/processor"
)

// RequestBody decodes the request body into the operation's body
// parameter. It has one input, "request", and one output named after the
// parameter.
type RequestBody struct {
	*processor.Base
	formatters *content.Set
	param      dispatch.Parameter
}

// NewRequestBody declares the processor for param.
func NewRequestBody(formatters *content.Set, param dispatch.Parameter) (*RequestBody, error) {
	if formatters == nil {
		return nil, faults.ArgumentNull("formatters")
	}
	out, err := processor.NewArgument(param.Name, param.Type)
	if err != nil {
		return nil, err
	}
	b := processor.NewBase("request-body")
	if err := b.DeclareIn(processor.ArgumentOf[*http.Request]("request")); err != nil {
		return nil, err
	}
	if err := b.DeclareOut(out); err != nil {
		return nil, err
	}
	return &RequestBody{Base: b, formatters: formatters, param: param}, nil
}

// Execute reads the body with the formatter chosen by Content-Type. An
// empty body yields the zero value without consulting a formatter.
func (p *RequestBody) Execute(_ context.Context, inputs []any) *processor.Result {
	req, _ := inputs[0].(*http.Request)
	if req == nil {
		return processor.Fail(faults.ArgumentNull("request"))
	}
	zero := reflect.Zero(p.param.Type).Interface()
	if req.Body == nil || req.Body == http.NoBody {
		return processor.Ok(zero)
	}

	body := bufio.NewReader(req.Body)
	if _, err := body.Peek(1); errors.Is(err, io.EOF) {
		return processor.Ok(zero)
	}

	f, err := p.formatters.ForContentType(req.Header.Get("Content-Type"))
	if err != nil {
		return processor.Fail(err)
	}
	dst := reflect.New(p.param.Type)
	if err := f.Read(body, dst.Interface()); err != nil {
		return processor.Fail(faults.BadRequest(CodeInvalidBody,
			"cannot decode %s from the request body", p.param.Name).Wrap(err))
	}
	return processor.Ok(dst.Elem().Interface())
}
