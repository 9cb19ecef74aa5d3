package processors

import (
	"bytes"
	"context"
	"net/http"
	"reflect"
	"strconv"

	"github.com/c29m/webhttp/internal/content"
	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/processor"
)

// Response is an encoded HTTP response waiting to be written.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// WriteTo writes the response to w.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if len(r.Body) > 0 {
		w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	w.WriteHeader(r.Status)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}

// ResponseEntity encodes an operation result. Its inputs are "request" and
// "result"; its output is "response".
type ResponseEntity struct {
	*processor.Base
	formatters *content.Set
}

// NewResponseEntity declares the processor.
func NewResponseEntity(formatters *content.Set) (*ResponseEntity, error) {
	if formatters == nil {
		return nil, faults.ArgumentNull("formatters")
	}
	b := processor.NewBase("response-entity")
	err := b.DeclareIn(
		processor.ArgumentOf[*http.Request]("request"),
		processor.MustArgument("result", processor.AnyType),
	)
	if err != nil {
		return nil, err
	}
	if err := b.DeclareOut(processor.ArgumentOf[*Response]("response")); err != nil {
		return nil, err
	}
	return &ResponseEntity{Base: b, formatters: formatters}, nil
}

// Execute negotiates a formatter from the Accept header and encodes the
// result with it. A nil result, including a typed nil pointer, is 204 No
// Content. A *Response result is passed through untouched.
func (p *ResponseEntity) Execute(_ context.Context, inputs []any) *processor.Result {
	req, _ := inputs[0].(*http.Request)
	if req == nil {
		return processor.Fail(faults.ArgumentNull("request"))
	}
	result := inputs[1]
	if r, ok := result.(*Response); ok && r != nil {
		return processor.Ok(r)
	}
	if isNil(result) {
		return processor.Ok(&Response{Status: http.StatusNoContent, Header: http.Header{}})
	}

	f, err := p.formatters.Negotiate(req.Header.Get("Accept"))
	if err != nil {
		return processor.Fail(err)
	}
	var buf bytes.Buffer
	if err := f.Write(&buf, result); err != nil {
		return processor.Fail(err)
	}
	header := http.Header{}
	header.Set("Content-Type", f.ContentType())
	return processor.Ok(&Response{Status: http.StatusOK, Header: header, Body: buf.Bytes()})
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
