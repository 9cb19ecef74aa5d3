// Package dispatch maps inbound HTTP requests to named service operations.
//
// Operations are declared up front with their HTTP method and URI
// template. A Builder groups them by method into sealed template tables and
// produces an immutable Selector that is safe to share across concurrent
// requests.
package dispatch

import (
	"net/http"
	"reflect"

	"github.com/c29m/webhttp/internal/uritemplate"
)

// Parameter is a named, typed operation parameter.
type Parameter struct {
	Name string
	Type reflect.Type
}

// Operation describes one HTTP-exposed service operation.
type Operation struct {
	// Name identifies the operation and must be unique per service.
	Name string

	// Method is the HTTP method. It is compared case-sensitively; "*"
	// accepts any method not claimed by another group. When empty,
	// EffectiveMethod decides.
	Method string

	// Template is the URI template relative to the service base. When
	// empty the operation name is used.
	Template string

	Inputs []Parameter
	Return *Parameter

	// Queryable operations return a sequence the host may filter with the
	// request's $filter, $orderby, $skip and $top options.
	Queryable bool
}

// WildcardMethod matches any method without a dedicated group.
const WildcardMethod = "*"

// TemplateOrDefault returns the declared template or the operation name.
func (o Operation) TemplateOrDefault() string {
	if o.Template != "" {
		return o.Template
	}
	return o.Name
}

// BodyParameters returns the inputs not bound by a template variable, in
// declaration order. An unparseable template binds nothing.
func (o Operation) BodyParameters() []Parameter {
	tmpl, err := uritemplate.Parse(o.TemplateOrDefault())
	var out []Parameter
	for _, p := range o.Inputs {
		if err != nil || !tmpl.HasVariable(p.Name) {
			out = append(out, p)
		}
	}
	return out
}

// EffectiveMethod returns the declared method or, when none is declared,
// GET if every input is supplied by the URI and POST otherwise.
func (o Operation) EffectiveMethod() string {
	if o.Method != "" {
		return o.Method
	}
	if len(o.BodyParameters()) == 0 {
		return http.MethodGet
	}
	return http.MethodPost
}
