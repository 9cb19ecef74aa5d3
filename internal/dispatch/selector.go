package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/uritemplate"
)

// Error codes.
const (
	CodeInvalidOperation   faults.Code = "INVALID_OPERATION"
	CodeDuplicateOperation faults.Code = "DUPLICATE_OPERATION"
	CodeUnknownCatchAll    faults.Code = "UNKNOWN_CATCH_ALL"
)

// MatchMode controls how several matching templates are handled.
type MatchMode int

const (
	// SingleMatch reports equally specific matches as an Ambiguous fault.
	SingleMatch MatchMode = iota

	// MultiMatch hands every match to the Resolver.
	MultiMatch
)

func (m MatchMode) String() string {
	if m == MultiMatch {
		return "multi"
	}
	return "single"
}

// Resolver picks one of several matches, ordered most specific first.
type Resolver func(req *http.Request, matches []*uritemplate.Match) *uritemplate.Match

// FirstMatch is the default Resolver.
func FirstMatch(_ *http.Request, matches []*uritemplate.Match) *uritemplate.Match {
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// Option configures a Builder.
type Option func(*Builder)

// WithMatchMode sets the match mode. The default is SingleMatch.
func WithMatchMode(mode MatchMode) Option {
	return func(b *Builder) { b.mode = mode }
}

// WithResolver sets the MultiMatch resolver.
func WithResolver(r Resolver) Option {
	return func(b *Builder) {
		if r != nil {
			b.resolver = r
		}
	}
}

// WithCatchAll names the operation selected when nothing matches.
func WithCatchAll(name string) Option {
	return func(b *Builder) { b.catchAll = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// Builder collects operations and builds a Selector.
type Builder struct {
	base     *url.URL
	ops      []Operation
	names    map[string]bool
	mode     MatchMode
	resolver Resolver
	catchAll string
	logger   *slog.Logger
}

// NewBuilder creates a builder for a service rooted at base.
func NewBuilder(base *url.URL, opts ...Option) *Builder {
	if base == nil {
		base = &url.URL{Path: "/"}
	}
	b := &Builder{
		base:     base,
		names:    make(map[string]bool),
		resolver: FirstMatch,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add registers operations. Names must be non-empty and unique.
func (b *Builder) Add(ops ...Operation) error {
	for _, op := range ops {
		if strings.TrimSpace(op.Name) == "" {
			return faults.Configuration(CodeInvalidOperation, "operation name must not be empty")
		}
		if b.names[op.Name] {
			return faults.Configuration(CodeDuplicateOperation, "operation %q declared twice", op.Name).
				With("operation", op.Name)
		}
		b.names[op.Name] = true
		b.ops = append(b.ops, op)
	}
	return nil
}

// Build parses every template, groups operations by effective method, and
// seals the tables. All problems are reported together.
func (b *Builder) Build() (*Selector, error) {
	var result *multierror.Error

	if b.catchAll != "" && !b.names[b.catchAll] {
		result = multierror.Append(result, faults.Configuration(CodeUnknownCatchAll,
			"catch-all operation %q is not declared", b.catchAll))
	}

	groups := make(map[string]*uritemplate.Table)
	ops := make(map[string]Operation, len(b.ops))
	var methods []string
	for _, op := range b.ops {
		tmpl, err := uritemplate.Parse(op.TemplateOrDefault())
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		method := op.EffectiveMethod()
		table, ok := groups[method]
		if !ok {
			table = uritemplate.NewTable(b.base)
			groups[method] = table
			methods = append(methods, method)
		}
		// Add cannot fail on an unsealed table.
		_ = table.Add(tmpl, op.Name)
		ops[op.Name] = op
	}
	for _, method := range methods {
		if err := groups[method].MakeReadOnly(false); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	slices.Sort(methods)
	b.logger.Debug("selector built",
		"operations", len(b.ops),
		"methods", methods,
		"mode", b.mode.String())

	return &Selector{
		base:     b.base,
		groups:   groups,
		methods:  methods,
		ops:      ops,
		order:    slices.Clone(b.ops),
		mode:     b.mode,
		resolver: b.resolver,
		catchAll: b.catchAll,
		logger:   b.logger,
	}, nil
}

// Selector is the immutable request-to-operation map.
type Selector struct {
	base     *url.URL
	groups   map[string]*uritemplate.Table
	methods  []string
	ops      map[string]Operation
	order    []Operation
	mode     MatchMode
	resolver Resolver
	catchAll string
	logger   *slog.Logger
}

// Selection is the outcome of SelectOperation.
type Selection struct {
	// Operation is the selected operation name, or the catch-all name
	// (possibly empty) when nothing matched.
	Operation string

	// Match carries the bound template variables. It is nil on a miss.
	Match *uritemplate.Match

	// MethodNotAllowed is set on a miss when the URI matches under other
	// methods, which are listed in Allowed.
	MethodNotAllowed bool
	Allowed          []string
}

// Matched reports whether a template matched.
func (s *Selection) Matched() bool { return s != nil && s.Match != nil }

type selectionKey struct{}

// WithSelection returns a copy of ctx carrying sel.
func WithSelection(ctx context.Context, sel *Selection) context.Context {
	return context.WithValue(ctx, selectionKey{}, sel)
}

// SelectionFrom returns the selection stored in ctx.
func SelectionFrom(ctx context.Context) (*Selection, bool) {
	sel, ok := ctx.Value(selectionKey{}).(*Selection)
	return sel, ok && sel != nil
}

// Base returns the service base address.
func (s *Selector) Base() *url.URL { return s.base }

// CatchAll returns the catch-all operation name.
func (s *Selector) CatchAll() string { return s.catchAll }

// Operation looks up a declared operation.
func (s *Selector) Operation(name string) (Operation, bool) {
	op, ok := s.ops[name]
	return op, ok
}

// Operations returns the operations in declaration order.
func (s *Selector) Operations() []Operation { return slices.Clone(s.order) }

// SelectOperation selects the operation for req and returns a request whose
// context carries the Selection. A request already carrying a selection is
// returned unchanged. Misses are not errors; an error is returned only for
// a nil request or, in SingleMatch mode, an ambiguous match.
func (s *Selector) SelectOperation(req *http.Request) (*http.Request, *Selection, error) {
	if req == nil {
		return nil, nil, faults.ArgumentNull("request")
	}
	if sel, ok := SelectionFrom(req.Context()); ok {
		return req, sel, nil
	}

	sel, err := s.selectFor(req)
	if err != nil {
		return req, nil, err
	}
	s.logger.Debug("operation selected",
		"method", req.Method,
		"path", req.URL.Path,
		"operation", sel.Operation,
		"matched", sel.Matched())
	return req.WithContext(WithSelection(req.Context(), sel)), sel, nil
}

func (s *Selector) selectFor(req *http.Request) (*Selection, error) {
	uri := req.URL
	for _, method := range []string{req.Method, WildcardMethod} {
		table, ok := s.groups[method]
		if !ok {
			continue
		}
		m, err := s.match(req, table, uri)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return &Selection{Operation: m.Data.(string), Match: m}, nil
		}
	}

	sel := &Selection{Operation: s.catchAll}
	for _, method := range s.methods {
		if method == req.Method || method == WildcardMethod {
			continue
		}
		if len(s.groups[method].Match(uri)) > 0 || len(s.groups[method].Match(stripQuery(uri))) > 0 {
			sel.Allowed = append(sel.Allowed, method)
		}
	}
	sel.MethodNotAllowed = len(sel.Allowed) > 0
	return sel, nil
}

// match tries the full URI first. On a miss it strips the query string,
// matches the path alone, and re-attaches the original query verbatim
// without parsing it.
func (s *Selector) match(req *http.Request, table *uritemplate.Table, uri *url.URL) (*uritemplate.Match, error) {
	m, err := s.matchTable(req, table, uri)
	if err != nil || m != nil {
		return m, err
	}
	if uri.RawQuery == "" {
		return nil, nil
	}
	m, err = s.matchTable(req, table, stripQuery(uri))
	if err != nil || m == nil {
		return nil, err
	}
	m.RequestURI = uri
	m.QueryParameters = nil
	return m, nil
}

func (s *Selector) matchTable(req *http.Request, table *uritemplate.Table, uri *url.URL) (*uritemplate.Match, error) {
	if s.mode == SingleMatch {
		return table.MatchSingle(uri)
	}
	matches := table.Match(uri)
	if len(matches) == 0 {
		return nil, nil
	}
	return s.resolver(req, matches), nil
}

func stripQuery(uri *url.URL) *url.URL {
	cp := *uri
	cp.RawQuery = ""
	cp.ForceQuery = false
	return &cp
}

// Route is one row of the dispatch table.
type Route struct {
	Method    string
	Template  string
	Operation string
}

// Routes lists the dispatch table grouped by method (sorted), templates in
// declaration order.
func (s *Selector) Routes() []Route {
	var out []Route
	for _, method := range s.methods {
		for _, e := range s.groups[method].Entries() {
			out = append(out, Route{Method: method, Template: e.Template.String(), Operation: e.Data.(string)})
		}
	}
	return out
}
