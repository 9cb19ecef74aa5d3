// Package uritemplate matches request URIs against path/query patterns with
// named variables.
//
// Template syntax:
//
//	customers/{id}            variable segment
//	files/{name}.{ext}        compound segment
//	static/*                  unnamed wildcard (last segment only)
//	docs/{*path}              named wildcard (last segment only)
//	search?q={term}&kind=all  query variables and literal query pairs
//
// Literal path segments compare case-insensitively, bound values are
// percent-decoded, a trailing slash is ignored, and request query
// parameters not named by the template are allowed.
package uritemplate

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/c29m/webhttp/internal/faults"
)

// Error codes.
const (
	CodeInvalidTemplate   faults.Code = "INVALID_TEMPLATE"
	CodeDuplicateTemplate faults.Code = "DUPLICATE_TEMPLATE"
	CodeTableReadOnly     faults.Code = "TABLE_READ_ONLY"
	CodeAmbiguousMatch    faults.Code = "AMBIGUOUS_MATCH"
	CodeMissingVariable   faults.Code = "MISSING_VARIABLE"
)

type segmentKind int

// Declared from least to most specific.
const (
	wildcardSegment segmentKind = iota
	variableSegment
	compoundSegment
	literalSegment
)

// part is either a literal run or a variable within a segment.
type part struct {
	literal  string
	variable string
}

type segment struct {
	kind    segmentKind
	parts   []part
	pattern *regexp.Regexp // compound segments only
}

type queryPair struct {
	name     string
	literal  string
	variable string
}

// Template is a parsed URI template. It is immutable and safe for
// concurrent use.
type Template struct {
	raw            string
	segments       []segment
	wildcard       bool
	wildcardName   string
	query          []queryPair
	pathVariables  []string
	queryVariables []string
}

var variableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Parse parses a template string.
func Parse(raw string) (*Template, error) {
	t := &Template{raw: raw}
	seen := make(map[string]bool)

	path, query, _ := strings.Cut(strings.TrimSpace(raw), "?")
	path = strings.Trim(path, "/")

	if path != "" {
		parts := strings.Split(path, "/")
		for i, s := range parts {
			last := i == len(parts)-1
			if s == "" {
				return nil, invalid(raw, "empty path segment at position %d", i)
			}
			if s == "*" || (strings.HasPrefix(s, "{*") && strings.HasSuffix(s, "}")) {
				if !last {
					return nil, invalid(raw, "wildcard must be the last segment")
				}
				t.wildcard = true
				if s != "*" {
					name := s[2 : len(s)-1]
					if err := t.declare(raw, name, seen); err != nil {
						return nil, err
					}
					t.wildcardName = name
					t.pathVariables = append(t.pathVariables, name)
				}
				continue
			}
			seg, err := parseSegment(raw, s)
			if err != nil {
				return nil, err
			}
			for _, p := range seg.parts {
				if p.variable == "" {
					continue
				}
				if err := t.declare(raw, p.variable, seen); err != nil {
					return nil, err
				}
				t.pathVariables = append(t.pathVariables, p.variable)
			}
			t.segments = append(t.segments, seg)
		}
	}

	if query != "" {
		names := make(map[string]bool)
		for _, pair := range strings.Split(query, "&") {
			if pair == "" {
				continue
			}
			name, value, _ := strings.Cut(pair, "=")
			if name == "" || strings.ContainsAny(name, "{}") {
				return nil, invalid(raw, "query parameter names must be literals: %q", pair)
			}
			key := strings.ToLower(name)
			if names[key] {
				return nil, invalid(raw, "duplicate query parameter %q", name)
			}
			names[key] = true

			qp := queryPair{name: name}
			if strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}") {
				qp.variable = value[1 : len(value)-1]
				if err := t.declare(raw, qp.variable, seen); err != nil {
					return nil, err
				}
				t.queryVariables = append(t.queryVariables, qp.variable)
			} else if strings.ContainsAny(value, "{}") {
				return nil, invalid(raw, "query value %q mixes literals and variables", value)
			} else {
				qp.literal = value
			}
			t.query = append(t.query, qp)
		}
	}

	return t, nil
}

// MustParse is Parse for templates known at compile time.
func MustParse(raw string) *Template {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func invalid(raw, format string, args ...any) error {
	return faults.Configuration(CodeInvalidTemplate, "template %q: %s", raw, fmt.Sprintf(format, args...))
}

func (t *Template) declare(raw, name string, seen map[string]bool) error {
	if !variableName.MatchString(name) {
		return invalid(raw, "invalid variable name %q", name)
	}
	key := strings.ToLower(name)
	if seen[key] {
		return invalid(raw, "variable %q declared twice", name)
	}
	seen[key] = true
	return nil
}

func parseSegment(raw, s string) (segment, error) {
	var parts []part
	for s != "" {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			if strings.ContainsAny(s, "}*") {
				return segment{}, invalid(raw, "unexpected character in %q", s)
			}
			parts = append(parts, part{literal: s})
			break
		}
		if open > 0 {
			lit := s[:open]
			if strings.ContainsAny(lit, "}*") {
				return segment{}, invalid(raw, "unexpected character in %q", lit)
			}
			parts = append(parts, part{literal: lit})
		}
		end := strings.IndexByte(s[open:], '}')
		if end < 0 {
			return segment{}, invalid(raw, "unterminated variable in %q", s)
		}
		if n := len(parts); n > 0 && parts[n-1].variable != "" {
			return segment{}, invalid(raw, "variables must be separated by a literal in %q", s)
		}
		parts = append(parts, part{variable: s[open+1 : open+end]})
		s = s[open+end+1:]
	}

	switch {
	case len(parts) == 1 && parts[0].variable == "":
		return segment{kind: literalSegment, parts: parts}, nil
	case len(parts) == 1:
		return segment{kind: variableSegment, parts: parts}, nil
	}

	var expr strings.Builder
	expr.WriteString("^")
	for i, p := range parts {
		if p.variable == "" {
			expr.WriteString("(?i:" + regexp.QuoteMeta(p.literal) + ")")
			continue
		}
		if i == len(parts)-1 {
			expr.WriteString("(.+)")
		} else {
			expr.WriteString("(.+?)")
		}
	}
	expr.WriteString("$")
	return segment{kind: compoundSegment, parts: parts, pattern: regexp.MustCompile(expr.String())}, nil
}

// String returns the template as written.
func (t *Template) String() string { return t.raw }

// PathVariableNames returns the path variables in declaration order.
func (t *Template) PathVariableNames() []string {
	return append([]string(nil), t.pathVariables...)
}

// QueryVariableNames returns the query variables in declaration order.
func (t *Template) QueryVariableNames() []string {
	return append([]string(nil), t.queryVariables...)
}

// HasVariable reports whether name (case-insensitive) is a template variable.
func (t *Template) HasVariable(name string) bool {
	for _, v := range t.pathVariables {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	for _, v := range t.queryVariables {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}

// IsEquivalentTo reports whether t and other match exactly the same URIs.
// Variable names are irrelevant; literals compare case-insensitively.
func (t *Template) IsEquivalentTo(other *Template) bool {
	if other == nil || len(t.segments) != len(other.segments) || t.wildcard != other.wildcard {
		return false
	}
	for i, s := range t.segments {
		o := other.segments[i]
		if s.kind != o.kind || len(s.parts) != len(o.parts) {
			return false
		}
		for j, p := range s.parts {
			q := o.parts[j]
			if (p.variable == "") != (q.variable == "") || !strings.EqualFold(p.literal, q.literal) {
				return false
			}
		}
	}
	return queryShape(t) == queryShape(other)
}

// queryShape renders the literal query requirements in a canonical form.
func queryShape(t *Template) string {
	var lits []string
	for _, q := range t.query {
		if q.variable == "" {
			lits = append(lits, strings.ToLower(q.name)+"="+strings.ToLower(q.literal))
		}
	}
	slices.Sort(lits)
	return strings.Join(lits, "&")
}

// Bind builds an absolute URI from base and variable values. Path
// variables are required; query variables without a value are omitted.
func (t *Template) Bind(base *url.URL, values map[string]string) (*url.URL, error) {
	lookup := func(name string) (string, bool) {
		for k, v := range values {
			if strings.EqualFold(k, name) {
				return v, true
			}
		}
		return "", false
	}

	var segs []string
	for _, s := range t.segments {
		var b strings.Builder
		for _, p := range s.parts {
			if p.variable == "" {
				b.WriteString(p.literal)
				continue
			}
			v, ok := lookup(p.variable)
			if !ok || v == "" {
				return nil, faults.Configuration(CodeMissingVariable,
					"template %q: no value for variable %q", t.raw, p.variable)
			}
			b.WriteString(url.PathEscape(v))
		}
		segs = append(segs, b.String())
	}
	if t.wildcardName != "" {
		if v, ok := lookup(t.wildcardName); ok && v != "" {
			for _, w := range strings.Split(v, "/") {
				segs = append(segs, url.PathEscape(w))
			}
		}
	}

	q := url.Values{}
	for _, qp := range t.query {
		if qp.variable == "" {
			q.Set(qp.name, qp.literal)
			continue
		}
		if v, ok := lookup(qp.variable); ok {
			q.Set(qp.name, v)
		}
	}

	basePath := strings.TrimSuffix(base.EscapedPath(), "/")
	raw := basePath + "/" + strings.Join(segs, "/")
	u := *base
	u.RawQuery = q.Encode()
	if err := setEscapedPath(&u, raw); err != nil {
		return nil, err
	}
	return &u, nil
}

func setEscapedPath(u *url.URL, escaped string) error {
	p, err := url.PathUnescape(escaped)
	if err != nil {
		return err
	}
	u.Path = p
	u.RawPath = escaped
	return nil
}
