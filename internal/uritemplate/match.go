package uritemplate

import (
	"net/url"
	"strings"
)

// Match is the result of matching a URI against a template.
type Match struct {
	Template             *Template
	Data                 any
	BaseURI              *url.URL
	RequestURI           *url.URL
	BoundVariables       map[string]string
	QueryParameters      url.Values
	RelativePathSegments []string
	WildcardPathSegments []string
}

// Variable looks up a bound variable by name, ignoring case.
func (m *Match) Variable(name string) (string, bool) {
	if v, ok := m.BoundVariables[name]; ok {
		return v, true
	}
	for k, v := range m.BoundVariables {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Match matches uri against the template relative to base. It returns
// false when the path does not fall under base, a segment does not match,
// a literal query pair is missing, or the query string cannot be parsed.
// Scheme and host are not compared.
func (t *Template) Match(base, uri *url.URL) (*Match, bool) {
	if base == nil || uri == nil {
		return nil, false
	}
	rel, ok := relativeSegments(base, uri)
	if !ok {
		return nil, false
	}
	if len(rel) < len(t.segments) || (len(rel) > len(t.segments) && !t.wildcard) {
		return nil, false
	}

	bound := make(map[string]string)
	for i, s := range t.segments {
		if !s.match(rel[i], bound) {
			return nil, false
		}
	}

	var wild []string
	if t.wildcard {
		wild = append([]string{}, rel[len(t.segments):]...)
		if t.wildcardName != "" {
			bound[t.wildcardName] = strings.Join(wild, "/")
		}
	}

	query, err := url.ParseQuery(uri.RawQuery)
	if err != nil {
		return nil, false
	}
	for _, qp := range t.query {
		v, present := lookupQuery(query, qp.name)
		if qp.variable == "" {
			if !present || !strings.EqualFold(v, qp.literal) {
				return nil, false
			}
			continue
		}
		if present {
			bound[qp.variable] = v
		}
	}

	return &Match{
		Template:             t,
		BaseURI:              base,
		RequestURI:           uri,
		BoundVariables:       bound,
		QueryParameters:      query,
		RelativePathSegments: rel,
		WildcardPathSegments: wild,
	}, true
}

func (s segment) match(value string, bound map[string]string) bool {
	switch s.kind {
	case literalSegment:
		return strings.EqualFold(value, s.parts[0].literal)
	case variableSegment:
		if value == "" {
			return false
		}
		bound[s.parts[0].variable] = value
		return true
	default:
		groups := s.pattern.FindStringSubmatch(value)
		if groups == nil {
			return false
		}
		g := 1
		for _, p := range s.parts {
			if p.variable != "" {
				bound[p.variable] = groups[g]
				g++
			}
		}
		return true
	}
}

// relativeSegments returns the decoded path segments of uri below base.
func relativeSegments(base, uri *url.URL) ([]string, bool) {
	baseSegs := splitPath(base.EscapedPath())
	segs := splitPath(uri.EscapedPath())
	if len(segs) < len(baseSegs) {
		return nil, false
	}
	for i, b := range baseSegs {
		if !strings.EqualFold(b, segs[i]) {
			return nil, false
		}
	}
	rel := segs[len(baseSegs):]
	out := make([]string, len(rel))
	for i, s := range rel {
		d, err := url.PathUnescape(s)
		if err != nil {
			return nil, false
		}
		out[i] = d
	}
	return out, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func lookupQuery(q url.Values, name string) (string, bool) {
	if vs, ok := q[name]; ok && len(vs) > 0 {
		return vs[0], true
	}
	for k, vs := range q {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}
