package uritemplate

import (
	"net/url"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/c29m/webhttp/internal/faults"
)

// Entry pairs a template with caller data, typically an operation name.
type Entry struct {
	Template *Template
	Data     any
}

// Table is an ordered set of templates under one base address. Entries are
// added during setup; after MakeReadOnly the table is immutable and safe
// for concurrent matching.
type Table struct {
	base     *url.URL
	entries  []Entry
	readOnly bool
}

// NewTable creates an empty table rooted at base.
func NewTable(base *url.URL) *Table {
	if base == nil {
		base = &url.URL{Path: "/"}
	}
	return &Table{base: base}
}

// Base returns the table's base address.
func (t *Table) Base() *url.URL { return t.base }

// Entries returns a copy of the entries in declaration order.
func (t *Table) Entries() []Entry { return append([]Entry(nil), t.entries...) }

// ReadOnly reports whether MakeReadOnly succeeded.
func (t *Table) ReadOnly() bool { return t.readOnly }

// Add appends an entry.
func (t *Table) Add(tmpl *Template, data any) error {
	if tmpl == nil {
		return faults.ArgumentNull("template")
	}
	if t.readOnly {
		return faults.Configuration(CodeTableReadOnly, "template table is read-only")
	}
	t.entries = append(t.entries, Entry{Template: tmpl, Data: data})
	return nil
}

// MakeReadOnly seals the table. Equivalent templates are rejected unless
// allowDuplicates is set; every offending pair is reported.
func (t *Table) MakeReadOnly(allowDuplicates bool) error {
	if t.readOnly {
		return nil
	}
	if !allowDuplicates {
		var result *multierror.Error
		for i := range t.entries {
			for j := i + 1; j < len(t.entries); j++ {
				a, b := t.entries[i].Template, t.entries[j].Template
				if a.IsEquivalentTo(b) {
					result = multierror.Append(result, faults.Configuration(CodeDuplicateTemplate,
						"templates %q and %q match the same URIs", a, b))
				}
			}
		}
		if err := result.ErrorOrNil(); err != nil {
			return err
		}
	}
	t.readOnly = true
	return nil
}

// Match returns every entry matching uri, most specific first. Equally
// specific matches keep declaration order.
func (t *Table) Match(uri *url.URL) []*Match {
	var out []*Match
	for _, e := range t.entries {
		if m, ok := e.Template.Match(t.base, uri); ok {
			m.Data = e.Data
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareSpecificity(out[i].Template, out[j].Template) < 0
	})
	return out
}

// MatchSingle returns the single best match, nil when nothing matches, or
// an AMBIGUOUS_MATCH fault when the best two matches are equally specific.
func (t *Table) MatchSingle(uri *url.URL) (*Match, error) {
	matches := t.Match(uri)
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	}
	if compareSpecificity(matches[0].Template, matches[1].Template) == 0 {
		return nil, faults.Ambiguous(CodeAmbiguousMatch,
			"%s matches both %q and %q", uri.Path, matches[0].Template, matches[1].Template).
			With("first", matches[0].Template.String()).
			With("second", matches[1].Template.String())
	}
	return matches[0], nil
}

// compareSpecificity orders templates that matched the same URI. It is
// negative when a is more specific than b.
func compareSpecificity(a, b *Template) int {
	n := min(len(a.segments), len(b.segments))
	for i := 0; i < n; i++ {
		if ka, kb := a.segments[i].kind, b.segments[i].kind; ka != kb {
			return int(kb) - int(ka)
		}
	}
	if d := len(b.segments) - len(a.segments); d != 0 {
		return d
	}
	if a.wildcard != b.wildcard {
		if a.wildcard {
			return 1
		}
		return -1
	}
	return literalQueryCount(b) - literalQueryCount(a)
}

func literalQueryCount(t *Template) int {
	n := 0
	for _, q := range t.query {
		if q.variable == "" {
			n++
		}
	}
	return n
}
