package uritemplate

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c29m/webhttp/internal/faults"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		raw       string
		pathVars  []string
		queryVars []string
	}{
		{raw: "Customers"},
		{raw: "/Customers/"},
		{raw: "customers/{id}", pathVars: []string{"id"}},
		{raw: "files/{name}.{ext}", pathVars: []string{"name", "ext"}},
		{raw: "static/*"},
		{raw: "docs/{*path}", pathVars: []string{"path"}},
		{raw: "search?q={term}&kind=all", queryVars: []string{"term"}},
		{raw: ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			tmpl, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, tmpl.String())
			if diff := cmp.Diff(tt.pathVars, tmpl.PathVariableNames()); diff != "" {
				t.Errorf("path variables (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.queryVars, tmpl.QueryVariableNames()); diff != "" {
				t.Errorf("query variables (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, raw := range []string{
		"a//b",
		"*/tail",
		"{*rest}/tail",
		"{a}{b}",
		"{open",
		"x/{}",
		"x/{1abc}",
		"{id}/{ID}",
		"x?{name}=1",
		"x?a=1&A=2",
		"x?a=pre{v}",
		"x/a}b",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw)
			require.Error(t, err)
			assert.True(t, faults.HasCode(err, CodeInvalidTemplate))
			assert.True(t, faults.Is(err, faults.KindConfiguration))
		})
	}
}

func TestTemplate_Match(t *testing.T) {
	base := mustURL(t, "http://localhost/svc")
	tests := []struct {
		name     string
		template string
		uri      string
		ok       bool
		bound    map[string]string
		wildcard []string
	}{
		{name: "literal", template: "Customers", uri: "http://localhost/svc/Customers", ok: true, bound: map[string]string{}},
		{name: "literal ignores case", template: "Customers", uri: "http://localhost/SVC/customers", ok: true, bound: map[string]string{}},
		{name: "trailing slash", template: "Customers", uri: "http://localhost/svc/Customers/", ok: true, bound: map[string]string{}},
		{name: "other path", template: "Customers", uri: "http://localhost/svc/Orders", ok: false},
		{name: "outside base", template: "Customers", uri: "http://localhost/other/Customers", ok: false},
		{name: "too long", template: "Customers", uri: "http://localhost/svc/Customers/1", ok: false},
		{name: "variable decoded", template: "customers/{id}", uri: "http://localhost/svc/customers/a%20b", ok: true,
			bound: map[string]string{"id": "a b"}},
		{name: "compound", template: "files/{name}.{ext}", uri: "http://localhost/svc/files/report.final.pdf", ok: true,
			bound: map[string]string{"name": "report", "ext": "final.pdf"}},
		{name: "compound literal mismatch", template: "files/{name}.{ext}", uri: "http://localhost/svc/files/report", ok: false},
		{name: "unnamed wildcard", template: "static/*", uri: "http://localhost/svc/static/css/site.css", ok: true,
			bound: map[string]string{}, wildcard: []string{"css", "site.css"}},
		{name: "named wildcard", template: "docs/{*path}", uri: "http://localhost/svc/docs/a/b", ok: true,
			bound: map[string]string{"path": "a/b"}, wildcard: []string{"a", "b"}},
		{name: "empty wildcard", template: "docs/{*path}", uri: "http://localhost/svc/docs", ok: true,
			bound: map[string]string{"path": ""}, wildcard: []string{}},
		{name: "query variable", template: "search?q={term}", uri: "http://localhost/svc/search?q=go&page=2", ok: true,
			bound: map[string]string{"term": "go"}},
		{name: "query variable absent", template: "search?q={term}", uri: "http://localhost/svc/search", ok: true,
			bound: map[string]string{}},
		{name: "query literal", template: "search?kind=all", uri: "http://localhost/svc/search?KIND=ALL", ok: true,
			bound: map[string]string{}},
		{name: "query literal missing", template: "search?kind=all", uri: "http://localhost/svc/search?kind=some", ok: false},
		{name: "bad query", template: "search", uri: "http://localhost/svc/search?a=%zz", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := MustParse(tt.template).Match(base, mustURL(t, tt.uri))
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			if diff := cmp.Diff(tt.bound, m.BoundVariables); diff != "" {
				t.Errorf("bound variables (-want +got):\n%s", diff)
			}
			if tt.wildcard != nil {
				assert.Equal(t, tt.wildcard, m.WildcardPathSegments)
			}
		})
	}
}

func TestMatch_Variable(t *testing.T) {
	base := mustURL(t, "http://localhost/")
	m, ok := MustParse("orders/{OrderId}").Match(base, mustURL(t, "http://localhost/orders/7"))
	require.True(t, ok)

	v, ok := m.Variable("orderid")
	require.True(t, ok)
	assert.Equal(t, "7", v)

	_, ok = m.Variable("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"orders", "7"}, m.RelativePathSegments)
}

func TestTemplate_IsEquivalentTo(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"customers/{id}", "Customers/{key}", true},
		{"customers/{id}", "customers/{id}/orders", false},
		{"files/{a}.{b}", "files/{x}.{y}", true},
		{"files/{a}.{b}", "files/{x}-{y}", false},
		{"search?kind=all&q={q}", "search?KIND=ALL", true},
		{"search?kind=all", "search?kind=some", false},
		{"static/*", "static", false},
		{"static/*", "static/{*rest}", true},
	}
	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParse(tt.a).IsEquivalentTo(MustParse(tt.b)))
		})
	}
}

func TestTemplate_Bind(t *testing.T) {
	base := mustURL(t, "http://localhost/svc/")

	u, err := MustParse("customers/{id}/orders?sort={sort}&kind=all").Bind(base,
		map[string]string{"ID": "a b", "sort": "date"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/svc/customers/a%20b/orders?kind=all&sort=date", u.String())

	_, err = MustParse("customers/{id}").Bind(base, nil)
	require.Error(t, err)
	assert.True(t, faults.HasCode(err, CodeMissingVariable))

	u, err = MustParse("docs/{*path}").Bind(base, map[string]string{"path": "a/b"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/svc/docs/a/b", u.String())
}

func TestTemplate_HasVariable(t *testing.T) {
	tmpl := MustParse("customers/{id}?expand={expand}")
	assert.True(t, tmpl.HasVariable("ID"))
	assert.True(t, tmpl.HasVariable("expand"))
	assert.False(t, tmpl.HasVariable("customers"))
}
