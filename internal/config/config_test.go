package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c29m/webhttp/internal/store"
)

func TestLoad_YAML(t *testing.T) {
	svc, err := Load(filepath.Join("testdata", "shop.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "shop", svc.Name)
	assert.Equal(t, "http://localhost:8080/shop", svc.Base)
	assert.Equal(t, "shop.db", svc.Database)
	assert.Equal(t, DefaultListen, svc.Listen, "default listen")
	assert.Equal(t, []string{"json", "xml"}, svc.Formatters, "default formatters")
	assert.Equal(t, "single", svc.MatchMode)

	require.Len(t, svc.Tables, 2)
	products := svc.Tables[0]
	assert.True(t, products.Insert)
	assert.Equal(t, "products", products.Template, "template defaults to name")
	want := []Column{{"name", "text"}, {"price", "real"}, {"category", "text"}}
	if diff := cmp.Diff(want, products.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, products.Rows, 2)
	assert.Equal(t, "tea", products.Rows[0]["name"])
	assert.Equal(t, 3.5, products.Rows[0]["price"])

	assert.Equal(t, "orders/{order}/items", svc.Tables[1].Template)
	assert.Empty(t, Validate(svc))
}

func TestLoad_CUE(t *testing.T) {
	svc, err := Load(filepath.Join("testdata", "shop.cue"))
	require.NoError(t, err)

	assert.Equal(t, ":9090", svc.Listen)
	assert.Equal(t, DefaultDatabase, svc.Database)
	assert.Equal(t, []string{"xml", "json"}, svc.Formatters)
	assert.Equal(t, "multi", svc.MatchMode)
	require.Len(t, svc.Tables, 1)
	assert.Equal(t, "products", svc.Tables[0].Template)
	require.Len(t, svc.Tables[0].Rows, 1)
	assert.Equal(t, "tea", svc.Tables[0].Rows[0]["name"])
	assert.Empty(t, Validate(svc))
}

func TestLoad_JSONThroughSchema(t *testing.T) {
	svc, err := Load(filepath.Join("testdata", "shop.json"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/api", svc.Base)
	require.Len(t, svc.Tables, 1)
	assert.Equal(t, "notes", svc.Tables[0].Name)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		code string
	}{
		{"missing file", filepath.Join("testdata", "nope.yaml"), ErrCodeRead},
		{"unknown yaml field", filepath.Join("testdata", "unknown_field.yaml"), ErrCodeDecode},
		{"schema violation", filepath.Join("testdata", "bad_type.cue"), ErrCodeSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			var le *LoadError
			require.True(t, errors.As(err, &le), "got %T: %v", err, err)
			assert.Equal(t, tt.code, le.Code, le.Error())
		})
	}
}

func TestLoad_UnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = 'shop'"), 0o644))

	_, err := Load(path)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeFormat, le.Code)
}

func TestParseYAML_ReportsLine(t *testing.T) {
	_, err := ParseYAML("svc.yaml", []byte("name: shop\nbase: http://x/\ntables: 3\n"))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeDecode, le.Code)
	assert.Equal(t, 3, le.Line)
	assert.Contains(t, le.Error(), "svc.yaml:3:")
}

func TestParseCUE_SyntaxError(t *testing.T) {
	_, err := ParseCUE("svc.cue", []byte("name: \"shop\"\nbase: {\n"))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeParse, le.Code)
	assert.True(t, le.Pos.IsValid(), "syntax errors carry a position")
}

func TestParseCUE_ClosedSchema(t *testing.T) {
	_, err := ParseCUE("svc.cue", []byte(`name: "shop", base: "http://x/", port: 80`))
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeSchema, le.Code)
}

func TestLoadError_Format(t *testing.T) {
	assert.Equal(t, "E001: boom", (&LoadError{Code: "E001", Message: "boom"}).Error())
	assert.Equal(t, "a.yaml: E002: boom", (&LoadError{Code: "E002", Message: "boom", File: "a.yaml"}).Error())
	assert.Equal(t, "a.yaml:4: E005: boom", (&LoadError{Code: "E005", Message: "boom", File: "a.yaml", Line: 4}).Error())
}

func TestTable_StoreColumns(t *testing.T) {
	cols, err := Table{Name: "t", Columns: []Column{{"a", "text"}, {"b", "json"}}}.StoreColumns()
	require.NoError(t, err)
	assert.Equal(t, []store.Column{{Name: "a", Type: store.TypeText}, {Name: "b", Type: store.TypeJSON}}, cols)

	_, err = Table{Name: "t", Columns: []Column{{"a", "money"}}}.StoreColumns()
	require.Error(t, err)
}
