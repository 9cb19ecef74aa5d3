// Package config loads service descriptions.
//
// A description names the service, its base address, the formatters it
// speaks and the sqlite tables it exposes. It can be written in YAML or in
// CUE; CUE (and JSON, which CUE reads) files are unified with an embedded
// schema so type and enum mistakes are reported with positions. Both
// forms then go through Validate.
//
// Example (YAML):
//
//	name: shop
//	base: http://localhost:8080/shop
//	database: shop.db
//	tables:
//	  - name: products
//	    insert: true
//	    columns:
//	      - {name: name, type: text}
//	      - {name: price, type: real}
//	    rows:
//	      - {name: tea, price: 3.5}
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Load error codes.
const (
	ErrCodeRead        = "E001" // file cannot be read
	ErrCodeFormat      = "E002" // unknown file extension
	ErrCodeParse       = "E003" // syntax error
	ErrCodeSchema      = "E004" // schema violation
	ErrCodeDecode      = "E005" // value cannot be decoded
)

// Defaults applied by Load.
const (
	DefaultListen   = ":8080"
	DefaultDatabase = "webhttp.db"
)

// Service describes one hosted service.
type Service struct {
	Name       string   `yaml:"name" json:"name"`
	Base       string   `yaml:"base" json:"base"`
	Listen     string   `yaml:"listen,omitempty" json:"listen,omitempty"`
	Database   string   `yaml:"database,omitempty" json:"database,omitempty"`
	Formatters []string `yaml:"formatters,omitempty" json:"formatters,omitempty"`
	CatchAll   string   `yaml:"catch_all,omitempty" json:"catch_all,omitempty"`
	MatchMode  string   `yaml:"match_mode,omitempty" json:"match_mode,omitempty"`
	Tables     []Table  `yaml:"tables,omitempty" json:"tables,omitempty"`
}

// Table exposes one sqlite table. Template defaults to Name.
type Table struct {
	Name     string           `yaml:"name" json:"name"`
	Template string           `yaml:"template,omitempty" json:"template,omitempty"`
	Insert   bool             `yaml:"insert,omitempty" json:"insert,omitempty"`
	Columns  []Column         `yaml:"columns" json:"columns"`
	Rows     []map[string]any `yaml:"rows,omitempty" json:"rows,omitempty"`
}

// Column declares one table column.
type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// LoadError reports a file that could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Line    int       // YAML line if available
	File    string
}

func (e *LoadError) Error() string {
	switch {
	case e.Pos.IsValid():
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Code, e.Message)
	case e.File != "":
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Load reads a service description, choosing the format by extension:
// .yaml and .yml are YAML, .cue and .json are CUE. Defaults are applied;
// the result is not validated.
func Load(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeRead, Message: err.Error(), File: path}
	}
	var svc *Service
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		svc, err = ParseYAML(path, data)
	case ".cue", ".json":
		svc, err = ParseCUE(path, data)
	default:
		return nil, &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("unknown extension %q; want .yaml, .yml, .cue or .json", filepath.Ext(path)), File: path}
	}
	if err != nil {
		return nil, err
	}
	svc.ApplyDefaults()
	return svc, nil
}

// ParseYAML decodes a YAML description. Unknown fields are rejected.
func ParseYAML(filename string, data []byte) (*Service, error) {
	var svc Service
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields
	if err := dec.Decode(&svc); err != nil {
		return nil, yamlError(filename, err)
	}
	return &svc, nil
}

func yamlError(filename string, err error) error {
	le := &LoadError{Code: ErrCodeParse, Message: err.Error(), File: filename}
	var te *yaml.TypeError
	if errors.As(err, &te) {
		le.Code = ErrCodeDecode
		le.Message = strings.Join(te.Errors, "; ")
		if n, ok := yamlLine(te.Errors); ok {
			le.Line = n
		}
	}
	return le
}

// yamlLine extracts the first "line N:" position from yaml.v3 messages.
func yamlLine(msgs []string) (int, bool) {
	for _, m := range msgs {
		var n int
		if _, err := fmt.Sscanf(m, "line %d:", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// ParseCUE compiles a CUE (or JSON) description and unifies it with the
// schema. The first error is reported with its position.
func ParseCUE(filename string, data []byte) (*Service, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(ErrCodeSchema, err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(ErrCodeParse, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Service")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(ErrCodeSchema, err)
	}

	var svc Service
	if err := unified.Decode(&svc); err != nil {
		return nil, formatCUEError(ErrCodeDecode, err)
	}
	return &svc, nil
}

// formatCUEError converts the first CUE error to a LoadError with its
// position.
func formatCUEError(code string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}

// ApplyDefaults fills unset optional fields.
func (s *Service) ApplyDefaults() {
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
	if s.Database == "" {
		s.Database = DefaultDatabase
	}
	if len(s.Formatters) == 0 {
		s.Formatters = []string{"json", "xml"}
	}
	if s.MatchMode == "" {
		s.MatchMode = "single"
	}
	for i := range s.Tables {
		if s.Tables[i].Template == "" {
			s.Tables[i].Template = s.Tables[i].Name
		}
	}
}
