package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/c29m/webhttp/internal/querysql"
	"github.com/c29m/webhttp/internal/store"
)

// Validation error codes (E100-E199)
const (
	// Service errors (E101-E109)
	ErrNameEmpty        = "E101" // name is required
	ErrBaseInvalid      = "E102" // base must be an absolute http(s) URI
	ErrUnknownFormatter = "E103" // formatter tag not json or xml
	ErrInvalidMatchMode = "E104" // match_mode not single or multi
	ErrUnknownCatchAll  = "E105" // catch_all names no operation

	// Table errors (E110-E119)
	ErrInvalidTableName  = "E110" // table name is not an identifier
	ErrDuplicateTable    = "E111" // table declared twice
	ErrDuplicateTemplate = "E112" // two tables share a template
	ErrNoColumns         = "E113" // table declares no columns
	ErrInvalidColumnName = "E114" // column name invalid or reserved
	ErrInvalidColumnType = "E115" // unknown column type
	ErrDuplicateColumn   = "E116" // column declared twice
	ErrUnknownRowColumn  = "E117" // seed row names an undeclared column
)

// ValidationError represents one problem in a service description.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a service description after defaults are applied.
// Returns all errors found (does not fail-fast).
func Validate(s *Service) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(s.Name) == "" {
		add("name", ErrNameEmpty, "name is required and must be non-empty")
	}
	if u, err := url.Parse(s.Base); err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		add("base", ErrBaseInvalid, "base %q must be an absolute http or https URI", s.Base)
	}
	for i, tag := range s.Formatters {
		if tag != "json" && tag != "xml" {
			add(fmt.Sprintf("formatters[%d]", i), ErrUnknownFormatter, "unknown formatter %q (want json or xml)", tag)
		}
	}
	if s.MatchMode != "" && s.MatchMode != "single" && s.MatchMode != "multi" {
		add("match_mode", ErrInvalidMatchMode, "match_mode %q must be single or multi", s.MatchMode)
	}

	tables := make(map[string]bool)
	templates := make(map[string]string)
	for i, t := range s.Tables {
		field := fmt.Sprintf("tables[%d]", i)
		if !querysql.ValidIdentifier(t.Name) {
			add(field+".name", ErrInvalidTableName, "table name %q is not a valid identifier", t.Name)
		}
		key := strings.ToLower(t.Name)
		if tables[key] {
			add(field+".name", ErrDuplicateTable, "duplicate table %q", t.Name)
		}
		tables[key] = true

		tmpl := t.Template
		if tmpl == "" {
			tmpl = t.Name
		}
		if prev, ok := templates[tmpl]; ok {
			add(field+".template", ErrDuplicateTemplate, "template %q already used by table %q", tmpl, prev)
		} else {
			templates[tmpl] = t.Name
		}

		errs = append(errs, validateColumns(field, t)...)
	}

	if s.CatchAll != "" && !hasOperation(s, s.CatchAll) {
		add("catch_all", ErrUnknownCatchAll, "catch_all %q names no operation", s.CatchAll)
	}
	return errs
}

func validateColumns(field string, t Table) []ValidationError {
	var errs []ValidationError
	if len(t.Columns) == 0 {
		errs = append(errs, ValidationError{Field: field + ".columns", Code: ErrNoColumns, Message: "at least one column is required"})
	}
	declared := make(map[string]bool)
	for j, c := range t.Columns {
		cf := fmt.Sprintf("%s.columns[%d]", field, j)
		switch {
		case !querysql.ValidIdentifier(c.Name):
			errs = append(errs, ValidationError{Field: cf + ".name", Code: ErrInvalidColumnName,
				Message: fmt.Sprintf("column name %q is not a valid identifier", c.Name)})
		case strings.EqualFold(c.Name, querysql.IDColumn):
			errs = append(errs, ValidationError{Field: cf + ".name", Code: ErrInvalidColumnName,
				Message: fmt.Sprintf("column %q is reserved for the primary key", c.Name)})
		}
		if _, err := store.ParseColumnType(c.Type); err != nil {
			errs = append(errs, ValidationError{Field: cf + ".type", Code: ErrInvalidColumnType,
				Message: fmt.Sprintf("unknown column type %q", c.Type)})
		}
		key := strings.ToLower(c.Name)
		if declared[key] {
			errs = append(errs, ValidationError{Field: cf + ".name", Code: ErrDuplicateColumn,
				Message: fmt.Sprintf("duplicate column %q", c.Name)})
		}
		declared[key] = true
	}
	for j, row := range t.Rows {
		for name := range row {
			if !declared[strings.ToLower(name)] {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("%s.rows[%d]", field, j), Code: ErrUnknownRowColumn,
					Message: fmt.Sprintf("column %q is not declared", name)})
			}
		}
	}
	return errs
}

func hasOperation(s *Service, name string) bool {
	for _, t := range s.Tables {
		n := t.OperationNames()
		if name == n.List || name == n.Get || (t.Insert && name == n.Add) {
			return true
		}
	}
	return false
}

// Check validates s and aggregates the problems into one error, or
// returns nil.
func Check(s *Service) error {
	var result *multierror.Error
	for _, ve := range Validate(s) {
		result = multierror.Append(result, ve)
	}
	return result.ErrorOrNil()
}

// OperationNames are the operations a table is exposed through.
type OperationNames struct {
	List string
	Get  string
	Add  string
}

// OperationNames derives operation names from the table name:
// "order_items" yields ListOrderItems, GetOrderItems and AddOrderItems.
func (t Table) OperationNames() OperationNames {
	caser := cases.Title(language.English)
	var b strings.Builder
	for _, part := range strings.Split(t.Name, "_") {
		b.WriteString(caser.String(part))
	}
	noun := b.String()
	return OperationNames{List: "List" + noun, Get: "Get" + noun, Add: "Add" + noun}
}

// StoreColumns converts the declared columns for the store. Types must
// have been validated.
func (t Table) StoreColumns() ([]store.Column, error) {
	cols := make([]store.Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := store.ParseColumnType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		cols = append(cols, store.Column{Name: c.Name, Type: typ})
	}
	return cols, nil
}
