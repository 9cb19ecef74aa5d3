package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/query"
	"github.com/c29m/webhttp/internal/querysql"
)

// Error codes.
const (
	CodeUnknownTable   faults.Code = "UNKNOWN_TABLE"
	CodeReservedColumn faults.Code = "RESERVED_COLUMN"
	CodeColumnType     faults.Code = "COLUMN_TYPE"
	CodeInvalidValue   faults.Code = "INVALID_VALUE"
)

// ColumnType is the declared type of a column.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
	TypeBoolean ColumnType = "boolean"
	TypeJSON    ColumnType = "json"
	TypeBlob    ColumnType = "blob"
)

// ParseColumnType parses a type name case-insensitively.
func ParseColumnType(s string) (ColumnType, error) {
	t := ColumnType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeText, TypeInteger, TypeReal, TypeBoolean, TypeJSON, TypeBlob:
		return t, nil
	}
	return "", faults.Configuration(CodeColumnType, "unknown column type %q", s)
}

// affinity returns the SQLite column type used in CREATE TABLE.
func (t ColumnType) affinity() string {
	switch t {
	case TypeInteger, TypeBoolean:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	case TypeBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// Column declares one column of a table.
type Column struct {
	Name string
	Type ColumnType
}

// table is the cached catalog entry of one table.
type table struct {
	name     string
	columns  []Column
	types    map[string]ColumnType
	compiler *querysql.Compiler
}

// resolve maps a field name to its column case-insensitively.
func (t *table) resolve(name string) (string, bool) {
	if strings.EqualFold(name, querysql.IDColumn) {
		return querysql.IDColumn, true
	}
	for _, c := range t.columns {
		if strings.EqualFold(c.Name, name) {
			return c.Name, true
		}
	}
	return "", false
}

// EnsureTable creates the table if it does not exist and adds any missing
// columns. Existing columns must keep their declared type. The "id"
// primary key is implied and may not be declared.
func (s *Store) EnsureTable(ctx context.Context, name string, columns []Column) error {
	if !querysql.ValidIdentifier(name) {
		return faults.Configuration(querysql.CodeInvalidIdentifier, "invalid table name %q", name)
	}
	for _, c := range columns {
		if !querysql.ValidIdentifier(c.Name) {
			return faults.Configuration(querysql.CodeInvalidIdentifier, "invalid column name %q", c.Name).With("table", name)
		}
		if strings.EqualFold(c.Name, querysql.IDColumn) {
			return faults.Configuration(CodeReservedColumn, "column %s is implied and may not be declared", c.Name).With("table", name)
		}
		if _, err := ParseColumnType(string(c.Type)); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" ("id" INTEGER PRIMARY KEY)`, name)); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	existing, err := catalogColumns(ctx, tx, name)
	if err != nil {
		return err
	}
	known := make(map[string]ColumnType, len(existing))
	for _, c := range existing {
		known[strings.ToLower(c.Name)] = c.Type
	}

	position := len(existing)
	for _, c := range columns {
		typ := ColumnType(strings.ToLower(string(c.Type)))
		if prev, ok := known[strings.ToLower(c.Name)]; ok {
			if prev != typ {
				return faults.Configuration(CodeColumnType, "column %s.%s is %s, not %s", name, c.Name, prev, typ)
			}
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE "%s" ADD COLUMN "%s" %s`, name, c.Name, typ.affinity())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", name, c.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO webhttp_columns (table_name, column_name, column_type, position)
			VALUES (?, ?, ?, ?)
		`, name, c.Name, string(typ), position); err != nil {
			return fmt.Errorf("record column %s.%s: %w", name, c.Name, err)
		}
		known[strings.ToLower(c.Name)] = typ
		position++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	delete(s.tables, name)
	s.mu.Unlock()
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func catalogColumns(ctx context.Context, q queryer, name string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT column_name, column_type
		FROM webhttp_columns
		WHERE table_name = ?
		ORDER BY position ASC, column_name COLLATE BINARY ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		var typ string
		if err := rows.Scan(&c.Name, &typ); err != nil {
			return nil, fmt.Errorf("scan catalog: %w", err)
		}
		c.Type = ColumnType(typ)
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return columns, nil
}

// Tables returns the names of all tables, sorted.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name <> 'webhttp_columns'
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

// Columns returns the declared columns of a table, excluding id.
func (s *Store) Columns(ctx context.Context, name string) ([]Column, error) {
	t, err := s.table(ctx, name)
	if err != nil {
		return nil, err
	}
	return append([]Column(nil), t.columns...), nil
}

func (s *Store) table(ctx context.Context, name string) (*table, error) {
	s.mu.RLock()
	t, ok := s.tables[name]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("look up table %s: %w", name, err)
	}
	if exists == 0 {
		return nil, faults.Configuration(CodeUnknownTable, "table %s does not exist", name)
	}

	columns, err := catalogColumns(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(columns))
	types := make(map[string]ColumnType, len(columns)+1)
	types[querysql.IDColumn] = TypeInteger
	for i, c := range columns {
		names[i] = c.Name
		types[c.Name] = c.Type
	}
	compiler, err := querysql.NewCompiler(name, names)
	if err != nil {
		return nil, err
	}
	t = &table{name: name, columns: columns, types: types, compiler: compiler}

	s.mu.Lock()
	s.tables[name] = t
	s.mu.Unlock()
	return t, nil
}

// Insert adds a row and returns its id. Keys name columns
// case-insensitively; an explicit "id" is honored. json columns accept
// any JSON-encodable value.
func (s *Store) Insert(ctx context.Context, name string, row map[string]any) (int64, error) {
	t, err := s.table(ctx, name)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]string, 0, len(keys))
	params := make([]any, 0, len(keys))
	for _, k := range keys {
		col, ok := t.resolve(k)
		if !ok {
			return 0, faults.BadRequest(querysql.CodeUnknownColumn, "table %s has no column %s", name, k)
		}
		v, err := encodeValue(t.types[col], row[k])
		if err != nil {
			return 0, faults.BadRequest(CodeInvalidValue, "invalid value for column %s", col).Wrap(err)
		}
		cols = append(cols, `"`+col+`"`)
		params = append(params, v)
	}

	stmt := fmt.Sprintf(`INSERT INTO "%s" DEFAULT VALUES`, name)
	if len(cols) > 0 {
		stmt = fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`,
			name, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	}
	res, err := s.db.ExecContext(ctx, stmt, params...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", name, err)
	}
	return id, nil
}

func encodeValue(typ ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if typ == TypeJSON {
		return marshalJSON(v)
	}
	switch v.(type) {
	case time.Time, []byte, driver.Valuer:
		return v, nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return nil, fmt.Errorf("%T cannot be stored in a %s column", v, typ)
	}
	return v, nil
}

// Find returns the rows of a table selected by opts, as maps keyed by
// column name. equals adds column = value constraints. The result is
// never nil.
func (s *Store) Find(ctx context.Context, name string, opts query.Options, equals map[string]any) ([]map[string]any, error) {
	t, err := s.table(ctx, name)
	if err != nil {
		return nil, err
	}
	stmt, params, err := t.compiler.Compile(opts, equals)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}

	result := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v, err := decodeValue(t.types[col], values[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			row[col] = v
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", name, err)
	}
	return result, nil
}

func decodeValue(typ ColumnType, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		if typ == TypeBlob {
			return append([]byte(nil), b...), nil
		}
		v = string(b)
	}
	switch typ {
	case TypeBoolean:
		if n, ok := v.(int64); ok {
			return n != 0, nil
		}
	case TypeJSON:
		if s, ok := v.(string); ok {
			return unmarshalJSON(s)
		}
	}
	return v, nil
}
