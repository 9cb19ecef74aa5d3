package config

import (
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	svc, err := Load(filepath.Join("testdata", "invalid.yaml"))
	require.NoError(t, err)

	errs := Validate(svc)
	assert.Equal(t, []string{
		ErrNameEmpty,
		ErrBaseInvalid,
		ErrUnknownFormatter,
		ErrInvalidMatchMode,
		ErrInvalidColumnName,
		ErrInvalidColumnType,
		ErrDuplicateColumn,
		ErrUnknownRowColumn,
		ErrDuplicateTable,
		ErrDuplicateTemplate,
		ErrNoColumns,
		ErrUnknownCatchAll,
	}, codes(errs))

	assert.Equal(t, "formatters[1]", errs[2].Field)
	assert.Equal(t, "tables[0].columns[0].name", errs[4].Field)
	assert.Equal(t, `[E117] tables[0].rows[0]: column "colour" is not declared`, errs[7].Error())
}

func TestValidate_Valid(t *testing.T) {
	svc := &Service{
		Name:     "shop",
		Base:     "https://example.com/shop",
		CatchAll: "ListProducts",
		Tables: []Table{{
			Name:    "products",
			Columns: []Column{{"name", "text"}},
			Rows:    []map[string]any{{"NAME": "tea"}},
		}},
	}
	svc.ApplyDefaults()
	assert.Empty(t, Validate(svc))
	assert.NoError(t, Check(svc))
}

func TestValidate_CatchAllNeedsInsertForAdd(t *testing.T) {
	svc := &Service{
		Name:     "shop",
		Base:     "http://localhost/shop",
		CatchAll: "AddProducts",
		Tables:   []Table{{Name: "products", Columns: []Column{{"name", "text"}}}},
	}
	assert.Equal(t, []string{ErrUnknownCatchAll}, codes(Validate(svc)))

	svc.Tables[0].Insert = true
	assert.Empty(t, Validate(svc))
}

func TestCheck_Aggregates(t *testing.T) {
	err := Check(&Service{Base: "relative"})
	require.Error(t, err)

	merr, ok := err.(*multierror.Error)
	require.True(t, ok, "got %T", err)
	require.Len(t, merr.Errors, 2)
	assert.Equal(t, ErrNameEmpty, merr.Errors[0].(ValidationError).Code)
	assert.Equal(t, ErrBaseInvalid, merr.Errors[1].(ValidationError).Code)
}

func TestTable_OperationNames(t *testing.T) {
	tests := []struct {
		table string
		want  OperationNames
	}{
		{"products", OperationNames{"ListProducts", "GetProducts", "AddProducts"}},
		{"order_items", OperationNames{"ListOrderItems", "GetOrderItems", "AddOrderItems"}},
		{"SKU", OperationNames{"ListSku", "GetSku", "AddSku"}},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			assert.Equal(t, tt.want, Table{Name: tt.table}.OperationNames())
		})
	}
}
