package host

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c29m/webhttp/internal/dispatch"
	"github.com/c29m/webhttp/internal/store"
)

func newTableService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.EnsureTable(ctx, "products", []store.Column{
		{Name: "name", Type: store.TypeText},
		{Name: "price", Type: store.TypeReal},
		{Name: "category", Type: store.TypeText},
	}))
	for _, row := range []map[string]any{
		{"name": "tea", "price": 3.5, "category": "drinks"},
		{"name": "jam", "price": 4.0, "category": "spreads"},
		{"name": "coffee", "price": 5.0, "category": "drinks"},
	} {
		_, err := st.Insert(ctx, "products", row)
		require.NoError(t, err)
	}

	base, err := url.Parse("http://localhost/shop")
	require.NoError(t, err)
	b := NewBuilder(base, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	rowType := reflect.TypeOf(map[string]any{})
	require.NoError(t, b.Handle(dispatch.Operation{Name: "ListProducts", Template: "products"},
		TableHandler(st, "products")))
	require.NoError(t, b.Handle(dispatch.Operation{Name: "ListCategory", Template: "categories/{category}/products"},
		TableHandler(st, "products")))
	require.NoError(t, b.Handle(dispatch.Operation{Name: "GetProduct", Template: "products/{id}"},
		TableRowHandler(st, "products")))
	require.NoError(t, b.Handle(dispatch.Operation{
		Name:     "AddProduct",
		Method:   http.MethodPost,
		Template: "products",
		Inputs:   []dispatch.Parameter{{Name: "row", Type: rowType}},
	}, TableInsertHandler(st, "products")))

	svc, err := b.Build()
	require.NoError(t, err)
	return svc
}

func decodeRows(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(body, &rows), string(body))
	return rows
}

func names(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["name"]
	}
	return out
}

func TestTableHandler_PushesDownQuery(t *testing.T) {
	svc := newTableService(t)

	rec := do(t, svc, http.MethodGet, "/shop/products?$filter=Price%20ge%204&$orderby=Name%20desc", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []any{"jam", "coffee"}, names(decodeRows(t, rec.Body.Bytes())))
}

func TestTableHandler_Paging(t *testing.T) {
	svc := newTableService(t)

	rec := do(t, svc, http.MethodGet, "/shop/products?$skip=1&$top=1&$select=name", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.JSONEq(t, `[{"name":"jam"}]`, rec.Body.String())
}

func TestTableHandler_PushesDownURIVariables(t *testing.T) {
	svc := newTableService(t)

	rec := do(t, svc, http.MethodGet, "/shop/categories/drinks/products?$orderby=Price%20desc", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []any{"coffee", "tea"}, names(decodeRows(t, rec.Body.Bytes())))
}

func TestTableHandler_UnknownColumnIsBadRequest(t *testing.T) {
	svc := newTableService(t)

	rec := do(t, svc, http.MethodGet, "/shop/products?$filter=Colour%20eq%20'red'", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNKNOWN_COLUMN", decodeFault(t, rec).Code)
}

func TestTableRowHandler(t *testing.T) {
	svc := newTableService(t)

	rec := do(t, svc, http.MethodGet, "/shop/products/2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":2,"name":"jam","price":4,"category":"spreads"}`, rec.Body.String())

	rec = do(t, svc, http.MethodGet, "/shop/products/99", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(CodeRowNotFound), decodeFault(t, rec).Code)
}

func TestTableInsertHandler(t *testing.T) {
	svc := newTableService(t)

	rec := do(t, svc, http.MethodPost, "/shop/products", `{"name":"honey","price":6,"category":"spreads"}`,
		http.Header{"Content-Type": {"application/json"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/shop/products/4", rec.Header().Get("Location"))

	rec = do(t, svc, http.MethodGet, "/shop/products/4", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":4,"name":"honey","price":6,"category":"spreads"}`, rec.Body.String())
}

func TestTableInsertHandler_UnknownColumn(t *testing.T) {
	svc := newTableService(t)

	rec := do(t, svc, http.MethodPost, "/shop/products", `{"colour":"red"}`,
		http.Header{"Content-Type": {"application/json"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNKNOWN_COLUMN", decodeFault(t, rec).Code)
}
