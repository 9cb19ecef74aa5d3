package host

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/c29m/webhttp/internal/dispatch"
	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/processors"
	"github.com/c29m/webhttp/internal/query"
)

// CodeRowNotFound is reported when a row operation addresses no row.
const CodeRowNotFound faults.Code = "ROW_NOT_FOUND"

// TableStore is the storage table handlers read and write. *store.Store
// implements it.
type TableStore interface {
	Find(ctx context.Context, table string, opts query.Options, equals map[string]any) ([]map[string]any, error)
	Insert(ctx context.Context, table string, row map[string]any) (int64, error)
}

// TableHandler serves the rows of a table. The request's query options and
// the URI variables bound by the operation template are pushed down to the
// store, so the operation must not be Queryable.
func TableHandler(st TableStore, table string) Handler {
	return func(ctx context.Context, _ []any) (any, error) {
		opts, equals, err := tableRequest(ctx)
		if err != nil {
			return nil, err
		}
		return st.Find(ctx, table, opts, equals)
	}
}

// TableRowHandler serves the single row addressed by the URI variables,
// usually {id}. A miss is a NotFound fault.
func TableRowHandler(st TableStore, table string) Handler {
	return func(ctx context.Context, _ []any) (any, error) {
		opts, equals, err := tableRequest(ctx)
		if err != nil {
			return nil, err
		}
		opts.Skip = nil
		two := 2
		opts.Top = &two
		rows, err := st.Find(ctx, table, opts, equals)
		if err != nil {
			return nil, err
		}
		switch len(rows) {
		case 0:
			return nil, faults.NotFound(CodeRowNotFound, "no %s row matches %v", table, equals)
		case 1:
			return rows[0], nil
		default:
			return nil, faults.Ambiguous(CodeRowNotFound, "several %s rows match %v", table, equals)
		}
	}
}

// TableInsertHandler inserts the request body as a row. The operation's
// single body parameter must be a map[string]any; URI variables are added
// to the row. The response is 201 with a Location header naming the row
// below the request path.
func TableInsertHandler(st TableStore, table string) Handler {
	return func(ctx context.Context, args []any) (any, error) {
		row := map[string]any{}
		for _, a := range args {
			if body, ok := a.(map[string]any); ok {
				for k, v := range body {
					row[k] = v
				}
			}
		}
		_, equals, err := tableRequest(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range equals {
			row[k] = v
		}

		id, err := st.Insert(ctx, table, row)
		if err != nil {
			return nil, err
		}
		header := http.Header{}
		if req, ok := RequestFrom(ctx); ok {
			header.Set("Location", path.Join(req.URL.Path, strconv.FormatInt(id, 10)))
		}
		return &processors.Response{Status: http.StatusCreated, Header: header}, nil
	}
}

// tableRequest reads the query options and bound URI variables of the
// request being served.
func tableRequest(ctx context.Context) (query.Options, map[string]any, error) {
	req, ok := RequestFrom(ctx)
	if !ok {
		return query.Options{}, nil, faults.ArgumentNull("request")
	}
	opts, err := query.Parse(req.URL.RawQuery)
	if err != nil {
		return query.Options{}, nil, fmt.Errorf("table request: %w", err)
	}
	equals := map[string]any{}
	if sel, ok := dispatch.SelectionFrom(ctx); ok && sel.Match != nil {
		for name, value := range sel.Match.BoundVariables {
			equals[name] = value
		}
	}
	return opts, equals, nil
}
