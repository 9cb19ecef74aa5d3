package client

import (
	"context"
	"fmt"

	"github.com/c29m/webhttp/internal/content"
	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/query"
)

// WebQuery is a deferred query over the resource at a path below the
// client base address.
type WebQuery[T any] struct {
	client *Client
	path   string
	q      *query.Query
}

// Resource returns the root query for the resource at path.
func Resource[T any](c *Client, path string) *WebQuery[T] {
	return &WebQuery[T]{client: c, path: path, q: query.New()}
}

func (w *WebQuery[T]) with(q *query.Query) *WebQuery[T] {
	return &WebQuery[T]{client: w.client, path: w.path, q: q}
}

// Where narrows the query; successive calls combine with and.
func (w *WebQuery[T]) Where(predicate query.Expr) *WebQuery[T] { return w.with(w.q.Where(predicate)) }

// OrderBy replaces any ordering with key ascending.
func (w *WebQuery[T]) OrderBy(key query.Expr) *WebQuery[T] { return w.with(w.q.OrderBy(key)) }

// OrderByDescending replaces any ordering with key descending.
func (w *WebQuery[T]) OrderByDescending(key query.Expr) *WebQuery[T] {
	return w.with(w.q.OrderByDescending(key))
}

// ThenBy adds a secondary ascending key.
func (w *WebQuery[T]) ThenBy(key query.Expr) *WebQuery[T] { return w.with(w.q.ThenBy(key)) }

// ThenByDescending adds a secondary descending key.
func (w *WebQuery[T]) ThenByDescending(key query.Expr) *WebQuery[T] {
	return w.with(w.q.ThenByDescending(key))
}

// Skip bypasses the first n elements.
func (w *WebQuery[T]) Skip(n int) *WebQuery[T] { return w.with(w.q.Skip(n)) }

// Take limits the result to n elements.
func (w *WebQuery[T]) Take(n int) *WebQuery[T] { return w.with(w.q.Take(n)) }

// Select asks the service for the given members only. T should declare
// just those fields.
func (w *WebQuery[T]) Select(members ...query.Expr) *WebQuery[T] {
	return w.with(w.q.Select(members...))
}

// Query returns the underlying query.
func (w *WebQuery[T]) Query() *query.Query { return w.q }

// Err returns the first operator misuse recorded on the query.
func (w *WebQuery[T]) Err() error { return w.q.Err() }

// URI compiles the query into the request URI. Deferred values, including
// nested queries, are evaluated now.
func (w *WebQuery[T]) URI(ctx context.Context) (string, error) {
	return w.uri(ctx, w.q)
}

func (w *WebQuery[T]) uri(ctx context.Context, q *query.Query) (string, error) {
	raw, err := query.Compile(ctx, q)
	if err != nil {
		return "", err
	}
	uri := content.CombineURI(w.client.base, w.path)
	if raw != "" {
		uri += "?" + raw
	}
	return uri, nil
}

// Execute sends the query and returns the decoded elements. Cancelling
// ctx aborts the request.
func (w *WebQuery[T]) Execute(ctx context.Context) ([]T, error) {
	return w.execute(ctx, w.q)
}

func (w *WebQuery[T]) execute(ctx context.Context, q *query.Query) ([]T, error) {
	uri, err := w.uri(ctx, q)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := w.client.get(ctx, uri, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// ExecuteAsync starts the query and returns immediately.
func (w *WebQuery[T]) ExecuteAsync(ctx context.Context) *Future[[]T] {
	return Go(ctx, w.Execute)
}

// First returns the first element. An empty result is an error.
func (w *WebQuery[T]) First(ctx context.Context) (T, error) {
	var zero T
	items, err := w.execute(ctx, w.q.First())
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, faults.Contract(CodeNoElements, "%s returned no elements", w.path)
	}
	return items[0], nil
}

// FirstOrDefault returns the first element, or the zero value when the
// result is empty.
func (w *WebQuery[T]) FirstOrDefault(ctx context.Context) (T, error) {
	var zero T
	items, err := w.execute(ctx, w.q.FirstOrDefault())
	if err != nil || len(items) == 0 {
		return zero, err
	}
	return items[0], nil
}

// Single returns the only element. Zero or several elements are errors.
func (w *WebQuery[T]) Single(ctx context.Context) (T, error) {
	var zero T
	items, err := w.execute(ctx, w.q.Single())
	if err != nil {
		return zero, err
	}
	switch len(items) {
	case 0:
		return zero, faults.Contract(CodeNoElements, "%s returned no elements", w.path)
	case 1:
		return items[0], nil
	default:
		return zero, faults.Contract(CodeNotSingle, "%s returned more than one element", w.path)
	}
}

// FirstValue returns a deferred value that runs First when the enclosing
// query is compiled. It lets one query depend on the result of another:
//
//	top := client.Resource[Customer](c, "customers").OrderByDescending(query.Field("Spend"))
//	orders := client.Resource[Order](c, "orders").
//		Where(query.Eq(query.Field("CustomerID"), query.Member{Target: top.FirstValue(), Name: "ID"}))
func (w *WebQuery[T]) FirstValue() query.Value {
	return query.Value{
		Label: fmt.Sprintf("first of %s", w.path),
		Eval: func(ctx context.Context) (any, error) {
			return w.First(ctx)
		},
	}
}
