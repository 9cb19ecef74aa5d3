package query

import (
	"context"
	"net/url"
	"reflect"
	"sort"

	"github.com/c29m/webhttp/internal/faults"
)

// Compose re-applies the query options of uri to an already materialized
// sequence: filter, stable sort, skip, then top. $select is ignored since
// the element type is fixed; use ComposeValue to project.
func Compose[T any](ctx context.Context, seq []T, uri *url.URL) ([]T, error) {
	if uri == nil {
		return nil, faults.ArgumentNull("uri")
	}
	opts, err := Parse(uri.RawQuery)
	if err != nil {
		return nil, err
	}
	return Apply(ctx, opts, seq)
}

// Apply runs opts over seq. The input slice is not modified.
func Apply[T any](ctx context.Context, opts Options, seq []T) ([]T, error) {
	out := make([]T, 0, len(seq))
	filter := opts.Filter()
	for _, item := range seq {
		if filter != nil {
			v, err := Eval(ctx, filter, item)
			if err != nil {
				return nil, err
			}
			if ok, _ := v.(bool); !ok {
				continue
			}
		}
		out = append(out, item)
	}

	if len(opts.OrderBy) > 0 {
		keys := make([][]any, len(out))
		for i, item := range out {
			keys[i] = make([]any, len(opts.OrderBy))
			for j, k := range opts.OrderBy {
				v, err := Eval(ctx, k.Expr, item)
				if err != nil {
					return nil, err
				}
				keys[i][j] = v
			}
		}
		idx := make([]int, len(out))
		for i := range idx {
			idx[i] = i
		}
		var sortErr error
		sort.SliceStable(idx, func(a, b int) bool {
			for j, k := range opts.OrderBy {
				c, err := compareKeys(keys[idx[a]][j], keys[idx[b]][j])
				if err != nil && sortErr == nil {
					sortErr = err
				}
				if c == 0 {
					continue
				}
				if k.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		if sortErr != nil {
			return nil, sortErr
		}
		sorted := make([]T, len(out))
		for i, j := range idx {
			sorted[i] = out[j]
		}
		out = sorted
	}

	if opts.Skip != nil {
		out = out[min(*opts.Skip, len(out)):]
	}
	if opts.Top != nil {
		out = out[:min(*opts.Top, len(out))]
	}
	return out, nil
}

// compareKeys orders nil before every value.
func compareKeys(a, b any) (int, error) {
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}
	return Compare(a, b)
}

// ComposeValue is Compose for a sequence held in an untyped value, as
// returned by an operation handler. Slices are filtered, ordered and paged,
// then projected to []map[string]any when $select is present. Other values
// are returned unchanged.
func ComposeValue(ctx context.Context, v any, uri *url.URL) (any, error) {
	if uri == nil {
		return nil, faults.ArgumentNull("uri")
	}
	rv := reflect.ValueOf(v)
	if v == nil || rv.Kind() != reflect.Slice {
		return v, nil
	}
	opts, err := Parse(uri.RawQuery)
	if err != nil || opts.IsEmpty() {
		return v, err
	}

	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	items, err = Apply(ctx, opts, items)
	if err != nil {
		return nil, err
	}

	if len(opts.Select) > 0 {
		return Project(ctx, items, opts.Select)
	}
	out := reflect.MakeSlice(rv.Type(), len(items), len(items))
	for i, item := range items {
		if item != nil {
			out.Index(i).Set(reflect.ValueOf(item))
		}
	}
	return out.Interface(), nil
}

// Project keeps only the selected member paths of each item. Keys are the
// paths as written in $select.
func Project[T any](ctx context.Context, items []T, paths []string) ([]map[string]any, error) {
	exprs := make([]Expr, len(paths))
	for i, p := range paths {
		e, err := ParseFilter(p)
		if err != nil {
			return nil, err
		}
		if _, ok := memberPath(e); !ok {
			return nil, faults.BadRequest(CodeSyntax, "$select item %q is not a member path", p)
		}
		exprs[i] = e
	}
	out := make([]map[string]any, len(items))
	for i, item := range items {
		row := make(map[string]any, len(paths))
		for j, e := range exprs {
			v, err := Eval(ctx, e, item)
			if err != nil {
				return nil, err
			}
			row[paths[j]] = v
		}
		out[i] = row
	}
	return out, nil
}
