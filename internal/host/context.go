package host

import (
	"context"
	"net/http"
)

type requestKey struct{}
type requestIDKey struct{}

func withRequest(ctx context.Context, req *http.Request, id string) context.Context {
	ctx = context.WithValue(ctx, requestKey{}, req)
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestFrom returns the request being served. Handlers use it to read
// headers or the raw query.
func RequestFrom(ctx context.Context) (*http.Request, bool) {
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	return req, ok && req != nil
}

// RequestIDFrom returns the id of the request being served.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
