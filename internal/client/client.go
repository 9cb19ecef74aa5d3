// Package client issues composed queries against a web service.
//
// A WebQuery is an immutable snapshot: every operator returns a new query
// and leaves its receiver untouched, so queries derived from one root can
// run concurrently. Nothing is sent until Execute, ExecuteAsync or one of
// the single-element operators is called.
//
//	c, _ := client.New("http://localhost:8080/shop")
//	cheap := client.Resource[Product](c, "products").
//		Where(query.Lt(query.Field("Price"), query.Const(5))).
//		OrderBy(query.Field("Name"))
//	items, err := cheap.Execute(ctx)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c29m/webhttp/internal/content"
	"github.com/c29m/webhttp/internal/faults"
)

// Error codes.
const (
	CodeInvalidBase faults.Code = "INVALID_BASE_URI"
	CodeDecode      faults.Code = "DECODE_FAILED"
	CodeNoElements  faults.Code = "SEQUENCE_EMPTY"
	CodeNotSingle   faults.Code = "SEQUENCE_NOT_SINGLE"
)

// StatusError is returned when the service answers with a non-2xx status.
// Code and Message are filled from a JSON fault body when present.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("http %d", e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport. The default is http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegistry replaces the formatter registry.
func WithRegistry(r *content.Registry) Option {
	return func(c *Client) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithFormatters selects formatters by registry tag. The first is
// preferred in the Accept header. The default is "json", "xml".
func WithFormatters(tags ...string) Option {
	return func(c *Client) {
		c.tags = tags
	}
}

// Client sends queries to one service base address.
//
// Thread-safety: immutable after New and safe for concurrent use.
type Client struct {
	base       string
	http       *http.Client
	registry   *content.Registry
	tags       []string
	formatters *content.Set
	accept     string
	logger     *slog.Logger
}

// New creates a client for the service rooted at base, which must be an
// absolute URI.
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || !u.IsAbs() {
		e := faults.Configuration(CodeInvalidBase, "base %q is not an absolute URI", base)
		if err != nil {
			e = e.Wrap(err)
		}
		return nil, e
	}
	c := &Client{
		base:     base,
		http:     http.DefaultClient,
		registry: content.DefaultRegistry(),
		tags:     []string{"json", "xml"},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.formatters, err = c.registry.Resolve(c.tags...); err != nil {
		return nil, err
	}
	c.accept = acceptHeader(c.formatters)
	return c, nil
}

// Base returns the service base address.
func (c *Client) Base() string { return c.base }

// acceptHeader lists the formatters' media types, preferring the first.
func acceptHeader(s *content.Set) string {
	var parts []string
	for i, f := range s.Formatters() {
		mt, _, _ := strings.Cut(f.ContentType(), ";")
		if i > 0 {
			mt += fmt.Sprintf(";q=0.%d", max(1, 9-i))
		}
		parts = append(parts, mt)
	}
	return strings.Join(parts, ", ")
}

// get fetches uri and decodes the body as a sequence into out, which must
// be a pointer to a slice.
func (c *Client) get(ctx context.Context, uri string, out any) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", c.accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", uri, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("query sent",
		"uri", uri,
		"status", resp.StatusCode,
		"request_id", resp.Header.Get("X-Request-Id"),
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, body)
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return c.decode(resp.Header.Get("Content-Type"), body, out)
}

func statusError(resp *http.Response, body []byte) error {
	se := &StatusError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-Id")}
	if content.IsJSONContent(resp.Header.Get("Content-Type")) {
		var fb struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &fb) == nil {
			se.Code, se.Message = fb.Code, fb.Message
		}
	}
	if se.Code == "" && se.Message == "" {
		se.Message = strings.TrimSpace(string(body))
	}
	return se
}

func (c *Client) decode(contentType string, body []byte, out any) error {
	f, err := c.formatters.ForContentType(contentType)
	if err != nil {
		return err
	}
	if _, ok := f.(content.JSON); ok {
		body = unwrapEnvelope(body)
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
			// A single entity: decode it as a one-element sequence.
			body = append(append([]byte{'['}, trimmed...), ']')
		}
	}
	if err := f.Read(bytes.NewReader(body), out); err != nil {
		return faults.Contract(CodeDecode, "cannot decode %s response", contentType).Wrap(err)
	}
	return nil
}

// unwrapEnvelope strips the {"d": ...} and {"value": ...} wrappers some
// services put around results. {"d": {"results": [...]}} is unwrapped
// twice.
func unwrapEnvelope(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	var env map[string]json.RawMessage
	if json.Unmarshal(trimmed, &env) != nil {
		return body
	}
	if d, ok := env["d"]; ok && len(env) == 1 {
		var inner map[string]json.RawMessage
		if json.Unmarshal(d, &inner) == nil {
			if results, ok := inner["results"]; ok {
				return results
			}
		}
		return d
	}
	if v, ok := env["value"]; ok {
		for k := range env {
			if k != "value" && !strings.HasPrefix(k, "@") && !strings.HasPrefix(k, "odata.") {
				return body
			}
		}
		return v
	}
	return body
}
