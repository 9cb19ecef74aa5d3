package host

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/c29m/webhttp/internal/content"
	"github.com/c29m/webhttp/internal/dispatch"
	"github.com/c29m/webhttp/internal/faults"
	"github.com/c29m/webhttp/internal/processors"
	"github.com/c29m/webhttp/internal/query"
	"github.com/c29m/webhttp/internal/uritemplate"
)

// Service serves the operations of one base address. It is immutable and
// safe for concurrent use.
type Service struct {
	base     *url.URL
	selector *dispatch.Selector
	routes   map[string]*route
	ids      RequestIDGenerator
	served   counter
	logger   *slog.Logger
}

// Base returns the service base address.
func (s *Service) Base() *url.URL { return s.base }

// Selector returns the operation selector.
func (s *Service) Selector() *dispatch.Selector { return s.selector }

// Served returns the number of requests served so far.
func (s *Service) Served() int64 { return s.served.current() }

// Mount routes every request below the service base path to s.
func (s *Service) Mount(r *mux.Router) {
	prefix := strings.TrimSuffix(s.base.Path, "/")
	if prefix == "" {
		r.PathPrefix("/").Handler(s)
		return
	}
	r.Handle(prefix, s)
	r.PathPrefix(prefix + "/").Handler(s)
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	seq := s.served.next()
	id := s.ids.Generate()
	w.Header().Set("X-Request-Id", id)
	req = req.WithContext(withRequest(req.Context(), req, id))

	logger := s.logger.With("request_id", id, "seq", seq)
	status, opName := s.serve(w, req, logger)
	logger.Info("request served",
		"method", req.Method,
		"path", req.URL.Path,
		"operation", opName,
		"status", status,
		"duration", time.Since(start))
}

func (s *Service) serve(w http.ResponseWriter, req *http.Request, logger *slog.Logger) (int, string) {
	req, sel, err := s.selector.SelectOperation(req)
	if err != nil {
		return s.writeFault(w, req, err, logger), ""
	}
	r, ok := s.routes[sel.Operation]
	if !ok {
		if sel.MethodNotAllowed {
			w.Header().Set("Allow", strings.Join(sel.Allowed, ", "))
			return s.writeStatus(w, req, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
				req.Method+" is not allowed here"), ""
		}
		return s.writeStatus(w, req, http.StatusNotFound, CodeNotFound,
			"no operation matches "+req.URL.Path), ""
	}

	ctx := req.Context()
	match := sel.Match
	if match == nil {
		match = &uritemplate.Match{BaseURI: s.base, RequestURI: req.URL, BoundVariables: map[string]string{}}
	}
	args, err := r.request.Execute(ctx, []any{req, match})
	if err != nil {
		return s.writeFault(w, req, err, logger), r.op.Name
	}

	result, err := r.handler(ctx, args.Output)
	if err != nil {
		if faults.KindOf(err) == faults.KindUnknown {
			err = faults.Processing(CodeHandlerFailed, err, "operation %s failed", r.op.Name)
		}
		return s.writeFault(w, req, err, logger), r.op.Name
	}
	if r.op.Queryable {
		if result, err = query.ComposeValue(ctx, result, req.URL); err != nil {
			return s.writeFault(w, req, err, logger), r.op.Name
		}
	}

	out, err := r.response.Execute(ctx, []any{req, result})
	if err != nil {
		return s.writeFault(w, req, err, logger), r.op.Name
	}
	v, _ := out.Value("response")
	resp := v.(*processors.Response)
	if err := resp.WriteTo(w); err != nil {
		logger.Warn("write response", "error", err)
	}
	return resp.Status, r.op.Name
}

// faultBody is the entity written for a failed request.
type faultBody struct {
	Code      string `json:"code" xml:"code"`
	Message   string `json:"message" xml:"message"`
	RequestID string `json:"request_id,omitempty" xml:"request_id,omitempty"`
}

func (s *Service) writeFault(w http.ResponseWriter, req *http.Request, err error, logger *slog.Logger) int {
	var fe *faults.Error
	if !errors.As(err, &fe) {
		fe = faults.Processing(CodeHandlerFailed, err, "internal error")
	}
	status := faults.StatusCode(fe.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", fe.Code, "error", err)
	} else {
		logger.Debug("request rejected", "code", fe.Code, "error", err)
	}
	return s.writeStatus(w, req, status, fe.Code, fe.Message)
}

// writeStatus writes a fault entity as JSON when the client accepts JSON
// and as plain text otherwise.
func (s *Service) writeStatus(w http.ResponseWriter, req *http.Request, status int, code faults.Code, msg string) int {
	body := faultBody{Code: string(code), Message: msg, RequestID: RequestIDFrom(req.Context())}
	if f, err := content.NewSet(content.JSON{}).Negotiate(req.Header.Get("Accept")); err == nil {
		w.Header().Set("Content-Type", f.ContentType())
		w.WriteHeader(status)
		_ = f.Write(w, body)
		return status
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body.Code + ": " + body.Message + "\n"))
	return status
}
