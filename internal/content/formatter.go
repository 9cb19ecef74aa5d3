package content

import (
	"cmp"
	"encoding/json"
	"encoding/xml"
	"io"
	"mime"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/c29m/webhttp/internal/faults"
)

// Error codes.
const (
	CodeUnknownFormatter   faults.Code = "UNKNOWN_FORMATTER"
	CodeDuplicateFormatter faults.Code = "DUPLICATE_FORMATTER"
	CodeNoFormatter        faults.Code = "NO_FORMATTER"
	CodeUnsupportedMedia   faults.Code = "UNSUPPORTED_MEDIA_TYPE"
	CodeNotAcceptable      faults.Code = "NOT_ACCEPTABLE"
)

// Formatter converts between message bodies and values.
type Formatter interface {
	// ContentType is the value written to the Content-Type header.
	ContentType() string

	// Handles reports whether the formatter reads and writes mediaType.
	// mediaType is lower-case and has no parameters.
	Handles(mediaType string) bool

	Read(r io.Reader, v any) error
	Write(w io.Writer, v any) error
}

// Factory creates a formatter.
type Factory func() Formatter

// Registry maps formatter tags such as "json" to factories. Tags are
// resolved once, at configuration time, with Resolve.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	tags      []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the "json" and "xml" formatters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("json", func() Formatter { return JSON{} })
	_ = r.Register("xml", func() Formatter { return XML{} })
	return r
}

// Register adds a factory under tag.
func (r *Registry) Register(tag string, f Factory) error {
	if f == nil {
		return faults.ArgumentNull("factory")
	}
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return faults.Configuration(CodeUnknownFormatter, "formatter tag must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[tag]; ok {
		return faults.Configuration(CodeDuplicateFormatter, "formatter %q registered twice", tag)
	}
	r.factories[tag] = f
	r.tags = append(r.tags, tag)
	return nil
}

// Tags returns the registered tags in registration order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.tags)
}

// Resolve instantiates the formatters named by tags, in order. With no
// tags every registered formatter is used.
func (r *Registry) Resolve(tags ...string) (*Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(tags) == 0 {
		tags = r.tags
	}
	set := &Set{}
	for _, tag := range tags {
		f, ok := r.factories[strings.ToLower(strings.TrimSpace(tag))]
		if !ok {
			return nil, faults.Configuration(CodeUnknownFormatter, "no formatter registered as %q", tag).
				With("tag", tag)
		}
		set.formatters = append(set.formatters, f())
	}
	if len(set.formatters) == 0 {
		return nil, faults.Configuration(CodeNoFormatter, "at least one formatter is required")
	}
	return set, nil
}

// Set is an ordered, immutable list of formatters. The first formatter is
// the default.
type Set struct {
	formatters []Formatter
}

// NewSet creates a set from formatters.
func NewSet(formatters ...Formatter) *Set {
	return &Set{formatters: slices.Clone(formatters)}
}

// Default returns the first formatter, or nil for an empty set.
func (s *Set) Default() Formatter {
	if len(s.formatters) == 0 {
		return nil
	}
	return s.formatters[0]
}

// Formatters returns the formatters in order.
func (s *Set) Formatters() []Formatter { return slices.Clone(s.formatters) }

// ForContentType picks the formatter that reads a body of contentType.
// An empty content type selects the default.
func (s *Set) ForContentType(contentType string) (Formatter, error) {
	if strings.TrimSpace(contentType) == "" && s.Default() != nil {
		return s.Default(), nil
	}
	mt := mediaType(contentType)
	for _, f := range s.formatters {
		if f.Handles(mt) {
			return f, nil
		}
	}
	return nil, faults.UnsupportedMedia(CodeUnsupportedMedia, "no formatter reads %q", contentType)
}

// Negotiate picks the formatter for an Accept header. Ranges are tried by
// descending quality; "*/*" and an empty header select the default.
func (s *Set) Negotiate(accept string) (Formatter, error) {
	for _, r := range parseAccept(accept) {
		if r.q <= 0 {
			continue
		}
		if f := s.forRange(r.mediaType); f != nil {
			return f, nil
		}
	}
	return nil, faults.NotAcceptable(CodeNotAcceptable, "no formatter satisfies Accept %q", accept)
}

func (s *Set) forRange(mr string) Formatter {
	if mr == "*/*" {
		return s.Default()
	}
	if prefix, ok := strings.CutSuffix(mr, "/*"); ok {
		for _, f := range s.formatters {
			_, sub, _ := strings.Cut(mediaType(f.ContentType()), "/")
			if f.Handles(prefix + "/" + sub) {
				return f
			}
		}
		return nil
	}
	for _, f := range s.formatters {
		if f.Handles(mr) {
			return f
		}
	}
	return nil
}

type acceptRange struct {
	mediaType string
	q         float64
}

func parseAccept(accept string) []acceptRange {
	if strings.TrimSpace(accept) == "" {
		return []acceptRange{{mediaType: "*/*", q: 1}}
	}
	var out []acceptRange
	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r := acceptRange{mediaType: mediaType(part), q: 1}
		if _, params, err := mime.ParseMediaType(part); err == nil {
			if v, ok := params["q"]; ok {
				if q, err := strconv.ParseFloat(v, 64); err == nil {
					r.q = q
				}
			}
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b acceptRange) int { return cmp.Compare(b.q, a.q) })
	return out
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// JSON reads and writes application/json bodies.
type JSON struct{}

func (JSON) ContentType() string { return "application/json; charset=utf-8" }

func (JSON) Handles(mt string) bool {
	return mt != "" && (IsJSONContent(mt) || strings.HasSuffix(mt, "+json"))
}

func (JSON) Read(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func (JSON) Write(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// XML reads and writes application/xml bodies. Slices are wrapped in an
// <Items> element.
type XML struct{}

func (XML) ContentType() string { return "application/xml; charset=utf-8" }

func (XML) Handles(mt string) bool {
	return mt != "" && (IsXMLContent(mt) || strings.HasSuffix(mt, "+xml"))
}

const xmlItems = "Items"

func (XML) Write(w io.Writer, v any) error {
	enc := xml.NewEncoder(w)
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Flush()
	}
	start := xml.StartElement{Name: xml.Name{Local: xmlItems}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if err := enc.Encode(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	if err := enc.EncodeToken(start.End()); err != nil {
		return err
	}
	return enc.Flush()
}

func (XML) Read(r io.Reader, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return xml.NewDecoder(r).Decode(v)
	}
	dec := xml.NewDecoder(r)
	slice := rv.Elem()
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				depth++
				continue
			}
			elem := reflect.New(slice.Type().Elem())
			if err := dec.DecodeElement(elem.Interface(), &t); err != nil {
				return err
			}
			slice.Set(reflect.Append(slice, elem.Elem()))
		case xml.EndElement:
			depth--
		}
	}
}
