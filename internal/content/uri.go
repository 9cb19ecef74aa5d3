// Package content holds URI combination, content-type classification, and
// the formatter registry used to read and write message bodies.
package content

import "strings"

// CombineURI appends relative to base with exactly one "/" between them.
// Unlike URI reference resolution it never drops the last segment of base.
// When either side is empty the other is returned unchanged.
func CombineURI(base, relative string) string {
	switch {
	case base == "":
		return relative
	case relative == "":
		return base
	}
	endsSlash := strings.HasSuffix(base, "/")
	startsSlash := strings.HasPrefix(relative, "/")
	switch {
	case endsSlash && startsSlash:
		return base + relative[1:]
	case endsSlash || startsSlash:
		return base + relative
	default:
		return base + "/" + relative
	}
}

var (
	xmlTypes  = []string{"application/xml", "text/xml"}
	jsonTypes = []string{"application/json", "text/json"}
)

// IsXMLContent reports whether contentType is an XML media type. An empty
// content type matches everything.
func IsXMLContent(contentType string) bool {
	return hasMediaPrefix(contentType, xmlTypes)
}

// IsJSONContent reports whether contentType is a JSON media type. An empty
// content type matches everything.
func IsJSONContent(contentType string) bool {
	return hasMediaPrefix(contentType, jsonTypes)
}

func hasMediaPrefix(contentType string, prefixes []string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}
