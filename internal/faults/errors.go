// Package faults defines the error taxonomy shared by the dispatch,
// pipeline, and query layers.
//
// Every error raised by those layers is a *Error carrying a Kind and a
// string Code. Callers classify errors with KindOf, Is, or HasCode, all of
// which see through wrapping. The host maps kinds to HTTP status codes with
// StatusCode.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an error by how the host should react to it.
type Kind int

const (
	// KindUnknown is reported for errors that are not *Error.
	KindUnknown Kind = iota

	// KindConfiguration covers definition-time mistakes: argument name
	// conflicts, unbound inputs, ordering conflicts, reused processors.
	// They are raised at build/bind time, never mid-execution.
	KindConfiguration

	// KindContract covers runtime contract violations such as a processor
	// returning a nil result or a wrong number of values.
	KindContract

	// KindTranslation covers query shapes the translator cannot express.
	KindTranslation

	// KindArgumentNull is a failed required-reference precondition.
	KindArgumentNull

	// KindBadRequest covers request data that cannot be converted.
	KindBadRequest

	// KindUnsupportedMedia is reported when no formatter reads the request body.
	KindUnsupportedMedia

	// KindNotAcceptable is reported when no formatter satisfies Accept.
	KindNotAcceptable

	// KindAmbiguous is reported when several templates match equally well.
	KindAmbiguous

	// KindProcessing wraps a failure reported by a processor or handler.
	KindProcessing

	// KindNotFound is reported when an addressed resource does not exist.
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindConfiguration:    "configuration",
	KindContract:         "contract",
	KindTranslation:      "translation",
	KindArgumentNull:     "argument_null",
	KindBadRequest:       "bad_request",
	KindUnsupportedMedia: "unsupported_media",
	KindNotAcceptable:    "not_acceptable",
	KindAmbiguous:        "ambiguous",
	KindProcessing:       "processing",
	KindNotFound:         "not_found",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Code identifies a specific error within a kind.
type Code string

// Error is the structured error type used throughout the module.
type Error struct {
	// Kind is the error category.
	Kind Kind

	// Code identifies the specific condition (e.g. "ALREADY_BOUND").
	Code Code

	// Message is a human-readable description.
	Message string

	// Details holds additional context such as argument or processor names.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// With returns a copy of e with an extra detail entry.
func (e *Error) With(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Wrap returns a copy of e with err as its cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

func newError(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Configuration creates a KindConfiguration error.
func Configuration(code Code, format string, args ...any) *Error {
	return newError(KindConfiguration, code, format, args...)
}

// Contract creates a KindContract error.
func Contract(code Code, format string, args ...any) *Error {
	return newError(KindContract, code, format, args...)
}

// Translation creates a KindTranslation error.
func Translation(code Code, format string, args ...any) *Error {
	return newError(KindTranslation, code, format, args...)
}

// BadRequest creates a KindBadRequest error.
func BadRequest(code Code, format string, args ...any) *Error {
	return newError(KindBadRequest, code, format, args...)
}

// UnsupportedMedia creates a KindUnsupportedMedia error.
func UnsupportedMedia(code Code, format string, args ...any) *Error {
	return newError(KindUnsupportedMedia, code, format, args...)
}

// NotAcceptable creates a KindNotAcceptable error.
func NotAcceptable(code Code, format string, args ...any) *Error {
	return newError(KindNotAcceptable, code, format, args...)
}

// Ambiguous creates a KindAmbiguous error.
func Ambiguous(code Code, format string, args ...any) *Error {
	return newError(KindAmbiguous, code, format, args...)
}

// NotFound creates a KindNotFound error.
func NotFound(code Code, format string, args ...any) *Error {
	return newError(KindNotFound, code, format, args...)
}

// Processing wraps err as a KindProcessing error.
func Processing(code Code, err error, format string, args ...any) *Error {
	e := newError(KindProcessing, code, format, args...)
	e.Err = err
	return e
}

// CodeArgumentNull is the code of every ArgumentNull error.
const CodeArgumentNull Code = "ARGUMENT_NULL"

// ArgumentNull reports a missing required reference named name.
func ArgumentNull(name string) *Error {
	e := newError(KindArgumentNull, CodeArgumentNull, "%s must not be nil", name)
	e.Details = map[string]string{"argument": name}
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HasCode reports whether any *Error in err's chain has the given code.
// Aggregated errors exposing WrappedErrors are searched as well.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Code == code {
		return true
	}
	if agg, ok := err.(interface{ WrappedErrors() []error }); ok {
		for _, e := range agg.WrappedErrors() {
			if HasCode(e, code) {
				return true
			}
		}
	}
	if fe != nil && fe.Err != nil {
		return HasCode(fe.Err, code)
	}
	return false
}

// StatusCode maps a kind to the HTTP status the host responds with.
func StatusCode(kind Kind) int {
	switch kind {
	case KindBadRequest, KindTranslation, KindArgumentNull:
		return http.StatusBadRequest
	case KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case KindNotAcceptable:
		return http.StatusNotAcceptable
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
