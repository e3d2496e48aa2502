// Package apperr defines the error taxonomy shared by every component of the
// hybrid store: InvalidInput, NotFound, UpstreamFailure, Inconsistency,
// EmbeddingMismatch and ParserNotApplicable. Callers distinguish these with
// errors.Is/errors.As instead of string matching.
package apperr

import "fmt"

// Kind classifies an error for retry/HTTP-mapping decisions at the boundary.
type Kind int

const (
	// InvalidInput: missing required fields, empty payload, malformed
	// JSON/XML, unsupported content type.
	InvalidInput Kind = iota
	// NotFound: point, segment, collection, or parser not present.
	NotFound
	// UpstreamFailure: C1, C2, or C3 transport error.
	UpstreamFailure
	// Inconsistency: observable violation of a store invariant (e.g. a
	// half-segment). Expected to be rare.
	Inconsistency
	// EmbeddingMismatch: provider returned a vector list of different
	// length than the request.
	EmbeddingMismatch
	// ParserNotApplicable: on auto-detect no registered parser accepts the
	// payload, or the named parser's canParse rejected it. A content type
	// with no registered parser is NotFound.
	ParserNotApplicable
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case UpstreamFailure:
		return "upstream_failure"
	case Inconsistency:
		return "inconsistency"
	case EmbeddingMismatch:
		return "embedding_mismatch"
	case ParserNotApplicable:
		return "parser_not_applicable"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and, for Inconsistency errors,
// the offending store key for operator triage.
type Error struct {
	Cause error
	Key   string
	Msg   string
	Kind  Kind
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s)", e.Kind, msg, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Cause: cause, Msg: msg}
}

// WithKey attaches the offending store key (used by Inconsistency errors).
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

// asError is a small local errors.As to avoid importing errors in every
// caller that just wants Is.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
