package catalog

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can react without string matching.
type Kind string

// Failure kinds.
const (
	KindFetch       Kind = "fetch"
	KindParse       Kind = "parse"
	KindPersistence Kind = "persistence"
	KindDownstream  Kind = "downstream"
	KindConflict    Kind = "conflict"
)

// Error is a classified failure tied to an operation and, optionally, an item.
type Error struct {
	Kind Kind
	Op   string
	Item string
	Err  error
}

// NewError wraps err with a kind, an operation name and an item identifier.
func NewError(kind Kind, op, item string, err error) *Error {
	return &Error{Kind: kind, Op: op, Item: item, Err: err}
}

func (e *Error) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Kind, e.Op, e.Item, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatusError reports a non-success HTTP status from a remote endpoint.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}
