package collection

import (
	"errors"
	"fmt"
)

var ErrInvalidWindow = errors.New("invalid page window")

type ErrorKind string

const (
	CountQueryFailure  ErrorKind = "count_query"
	FetchWindowFailure ErrorKind = "fetch_window"
)

// QueryError wraps an upstream failure with the adapter step that hit it.
type QueryError struct {
	Kind       ErrorKind
	Collection string
	Err        error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Collection, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
