package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind categorises persistence failures for service-layer mapping.
type ErrorKind int

const (
	// KindUnknown covers uncategorised failures.
	KindUnknown ErrorKind = iota
	// KindNotFound indicates the requested row does not exist.
	KindNotFound
	// KindConflict indicates a uniqueness or concurrency conflict, including
	// a conditional stock decrement that found insufficient stock.
	KindConflict
	// KindUnavailable indicates the datastore could not be reached.
	KindUnavailable
)

// Error is the concrete RepositoryError carried by all repository implementations.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

// NewError builds a categorised repository error for the given operation.
func NewError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("repository: %s failed", e.Op)
	}
	return fmt.Sprintf("repository: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether the failure was a missing row.
func (e *Error) IsNotFound() bool { return e.Kind == KindNotFound }

// IsConflict reports whether the failure was a uniqueness/concurrency conflict.
func (e *Error) IsConflict() bool { return e.Kind == KindConflict }

// IsUnavailable reports whether the datastore was unreachable.
func (e *Error) IsUnavailable() bool { return e.Kind == KindUnavailable }

// IsNotFound reports whether err carries a not-found repository categorisation.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict repository categorisation.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
