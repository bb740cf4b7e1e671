// Package failure classifies errors raised while loading and scoring datasets.
package failure

import (
	"errors"
)

// Kind is the category of a failure.
type Kind int

const (
	// DataUnavailable means a layer or file is missing. Recoverable.
	DataUnavailable Kind = iota + 1
	// UnsupportedFormat means the file exists but cannot be parsed. Recoverable.
	UnsupportedFormat
	// Configuration means a score definition or manifest entry is invalid.
	Configuration
	// DegenerateInput covers zero weight totals and empty ranges; handled by neutral fallbacks.
	DegenerateInput
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case DataUnavailable:
		return "data_unavailable"
	case UnsupportedFormat:
		return "unsupported_format"
	case Configuration:
		return "configuration"
	case DegenerateInput:
		return "degenerate_input"
	default:
		return "unknown"
	}
}

// Error wraps an error with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind. Returns nil for a nil err.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Recoverable reports whether scoring can continue without the failed input. Every
// classified kind is recoverable; unclassified errors are not.
func Recoverable(err error) bool {
	_, ok := KindOf(err)
	return ok
}
