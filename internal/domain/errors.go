package domain

import (
	"errors"
	"fmt"
)

// ErrorContext is a classified failure surfaced to the caller.
// It is transient and never persisted.
type ErrorContext struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ErrorContext) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ErrorContext) Unwrap() error {
	return e.Err
}

// KindOf returns the classification carried by err, or ErrorKindUnknown
// when err is not an ErrorContext.
func KindOf(err error) ErrorKind {
	var ec *ErrorContext
	if errors.As(err, &ec) {
		return ec.Kind
	}
	return ErrorKindUnknown
}
