// Package jerr contains the single error type used by josh.
//
// Errors carry a message and optionally a cause. Callers distinguish
// situations by message content, see [Is], not by type.
package jerr

import (
	"errors"
	"fmt"
	"strings"
)

// Well known messages.
const (
	NotApplicableToTree = "not applicable to tree"
	CannotUnapply       = "filter cannot be unapplied"
	UnresolvedLazyRef   = "unresolved lazy ref"
	NoInvert            = "no invert"
	RejectingMerge      = "rejecting merge"
	MissingPermissions  = "missing permissions for commit"
	InvalidFilter       = "invalid filter"
)

// Error is the error returned by josh operations.
type Error struct {
	// msg is the tag used by [Is].
	msg string
	// text overrides the rendered text when set.
	text  string
	cause error
}

func (e *Error) Error() string {
	switch {
	case e.text != "":
		return e.text
	case e.cause == nil:
		return e.msg
	default:
		return e.msg + ": " + e.cause.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Message returns the tag of the error.
func (e *Error) Message() string {
	return e.msg
}

// New creates an [Error] with the given message.
func New(msg string) error {
	return &Error{msg: msg}
}

// Errorf formats an [Error]. A %w verb is honored, the wrapped error
// is reachable through [errors.Unwrap].
func Errorf(format string, args ...any) error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{msg: wrapped.Error(), text: wrapped.Error(), cause: errors.Unwrap(wrapped)}
}

// Wrap adds context to err. When err already is a josh [Error] its tag is
// kept, so message matching keeps working up the stack.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	context := fmt.Sprintf(format, args...)
	var je *Error
	if errors.As(err, &je) {
		return &Error{msg: je.msg, text: context + ": " + err.Error(), cause: err}
	}
	return &Error{msg: context, cause: err}
}

// Is reports whether err is a josh error whose tag starts with msg.
func Is(err error, msg string) bool {
	var je *Error
	if !errors.As(err, &je) {
		return false
	}
	return strings.HasPrefix(je.msg, msg)
}
