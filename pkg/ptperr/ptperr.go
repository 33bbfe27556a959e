// Package ptperr categorizes the protocol's error taxonomy so callers can
// branch on what went wrong (retry locally vs. escalate to RESET vs. exit)
// without string-matching, built on top of github.com/pkg/errors for
// stack-carrying wraps.
package ptperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the taxonomy entries from the error handling design.
type Kind int

const (
	// ChannelClosed: socket closed unexpectedly mid-transfer. No retransmit.
	ChannelClosed Kind = iota
	// Timeout: rot elapsed without the expected ACK. Locally retried.
	Timeout
	// RetransmitExhausted: three transmissions of one segment without ACK.
	RetransmitExhausted
	// MalformedSegment: inbound bytes too short or an unknown type.
	MalformedSegment
	// UsageError: wrong CLI argument count or malformed argument value.
	UsageError
)

func (k Kind) String() string {
	switch k {
	case ChannelClosed:
		return "ChannelClosed"
	case Timeout:
		return "Timeout"
	case RetransmitExhausted:
		return "RetransmitExhausted"
	case MalformedSegment:
		return "MalformedSegment"
	case UsageError:
		return "UsageError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error pairs a Kind with the underlying cause.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a category error with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, cause: fmt.Errorf(format, args...)}
}

// Wrap attaches kind to err, preserving err as the traceable cause via
// github.com/pkg/errors so callers further up the stack can still recover
// a stack trace with errors.Unwrap. *Error has no Cause method, so
// errors.Cause stops at it.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, msg)}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			if e.Kind == kind {
				return true
			}
			err = e.cause
			continue
		}
		err = errors.Unwrap(err)
	}
	return false
}

// KindOf extracts the Kind from err, if any, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			return ce.Kind, true
		}
		err = errors.Unwrap(err)
	}
	return 0, false
}
