package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the error taxonomy the reservation core branches on. Anything a
// repository implementation cannot classify collapses into KindGeneric.
type Kind int

const (
	KindGeneric Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "generic"
	}
}

type Error struct {
	Kind    Kind
	Status  int // HTTP-equivalent status; 0 for network/unknown failures
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Status: statusFor(kind), Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error    { return New(KindForbidden, msg) }
func NotFound(msg string) *Error     { return New(KindNotFound, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }
func Generic(msg string) *Error      { return New(KindGeneric, msg) }

// Invalid marks a malformed request; it stays outside the four branching
// kinds but carries a 400 so transports can report it faithfully.
func Invalid(msg string) *Error {
	return &Error{Kind: KindGeneric, Status: http.StatusBadRequest, Message: msg}
}

// FromStatus classifies a transport status code into the taxonomy.
func FromStatus(status int, msg string) *Error {
	e := &Error{Status: status, Message: msg}
	switch status {
	case http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case http.StatusForbidden:
		e.Kind = KindForbidden
	case http.StatusNotFound:
		e.Kind = KindNotFound
	case http.StatusConflict:
		e.Kind = KindConflict
	default:
		e.Kind = KindGeneric
	}
	return e
}

func statusFor(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// KindOf extracts the taxonomy kind; non-taxonomy errors are KindGeneric.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

func IsUnauthorized(err error) bool { return is(err, KindUnauthorized) }
func IsForbidden(err error) bool    { return is(err, KindForbidden) }
func IsNotFound(err error) bool     { return is(err, KindNotFound) }
func IsConflict(err error) bool     { return is(err, KindConflict) }

func is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Message returns the payload message when err carries one, otherwise the
// fallback. Used at the action-handler boundary for generic failures.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
