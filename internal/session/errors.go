package session

import (
	"errors"
	"fmt"

	"aural-realtime/internal/protocol"
)

// Error is a registry error carrying a wire code.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// works for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound        = &Error{Code: protocol.CodeNotFound, Msg: "session not found"}
	ErrForbidden       = &Error{Code: protocol.CodeForbidden, Msg: "only the creator may do this"}
	ErrInvalidArgument = &Error{Code: protocol.CodeInvalidArgument, Msg: "invalid argument"}
	ErrUnauthenticated = &Error{Code: protocol.CodeUnauthenticated, Msg: "identity does not match connection"}
)

func radioNotFound(id string) *Error {
	return &Error{Code: protocol.CodeNotFound, Msg: fmt.Sprintf("radio %q not found", id)}
}

func jamNotFound(id string) *Error {
	return &Error{Code: protocol.CodeNotFound, Msg: fmt.Sprintf("jam %q not found", id)}
}

func invalid(msg string) *Error {
	return &Error{Code: protocol.CodeInvalidArgument, Msg: msg}
}

func forbidden(msg string) *Error {
	return &Error{Code: protocol.CodeForbidden, Msg: msg}
}

// CodeOf returns the wire code for err; anything that is not an *Error is internal.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return protocol.CodeInternal
}
