package conduit

import (
	"fmt"
)

// Error is a logical failure reported by the Conduit API in an otherwise
// successful response.
type Error struct {
	Method string
	Code   string
	Info   string
}

func (e *Error) Error() string {
	if e.Info == "" {
		return fmt.Sprintf("conduit %s: %s", e.Method, e.Code)
	}
	return fmt.Sprintf("conduit %s: %s: %s", e.Method, e.Code, e.Info)
}

// TransportError is returned when a call did not produce a Conduit response,
// for example because the service was unreachable or answered with something
// other than a Conduit envelope.
type TransportError struct {
	Method string
	// StatusCode is the HTTP status of the response, zero if there was none.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("conduit %s: HTTP %d: %v", e.Method, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("conduit %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
