package upstream

import (
	"errors"
	"fmt"
)

// TransportError is a call that never produced a usable answer: the connection
// failed or the body was not a JSON envelope.
type TransportError struct {
	Call string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Call, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is a logical failure the server reported with success=false.
type ServerError struct {
	Call    string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ServerMessage returns the server-supplied message when err is a ServerError.
func ServerMessage(err error) (string, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Message, true
	}
	return "", false
}
