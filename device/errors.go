package device

import (
	"errors"
	"fmt"
)

// ConnectionError is returned when the controller cannot be reached at startup.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %q: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IOError is a transport failure in the middle of a session.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ProtocolError means a reply could not be understood and the stream can no
// longer be trusted to be in step with the controller.
type ProtocolError struct {
	Reply string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("bad reply %q: %v", e.Reply, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsFatal reports whether err ends a session with the controller.
func IsFatal(err error) bool {
	var ioErr *IOError
	var protoErr *ProtocolError
	return errors.As(err, &ioErr) || errors.As(err, &protoErr)
}
