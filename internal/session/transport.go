package session

import (
	"context"
	"errors"
)

// Inbound is one client message. Malformed is set when the frame could not be
// read as a message object; Text is then empty.
type Inbound struct {
	Text      string
	Malformed bool
}

// Transport carries events over one persistent connection.
//
// Receive returns io.EOF when the client closed the connection normally and a
// *TransportError for any other failure. Receive and Send may be called
// concurrently with each other, but each only from one goroutine.
type Transport interface {
	Receive(ctx context.Context) (Inbound, error)
	Send(ctx context.Context, e Event) error
}

// TransportError reports a connection-level failure. It is never shown to the
// client; it ends the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport " + e.Op
	}
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
