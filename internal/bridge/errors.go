package bridge

import (
	"errors"
	"fmt"
)

// ErrUnknownField is returned by name-keyed operations for names that were
// never registered. It always indicates a mismatch between the caller and
// the protocol description, never a transient condition.
var ErrUnknownField = errors.New("unknown field")

// ErrIndexOutOfRange is returned by GetState when a requested index exceeds
// the current snapshot length, typically because no packet has arrived yet
// or the simulator changed its output arity.
var ErrIndexOutOfRange = errors.New("state index out of range")

// ErrMalformedPacket is returned when an inbound payload contains a token
// that does not parse as a number. The receive loop logs these and keeps
// the previous snapshot.
var ErrMalformedPacket = errors.New("malformed packet")

// ErrEndpointClosed is returned by operations on an endpoint after Close.
var ErrEndpointClosed = errors.New("endpoint closed")

// UnknownFieldError wraps ErrUnknownField with the offending field name.
type UnknownFieldError struct {
	Name string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Name)
}

func (e *UnknownFieldError) Unwrap() error { return ErrUnknownField }

// MalformedPacketError wraps ErrMalformedPacket with the token that failed
// to parse and its position in the payload.
type MalformedPacketError struct {
	Token    string
	Position int
	Err      error
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed packet: token %q at position %d: %v", e.Token, e.Position, e.Err)
}

func (e *MalformedPacketError) Unwrap() error { return ErrMalformedPacket }

// IndexOutOfRangeError wraps ErrIndexOutOfRange with the requested index and
// the snapshot length at the time of the call.
type IndexOutOfRangeError struct {
	Index  int
	Length int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("state index %d out of range (snapshot length %d)", e.Index, e.Length)
}

func (e *IndexOutOfRangeError) Unwrap() error { return ErrIndexOutOfRange }

// TransportError wraps a socket-layer failure on the outbound send path.
// Sends are not retried automatically.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
