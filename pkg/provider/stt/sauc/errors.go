package sauc

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned by [New] when required credentials or
	// settings are missing.
	ErrConfiguration = errors.New("sauc: invalid configuration")

	// ErrTransport wraps connection, write and read failures on the socket.
	ErrTransport = errors.New("sauc: transport failure")

	// ErrMalformedFrame is returned by [DecodeResponse] for frames that end
	// before a field they declare.
	ErrMalformedFrame = errors.New("sauc: malformed frame")
)

// ProtocolError is a failure reported by the service itself: a response
// frame carrying a non-zero status code.
type ProtocolError struct {
	Code    int32
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sauc: server returned code %d", e.Code)
	}
	return fmt.Sprintf("sauc: server returned code %d: %s", e.Code, e.Message)
}

// DecodeWarning describes a response payload that could not be decoded. The
// frame itself is still delivered, with a nil payload.
type DecodeWarning struct {
	// Stage is "decompress" or "unmarshal".
	Stage string
	Err   error
}

func (w *DecodeWarning) Error() string {
	return fmt.Sprintf("sauc: %s payload: %v", w.Stage, w.Err)
}

func (w *DecodeWarning) Unwrap() error { return w.Err }
