// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
	"io/fs"

	"go.bug.st/serial"
)

// ConnectErrorKind classifies a failed open
type ConnectErrorKind string

const (
	ConnectErrorBusy       ConnectErrorKind = "PORT_BUSY"
	ConnectErrorNotFound   ConnectErrorKind = "PORT_NOT_FOUND"
	ConnectErrorPermission ConnectErrorKind = "PERMISSION_DENIED"
	ConnectErrorInvalid    ConnectErrorKind = "INVALID_PORT"
	ConnectErrorOther      ConnectErrorKind = "OTHER"
)

// ConnectError is returned when the port cannot be opened
type ConnectError struct {
	Kind ConnectErrorKind
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to open port %s (%s): %v", e.Port, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// NewConnectError wraps an open failure and classifies its cause
func NewConnectError(port string, err error) *ConnectError {
	return &ConnectError{
		Kind: classifyOpenError(err),
		Port: port,
		Err:  err,
	}
}

func classifyOpenError(err error) ConnectErrorKind {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortBusy:
			return ConnectErrorBusy
		case serial.PortNotFound:
			return ConnectErrorNotFound
		case serial.PermissionDenied:
			return ConnectErrorPermission
		case serial.InvalidSerialPort, serial.InvalidSpeed, serial.InvalidDataBits,
			serial.InvalidParity, serial.InvalidStopBits, serial.InvalidTimeoutValue:
			return ConnectErrorInvalid
		}
		return ConnectErrorOther
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ConnectErrorNotFound
	case errors.Is(err, fs.ErrPermission):
		return ConnectErrorPermission
	}
	return ConnectErrorOther
}

// DisconnectError is returned when closing the port failed.
// The link is considered closed regardless.
type DisconnectError struct {
	Port string
	Err  error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("failed to close port %s: %v", e.Port, e.Err)
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}

// SendErrorKind classifies a failed send
type SendErrorKind string

const (
	SendErrorNotConnected SendErrorKind = "NOT_CONNECTED"
	SendErrorIo           SendErrorKind = "IO"
)

// SendError is returned when a command could not be written
type SendError struct {
	Kind    SendErrorKind
	Command string
	Err     error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("send %q: %s", e.Command, e.Kind)
	}
	return fmt.Sprintf("send %q: %s: %v", e.Command, e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

var (
	// ErrNotReady means the port is closed or still inside the settle window
	ErrNotReady = errors.New("link not ready for commands")

	// ErrWriteTimeout means a write did not complete within the write timeout
	ErrWriteTimeout = errors.New("write timed out")

	// ErrWriteBusy means an earlier timed out write still holds the port
	ErrWriteBusy = errors.New("previous write still in progress")

	// ErrShortWrite means the port accepted fewer bytes than requested
	ErrShortWrite = errors.New("short write")
)

// IsNotConnected reports whether err is a NotConnected send failure
func IsNotConnected(err error) bool {
	var sendErr *SendError
	return errors.As(err, &sendErr) && sendErr.Kind == SendErrorNotConnected
}

// ParseError describes a malformed numeric payload inside a recognized frame
type ParseError struct {
	Frame string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", e.Frame, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
