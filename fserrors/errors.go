// Package fserrors provides the shared error kinds of the remote-access
// support layer. Backend-specific errors (not-found, already-exists,
// invalid, not-empty) pass through the wrappers unmodified; this package
// only defines the kinds the layer itself must distinguish or raise.
package fserrors

import (
	"errors"
	"fmt"
)

// ConnectionLostError reports that the remote end of a backend became
// unreachable. The health package watches for this kind on every wrapped
// call to drive its connectivity state; everything else propagates it
// unchanged.
type ConnectionLostError struct {
	Op   string
	Path string

	cause error
}

// Error implements the error interface.
func (e *ConnectionLostError) Error() string {
	msg := "connection lost"
	if e.Op != "" {
		msg = fmt.Sprintf("%s %s: connection lost", e.Op, e.Path)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying cause error for error unwrapping.
func (e *ConnectionLostError) Unwrap() error {
	return e.cause
}

// Is matches any ConnectionLostError regardless of op, path or cause.
func (e *ConnectionLostError) Is(target error) bool {
	_, ok := target.(*ConnectionLostError)
	return ok
}

// NewConnectionLost creates a connection-lost error for the given
// operation and path, optionally wrapping a transport-level cause.
func NewConnectionLost(op, path string, cause error) error {
	return &ConnectionLostError{Op: op, Path: path, cause: cause}
}

// IsConnectionLost reports whether err is (or wraps) a connection-lost
// error.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectionLostError
	return errors.As(err, &connErr)
}

// IncompleteWriteError reports that a write-back pushed fewer bytes than
// the handle buffered. It is a hard failure: the handle never reports
// success on a partial push.
type IncompleteWriteError struct {
	Path     string
	Written  int64
	Expected int64
}

// Error implements the error interface.
func (e *IncompleteWriteError) Error() string {
	return fmt.Sprintf("incomplete write-back of %s: wrote %d of %d bytes", e.Path, e.Written, e.Expected)
}

// Is matches any IncompleteWriteError.
func (e *IncompleteWriteError) Is(target error) bool {
	_, ok := target.(*IncompleteWriteError)
	return ok
}

// Sentinel errors for programmer misuse. Operations fail fast with these
// instead of silently doing nothing.
var (
	// ErrClosed is returned by every operation on a closed handle or
	// filesystem.
	ErrClosed = errors.New("remotefs: use of closed handle")

	// ErrNotReadable is returned when reading a handle opened write-only.
	ErrNotReadable = errors.New("remotefs: handle not opened for reading")

	// ErrNotWritable is returned when writing a handle opened read-only.
	ErrNotWritable = errors.New("remotefs: handle not opened for writing")
)
