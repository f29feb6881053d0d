package adatrace

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured adatrace error with context and, where
// applicable, an underlying errno.
type Error struct {
	Op        string    // Operation that failed (e.g. "Registry.Register", "Writer.Rotate")
	Component string    // Subsystem the error originated in ("ring", "registry", "control", "writer", "")
	Code      ErrorCode // High-level error category
	Errno     syscall.Errno
	Msg       string
	Inner     error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("adatrace: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("adatrace: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support comparing by error category.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents the high-level error categories the capture and
// control-plane APIs use. The capture path never returns one of these
// to a caller directly (it counts and drops); the control plane (session
// setup, registry, control block, writer, selective persistence) surfaces
// them as ordinary Go errors.
type ErrorCode string

const (
	// ErrInvalidArgument marks a caller-supplied argument that fails
	// validation (bad size, empty symbol, nil config, ...).
	ErrInvalidArgument ErrorCode = "invalid argument"

	// ErrBusy marks a resource that is temporarily unavailable (a lane
	// mid-swap, a timer already running).
	ErrBusy ErrorCode = "busy"

	// ErrState marks an operation attempted from the wrong lifecycle
	// state (e.g. Submit after Close, Start after shutdown signaled).
	ErrState ErrorCode = "invalid state"

	// ErrExhaustion marks a fixed-capacity resource at its limit (the
	// thread registry full, a ring pool with no free ring).
	ErrExhaustion ErrorCode = "exhausted"

	// ErrIOFailure marks a failed filesystem or shared-memory syscall.
	ErrIOFailure ErrorCode = "I/O failure"

	// ErrFatal marks a failure the process cannot recover from inline
	// (corrupt control block layout, failed memfd_create at startup).
	ErrFatal ErrorCode = "fatal"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying an errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewComponentError creates a new error scoped to a subsystem.
func NewComponentError(op, component string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Component: component, Code: code, Msg: msg}
}

// WrapError wraps an existing error with adatrace context, preserving
// category/errno when the inner error is already structured.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ie, ok := inner.(*Error); ok {
		return &Error{
			Op:        op,
			Component: ie.Component,
			Code:      ie.Code,
			Errno:     ie.Errno,
			Msg:       ie.Msg,
			Inner:     ie.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{Op: op, Code: ErrIOFailure, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a syscall errno to an adatrace error category.
// Used by WrapError when the wrapped error is itself a bare
// syscall.Errno; errors that wrap an errno (such as internal/shm's)
// map to ErrIOFailure instead.
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EBUSY:
		return ErrBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrInvalidArgument
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrFatal
	case syscall.EPERM, syscall.EACCES:
		return ErrFatal
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrExhaustion
	default:
		return ErrIOFailure
	}
}

// IsCode checks if an error matches a specific error category.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
