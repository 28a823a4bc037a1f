// Package ipcerr defines the error kinds surfaced to IPC clients (spec §7)
// and the errno-shaped values used in replies.
package ipcerr

import (
	"errors"
	"syscall"
)

// Kind is one of the error kinds authoritative over every verb reply.
type Kind int

const (
	// None is success, conventionally encoded as errno 0.
	None Kind = iota
	NotFound
	Exists
	InvalidArgument
	PermissionDenied
	NotImplemented
	Transient
)

// Error wraps a Kind with a human-readable message and, for Transient,
// the wrapped syscall errno.
type Error struct {
	Kind Kind
	Msg  string
	Errno syscall.Errno
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case NotFound:
		return "not found"
	case Exists:
		return "exists"
	case InvalidArgument:
		return "invalid argument"
	case PermissionDenied:
		return "permission denied"
	case NotImplemented:
		return "not implemented"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Errno maps a Kind onto the numeric errno a client expects in a reply.
// Transient and any unknown Kind map to EIO; this method has no access
// to a wrapped syscall error.
func (k Kind) Errno() syscall.Errno {
	switch k {
	case None:
		return 0
	case NotFound:
		return syscall.ESRCH
	case Exists:
		return syscall.EEXIST
	case InvalidArgument:
		return syscall.EINVAL
	case PermissionDenied:
		return syscall.EPERM
	case NotImplemented:
		return syscall.ENOTSUP
	default:
		return syscall.EIO
	}
}

// New builds an *Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a Transient *Error carrying the given syscall errno.
func Wrap(errno syscall.Errno, msg string) *Error {
	return &Error{Kind: Transient, Msg: msg, Errno: errno}
}

// AsErrno extracts the reply errno for any error value: an *Error yields
// its Kind's (or wrapped) errno; any other non-nil error is reported as
// EIO; nil is success (0).
func AsErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == Transient {
			return e.Errno
		}
		return e.Kind.Errno()
	}
	return syscall.EIO
}
