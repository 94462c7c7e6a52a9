// Package xerrors provides the structured error system for parabench with a
// closed set of error kinds that callers can branch on portably.
package xerrors

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Kind classifies an error into one of the closed benchmark error categories.
// Backends and the native bridge must map every failure into this set; no raw
// OS codes or foreign status representations may escape past them.
type Kind string

const (
	KindNotFound             Kind = "NOT_FOUND"
	KindPermissionDenied     Kind = "PERMISSION_DENIED"
	KindAlreadyExists        Kind = "ALREADY_EXISTS"
	KindUnsupported          Kind = "UNSUPPORTED"
	KindPartialTransfer      Kind = "PARTIAL_TRANSFER"
	KindVerificationMismatch Kind = "VERIFICATION_MISMATCH"
	KindCancelled            Kind = "CANCELLED"
	KindTimeout              Kind = "TIMEOUT"
	KindConfiguration        Kind = "CONFIGURATION_ERROR"
	KindInternal             Kind = "INTERNAL"
)

// Error is a structured benchmark error carrying the operation and path
// context alongside its kind.
type Error struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"op,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		fmt.Fprintf(&b, "[%s] ", e.Op)
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path=%s)", e.Path)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind so callers can compare against sentinel errors.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a kind and message. A nil cause
// yields nil so call sites can wrap unconditionally.
func Wrap(cause error, kind Kind, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithOp sets the operation name.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithPath sets the path the operation acted on.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// KindOf extracts the kind from an error chain. Errors that never passed
// through this package report KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromOS maps an OS-level error to the closed kind set. The POSIX backend
// funnels every syscall failure through here.
func FromOS(op, path string, err error) *Error {
	if err == nil {
		return nil
	}
	kind := KindInternal
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, unix.ENOENT):
		kind = KindNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		kind = KindPermissionDenied
	case errors.Is(err, fs.ErrExist), errors.Is(err, unix.EEXIST):
		kind = KindAlreadyExists
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOTSUP), errors.Is(err, unix.EOPNOTSUPP):
		kind = KindUnsupported
	case errors.Is(err, unix.ECANCELED):
		kind = KindCancelled
	case errors.Is(err, unix.ETIMEDOUT), errors.Is(err, os.ErrDeadlineExceeded):
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Path: path, Cause: err}
}

// FromErrno maps a raw errno-style status value, as reported by bridged
// native backends, into the closed kind set.
func FromErrno(op string, errno int32) *Error {
	var kind Kind
	switch unix.Errno(errno) {
	case unix.ENOENT:
		kind = KindNotFound
	case unix.EACCES, unix.EPERM:
		kind = KindPermissionDenied
	case unix.EEXIST:
		kind = KindAlreadyExists
	case unix.EINVAL, unix.ENOTSUP:
		kind = KindUnsupported
	case unix.ECANCELED:
		kind = KindCancelled
	case unix.ETIMEDOUT:
		kind = KindTimeout
	default:
		kind = KindInternal
	}
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf("backend status %d", errno)}
}
