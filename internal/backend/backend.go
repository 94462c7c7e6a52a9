// Package backend defines the capability contract every storage backend must
// satisfy, whether built in (POSIX) or bridged from an externally compiled
// function table. The phase engine is written entirely against this contract.
package backend

import (
	"github.com/parabench/parabench/pkg/xerrors"
)

// Direction of a data transfer.
type Direction int

const (
	Read Direction = iota
	Write
)

// String returns the transfer direction name.
func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// OpenFlags is the backend-neutral open mode bit set.
type OpenFlags uint32

const (
	FlagReadOnly  OpenFlags = 1 << iota // open for reading only
	FlagWriteOnly                       // open for writing only
	FlagReadWrite                       // open for reading and writing
	FlagAppend                          // append on each write
	FlagCreate                          // create if missing
	FlagTrunc                           // truncate on open
	FlagExcl                            // fail if the file exists
	FlagDirect                          // bypass OS caches (O_DIRECT)
)

// Has reports whether all bits in mask are set.
func (f OpenFlags) Has(mask OpenFlags) bool {
	return f&mask == mask
}

// Handle is an opaque, backend-owned reference to an open file. A handle is
// exclusively owned by the phase executing on one rank and is consumed by
// Close; any use after Close must fail loudly with an error, never silently.
type Handle interface {
	// Name returns the path the handle was opened with, for diagnostics.
	Name() string
}

// Token identifies an asynchronous transfer request, unique within the
// in-flight window of the pipeline it was submitted to.
type Token uint64

// Completion reports the outcome of an asynchronous transfer.
type Completion struct {
	Token Token
	// Bytes actually transferred. For cancelled requests the value is
	// indeterminate and must not be trusted.
	Bytes int64
	// Err carries the failure captured on the worker, nil on success.
	// A cancelled request carries a KindCancelled error.
	Err error
}

// FileInfo is the backend-neutral stat result.
type FileInfo struct {
	Size  int64
	Mode  uint32
	Nlink uint64
	UID   uint32
	GID   uint32
	IsDir bool
}

// Backend is the capability interface driven by the phase engine.
//
// The synchronous transfer path (XferSync) blocks until the full request
// completes or fails. The asynchronous path (Submit/Poll/Cancel) maintains a
// bounded in-flight window: Submit blocks the caller when the window is full
// until Poll frees a slot; it never drops work and never exceeds the window.
// Poll with block=false is side-effect free beyond status inspection and is
// safe to call repeatedly.
//
// Every error returned by an implementation carries a kind from the closed
// xerrors set; the interface itself performs no retries.
type Backend interface {
	// Name returns the API identifier this backend registered under.
	Name() string

	// Shutdown releases backend resources. Pending asynchronous requests
	// are drained or cancelled; the backend must not be used afterwards.
	Shutdown()

	Create(path string, flags OpenFlags) (Handle, error)
	Open(path string, flags OpenFlags) (Handle, error)
	Close(h Handle) error
	Delete(path string) error
	Fsync(h Handle) error
	FileSize(path string) (int64, error)
	// Access reports whether the path exists and is reachable without
	// opening it.
	Access(path string) error

	// XferSync performs one positioned transfer and returns the byte count.
	XferSync(h Handle, dir Direction, buf []byte, offset int64) (int64, error)

	// Submit enqueues an asynchronous transfer, blocking when the in-flight
	// window is full. The buffer is borrowed until the matching completion
	// is consumed through Poll.
	Submit(h Handle, dir Direction, buf []byte, offset int64) (Token, error)
	// Poll reports the status of one outstanding request. When done is
	// false the request is still pending and the Completion value is
	// meaningless; non-blocking polls are side-effect free and safe to
	// repeat. With block=true Poll waits for that request to finish.
	// Consuming a completion frees its window slot.
	Poll(t Token, block bool) (c Completion, done bool, err error)
	// Cancel prevents a not-yet-started request from executing. Once a
	// request has been dispatched to a worker, cancellation is advisory:
	// the transfer may still complete and its result is indeterminate.
	Cancel(t Token) error

	Mkdir(path string, mode uint32) error
	Rmdir(path string) error
	Stat(path string) (FileInfo, error)
	Rename(oldPath, newPath string) error
	Mknod(path string) error
}

// ErrClosedHandle is returned when a handle is used after Close.
func ErrClosedHandle(op, path string) error {
	return xerrors.New(xerrors.KindInternal, "handle used after close").WithOp(op).WithPath(path)
}
