// Package bridge adapts an externally supplied function table into the
// backend capability contract so backends compiled outside this build can be
// driven exactly like the built-in POSIX backend.
//
// The foreign convention is raw: opaque uintptr handles and errno-style
// int32 status codes (0 = success). The bridge owns the translation into the
// closed error-kind set; no foreign status representation escapes it. Buffers
// and path strings passed to table functions are borrowed for the duration
// of a single call and must never be retained by the foreign side.
package bridge

import (
	"sync/atomic"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/pkg/xerrors"
)

// RawStat is the foreign stat result layout.
type RawStat struct {
	Size  int64
	Mode  uint32
	Nlink uint64
	UID   uint32
	GID   uint32
}

// RawCompletion is the foreign completion record delivered by the Poll slot.
type RawCompletion struct {
	Token  uint64
	Bytes  int64
	Status int32
}

// FuncTable holds one function value per interface operation. Create, Open,
// Close, Delete and XferSync are required; the asynchronous trio
// (Submit/Poll/Cancel) must be populated together or not at all; every other
// slot is optional and reports Unsupported when absent.
type FuncTable struct {
	Create   func(path string, flags uint32) (h uintptr, status int32)
	Open     func(path string, flags uint32) (h uintptr, status int32)
	Close    func(h uintptr) int32
	Delete   func(path string) int32
	XferSync func(h uintptr, dir int32, buf []byte, offset int64) (n int64, status int32)

	Submit func(h uintptr, dir int32, buf []byte, offset int64) (token uint64, status int32)
	Poll   func(token uint64, block bool) (c RawCompletion, done bool, status int32)
	Cancel func(token uint64) int32

	Fsync    func(h uintptr) int32
	FileSize func(path string) (size int64, status int32)
	Access   func(path string) int32
	Mkdir    func(path string, mode uint32) int32
	Rmdir    func(path string) int32
	Stat     func(path string, out *RawStat) int32
	Rename   func(oldPath, newPath string) int32
	Mknod    func(path string) int32

	// Finalize is invoked once on Shutdown when present.
	Finalize func()
}

// validate checks slot population. A partially populated table is a
// configuration error at registration time, never a runtime crash.
func (t *FuncTable) validate() error {
	required := []struct {
		name string
		ok   bool
	}{
		{"create", t.Create != nil},
		{"open", t.Open != nil},
		{"close", t.Close != nil},
		{"delete", t.Delete != nil},
		{"xfer_sync", t.XferSync != nil},
	}
	for _, slot := range required {
		if !slot.ok {
			return xerrors.Newf(xerrors.KindConfiguration, "function table missing required slot %q", slot.name).WithOp("bridge.register")
		}
	}
	asyncSet := 0
	for _, ok := range []bool{t.Submit != nil, t.Poll != nil, t.Cancel != nil} {
		if ok {
			asyncSet++
		}
	}
	if asyncSet != 0 && asyncSet != 3 {
		return xerrors.New(xerrors.KindConfiguration, "submit/poll/cancel slots must be populated together").WithOp("bridge.register")
	}
	return nil
}

// Register validates the table and adds it to the registry under name. On a
// validation failure the name is not added and a later lookup fails with
// NotFound.
func Register(r *backend.Registry, name string, table *FuncTable) error {
	if table == nil {
		return xerrors.New(xerrors.KindConfiguration, "nil function table").WithOp("bridge.register")
	}
	if err := table.validate(); err != nil {
		return err
	}
	return r.Register(name, func(queueDepth int) (backend.Backend, error) {
		if queueDepth > 1 && table.Submit == nil {
			return nil, xerrors.Newf(xerrors.KindUnsupported,
				"backend %q has no asynchronous slots; queue depth must be 1", name).WithOp("bridge.new")
		}
		return &Bridged{name: name, table: table}, nil
	})
}

// bridgedHandle wraps the foreign opaque handle value.
type bridgedHandle struct {
	raw    uintptr
	path   string
	closed atomic.Bool
}

func (h *bridgedHandle) Name() string { return h.path }

// Bridged drives a foreign function table through the capability contract.
type Bridged struct {
	name  string
	table *FuncTable
}

// Name implements backend.Backend.
func (b *Bridged) Name() string { return b.name }

// Shutdown runs the foreign finalizer when the table provides one.
func (b *Bridged) Shutdown() {
	if b.table.Finalize != nil {
		b.table.Finalize()
	}
}

func statusErr(op string, status int32) error {
	if status == 0 {
		return nil
	}
	return xerrors.FromErrno(op, status)
}

func (b *Bridged) handleOf(h backend.Handle, op string) (*bridgedHandle, error) {
	bh, ok := h.(*bridgedHandle)
	if !ok || bh == nil {
		return nil, xerrors.New(xerrors.KindInternal, "foreign handle passed to bridged backend").WithOp(op)
	}
	if bh.closed.Load() {
		return nil, backend.ErrClosedHandle(op, bh.path)
	}
	return bh, nil
}

// Create implements backend.Backend.
func (b *Bridged) Create(path string, flags backend.OpenFlags) (backend.Handle, error) {
	raw, status := b.table.Create(path, uint32(flags))
	if status != 0 {
		return nil, statusErr("create", status)
	}
	return &bridgedHandle{raw: raw, path: path}, nil
}

// Open implements backend.Backend.
func (b *Bridged) Open(path string, flags backend.OpenFlags) (backend.Handle, error) {
	raw, status := b.table.Open(path, uint32(flags))
	if status != 0 {
		return nil, statusErr("open", status)
	}
	return &bridgedHandle{raw: raw, path: path}, nil
}

// Close implements backend.Backend.
func (b *Bridged) Close(h backend.Handle) error {
	bh, err := b.handleOf(h, "close")
	if err != nil {
		return err
	}
	if !bh.closed.CompareAndSwap(false, true) {
		return backend.ErrClosedHandle("close", bh.path)
	}
	return statusErr("close", b.table.Close(bh.raw))
}

// Delete implements backend.Backend.
func (b *Bridged) Delete(path string) error {
	return statusErr("delete", b.table.Delete(path))
}

// Fsync implements backend.Backend.
func (b *Bridged) Fsync(h backend.Handle) error {
	bh, err := b.handleOf(h, "fsync")
	if err != nil {
		return err
	}
	if b.table.Fsync == nil {
		return xerrors.New(xerrors.KindUnsupported, "fsync not provided by backend").WithOp("fsync")
	}
	return statusErr("fsync", b.table.Fsync(bh.raw))
}

// FileSize implements backend.Backend.
func (b *Bridged) FileSize(path string) (int64, error) {
	if b.table.FileSize == nil {
		return 0, xerrors.New(xerrors.KindUnsupported, "file size not provided by backend").WithOp("filesize")
	}
	size, status := b.table.FileSize(path)
	if status != 0 {
		return 0, statusErr("filesize", status)
	}
	return size, nil
}

// Access implements backend.Backend.
func (b *Bridged) Access(path string) error {
	if b.table.Access == nil {
		return xerrors.New(xerrors.KindUnsupported, "access not provided by backend").WithOp("access")
	}
	return statusErr("access", b.table.Access(path))
}

// XferSync implements backend.Backend.
func (b *Bridged) XferSync(h backend.Handle, dir backend.Direction, buf []byte, offset int64) (int64, error) {
	bh, err := b.handleOf(h, "xfer")
	if err != nil {
		return 0, err
	}
	n, status := b.table.XferSync(bh.raw, int32(dir), buf, offset)
	if status != 0 {
		return n, statusErr(dir.String(), status)
	}
	if n < int64(len(buf)) {
		return n, xerrors.Newf(xerrors.KindPartialTransfer,
			"transferred %d of %d bytes at offset %d", n, len(buf), offset).
			WithOp(dir.String()).WithPath(bh.path)
	}
	return n, nil
}

// Submit implements backend.Backend.
func (b *Bridged) Submit(h backend.Handle, dir backend.Direction, buf []byte, offset int64) (backend.Token, error) {
	bh, err := b.handleOf(h, "submit")
	if err != nil {
		return 0, err
	}
	if b.table.Submit == nil {
		return 0, xerrors.New(xerrors.KindUnsupported, "asynchronous transfers not provided by backend").WithOp("submit")
	}
	token, status := b.table.Submit(bh.raw, int32(dir), buf, offset)
	if status != 0 {
		return 0, statusErr("submit", status)
	}
	return backend.Token(token), nil
}

// Poll implements backend.Backend.
func (b *Bridged) Poll(t backend.Token, block bool) (backend.Completion, bool, error) {
	if b.table.Poll == nil {
		return backend.Completion{}, false, xerrors.New(xerrors.KindUnsupported, "asynchronous transfers not provided by backend").WithOp("poll")
	}
	raw, done, status := b.table.Poll(uint64(t), block)
	if status != 0 {
		return backend.Completion{}, false, statusErr("poll", status)
	}
	if !done {
		return backend.Completion{}, false, nil
	}
	c := backend.Completion{Token: backend.Token(raw.Token), Bytes: raw.Bytes}
	if raw.Status != 0 {
		c.Err = statusErr("xfer", raw.Status)
	}
	return c, true, nil
}

// Cancel implements backend.Backend.
func (b *Bridged) Cancel(t backend.Token) error {
	if b.table.Cancel == nil {
		return xerrors.New(xerrors.KindUnsupported, "asynchronous transfers not provided by backend").WithOp("cancel")
	}
	return statusErr("cancel", b.table.Cancel(uint64(t)))
}

// Mkdir implements backend.Backend.
func (b *Bridged) Mkdir(path string, mode uint32) error {
	if b.table.Mkdir == nil {
		return xerrors.New(xerrors.KindUnsupported, "mkdir not provided by backend").WithOp("mkdir")
	}
	return statusErr("mkdir", b.table.Mkdir(path, mode))
}

// Rmdir implements backend.Backend.
func (b *Bridged) Rmdir(path string) error {
	if b.table.Rmdir == nil {
		return xerrors.New(xerrors.KindUnsupported, "rmdir not provided by backend").WithOp("rmdir")
	}
	return statusErr("rmdir", b.table.Rmdir(path))
}

// Stat implements backend.Backend.
func (b *Bridged) Stat(path string) (backend.FileInfo, error) {
	if b.table.Stat == nil {
		return backend.FileInfo{}, xerrors.New(xerrors.KindUnsupported, "stat not provided by backend").WithOp("stat")
	}
	var raw RawStat
	if status := b.table.Stat(path, &raw); status != 0 {
		return backend.FileInfo{}, statusErr("stat", status)
	}
	return backend.FileInfo{
		Size:  raw.Size,
		Mode:  raw.Mode,
		Nlink: raw.Nlink,
		UID:   raw.UID,
		GID:   raw.GID,
		IsDir: raw.Mode&0o170000 == 0o040000,
	}, nil
}

// Rename implements backend.Backend.
func (b *Bridged) Rename(oldPath, newPath string) error {
	if b.table.Rename == nil {
		return xerrors.New(xerrors.KindUnsupported, "rename not provided by backend").WithOp("rename")
	}
	return statusErr("rename", b.table.Rename(oldPath, newPath))
}

// Mknod implements backend.Backend.
func (b *Bridged) Mknod(path string) error {
	if b.table.Mknod == nil {
		return xerrors.New(xerrors.KindUnsupported, "mknod not provided by backend").WithOp("mknod")
	}
	return statusErr("mknod", b.table.Mknod(path))
}
