// Package posix implements the backend capability contract on native file
// descriptors using positioned reads and writes. When the configured queue
// depth is greater than one, transfers run through a bounded worker-pool
// pipeline; at depth one the backend is purely synchronous.
package posix

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/pkg/xerrors"
)

// APIName is the registry identifier of the built-in backend.
const APIName = "posix"

// maxXferRetries bounds the internal short-transfer retry loop.
const maxXferRetries = 10000

const createMode = 0o664

// handle wraps a POSIX file descriptor.
type handle struct {
	path     string
	fd       int
	closed   atomic.Bool
	inflight atomic.Int32
}

func (h *handle) Name() string { return h.path }

// Posix is the built-in reference backend. Each rank owns its own instance;
// instances are never shared across ranks.
type Posix struct {
	pipe *pipeline
}

// New builds a backend for one rank. queueDepth > 1 enables the asynchronous
// pipeline with that in-flight window.
func New(queueDepth int) (*Posix, error) {
	if queueDepth < 1 {
		return nil, xerrors.Newf(xerrors.KindConfiguration, "queue depth must be >= 1, got %d", queueDepth).WithOp("posix.New")
	}
	p := &Posix{}
	if queueDepth > 1 {
		p.pipe = newPipeline(queueDepth)
	}
	return p, nil
}

// Register adds the POSIX backend to a registry.
func Register(r *backend.Registry) error {
	return r.Register(APIName, func(queueDepth int) (backend.Backend, error) {
		return New(queueDepth)
	})
}

// Name implements backend.Backend.
func (p *Posix) Name() string { return APIName }

// Shutdown stops the pipeline workers, if any. Outstanding requests are
// drained before workers exit.
func (p *Posix) Shutdown() {
	if p.pipe != nil {
		p.pipe.shutdown()
	}
}

func (p *Posix) openFlags(flags backend.OpenFlags) (int, error) {
	oflags := 0
	switch {
	case flags.Has(backend.FlagReadWrite):
		oflags |= unix.O_RDWR
	case flags.Has(backend.FlagWriteOnly):
		oflags |= unix.O_WRONLY
	default:
		oflags |= unix.O_RDONLY
	}
	if flags.Has(backend.FlagAppend) {
		oflags |= unix.O_APPEND
	}
	if flags.Has(backend.FlagCreate) {
		oflags |= unix.O_CREAT
	}
	if flags.Has(backend.FlagTrunc) {
		oflags |= unix.O_TRUNC
	}
	if flags.Has(backend.FlagExcl) {
		oflags |= unix.O_EXCL
	}
	if flags.Has(backend.FlagDirect) {
		direct, ok := directFlag()
		if !ok {
			// Bypass-cache mode must fail fast, never silently fall back.
			return 0, xerrors.New(xerrors.KindUnsupported, "O_DIRECT is not available on this platform").WithOp("open")
		}
		oflags |= direct
	}
	return oflags, nil
}

// Create implements backend.Backend.
func (p *Posix) Create(path string, flags backend.OpenFlags) (backend.Handle, error) {
	oflags, err := p.openFlags(flags | backend.FlagCreate | backend.FlagReadWrite)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, oflags, createMode)
	if err != nil {
		return nil, xerrors.FromOS("create", path, err)
	}
	return &handle{path: path, fd: fd}, nil
}

// Open implements backend.Backend.
func (p *Posix) Open(path string, flags backend.OpenFlags) (backend.Handle, error) {
	oflags, err := p.openFlags(flags)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, oflags, 0)
	if err != nil {
		return nil, xerrors.FromOS("open", path, err)
	}
	return &handle{path: path, fd: fd}, nil
}

func (p *Posix) handleOf(h backend.Handle, op string) (*handle, error) {
	ph, ok := h.(*handle)
	if !ok || ph == nil {
		return nil, xerrors.New(xerrors.KindInternal, "foreign handle passed to posix backend").WithOp(op)
	}
	if ph.closed.Load() {
		return nil, backend.ErrClosedHandle(op, ph.path)
	}
	return ph, nil
}

// Close implements backend.Backend. Closing a handle with in-flight pipeline
// requests is a usage error and is reported, not ignored.
func (p *Posix) Close(h backend.Handle) error {
	ph, err := p.handleOf(h, "close")
	if err != nil {
		return err
	}
	if n := ph.inflight.Load(); n > 0 {
		return xerrors.Newf(xerrors.KindInternal, "close with %d in-flight requests", n).WithOp("close").WithPath(ph.path)
	}
	if !ph.closed.CompareAndSwap(false, true) {
		return backend.ErrClosedHandle("close", ph.path)
	}
	if err := unix.Close(ph.fd); err != nil {
		return xerrors.FromOS("close", ph.path, err)
	}
	return nil
}

// Delete implements backend.Backend.
func (p *Posix) Delete(path string) error {
	if err := unix.Unlink(path); err != nil {
		return xerrors.FromOS("delete", path, err)
	}
	return nil
}

// Fsync implements backend.Backend.
func (p *Posix) Fsync(h backend.Handle) error {
	ph, err := p.handleOf(h, "fsync")
	if err != nil {
		return err
	}
	if err := unix.Fsync(ph.fd); err != nil {
		return xerrors.FromOS("fsync", ph.path, err)
	}
	return nil
}

// FileSize implements backend.Backend.
func (p *Posix) FileSize(path string) (int64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, xerrors.FromOS("stat", path, err)
	}
	return st.Size, nil
}

// Access implements backend.Backend.
func (p *Posix) Access(path string) error {
	if err := unix.Access(path, unix.F_OK); err != nil {
		return xerrors.FromOS("access", path, err)
	}
	return nil
}

// transfer performs one positioned read or write, retrying short transfers up
// to the requested length. A transfer that stops making progress before the
// full length is a partial-transfer error.
func transfer(fd int, path string, dir backend.Direction, buf []byte, offset int64) (int64, error) {
	done := 0
	retries := 0
	for done < len(buf) {
		var n int
		var err error
		if dir == backend.Write {
			n, err = unix.Pwrite(fd, buf[done:], offset+int64(done))
		} else {
			n, err = unix.Pread(fd, buf[done:], offset+int64(done))
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return int64(done), xerrors.FromOS(dir.String(), path, err)
		}
		if n == 0 {
			// Medium exhausted (EOF on read, no space on write).
			break
		}
		done += n
		if done < len(buf) {
			retries++
			if retries >= maxXferRetries {
				break
			}
		}
	}
	if done < len(buf) {
		return int64(done), xerrors.Newf(xerrors.KindPartialTransfer,
			"transferred %d of %d bytes at offset %d", done, len(buf), offset).
			WithOp(dir.String()).WithPath(path)
	}
	return int64(done), nil
}

// XferSync implements backend.Backend.
func (p *Posix) XferSync(h backend.Handle, dir backend.Direction, buf []byte, offset int64) (int64, error) {
	ph, err := p.handleOf(h, "xfer")
	if err != nil {
		return 0, err
	}
	return transfer(ph.fd, ph.path, dir, buf, offset)
}

// Mkdir implements backend.Backend.
func (p *Posix) Mkdir(path string, mode uint32) error {
	if err := unix.Mkdir(path, mode); err != nil {
		return xerrors.FromOS("mkdir", path, err)
	}
	return nil
}

// Rmdir implements backend.Backend.
func (p *Posix) Rmdir(path string) error {
	if err := unix.Rmdir(path); err != nil {
		return xerrors.FromOS("rmdir", path, err)
	}
	return nil
}

// Stat implements backend.Backend.
func (p *Posix) Stat(path string) (backend.FileInfo, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return backend.FileInfo{}, xerrors.FromOS("stat", path, err)
	}
	return backend.FileInfo{
		Size:  st.Size,
		Mode:  uint32(st.Mode),
		Nlink: uint64(st.Nlink),
		UID:   st.Uid,
		GID:   st.Gid,
		IsDir: st.Mode&unix.S_IFMT == unix.S_IFDIR,
	}, nil
}

// Rename implements backend.Backend.
func (p *Posix) Rename(oldPath, newPath string) error {
	if err := unix.Rename(oldPath, newPath); err != nil {
		return xerrors.FromOS("rename", oldPath, err)
	}
	return nil
}

// Mknod implements backend.Backend. Fast alternative to create+close for
// metadata creation benchmarks.
func (p *Posix) Mknod(path string) error {
	if err := unix.Mknod(path, unix.S_IFREG|unix.S_IRUSR|unix.S_IWUSR, 0); err != nil {
		return xerrors.FromOS("mknod", path, err)
	}
	return nil
}
