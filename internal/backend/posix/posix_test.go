package posix

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/pkg/xerrors"
)

func newSync(t *testing.T) *Posix {
	t.Helper()
	p, err := New(1)
	require.NoError(t, err)
	return p
}

func TestNewRejectsBadQueueDepth(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
	assert.True(t, xerrors.IsKind(err, xerrors.KindConfiguration))
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	p := newSync(t)
	path := filepath.Join(t.TempDir(), "data")

	h, err := p.Create(path, backend.FlagCreate|backend.FlagReadWrite)
	require.NoError(t, err)

	want := make([]byte, 8192)
	for i := range want {
		want[i] = byte(i % 251)
	}
	n, err := p.XferSync(h, backend.Write, want, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), n)
	require.NoError(t, p.Close(h))

	size, err := p.FileSize(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), size)

	h, err = p.Open(path, backend.FlagReadOnly)
	require.NoError(t, err)
	got := make([]byte, len(want))
	n, err = p.XferSync(h, backend.Read, got, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), n)
	assert.Equal(t, want, got)
	require.NoError(t, p.Close(h))

	require.NoError(t, p.Delete(path))
	_, err = p.FileSize(path)
	assert.True(t, xerrors.IsKind(err, xerrors.KindNotFound))
}

func TestOpenMissingFile(t *testing.T) {
	p := newSync(t)
	_, err := p.Open(filepath.Join(t.TempDir(), "absent"), backend.FlagReadOnly)
	require.Error(t, err)
	assert.True(t, xerrors.IsKind(err, xerrors.KindNotFound))
}

func TestDeleteMissingFile(t *testing.T) {
	p := newSync(t)
	err := p.Delete(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.True(t, xerrors.IsKind(err, xerrors.KindNotFound))
}

func TestDoubleCloseFails(t *testing.T) {
	p := newSync(t)
	path := filepath.Join(t.TempDir(), "f")

	h, err := p.Create(path, backend.FlagCreate)
	require.NoError(t, err)
	require.NoError(t, p.Close(h))

	err = p.Close(h)
	require.Error(t, err)

	_, err = p.XferSync(h, backend.Write, []byte("x"), 0)
	require.Error(t, err)
}

func TestShortReadIsPartialTransfer(t *testing.T) {
	p := newSync(t)
	path := filepath.Join(t.TempDir(), "short")

	h, err := p.Create(path, backend.FlagCreate|backend.FlagReadWrite)
	require.NoError(t, err)
	_, err = p.XferSync(h, backend.Write, make([]byte, 100), 0)
	require.NoError(t, err)

	buf := make([]byte, 200)
	n, err := p.XferSync(h, backend.Read, buf, 0)
	require.Error(t, err)
	assert.True(t, xerrors.IsKind(err, xerrors.KindPartialTransfer))
	assert.Equal(t, int64(100), n)
	require.NoError(t, p.Close(h))
}

func TestSyncBackendRejectsAsyncCalls(t *testing.T) {
	p := newSync(t)
	path := filepath.Join(t.TempDir(), "f")
	h, err := p.Create(path, backend.FlagCreate)
	require.NoError(t, err)
	defer func() { _ = p.Close(h) }()

	_, err = p.Submit(h, backend.Write, []byte("x"), 0)
	assert.True(t, xerrors.IsKind(err, xerrors.KindUnsupported))
	_, _, err = p.Poll(backend.Token(1), false)
	assert.True(t, xerrors.IsKind(err, xerrors.KindUnsupported))
	err = p.Cancel(backend.Token(1))
	assert.True(t, xerrors.IsKind(err, xerrors.KindUnsupported))
}

func TestAccess(t *testing.T) {
	p := newSync(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "f")

	err := p.Access(path)
	require.Error(t, err)
	assert.True(t, xerrors.IsKind(err, xerrors.KindNotFound))

	h, err := p.Create(path, backend.FlagCreate)
	require.NoError(t, err)
	require.NoError(t, p.Close(h))

	assert.NoError(t, p.Access(path))
}

func TestDirectoryLifecycle(t *testing.T) {
	p := newSync(t)
	dir := filepath.Join(t.TempDir(), "d")

	require.NoError(t, p.Mkdir(dir, 0o755))

	info, err := p.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir)

	require.NoError(t, p.Rmdir(dir))
	_, err = p.Stat(dir)
	assert.True(t, xerrors.IsKind(err, xerrors.KindNotFound))
}

func TestMknod(t *testing.T) {
	p := newSync(t)
	path := filepath.Join(t.TempDir(), "node")

	require.NoError(t, p.Mknod(path))

	info, err := p.Stat(path)
	require.NoError(t, err)
	assert.False(t, info.IsDir)
	assert.Equal(t, int64(0), info.Size)

	err = p.Mknod(path)
	assert.True(t, xerrors.IsKind(err, xerrors.KindAlreadyExists))

	require.NoError(t, p.Delete(path))
}

func TestRename(t *testing.T) {
	p := newSync(t)
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "a")
	newPath := filepath.Join(dir, "b")

	h, err := p.Create(oldPath, backend.FlagCreate)
	require.NoError(t, err)
	require.NoError(t, p.Close(h))

	require.NoError(t, p.Rename(oldPath, newPath))
	_, err = p.Stat(oldPath)
	assert.True(t, xerrors.IsKind(err, xerrors.KindNotFound))
	_, err = p.Stat(newPath)
	require.NoError(t, err)
}

func TestRegister(t *testing.T) {
	r := backend.NewRegistry()
	require.NoError(t, Register(r))

	factory, err := r.Lookup(APIName)
	require.NoError(t, err)

	be, err := factory(1)
	require.NoError(t, err)
	assert.Equal(t, APIName, be.Name())
	be.Shutdown()
}
