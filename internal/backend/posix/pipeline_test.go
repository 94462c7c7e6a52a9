package posix

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/pkg/xerrors"
)

const xferLen = 4096

func newAsync(t *testing.T, depth int) *Posix {
	t.Helper()
	p, err := New(depth)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p
}

func TestPipelinedWriteReadRoundTrip(t *testing.T) {
	p := newAsync(t, 4)
	path := filepath.Join(t.TempDir(), "data")

	h, err := p.Create(path, backend.FlagCreate|backend.FlagReadWrite)
	require.NoError(t, err)

	const nxfers = 16
	bufs := make([][]byte, nxfers)
	for i := range bufs {
		bufs[i] = make([]byte, xferLen)
		for j := range bufs[i] {
			bufs[i][j] = byte(i)
		}
	}

	seen := make(map[backend.Token]bool)
	var order []backend.Token
	submitted := 0
	for submitted < nxfers || len(order) > 0 {
		for len(order) < 4 && submitted < nxfers {
			tok, err := p.Submit(h, backend.Write, bufs[submitted], int64(submitted)*xferLen)
			require.NoError(t, err)
			assert.False(t, seen[tok], "token reused")
			seen[tok] = true
			order = append(order, tok)
			submitted++
		}
		tok := order[0]
		order = order[1:]
		c, done, err := p.Poll(tok, true)
		require.NoError(t, err)
		require.True(t, done)
		require.NoError(t, c.Err)
		assert.Equal(t, tok, c.Token)
		assert.Equal(t, int64(xferLen), c.Bytes)
	}

	require.NoError(t, p.Close(h))

	size, err := p.FileSize(path)
	require.NoError(t, err)
	assert.Equal(t, int64(nxfers*xferLen), size)

	h, err = p.Open(path, backend.FlagReadOnly)
	require.NoError(t, err)
	got := make([]byte, xferLen)
	for i := 0; i < nxfers; i++ {
		_, err := p.XferSync(h, backend.Read, got, int64(i)*xferLen)
		require.NoError(t, err)
		for _, b := range got {
			require.Equal(t, byte(i), b)
		}
	}
	require.NoError(t, p.Close(h))
}

func TestSubmitBlocksWhenWindowFull(t *testing.T) {
	const depth = 3
	p := newAsync(t, depth)
	path := filepath.Join(t.TempDir(), "f")

	h, err := p.Create(path, backend.FlagCreate|backend.FlagReadWrite)
	require.NoError(t, err)

	var order []backend.Token
	for i := 0; i < depth; i++ {
		tok, err := p.Submit(h, backend.Write, make([]byte, xferLen), int64(i)*xferLen)
		require.NoError(t, err)
		order = append(order, tok)
	}

	// Completions do not free window slots until they are consumed, so a
	// further submit must block even after the writes finish.
	unblocked := make(chan backend.Token)
	go func() {
		tok, err := p.Submit(h, backend.Write, make([]byte, xferLen), depth*xferLen)
		assert.NoError(t, err)
		unblocked <- tok
	}()

	select {
	case <-unblocked:
		t.Fatal("submit returned with a full window")
	case <-time.After(200 * time.Millisecond):
	}

	_, done, err := p.Poll(order[0], true)
	require.NoError(t, err)
	require.True(t, done)
	order = order[1:]

	select {
	case tok := <-unblocked:
		order = append(order, tok)
	case <-time.After(5 * time.Second):
		t.Fatal("submit still blocked after a completion was consumed")
	}

	for _, tok := range order {
		c, done, err := p.Poll(tok, true)
		require.NoError(t, err)
		require.True(t, done)
		require.NoError(t, c.Err)
	}
	require.NoError(t, p.Close(h))
}

func TestCloseWithInFlightRequestsFails(t *testing.T) {
	p := newAsync(t, 2)
	path := filepath.Join(t.TempDir(), "f")

	h, err := p.Create(path, backend.FlagCreate|backend.FlagReadWrite)
	require.NoError(t, err)

	tok, err := p.Submit(h, backend.Write, make([]byte, xferLen), 0)
	require.NoError(t, err)

	err = p.Close(h)
	require.Error(t, err)

	_, done, err := p.Poll(tok, true)
	require.NoError(t, err)
	require.True(t, done)

	require.NoError(t, p.Close(h))
}

func TestPollNonBlockingDrainsEventually(t *testing.T) {
	p := newAsync(t, 2)
	path := filepath.Join(t.TempDir(), "f")

	h, err := p.Create(path, backend.FlagCreate|backend.FlagReadWrite)
	require.NoError(t, err)

	tok, err := p.Submit(h, backend.Write, make([]byte, xferLen), 0)
	require.NoError(t, err)

	for {
		c, done, err := p.Poll(tok, false)
		require.NoError(t, err)
		if done {
			require.NoError(t, c.Err)
			assert.Equal(t, int64(xferLen), c.Bytes)
			break
		}
	}

	// The completion was consumed; the token is forgotten.
	_, _, err = p.Poll(tok, true)
	require.Error(t, err)
	assert.True(t, xerrors.IsKind(err, xerrors.KindNotFound))

	require.NoError(t, p.Close(h))
}

func TestPollUnknownToken(t *testing.T) {
	p := newAsync(t, 2)

	_, done, err := p.Poll(backend.Token(999), true)
	require.Error(t, err)
	assert.False(t, done)
	assert.True(t, xerrors.IsKind(err, xerrors.KindNotFound))
}

func TestCancelUnknownToken(t *testing.T) {
	p := newAsync(t, 2)

	err := p.Cancel(backend.Token(999))
	require.Error(t, err)
	assert.True(t, xerrors.IsKind(err, xerrors.KindNotFound))
}

func TestShutdownIdempotent(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)
	p.Shutdown()
	p.Shutdown()
}
