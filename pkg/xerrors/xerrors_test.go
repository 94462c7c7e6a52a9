package xerrors

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestErrorString(t *testing.T) {
	err := New(KindNotFound, "no such file").WithOp("open").WithPath("/tmp/x")
	s := err.Error()
	assert.Contains(t, s, "open")
	assert.Contains(t, s, "NOT_FOUND")
	assert.Contains(t, s, "/tmp/x")
}

func TestKindMatching(t *testing.T) {
	base := New(KindPermissionDenied, "denied")
	wrapped := Wrap(base, KindInternal, "phase failed")

	assert.Equal(t, KindInternal, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, base), "wrapped error should match cause by kind chain")
	assert.True(t, IsKind(base, KindPermissionDenied))
	assert.False(t, IsKind(base, KindNotFound))
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, KindInternal, "x") != nil {
		t.Fatal("Wrap(nil) must return nil")
	}
}

func TestFromOS(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", fs.ErrNotExist, KindNotFound},
		{"enoent", unix.ENOENT, KindNotFound},
		{"permission", unix.EACCES, KindPermissionDenied},
		{"exists", unix.EEXIST, KindAlreadyExists},
		{"unsupported", unix.EINVAL, KindUnsupported},
		{"cancelled", unix.ECANCELED, KindCancelled},
		{"timeout", unix.ETIMEDOUT, KindTimeout},
		{"unknown", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromOS("op", "/p", tt.err)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestFromErrno(t *testing.T) {
	assert.Equal(t, KindNotFound, FromErrno("stat", int32(unix.ENOENT)).Kind)
	assert.Equal(t, KindPermissionDenied, FromErrno("open", int32(unix.EACCES)).Kind)
	assert.Equal(t, KindInternal, FromErrno("xfer", 9999).Kind)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
