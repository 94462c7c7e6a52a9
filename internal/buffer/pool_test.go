package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutRoundTrip(t *testing.T) {
	p := New(4096, 0)

	buf := p.Get()
	require.Len(t, buf, 4096)

	p.Put(buf)
	buf2 := p.Get()
	assert.Len(t, buf2, 4096)
}

func TestAlignment(t *testing.T) {
	p := New(8192, DirectIOAlignment)

	for i := 0; i < 8; i++ {
		buf := p.Get()
		require.Len(t, buf, 8192)
		assert.Zero(t, sliceAddr(buf)%DirectIOAlignment)
		p.Put(buf)
	}
}

func TestPutUndersizedIgnored(t *testing.T) {
	p := New(1024, 0)
	p.Put(make([]byte, 16))

	buf := p.Get()
	assert.Len(t, buf, 1024)
}

func TestStats(t *testing.T) {
	p := New(512, 0)

	a := p.Get()
	b := p.Get()
	p.Put(a)
	p.Put(b)
	_ = p.Get()

	st := p.GetStats()
	assert.GreaterOrEqual(t, st.Allocated, int64(1))
	assert.GreaterOrEqual(t, st.Reused, int64(0))
}
