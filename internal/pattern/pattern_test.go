package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePacket(t *testing.T) {
	cases := []struct {
		in   string
		want Packet
		ok   bool
	}{
		{"", Timestamp, true},
		{"timestamp", Timestamp, true},
		{"offset", Offset, true},
		{"garbage", Timestamp, false},
	}
	for _, tc := range cases {
		got, ok := ParsePacket(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	buf := make([]byte, 64<<10)
	Fill(buf, 12345, 3, Timestamp)
	Update(buf, 4096, 3, Timestamp)

	assert.Zero(t, Verify(buf, 4096, 12345, 3, Timestamp))
}

func TestOffsetRoundTrip(t *testing.T) {
	buf := make([]byte, 64<<10)
	Fill(buf, 12345, 3, Offset)

	for _, offset := range []int64{0, 4096, 1 << 20} {
		Update(buf, offset, 3, Offset)
		assert.Zero(t, Verify(buf, offset, 12345, 3, Offset))
	}
}

func TestVerifyCountsCorruptedWords(t *testing.T) {
	buf := make([]byte, 4096)
	Fill(buf, 1, 0, Timestamp)

	buf[0] ^= 0xFF
	buf[9] ^= 0x01

	assert.Equal(t, 2, Verify(buf, 0, 1, 0, Timestamp))
}

func TestVerifyDetectsWrongWriter(t *testing.T) {
	buf := make([]byte, 4096)
	Fill(buf, 7, 1, Timestamp)

	// Every word carries the writer's rank in the high half.
	assert.Equal(t, 512, Verify(buf, 0, 7, 2, Timestamp))
}

func TestOffsetStampsArePositionDependent(t *testing.T) {
	a := make([]byte, 8<<10)
	b := make([]byte, 8<<10)
	Fill(a, 1, 0, Offset)
	Fill(b, 1, 0, Offset)
	Update(a, 0, 0, Offset)
	Update(b, 8<<10, 0, Offset)

	assert.NotEqual(t, a[:8], b[:8])
	assert.Equal(t, a[8:4096], b[8:4096])
}

func TestUpdateIsNoOpInTimestampMode(t *testing.T) {
	a := make([]byte, 4096)
	b := make([]byte, 4096)
	Fill(a, 9, 4, Timestamp)
	copy(b, a)
	Update(a, 1<<30, 4, Timestamp)

	assert.Equal(t, b, a)
}
