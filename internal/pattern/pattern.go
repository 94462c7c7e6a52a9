// Package pattern generates and verifies the deterministic data patterns
// used for write/read integrity checking. The buffer is treated as a stream
// of 64-bit words seeded by item identity (the pretend rank of the writer)
// so any rank can regenerate the expected content of any other rank's data
// without communication.
package pattern

import "encoding/binary"

// Packet selects how transfer buffers are stamped.
type Packet int

const (
	// Timestamp fills every word with rank<<32 | (seed + wordIndex).
	Timestamp Packet = iota
	// Offset additionally stamps the transfer offset at every 512-word
	// boundary, making each transfer's content position dependent.
	Offset
)

// String returns the packet mode name.
func (p Packet) String() string {
	if p == Offset {
		return "offset"
	}
	return "timestamp"
}

// ParsePacket maps a configuration string to a packet mode.
func ParsePacket(s string) (Packet, bool) {
	switch s {
	case "", "timestamp":
		return Timestamp, true
	case "offset":
		return Offset, true
	default:
		return Timestamp, false
	}
}

// stampStride is the word distance between offset stamps in Offset mode.
const stampStride = 512

func baseWord(seed int32, rank int32, i uint64) uint64 {
	return uint64(uint32(rank))<<32 | (uint64(uint32(seed))+i)&0xFFFFFFFF
}

func stampWord(offset int64, rank int32, k uint64) uint64 {
	return uint64(uint32(rank))<<32 | (uint64(offset) * (k + 1) & 0xFFFFFFFF)
}

// Fill writes the base pattern into buf. Called once per phase before the
// first transfer.
func Fill(buf []byte, seed int32, rank int32, mode Packet) {
	words := len(buf) / 8
	for i := 0; i < words; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], baseWord(seed, rank, uint64(i)))
	}
}

// Update refreshes the offset stamps for the next transfer. A no-op in
// Timestamp mode since the base pattern is already per-rank unique.
func Update(buf []byte, offset int64, rank int32, mode Packet) {
	if mode != Offset {
		return
	}
	words := len(buf) / 8
	k := uint64(0)
	for pos := 0; pos < words; pos += stampStride {
		binary.LittleEndian.PutUint64(buf[pos*8:], stampWord(offset, rank, k))
		k++
	}
}

// Verify compares buf against the expected pattern for the given offset and
// writer identity, returning the number of mismatching words.
func Verify(buf []byte, offset int64, seed int32, rank int32, mode Packet) int {
	words := len(buf) / 8
	mismatches := 0
	for i := 0; i < words; i++ {
		actual := binary.LittleEndian.Uint64(buf[i*8:])
		var expected uint64
		if mode == Offset && i%stampStride == 0 {
			expected = stampWord(offset, rank, uint64(i/stampStride))
		} else {
			expected = baseWord(seed, rank, uint64(i))
		}
		if actual != expected {
			mismatches++
		}
	}
	return mismatches
}
