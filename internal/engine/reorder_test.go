package engine

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestShiftRankWraps(t *testing.T) {
	assert.Equal(t, 1, shiftRank(0, 1, 4))
	assert.Equal(t, 0, shiftRank(3, 1, 4))
	assert.Equal(t, 3, shiftRank(0, -1, 4))
	assert.Equal(t, 2, shiftRank(2, 0, 4))
}

func TestShiftRankIsBijection(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("cyclic shift permutes ranks", prop.ForAll(
		func(n int, offset int) bool {
			seen := make(map[int]bool, n)
			for r := 0; r < n; r++ {
				seen[shiftRank(r, offset, n)] = true
			}
			return len(seen) == n
		},
		gen.IntRange(1, 64),
		gen.IntRange(-128, 128),
	))

	properties.TestingRun(t)
}

func TestRandomPermutationIsBijection(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("seeded permutation covers every rank once", prop.ForAll(
		func(n int, seed uint64) bool {
			perm := randomPermutation(n, seed)
			seen := make(map[int]bool, n)
			for _, v := range perm {
				if v < 0 || v >= n {
					return false
				}
				seen[v] = true
			}
			return len(seen) == n
		},
		gen.IntRange(1, 64),
		gen.UInt64(),
	))

	properties.Property("same seed gives same permutation", prop.ForAll(
		func(n int, seed uint64) bool {
			a := randomPermutation(n, seed)
			b := randomPermutation(n, seed)
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 64),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
