package engine

// Task reordering decides which rank's data a rank reads back. Both modes
// are bijections over ranks, derived without communication: every rank
// computes the same mapping from configuration alone.

const (
	lcgMul = 6364136223846793005
	lcgAdd = 1442695040888963407
)

func lcgNext(state uint64) uint64 {
	return state*lcgMul + lcgAdd
}

// shiftRank cyclically shifts rank by offset, wrapping over n tasks.
// Negative offsets are valid.
func shiftRank(rank, offset, n int) int {
	return ((rank+offset)%n + n) % n
}

// randomPermutation returns a seeded permutation of [0, n). Identical
// seeds yield identical permutations on every rank.
func randomPermutation(n int, seed uint64) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	state := seed
	for i := n - 1; i > 0; i-- {
		state = lcgNext(state)
		j := int((state >> 33) % uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// pretendRank returns the rank whose data this rank accesses during the
// given phase. Writers always access their own region; readers are shifted
// when task reordering is configured.
func (e *Engine) pretendRank(kind PhaseKind, rank int) int {
	n := e.params.Run.NumTasks
	if kind != PhaseRead {
		return rank
	}
	acc := e.params.Access
	switch {
	case acc.ReorderTasks:
		return shiftRank(rank, acc.TaskOffset, n)
	case acc.ReorderTasksRandom:
		seed := uint64(int64(acc.ReorderRandomSeed)) + uint64(kind.Index())
		return randomPermutation(n, seed)[rank]
	default:
		return rank
	}
}
