package engine

import (
	"github.com/parabench/parabench/internal/collective"
	"github.com/parabench/parabench/internal/config"
)

// offsetPlan maps a linear transfer index to a file offset for one rank's
// share of a data phase. For sequential access offsets are computed on the
// fly; for random access a shuffled per-segment base array is prepared up
// front, so the number of transfers per segment can differ from
// transfers-per-block in shared-file mode.
type offsetPlan struct {
	params      *config.Parameters
	pretendRank int
	perSegment  int64   // transfers per segment
	segments    int64   // segment count
	random      []int64 // shuffled base offsets within segment 0, nil for sequential
}

func newOffsetPlan(p *config.Parameters, comm collective.Communicator, pretendRank int) *offsetPlan {
	plan := &offsetPlan{
		params:      p,
		pretendRank: pretendRank,
		perSegment:  p.TransfersPerBlock(),
		segments:    p.Data.SegmentCount,
	}
	if p.Access.RandomOffset {
		plan.random = randomOffsets(p, comm, pretendRank)
		plan.perSegment = int64(len(plan.random))
	}
	return plan
}

// total returns the number of transfers this rank issues.
func (pl *offsetPlan) total() int64 {
	return pl.perSegment * pl.segments
}

// at returns the file offset for the idx-th transfer.
//
// Sequential shared file: j*xfer + seg*numTasks*block + pretendRank*block.
// Sequential file-per-process: j*xfer + seg*block.
// Random: shuffled segment-0 base plus the segment stride.
func (pl *offsetPlan) at(idx int64) int64 {
	p := pl.params
	seg := idx / pl.perSegment
	j := idx % pl.perSegment

	segStride := seg * p.Data.BlockSize
	if !p.Access.FilePerProc {
		segStride = seg * int64(p.Run.NumTasks) * p.Data.BlockSize
	}

	if pl.random != nil {
		return pl.random[j] + segStride
	}
	if p.Access.FilePerProc {
		return j*p.Data.TransferSize + segStride
	}
	return j*p.Data.TransferSize + segStride + int64(pl.pretendRank)*p.Data.BlockSize
}

// randomOffsets builds this rank's shuffled base offsets for segment 0.
//
// File-per-process mode shuffles the offsets of one block. Shared-file mode
// assigns every transfer in the segment to a rank through the shared LCG
// stream (seed broadcast from rank 0 so all ranks walk the same stream),
// collects the offsets assigned to this rank, then shuffles them. Per-rank
// counts are generally unequal.
func randomOffsets(p *config.Parameters, comm collective.Communicator, pretendRank int) []int64 {
	perBlock := p.TransfersPerBlock()
	seed := uint64(int64(p.Run.RandomSeed))

	if p.Access.FilePerProc {
		offsets := make([]int64, perBlock)
		for i := int64(0); i < perBlock; i++ {
			offsets[i] = i * p.Data.TransferSize
		}
		shuffle(offsets, seed+uint64(pretendRank))
		return offsets
	}

	seed = uint64(comm.BroadcastInt64(int64(seed), 0))

	numTasks := int64(p.Run.NumTasks)
	totalXfers := perBlock * numTasks

	var offsets []int64
	state := seed
	for idx := int64(0); idx < totalXfers; idx++ {
		state = lcgNext(state)
		assigned := int64(state>>33) % numTasks
		if assigned == int64(pretendRank) {
			j := idx % perBlock
			rankOfXfer := idx / perBlock
			offsets = append(offsets, j*p.Data.TransferSize+rankOfXfer*p.Data.BlockSize)
		}
	}

	shuffle(offsets, seed+uint64(pretendRank))
	return offsets
}

// shuffle is a seeded Fisher-Yates pass.
func shuffle(arr []int64, seed uint64) {
	n := len(arr)
	if n <= 1 {
		return
	}
	state := seed
	for i := n - 1; i > 0; i-- {
		state = lcgNext(state)
		j := int((state >> 33) % uint64(i+1))
		arr[i], arr[j] = arr[j], arr[i]
	}
}
