package engine

import (
	"context"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/internal/pattern"
	"github.com/parabench/parabench/internal/stats"
	"github.com/parabench/parabench/pkg/xerrors"
)

// dataPhase runs one write or read phase on this rank and returns its
// result. Errors are captured in the result, never returned: the rank must
// reach the phase-end synchronization no matter what happened locally.
func (e *Engine) dataPhase(ctx context.Context, kind PhaseKind) stats.PhaseResult {
	rank := e.comm.Rank()
	res := stats.PhaseResult{Phase: kind.String(), Rank: rank, State: stats.Running}

	pretendRank := e.pretendRank(kind, rank)
	dir := backend.Write
	flags := backend.FlagCreate | backend.FlagReadWrite
	if kind == PhaseRead {
		dir = backend.Read
		flags = backend.FlagReadOnly
	}
	if e.params.Data.DirectIO {
		flags |= backend.FlagDirect
	}

	// The offset plan is built before open so its collective seed exchange
	// happens on every rank even when an open later fails.
	plan := newOffsetPlan(e.params, e.comm, pretendRank)

	if kind == PhaseWrite && !e.params.Run.UseExistingFile {
		e.removeTestFile(pretendRank)
	}

	e.comm.Barrier()

	res.Timers.Mark(stats.TimerOpenStart)
	path := e.testFileName(pretendRank)
	var h backend.Handle
	var err error
	if kind == PhaseWrite {
		h, err = e.be.Create(path, flags)
	} else {
		h, err = e.be.Open(path, flags)
	}
	res.Timers.Mark(stats.TimerOpenStop)
	if err != nil {
		// The rank stays in the phase to keep the group's barriers and
		// broadcasts aligned; it just issues no transfers.
		res.State = stats.Failed
		res.Err = err
		h = nil
	}

	if e.params.Run.IntraTestBarriers {
		e.comm.Barrier()
	}

	res.Timers.Mark(stats.TimerXferStart)
	var loopErr error
	if h != nil {
		loopErr = e.transferLoop(ctx, h, dir, pretendRank, plan, &res)
	} else {
		e.mirrorStonewallBroadcasts(plan)
	}
	res.Timers.Mark(stats.TimerXferStop)

	if e.params.Run.IntraTestBarriers {
		e.comm.Barrier()
	}

	var closeErr error
	if h != nil {
		if loopErr == nil && kind == PhaseWrite && e.params.Data.Fsync {
			loopErr = e.be.Fsync(h)
		}
		res.Timers.Mark(stats.TimerCloseStart)
		closeErr = e.be.Close(h)
		res.Timers.Mark(stats.TimerCloseStop)
	} else {
		res.Timers.Mark(stats.TimerCloseStart)
		res.Timers.Mark(stats.TimerCloseStop)
	}

	switch {
	case res.State == stats.Failed:
	case loopErr != nil:
		res.State = stats.Failed
		res.Err = loopErr
	case closeErr != nil:
		res.State = stats.Failed
		res.Err = closeErr
	case res.State == stats.Running:
		res.State = stats.Completed
	}

	e.comm.Barrier()
	if kind == PhaseWrite {
		e.checkFileSize(pretendRank, res.Bytes)
	}

	return res
}

// writeCheckPhase re-reads everything the write phase wrote and verifies
// it against the expected pattern. Runs entirely on the sync path; the
// mismatch count lands in the result and is reduced at phase end.
func (e *Engine) writeCheckPhase(ctx context.Context) stats.PhaseResult {
	rank := e.comm.Rank()
	res := stats.PhaseResult{Phase: PhaseWriteCheck.String(), Rank: rank, State: stats.Running}

	p := e.params
	pretendRank := rank
	seed := int32(p.Data.TimeStampSig)

	flags := backend.FlagReadOnly
	if p.Data.DirectIO {
		flags |= backend.FlagDirect
	}

	res.Timers.Mark(stats.TimerOpenStart)
	h, err := e.be.Open(e.testFileName(pretendRank), flags)
	res.Timers.Mark(stats.TimerOpenStop)
	if err != nil {
		res.State = stats.Failed
		res.Err = err
		for i := stats.TimerXferStart; i < stats.NumTimers; i++ {
			res.Timers.Mark(i)
		}
		return res
	}

	buf := e.pool.Get()
	defer e.pool.Put(buf)

	plan := &offsetPlan{
		params:      p,
		pretendRank: pretendRank,
		perSegment:  p.TransfersPerBlock(),
		segments:    p.Data.SegmentCount,
	}

	res.Timers.Mark(stats.TimerXferStart)
	var loopErr error
	for idx := int64(0); idx < plan.total(); idx++ {
		if ctx.Err() != nil {
			loopErr = xerrors.Wrap(ctx.Err(), xerrors.KindCancelled, "run cancelled").WithOp("engine.writecheck")
			break
		}
		offset := plan.at(idx)
		if _, err := e.be.XferSync(h, backend.Read, buf, offset); err != nil {
			loopErr = err
			break
		}
		res.Items++
		res.Bytes += int64(len(buf))
		res.Mismatches += int64(pattern.Verify(buf, offset, seed, int32(pretendRank), e.packet))
	}
	res.Timers.Mark(stats.TimerXferStop)

	res.Timers.Mark(stats.TimerCloseStart)
	closeErr := e.be.Close(h)
	res.Timers.Mark(stats.TimerCloseStop)

	switch {
	case loopErr != nil:
		res.State = stats.Failed
		res.Err = loopErr
	case closeErr != nil:
		res.State = stats.Failed
		res.Err = closeErr
	default:
		res.State = stats.Completed
	}
	return res
}
