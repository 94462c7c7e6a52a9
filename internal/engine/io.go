package engine

import (
	"context"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/internal/pattern"
	"github.com/parabench/parabench/internal/stats"
	"github.com/parabench/parabench/pkg/xerrors"
)

// transferLoop issues this rank's transfers for one data phase, through
// the sync path at queue depth 1 and the pipelined path otherwise.
// Counters and the stonewall state land in res; the returned error is the
// first fault that should fail the phase.
func (e *Engine) transferLoop(ctx context.Context, h backend.Handle, dir backend.Direction, pretendRank int, plan *offsetPlan, res *stats.PhaseResult) error {
	if e.params.Data.QueueDepth > 1 {
		return e.pipelinedLoop(ctx, h, dir, pretendRank, plan, res)
	}
	return e.syncLoop(ctx, h, dir, pretendRank, plan, res)
}

// sharedStonewall reports whether the sync path decides stonewalling
// collectively, once per segment.
func (e *Engine) sharedStonewall() bool {
	p := e.params
	return p.Stonewall.DeadlineSec > 0 && !p.Access.FilePerProc && p.Data.QueueDepth == 1
}

// mirrorStonewallBroadcasts keeps a rank that issues no transfers aligned
// with the per-segment stonewall broadcasts of the rest of the group.
func (e *Engine) mirrorStonewallBroadcasts(plan *offsetPlan) {
	if !e.sharedStonewall() {
		return
	}
	for seg := int64(0); seg < plan.segments; seg++ {
		if e.comm.BroadcastInt64(0, 0) != 0 {
			return
		}
	}
}

func (e *Engine) syncLoop(ctx context.Context, h backend.Handle, dir backend.Direction, pretendRank int, plan *offsetPlan, res *stats.PhaseResult) error {
	p := e.params
	seed := int32(p.Data.TimeStampSig)
	verify := dir == backend.Read && p.Verify.CheckRead

	buf := e.pool.Get()
	defer e.pool.Put(buf)
	if dir == backend.Write {
		pattern.Fill(buf, seed, int32(pretendRank), e.packet)
	}

	start := stats.Now()
	deadline := float64(p.Stonewall.DeadlineSec)
	stonewalled := false

	limit, capped := e.wearOutLimit(plan.total())
	wearOut := p.Stonewall.WearOut
	hitDeadline := false
	itemsAtDeadline := int64(-1)

	shared := e.sharedStonewall()
	var failErr error

	for seg := int64(0); seg < plan.segments && !stonewalled; seg++ {
		for j := int64(0); failErr == nil && j < plan.perSegment; j++ {
			if err := ctx.Err(); err != nil {
				failErr = xerrors.Wrap(err, xerrors.KindCancelled, "run cancelled").WithOp("engine.xfer")
				break
			}
			if e.pastRunDeadline() {
				failErr = xerrors.New(xerrors.KindTimeout, "max run duration exceeded").WithOp("engine.xfer")
				break
			}

			idx := seg*plan.perSegment + j
			if capped && idx >= limit {
				stonewalled = true
				break
			}

			offset := plan.at(idx)
			if dir == backend.Write {
				pattern.Update(buf, offset, int32(pretendRank), e.packet)
			}

			n, err := e.be.XferSync(h, dir, buf, offset)
			if err != nil {
				failErr = err
				break
			}
			res.Bytes += n
			res.Items++
			e.mc.RecordTransfer(e.be.Name(), dir.String(), n)

			if verify {
				res.Mismatches += int64(pattern.Verify(buf, offset, seed, int32(pretendRank), e.packet))
			}
			if dir == backend.Write && p.Data.FsyncPerWrite {
				if err := e.be.Fsync(h); err != nil {
					failErr = err
					break
				}
			}

			if deadline > 0 && stats.Now()-start > deadline {
				if itemsAtDeadline < 0 {
					itemsAtDeadline = res.Items
				}
				if wearOut {
					hitDeadline = true
				} else {
					stonewalled = true
					break
				}
			}
		}

		if !shared {
			if failErr != nil {
				return failErr
			}
			continue
		}

		// Shared-file runs decide stonewalling collectively once per
		// segment so all ranks stop issuing in the same segment. A rank
		// that faulted keeps broadcasting so the group stays aligned.
		flag := e.comm.BroadcastInt64(boolToInt64(stonewalled), 0)
		stonewalled = flag != 0
	}
	if failErr != nil {
		return failErr
	}

	if hitDeadline {
		e.log.Info("wear-out: %d of %d transfers issued at the stonewall deadline", itemsAtDeadline, plan.total())
	}
	if stonewalled || hitDeadline || capped {
		res.State = stats.StonewallHit
	}
	return nil
}

// pendingXfer tracks one in-flight pipelined request.
type pendingXfer struct {
	buf    []byte
	offset int64
}

// pipelinedLoop keeps up to queue_depth transfers in flight: a submit
// burst fills the window, then completions are drained one at a time.
// Stonewalling stops submission and drains the window rather than
// interrupting transfers.
func (e *Engine) pipelinedLoop(ctx context.Context, h backend.Handle, dir backend.Direction, pretendRank int, plan *offsetPlan, res *stats.PhaseResult) error {
	p := e.params
	seed := int32(p.Data.TimeStampSig)
	verify := dir == backend.Read && p.Verify.CheckRead
	depth := p.Data.QueueDepth

	pending := make(map[backend.Token]pendingXfer, depth)
	order := make([]backend.Token, 0, depth)
	defer func() {
		for _, px := range pending {
			e.pool.Put(px.buf)
		}
	}()

	total, capped := e.wearOutLimit(plan.total())
	start := stats.Now()
	deadline := float64(p.Stonewall.DeadlineSec)
	wearOut := p.Stonewall.WearOut

	var (
		submitted       int64
		inFlight        int
		stonewalled     bool
		hitDeadline     bool
		firstErr        error
		itemsAtDeadline = int64(-1)
	)

	for {
		for inFlight < depth && submitted < total && !stonewalled && firstErr == nil {
			if err := ctx.Err(); err != nil {
				firstErr = xerrors.Wrap(err, xerrors.KindCancelled, "run cancelled").WithOp("engine.submit")
				break
			}
			if e.pastRunDeadline() {
				firstErr = xerrors.New(xerrors.KindTimeout, "max run duration exceeded").WithOp("engine.submit")
				break
			}
			if deadline > 0 && stats.Now()-start > deadline {
				if itemsAtDeadline < 0 {
					itemsAtDeadline = res.Items
				}
				if wearOut {
					hitDeadline = true
				} else {
					stonewalled = true
					break
				}
			}

			offset := plan.at(submitted)
			buf := e.pool.Get()
			if dir == backend.Write {
				pattern.Fill(buf, seed, int32(pretendRank), e.packet)
				pattern.Update(buf, offset, int32(pretendRank), e.packet)
			}

			tok, err := e.be.Submit(h, dir, buf, offset)
			if err != nil {
				e.pool.Put(buf)
				firstErr = err
				break
			}
			pending[tok] = pendingXfer{buf: buf, offset: offset}
			order = append(order, tok)
			submitted++
			inFlight++
			e.mc.SetInflight(e.be.Name(), inFlight)
		}

		if inFlight == 0 {
			break
		}

		// Drain in submission order; waiting on the oldest request keeps
		// the window bounded without busy-polling.
		tok := order[0]
		order = order[1:]
		c, _, err := e.be.Poll(tok, true)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}

		px := pending[c.Token]
		delete(pending, c.Token)
		inFlight--
		e.mc.SetInflight(e.be.Name(), inFlight)

		switch {
		case c.Err != nil && xerrors.IsKind(c.Err, xerrors.KindCancelled) && stonewalled:
			// Expected when the deadline abandoned queued work.
		case c.Err != nil:
			if firstErr == nil {
				firstErr = c.Err
			}
		default:
			res.Bytes += c.Bytes
			res.Items++
			e.mc.RecordTransfer(e.be.Name(), dir.String(), c.Bytes)
			if verify {
				res.Mismatches += int64(pattern.Verify(px.buf, px.offset, seed, int32(pretendRank), e.packet))
			}
		}
		e.pool.Put(px.buf)
	}

	if firstErr != nil {
		return firstErr
	}
	if hitDeadline {
		e.log.Info("wear-out: %d of %d transfers completed at the stonewall deadline", itemsAtDeadline, plan.total())
	}
	if stonewalled || hitDeadline || capped {
		res.State = stats.StonewallHit
	}
	return nil
}

// wearOutLimit caps a rank's transfer count when a fixed iteration count
// was configured, typically to replay a stonewalled write phase exactly.
func (e *Engine) wearOutLimit(total int64) (int64, bool) {
	if n := int64(e.params.Stonewall.WearOutIterations); n > 0 && n < total {
		return n, true
	}
	return total, false
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
