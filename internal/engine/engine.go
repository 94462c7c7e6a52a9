// Package engine drives benchmark phases across ranks: it plans each
// rank's share of work, issues it against the active backend through the
// sync or pipelined path, enforces stonewalling and verification, and
// folds per-rank results into phase-wide statistics through the
// collective layer. Every rank runs the same code and reaches the same
// abort or continue decision after every phase.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/internal/buffer"
	"github.com/parabench/parabench/internal/collective"
	"github.com/parabench/parabench/internal/config"
	"github.com/parabench/parabench/internal/metrics"
	"github.com/parabench/parabench/internal/pattern"
	"github.com/parabench/parabench/internal/stats"
	"github.com/parabench/parabench/pkg/logging"
	"github.com/parabench/parabench/pkg/xerrors"
)

// Engine executes the configured phases on one rank.
type Engine struct {
	params *config.Parameters
	be     backend.Backend
	comm   collective.Communicator
	log    *logging.Logger
	mc     *metrics.Collector
	pool   *buffer.Pool

	packet pattern.Packet

	// Absolute wall-clock deadline for the whole run, zero when unset.
	// Checked between item issuances, never by interrupting a transfer.
	runDeadline time.Time
}

// Option adjusts an Engine at construction.
type Option func(*Engine)

// WithMetrics attaches a metrics collector.
func WithMetrics(mc *metrics.Collector) Option {
	return func(e *Engine) { e.mc = mc }
}

// New builds an engine for one rank. The parameters must already be
// validated; invariants the engine depends on are still rechecked and
// reported as configuration errors.
func New(params *config.Parameters, be backend.Backend, comm collective.Communicator, log *logging.Logger, opts ...Option) (*Engine, error) {
	if params.Data.QueueDepth < 1 {
		return nil, xerrors.New(xerrors.KindConfiguration, "queue depth must be >= 1").WithOp("engine.new")
	}
	if params.Data.BlockSize%params.Data.TransferSize != 0 {
		return nil, xerrors.New(xerrors.KindConfiguration, "block size must be a multiple of transfer size").WithOp("engine.new")
	}
	pkt, ok := pattern.ParsePacket(params.Data.PacketType)
	if !ok {
		return nil, xerrors.Newf(xerrors.KindConfiguration, "unknown packet type %q", params.Data.PacketType).WithOp("engine.new")
	}

	align := 0
	if params.Data.DirectIO {
		align = buffer.DirectIOAlignment
	}

	e := &Engine{
		params: params,
		be:     be,
		comm:   comm,
		log:    log.WithRank(comm.Rank()),
		packet: pkt,
		pool:   buffer.New(int(params.Data.TransferSize), align),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.mc == nil {
		mc, _ := metrics.NewCollector(&metrics.Config{Enabled: false})
		e.mc = mc
	}
	return e, nil
}

// RunOutput carries everything the reporting layer consumes.
type RunOutput struct {
	Results   []stats.PhaseResult
	Summaries []stats.PhaseSummary
}

// Run executes the configured repetitions of all enabled phases. The
// returned error is identical on every rank: either nil, or the failure
// every rank agreed to abort on.
func (e *Engine) Run(ctx context.Context) (*RunOutput, error) {
	if d := e.params.Stonewall.MaxTimeDurationMin; d > 0 {
		e.runDeadline = time.Now().Add(time.Duration(d) * time.Minute)
	}

	out := &RunOutput{}

	for rep := 0; rep < e.params.Run.Repetitions; rep++ {
		if err := e.runDataPhases(ctx, rep, out); err != nil {
			return out, err
		}
		if e.params.Metadata.Enabled {
			if err := e.runMetadataPhases(ctx, out); err != nil {
				return out, err
			}
		}
	}

	return out, nil
}

func (e *Engine) runDataPhases(ctx context.Context, rep int, out *RunOutput) error {
	v := e.params.Verify

	if v.WriteFile {
		if rep > 0 {
			e.interTestDelay()
		}
		res := e.dataPhase(ctx, PhaseWrite)
		if err := e.finishPhase(&res, out); err != nil {
			return err
		}

		if v.CheckWrite {
			e.comm.Barrier()
			res := e.writeCheckPhase(ctx)
			if err := e.finishPhase(&res, out); err != nil {
				return err
			}
		}
	}

	if v.ReadFile {
		e.interTestDelay()
		res := e.dataPhase(ctx, PhaseRead)
		if err := e.finishPhase(&res, out); err != nil {
			return err
		}
	}

	if !e.params.Run.KeepFile {
		e.comm.Barrier()
		e.removeTestFile(e.comm.Rank())
		e.comm.Barrier()
	}
	return nil
}

// finishPhase synchronizes a completed phase: optional rendezvous barrier,
// then the failure-flag reduction every rank participates in regardless of
// barrier configuration. Every rank derives the same abort decision from
// the reduced values.
func (e *Engine) finishPhase(res *stats.PhaseResult, out *RunOutput) error {
	if e.params.Run.IntraTestBarriers {
		e.comm.Barrier()
	}

	res.Finalize()
	summary := stats.Summarize(e.comm, res)
	res.State = stats.Synchronized

	e.mc.RecordPhase(res.Phase, res.Bytes, res.Items)

	out.Results = append(out.Results, *res)
	out.Summaries = append(out.Summaries, summary)

	if summary.Failed {
		kind := xerrors.KindInternal
		if res.Err != nil {
			kind = xerrors.KindOf(res.Err)
		}
		e.log.Error("phase %s failed (rank %d reported kind %s)", res.Phase, res.Rank, kind)
		return xerrors.Newf(xerrors.KindInternal, "phase %s failed", res.Phase).WithOp("engine.run")
	}
	if e.params.Verify.FatalErr && summary.Mismatches > 0 {
		return xerrors.Newf(xerrors.KindVerificationMismatch,
			"phase %s found %d data errors", res.Phase, summary.Mismatches).WithOp("engine.run")
	}
	if summary.Mismatches > 0 {
		e.log.Warn("phase %s found %d data errors", res.Phase, summary.Mismatches)
	}

	res.State = stats.Done
	out.Results[len(out.Results)-1] = *res
	return nil
}

func (e *Engine) interTestDelay() {
	if d := e.params.Run.InterTestDelaySec; d > 0 {
		time.Sleep(time.Duration(d) * time.Second)
	}
}

// testFileName returns the file this rank targets. Shared-file mode uses
// one name for every rank; file-per-process appends the effective rank.
func (e *Engine) testFileName(pretendRank int) string {
	base := e.params.Run.TestDir + "/" + e.params.Run.TestFileName
	if e.params.Access.FilePerProc {
		return fmt.Sprintf("%s.%08d", base, pretendRank)
	}
	return base
}

func (e *Engine) removeTestFile(pretendRank int) {
	if e.params.Access.FilePerProc {
		_ = e.be.Delete(e.testFileName(pretendRank))
	} else if e.comm.Rank() == 0 {
		_ = e.be.Delete(e.testFileName(pretendRank))
	}
}

// checkFileSize verifies on-disk sizes against bytes moved after a write
// phase. Shared-file mode additionally checks that all ranks observe the
// same size. Inconsistencies are logged, not fatal.
func (e *Engine) checkFileSize(pretendRank int, dataMoved int64) {
	size, err := e.be.FileSize(e.testFileName(pretendRank))
	if err != nil {
		size = 0
	}

	if e.params.Access.FilePerProc {
		aggSize := e.comm.ReduceInt64(size, collective.Sum)
		aggMoved := e.comm.ReduceInt64(dataMoved, collective.Sum)
		if e.comm.Rank() == 0 && aggSize < aggMoved {
			e.log.Warn("aggregate file size (%d) smaller than data moved (%d)", aggSize, aggMoved)
		}
		return
	}

	minSize := e.comm.ReduceInt64(size, collective.Min)
	maxSize := e.comm.ReduceInt64(size, collective.Max)
	aggMoved := e.comm.ReduceInt64(dataMoved, collective.Sum)
	if e.comm.Rank() == 0 {
		if minSize != maxSize {
			e.log.Warn("inconsistent file size across ranks: min=%d max=%d", minSize, maxSize)
		}
		if minSize < aggMoved {
			e.log.Warn("file size (%d) smaller than data moved (%d)", minSize, aggMoved)
		}
	}
}

// pastRunDeadline reports whether the run-level time limit has expired.
func (e *Engine) pastRunDeadline() bool {
	return !e.runDeadline.IsZero() && time.Now().After(e.runDeadline)
}
