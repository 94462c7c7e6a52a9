package engine

import (
	"context"
	"fmt"
	"path"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/internal/stats"
	"github.com/parabench/parabench/internal/tree"
	"github.com/parabench/parabench/pkg/xerrors"
)

// metaPrefix is the item-name prefix; the embedded rank decides whose
// items a phase touches.
const metaPrefix = "pmeta"

// renamedSuffix marks directories moved by the rename phase.
const renamedSuffix = ".renamed"

// metaEnv carries the per-repetition state shared by the metadata phases.
type metaEnv struct {
	layout   tree.Layout
	base     string // directory the tree lives under
	writeBuf []byte
	readBuf  []byte
}

func (e *Engine) runMetadataPhases(ctx context.Context, out *RunOutput) error {
	p := e.params.Metadata
	rank := e.comm.Rank()

	env := &metaEnv{
		layout: tree.Layout{
			BranchFactor: p.BranchFactor,
			Depth:        p.Depth,
			ItemsPerDir:  p.ItemsPerDir,
			LeafOnly:     p.LeafOnly,
		},
		base: e.params.Run.TestDir,
	}
	if p.UniqueDirPerTask {
		env.base = path.Join(e.params.Run.TestDir, fmt.Sprintf("task.%d", rank))
	}
	if p.WriteBytes > 0 {
		env.writeBuf = make([]byte, p.WriteBytes)
		for i := range env.writeBuf {
			env.writeBuf[i] = byte(i % 256)
		}
	}
	if p.ReadBytes > 0 {
		env.readBuf = make([]byte, p.ReadBytes)
	}

	res := e.treePhase(PhaseTreeCreate, env)
	if err := e.finishPhase(&res, out); err != nil {
		return err
	}

	if !p.FilesOnly {
		kinds := []PhaseKind{PhaseDirCreate, PhaseDirStat}
		if e.renameDirs() {
			kinds = append(kinds, PhaseDirRename)
		}
		kinds = append(kinds, PhaseDirRemove)
		for _, kind := range kinds {
			res := e.metaItemPhase(ctx, kind, env)
			if err := e.finishPhase(&res, out); err != nil {
				return err
			}
		}
	}
	if !p.DirsOnly {
		for _, kind := range []PhaseKind{PhaseFileCreate, PhaseFileStat, PhaseFileRead, PhaseFileRemove} {
			res := e.metaItemPhase(ctx, kind, env)
			if err := e.finishPhase(&res, out); err != nil {
				return err
			}
		}
	}

	res = e.treePhase(PhaseTreeRemove, env)
	return e.finishPhase(&res, out)
}

// treePhase builds or removes the directory hierarchy. With a unique
// directory per task every rank walks its own tree; with a shared tree
// rank 0 does the walking and the rest wait at the barriers.
func (e *Engine) treePhase(kind PhaseKind, env *metaEnv) stats.PhaseResult {
	p := e.params.Metadata
	rank := e.comm.Rank()
	res := stats.PhaseResult{Phase: kind.String(), Rank: rank, State: stats.Running}

	if kind == PhaseTreeCreate {
		// The enclosing directories are scaffolding, not measured work.
		if err := e.be.Access(e.params.Run.TestDir); err != nil {
			_ = e.be.Mkdir(e.params.Run.TestDir, 0o755)
		}
		if p.UniqueDirPerTask {
			_ = e.be.Mkdir(env.base, 0o755)
		}
	}

	e.comm.Barrier()

	res.Timers.Mark(stats.TimerOpenStart)
	res.Timers.Mark(stats.TimerOpenStop)
	res.Timers.Mark(stats.TimerXferStart)

	var err error
	walk := p.UniqueDirPerTask || rank == 0
	if walk {
		if kind == PhaseTreeCreate {
			err = env.layout.Create(e.be, env.base)
		} else {
			err = env.layout.Remove(e.be, env.base)
		}
	}

	e.comm.Barrier()
	res.Timers.Mark(stats.TimerXferStop)
	res.Timers.Mark(stats.TimerCloseStart)
	res.Timers.Mark(stats.TimerCloseStop)

	if kind == PhaseTreeRemove && p.UniqueDirPerTask {
		_ = e.be.Rmdir(env.base)
	}

	if err != nil {
		res.State = stats.Failed
		res.Err = err
		return res
	}
	if walk {
		res.Items = env.layout.NumDirs()
	}
	res.State = stats.Completed
	return res
}

// itemName returns the name of item num for the given phase. With a
// shared tree, stat/read/remove phases target a neighbour's items so a
// rank never re-touches entries warmed by its own create pass.
func (e *Engine) itemName(kind PhaseKind, num int64) string {
	p := e.params.Metadata
	rank := e.comm.Rank()
	n := e.params.Run.NumTasks

	shift := 0
	if !p.UniqueDirPerTask {
		switch kind {
		case PhaseDirStat, PhaseDirRename, PhaseFileStat:
			shift = 1
		case PhaseFileRead:
			shift = 2
		case PhaseDirRemove, PhaseFileRemove:
			shift = 3
		}
	}
	nameRank := shiftRank(rank, shift*e.params.Access.TaskOffset, n)

	class := "file"
	switch kind {
	case PhaseDirCreate, PhaseDirStat, PhaseDirRename, PhaseDirRemove:
		class = "dir"
	}
	return fmt.Sprintf("%s.%s.%d.%d", class, metaPrefix, nameRank, num)
}

// renameDirs reports whether the directory rename phase runs. When it
// does, the remove phase targets the renamed entries.
func (e *Engine) renameDirs() bool {
	p := e.params.Metadata
	return p.RenameDirs && !p.FilesOnly && p.Items > 1
}

// randomOrder reports whether a phase visits items in shuffled order
// when a metadata random seed is set. Create and remove stay sequential
// so the tree fills and drains in item order.
func randomOrder(kind PhaseKind) bool {
	switch kind {
	case PhaseDirStat, PhaseFileStat, PhaseFileRead:
		return true
	}
	return false
}

// metaItemPhase runs one metadata operation over the configured item
// count, walking the tree's item-bearing directories in id order.
// Create phases honour the metadata stonewall deadline; the other phases
// always run to completion.
func (e *Engine) metaItemPhase(ctx context.Context, kind PhaseKind, env *metaEnv) stats.PhaseResult {
	p := e.params.Metadata
	rank := e.comm.Rank()
	res := stats.PhaseResult{Phase: kind.String(), Rank: rank, State: stats.Running}

	if e.params.Run.IntraTestBarriers {
		e.comm.Barrier()
	}

	res.Timers.Mark(stats.TimerOpenStart)
	res.Timers.Mark(stats.TimerOpenStop)
	res.Timers.Mark(stats.TimerXferStart)

	start := stats.Now()
	deadline := 0.0
	if kind == PhaseDirCreate || kind == PhaseFileCreate {
		deadline = float64(p.StonewallSec)
	}

	var processed int64
	stonewalled := false

	visit := func(item string) error {
		if err := ctx.Err(); err != nil {
			return xerrors.Wrap(err, xerrors.KindCancelled, "run cancelled").WithOp("engine.meta")
		}
		if deadline > 0 && stats.Now()-start > deadline {
			stonewalled = true
			return nil
		}
		if err := e.metaOp(kind, item, env); err != nil {
			return err
		}
		processed++
		if p.WriteBytes > 0 && kind == PhaseFileCreate {
			res.Bytes += p.WriteBytes
		}
		if p.ReadBytes > 0 && kind == PhaseFileRead {
			res.Bytes += p.ReadBytes
		}
		return nil
	}

	var err error
	if p.RandomSeed > 0 && randomOrder(kind) {
		// Shuffled order touches items across directories instead of
		// draining one directory at a time.
		root := path.Join(env.base, tree.DirName(0))
		for _, i := range tree.RandOrder(p.Items, int64(p.RandomSeed)) {
			if stonewalled {
				break
			}
			num := i
			if p.LeafOnly {
				num += env.layout.LeafOffset()
			}
			if err = visit(env.layout.ItemPath(root, e.itemName(kind, num), num)); err != nil {
				break
			}
		}
	} else {
		err = env.layout.EachDir(env.base, func(id int64, dir string) error {
			for i := int64(0); i < p.ItemsPerDir; i++ {
				if processed >= p.Items || stonewalled {
					return nil
				}
				num := id*p.ItemsPerDir + i
				if err := visit(path.Join(dir, e.itemName(kind, num))); err != nil {
					return err
				}
			}
			return nil
		})
	}

	res.Timers.Mark(stats.TimerXferStop)
	res.Timers.Mark(stats.TimerCloseStart)
	res.Timers.Mark(stats.TimerCloseStop)

	res.Items = processed
	switch {
	case err != nil:
		res.State = stats.Failed
		res.Err = err
	case stonewalled:
		res.State = stats.StonewallHit
	default:
		res.State = stats.Completed
	}

	if e.params.Run.IntraTestBarriers {
		e.comm.Barrier()
	}
	return res
}

// metaOp performs one metadata operation on one item.
func (e *Engine) metaOp(kind PhaseKind, item string, env *metaEnv) error {
	switch kind {
	case PhaseDirCreate:
		return e.be.Mkdir(item, 0o755)
	case PhaseDirStat, PhaseFileStat:
		_, err := e.be.Stat(item)
		return err
	case PhaseDirRename:
		return e.be.Rename(item, item+renamedSuffix)
	case PhaseDirRemove:
		if e.renameDirs() {
			item += renamedSuffix
		}
		return e.be.Rmdir(item)
	case PhaseFileCreate:
		return e.createItemFile(item, env)
	case PhaseFileRead:
		return e.readItemFile(item, env)
	case PhaseFileRemove:
		return e.be.Delete(item)
	}
	return nil
}

func (e *Engine) createItemFile(item string, env *metaEnv) error {
	p := e.params.Metadata

	if p.MakeNode && p.WriteBytes == 0 {
		return e.be.Mknod(item)
	}

	h, err := e.be.Create(item, backend.FlagWriteOnly|backend.FlagCreate)
	if err != nil {
		return err
	}
	if p.WriteBytes > 0 {
		if _, err := e.be.XferSync(h, backend.Write, env.writeBuf, 0); err != nil {
			_ = e.be.Close(h)
			return err
		}
	}
	if p.SyncFile {
		if err := e.be.Fsync(h); err != nil {
			_ = e.be.Close(h)
			return err
		}
	}
	return e.be.Close(h)
}

func (e *Engine) readItemFile(item string, env *metaEnv) error {
	h, err := e.be.Open(item, backend.FlagReadOnly)
	if err != nil {
		return err
	}
	if len(env.readBuf) > 0 {
		if _, err := e.be.XferSync(h, backend.Read, env.readBuf, 0); err != nil {
			_ = e.be.Close(h)
			return err
		}
	}
	return e.be.Close(h)
}
