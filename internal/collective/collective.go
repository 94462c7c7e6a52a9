// Package collective supplies the coordination primitives the phase engine
// depends on: rank identity plus barrier, broadcast and reduction. Ranks
// exchange state only through these calls; there is no shared mutable state
// between them anywhere else in the system.
//
// The in-process Group implementation runs N ranks as goroutines in one
// process, which is how the harness executes a multi-rank job on a single
// node and how the engine is tested. The Communicator interface is the
// complete contract, so a transport-backed implementation can be substituted
// without touching the engine.
package collective

import (
	"golang.org/x/sync/errgroup"
)

// Op selects the reduction operator.
type Op int

const (
	Sum Op = iota
	Min
	Max
)

// Communicator is the collective contract consumed by the phase engine. All
// calls are collective: every rank of the group must make the same call for
// it to complete. Reductions have allreduce semantics; every rank receives
// the reduced value.
type Communicator interface {
	Rank() int
	Size() int
	Barrier()
	BroadcastInt64(v int64, root int) int64
	BroadcastFloat64(v float64, root int) float64
	ReduceInt64(v int64, op Op) int64
	ReduceFloat64(v float64, op Op) float64
}

// Group coordinates N in-process ranks.
type Group struct {
	n    int
	bar  *barrier
	i64  []int64
	f64  []float64
	bi64 int64
	bf64 float64
}

// NewGroup creates a coordination group for n ranks.
func NewGroup(n int) *Group {
	if n < 1 {
		n = 1
	}
	return &Group{
		n:   n,
		bar: newBarrier(n),
		i64: make([]int64, n),
		f64: make([]float64, n),
	}
}

// Comm returns the communicator for one rank of the group.
func (g *Group) Comm(rank int) Communicator {
	return &comm{g: g, rank: rank}
}

// Run executes fn once per rank on its own goroutine and waits for all of
// them. The first non-nil error is returned after every rank finishes.
func Run(n int, fn func(Communicator) error) error {
	g := NewGroup(n)
	var eg errgroup.Group
	for rank := 0; rank < n; rank++ {
		c := g.Comm(rank)
		eg.Go(func() error {
			return fn(c)
		})
	}
	return eg.Wait()
}

// Single returns a communicator for a one-rank world. Every collective call
// is the identity.
func Single() Communicator {
	return NewGroup(1).Comm(0)
}

type comm struct {
	g    *Group
	rank int
}

func (c *comm) Rank() int { return c.rank }
func (c *comm) Size() int { return c.g.n }

func (c *comm) Barrier() {
	c.g.bar.await()
}

func (c *comm) BroadcastInt64(v int64, root int) int64 {
	g := c.g
	if g.n == 1 {
		return v
	}
	if c.rank == root {
		g.bi64 = v
	}
	g.bar.await()
	out := g.bi64
	g.bar.await()
	return out
}

func (c *comm) BroadcastFloat64(v float64, root int) float64 {
	g := c.g
	if g.n == 1 {
		return v
	}
	if c.rank == root {
		g.bf64 = v
	}
	g.bar.await()
	out := g.bf64
	g.bar.await()
	return out
}

func (c *comm) ReduceInt64(v int64, op Op) int64 {
	g := c.g
	if g.n == 1 {
		return v
	}
	g.i64[c.rank] = v
	g.bar.await()
	acc := g.i64[0]
	for _, x := range g.i64[1:] {
		acc = foldInt64(acc, x, op)
	}
	// Second rendezvous keeps the slot array stable until every rank has
	// folded it.
	g.bar.await()
	return acc
}

func (c *comm) ReduceFloat64(v float64, op Op) float64 {
	g := c.g
	if g.n == 1 {
		return v
	}
	g.f64[c.rank] = v
	g.bar.await()
	acc := g.f64[0]
	for _, x := range g.f64[1:] {
		acc = foldFloat64(acc, x, op)
	}
	g.bar.await()
	return acc
}

func foldInt64(a, b int64, op Op) int64 {
	switch op {
	case Min:
		if b < a {
			return b
		}
		return a
	case Max:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}

func foldFloat64(a, b float64, op Op) float64 {
	switch op {
	case Min:
		if b < a {
			return b
		}
		return a
	case Max:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}
