package collective

import "sync"

// barrier is a reusable generation-counting rendezvous for n participants.
type barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	n          int
	arrived    int
	generation uint64
}

func newBarrier(n int) *barrier {
	b := &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// await blocks until all n participants have called it for the current
// generation.
func (b *barrier) await() {
	if b.n == 1 {
		return
	}
	b.mu.Lock()
	gen := b.generation
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.generation++
		b.mu.Unlock()
		b.cond.Broadcast()
		return
	}
	for gen == b.generation {
		b.cond.Wait()
	}
	b.mu.Unlock()
}
