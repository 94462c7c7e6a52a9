package collective

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleIsIdentity(t *testing.T) {
	c := Single()
	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, int64(42), c.BroadcastInt64(42, 0))
	assert.Equal(t, int64(7), c.ReduceInt64(7, Sum))
	assert.Equal(t, 1.5, c.ReduceFloat64(1.5, Max))
	c.Barrier()
}

func TestRunExecutesEveryRank(t *testing.T) {
	const n = 8
	var mu sync.Mutex
	seen := make(map[int]bool)

	err := Run(n, func(c Communicator) error {
		mu.Lock()
		seen[c.Rank()] = true
		mu.Unlock()
		assert.Equal(t, n, c.Size())
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, n)
}

func TestBarrierReleasesTogether(t *testing.T) {
	const n = 4
	var arrived atomic.Int64

	err := Run(n, func(c Communicator) error {
		arrived.Add(1)
		c.Barrier()
		// Nobody passes the barrier before everyone has arrived.
		if got := arrived.Load(); got != n {
			t.Errorf("rank %d released with %d arrivals", c.Rank(), got)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestBroadcastFromRoot(t *testing.T) {
	const n = 4
	err := Run(n, func(c Communicator) error {
		v := c.BroadcastInt64(int64(100+c.Rank()), 2)
		assert.Equal(t, int64(102), v)

		f := c.BroadcastFloat64(float64(c.Rank())+0.5, 0)
		assert.Equal(t, 0.5, f)
		return nil
	})
	require.NoError(t, err)
}

func TestReductions(t *testing.T) {
	const n = 5
	err := Run(n, func(c Communicator) error {
		v := int64(c.Rank() + 1)

		assert.Equal(t, int64(15), c.ReduceInt64(v, Sum))
		assert.Equal(t, int64(1), c.ReduceInt64(v, Min))
		assert.Equal(t, int64(5), c.ReduceInt64(v, Max))

		f := float64(c.Rank())
		assert.Equal(t, 10.0, c.ReduceFloat64(f, Sum))
		assert.Equal(t, 0.0, c.ReduceFloat64(f, Min))
		assert.Equal(t, 4.0, c.ReduceFloat64(f, Max))
		return nil
	})
	require.NoError(t, err)
}

func TestRepeatedCollectivesDoNotInterfere(t *testing.T) {
	const n = 3
	err := Run(n, func(c Communicator) error {
		for i := 0; i < 100; i++ {
			sum := c.ReduceInt64(int64(i), Sum)
			assert.Equal(t, int64(i*n), sum)
			got := c.BroadcastInt64(int64(i*10+c.Rank()), i%n)
			assert.Equal(t, int64(i*10+i%n), got)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRunCollectsFirstError(t *testing.T) {
	err := Run(3, func(c Communicator) error {
		if c.Rank() == 1 {
			return assert.AnError
		}
		return nil
	})
	assert.ErrorIs(t, err, assert.AnError)
}
