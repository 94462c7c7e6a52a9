package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/internal/backend/posix"
	"github.com/parabench/parabench/internal/collective"
	"github.com/parabench/parabench/pkg/logging"
)

// slowBackend throttles each transfer so a short stonewall deadline fires
// before the item set is exhausted.
type slowBackend struct {
	backend.Backend
	delay time.Duration
}

func (s *slowBackend) XferSync(h backend.Handle, dir backend.Direction, buf []byte, offset int64) (int64, error) {
	time.Sleep(s.delay)
	return s.Backend.XferSync(h, dir, buf, offset)
}

func TestStonewallDeadlineStopsIssuance(t *testing.T) {
	if testing.Short() {
		t.Skip("stonewalling needs wall-clock time")
	}

	p := baseParams(t, 1)
	p.Data.BlockSize = 16 << 10
	p.Data.TransferSize = 1 << 10
	p.Data.SegmentCount = 4
	p.Access.FilePerProc = true
	p.Verify.ReadFile = false
	p.Stonewall.DeadlineSec = 1

	require.NoError(t, p.Validate())

	var out *RunOutput
	err := collective.Run(1, func(comm collective.Communicator) error {
		pb, err := posix.New(1)
		if err != nil {
			return err
		}
		defer pb.Shutdown()

		eng, err := New(p, &slowBackend{Backend: pb, delay: 100 * time.Millisecond}, comm, logging.Nop())
		if err != nil {
			return err
		}
		out, err = eng.Run(context.Background())
		return err
	})
	require.NoError(t, err)

	res := out.Results[0]
	// 64 items at 100ms each would take 6.4s; the 1s deadline stops
	// issuance long before that.
	assert.Less(t, res.Items, int64(64))
	assert.Positive(t, res.Items)
	assert.True(t, out.Summaries[0].Stonewall)
	assert.False(t, out.Summaries[0].Failed)
}

func TestWearOutIterationsCapReplaysExactly(t *testing.T) {
	p := baseParams(t, 1)
	p.Data.BlockSize = 16 << 10
	p.Data.TransferSize = 1 << 10
	p.Access.FilePerProc = true
	p.Verify.ReadFile = false
	p.Stonewall.WearOutIterations = 4

	out := runEngines(t, p, 1)

	res := out[0].Results[0]
	assert.Equal(t, int64(4), res.Items)
	assert.Equal(t, int64(4<<10), res.Bytes)
	assert.True(t, out[0].Summaries[0].Stonewall)
	assert.False(t, out[0].Summaries[0].Failed)
}

func TestWearOutRunsToCompletionPastDeadline(t *testing.T) {
	if testing.Short() {
		t.Skip("stonewalling needs wall-clock time")
	}

	p := baseParams(t, 1)
	p.Data.BlockSize = 8 << 10
	p.Data.TransferSize = 1 << 10
	p.Access.FilePerProc = true
	p.Verify.ReadFile = false
	p.Stonewall.DeadlineSec = 1
	p.Stonewall.WearOut = true

	require.NoError(t, p.Validate())

	var out *RunOutput
	err := collective.Run(1, func(comm collective.Communicator) error {
		pb, err := posix.New(1)
		if err != nil {
			return err
		}
		defer pb.Shutdown()

		eng, err := New(p, &slowBackend{Backend: pb, delay: 200 * time.Millisecond}, comm, logging.Nop())
		if err != nil {
			return err
		}
		out, err = eng.Run(context.Background())
		return err
	})
	require.NoError(t, err)

	// Wear-out keeps issuing past the deadline until the assignment is
	// exhausted, but still reports that the stonewall fired.
	res := out.Results[0]
	assert.Equal(t, int64(8), res.Items)
	assert.True(t, out.Summaries[0].Stonewall)
}
