package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parabench/parabench/pkg/xerrors"
)

func TestDisabledCollectorIsNoop(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	require.NoError(t, err)

	c.RecordOperation("posix", "xfer", time.Millisecond, nil)
	c.RecordTransfer("posix", "write", 1<<20)
	c.SetInflight("posix", 4)
	c.RecordPhase("write", 1<<20, 4)

	fams, err := c.Gather()
	require.NoError(t, err)
	assert.Nil(t, fams)
}

func TestRecordOperation(t *testing.T) {
	c, err := NewCollector(nil)
	require.NoError(t, err)

	c.RecordOperation("posix", "create", 100*time.Microsecond, nil)
	c.RecordOperation("posix", "xfer", time.Millisecond, nil)
	c.RecordOperation("posix", "xfer", time.Millisecond,
		xerrors.New(xerrors.KindPartialTransfer, "short write"))

	fams, err := c.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range fams {
		names[f.GetName()] = true
	}
	assert.True(t, names["parabench_backend_operations_total"])
	assert.True(t, names["parabench_backend_operation_duration_seconds"])
	assert.True(t, names["parabench_errors_total"])
}

func TestErrorKindLabel(t *testing.T) {
	c, err := NewCollector(nil)
	require.NoError(t, err)

	c.RecordOperation("posix", "open", time.Microsecond, errors.New("plain"))

	fams, err := c.Gather()
	require.NoError(t, err)

	for _, f := range fams {
		if f.GetName() != "parabench_errors_total" {
			continue
		}
		require.Len(t, f.GetMetric(), 1)
		for _, l := range f.GetMetric()[0].GetLabel() {
			if l.GetName() == "kind" {
				assert.Equal(t, string(xerrors.KindInternal), l.GetValue())
			}
		}
	}
}

func TestPhaseTotalsAccumulate(t *testing.T) {
	c, err := NewCollector(nil)
	require.NoError(t, err)

	c.RecordPhase("write", 1<<20, 4)
	c.RecordPhase("write", 1<<20, 4)

	fams, err := c.Gather()
	require.NoError(t, err)

	for _, f := range fams {
		if f.GetName() != "parabench_phase_bytes_total" {
			continue
		}
		require.Len(t, f.GetMetric(), 1)
		assert.Equal(t, float64(2<<20), f.GetMetric()[0].GetCounter().GetValue())
	}
}
