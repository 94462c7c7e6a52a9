// Package stats accumulates per-rank phase measurements and folds them into
// cross-rank aggregate statistics for the reporting layer.
package stats

import (
	"math"
	"time"

	"github.com/parabench/parabench/internal/collective"
)

// Timer indices bracketing the three sub-operations of an I/O phase.
const (
	TimerOpenStart = iota
	TimerOpenStop
	TimerXferStart
	TimerXferStop
	TimerCloseStart
	TimerCloseStop
	NumTimers
)

// PhaseTimers holds monotonic clock readings, in seconds relative to the
// process clock epoch, for one phase on one rank.
type PhaseTimers struct {
	T [NumTimers]float64
}

var epoch = time.Now()

// Now returns seconds on the monotonic clock shared by all ranks of an
// in-process group.
func Now() float64 {
	return time.Since(epoch).Seconds()
}

// Mark records the current time at a timer point.
func (pt *PhaseTimers) Mark(idx int) {
	pt.T[idx] = Now()
}

// OpenTime returns the open sub-operation duration.
func (pt *PhaseTimers) OpenTime() float64 { return pt.T[TimerOpenStop] - pt.T[TimerOpenStart] }

// XferTime returns the transfer sub-operation duration.
func (pt *PhaseTimers) XferTime() float64 { return pt.T[TimerXferStop] - pt.T[TimerXferStart] }

// CloseTime returns the close sub-operation duration.
func (pt *PhaseTimers) CloseTime() float64 { return pt.T[TimerCloseStop] - pt.T[TimerCloseStart] }

// TotalTime returns the span from open start to close stop.
func (pt *PhaseTimers) TotalTime() float64 { return pt.T[TimerCloseStop] - pt.T[TimerOpenStart] }

// ReduceTimers folds per-rank timers into the phase-wide window: start
// points reduce with Min, stop points with Max, so the window covers the
// slowest rank.
func ReduceTimers(comm collective.Communicator, pt *PhaseTimers) PhaseTimers {
	var out PhaseTimers
	for i := 0; i < NumTimers; i++ {
		op := collective.Max
		if i%2 == 0 {
			op = collective.Min
		}
		out.T[i] = comm.ReduceFloat64(pt.T[i], op)
	}
	return out
}

// State reports how a phase ended on one rank.
type State int

const (
	NotStarted State = iota
	Running
	Completed
	StonewallHit
	Failed
	Synchronized
	Done
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case StonewallHit:
		return "stonewall-hit"
	case Failed:
		return "failed"
	case Synchronized:
		return "synchronized"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// PhaseResult is the per-rank outcome of one benchmark phase. It is owned by
// the producing rank until folded into aggregate statistics.
type PhaseResult struct {
	Phase      string      `json:"phase"`
	Rank       int         `json:"rank"`
	State      State       `json:"-"`
	StateName  string      `json:"state"`
	Items      int64       `json:"items"`
	Bytes      int64       `json:"bytes"`
	Timers     PhaseTimers `json:"-"`
	OpenTime   float64     `json:"open_time_s"`
	XferTime   float64     `json:"xfer_time_s"`
	CloseTime  float64     `json:"close_time_s"`
	Elapsed    float64     `json:"elapsed_s"`
	Mismatches int64       `json:"verification_mismatches"`
	Err        error       `json:"-"`
}

// Finalize copies derived fields out of the raw timers.
func (r *PhaseResult) Finalize() {
	r.StateName = r.State.String()
	r.OpenTime = r.Timers.OpenTime()
	r.XferTime = r.Timers.XferTime()
	r.CloseTime = r.Timers.CloseTime()
	r.Elapsed = r.Timers.TotalTime()
}

// AggregateStatistic is the cross-rank reduction of one PhaseResult field.
// Immutable once computed.
type AggregateStatistic struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Aggregate reduces one value per rank into min/max/mean/stddev with a
// single collective pass: sum and sum-of-squares are reduced alongside min
// and max so no second round trip is needed.
func Aggregate(comm collective.Communicator, v float64) AggregateStatistic {
	n := float64(comm.Size())
	min := comm.ReduceFloat64(v, collective.Min)
	max := comm.ReduceFloat64(v, collective.Max)
	sum := comm.ReduceFloat64(v, collective.Sum)
	sumsq := comm.ReduceFloat64(v*v, collective.Sum)

	mean := sum / n
	variance := sumsq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return AggregateStatistic{Min: min, Max: max, Mean: mean, StdDev: math.Sqrt(variance)}
}

// PhaseSummary is the phase-wide record handed to the reporting layer.
type PhaseSummary struct {
	Phase string `json:"phase"`
	Ranks int    `json:"ranks"`

	// Aggregate data and item counts across ranks. Item counts may be
	// heterogeneous per rank when stonewalling fired.
	Bytes int64 `json:"bytes"`
	Items int64 `json:"items"`

	// Wall-clock window of the slowest rank.
	OpenTime  float64 `json:"open_time_s"`
	XferTime  float64 `json:"xfer_time_s"`
	CloseTime float64 `json:"close_time_s"`
	Elapsed   float64 `json:"elapsed_s"`

	// Bandwidth in bytes/s over the phase window; rate in items/s.
	Bandwidth float64 `json:"bandwidth_bps"`
	OpRate    float64 `json:"op_rate"`

	BandwidthStats AggregateStatistic `json:"bandwidth_stats"`
	RateStats      AggregateStatistic `json:"rate_stats"`

	Mismatches int64 `json:"verification_mismatches"`
	Stonewall  bool  `json:"stonewall_hit"`
	Failed     bool  `json:"failed"`
}

// Summarize folds every rank's PhaseResult into the phase-wide summary.
// Each rank computes the identical summary from the same reduced values.
func Summarize(comm collective.Communicator, r *PhaseResult) PhaseSummary {
	reduced := ReduceTimers(comm, &r.Timers)

	totalBytes := comm.ReduceInt64(r.Bytes, collective.Sum)
	totalItems := comm.ReduceInt64(r.Items, collective.Sum)
	mismatches := comm.ReduceInt64(r.Mismatches, collective.Sum)

	stonewalled := comm.ReduceInt64(boolToInt64(r.State == StonewallHit), collective.Max) != 0
	failed := comm.ReduceInt64(boolToInt64(r.State == Failed), collective.Max) != 0

	elapsed := reduced.T[TimerCloseStop] - reduced.T[TimerOpenStart]
	xfer := reduced.T[TimerXferStop] - reduced.T[TimerXferStart]

	var bw, rate float64
	if elapsed > 0 {
		bw = float64(totalBytes) / elapsed
	}
	if xfer > 0 {
		rate = float64(totalItems) / xfer
	}

	var localBW, localRate float64
	if t := r.Timers.XferTime(); t > 0 {
		localBW = float64(r.Bytes) / t
		localRate = float64(r.Items) / t
	}

	return PhaseSummary{
		Phase:          r.Phase,
		Ranks:          comm.Size(),
		Bytes:          totalBytes,
		Items:          totalItems,
		OpenTime:       reduced.T[TimerOpenStop] - reduced.T[TimerOpenStart],
		XferTime:       xfer,
		CloseTime:      reduced.T[TimerCloseStop] - reduced.T[TimerCloseStart],
		Elapsed:        elapsed,
		Bandwidth:      bw,
		OpRate:         rate,
		BandwidthStats: Aggregate(comm, localBW),
		RateStats:      Aggregate(comm, localRate),
		Mismatches:     mismatches,
		Stonewall:      stonewalled,
		Failed:         failed,
	}
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
