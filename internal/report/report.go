// Package report renders benchmark outcomes for humans and machines: a
// colored summary table on a terminal and a self-contained JSON document
// for tooling.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/parabench/parabench/internal/config"
	"github.com/parabench/parabench/internal/stats"
)

// Version identifies the report schema, not the binary.
const Version = "1.0"

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

// Document is the complete record of one benchmark run.
type Document struct {
	Version    string               `json:"version"`
	RunID      string               `json:"run_id"`
	Machine    string               `json:"machine"`
	Began      time.Time            `json:"began"`
	Finished   time.Time            `json:"finished"`
	Parameters config.Parameters    `json:"parameters"`
	Results    []stats.PhaseResult  `json:"results"`
	Summaries  []stats.PhaseSummary `json:"summaries"`
}

// NewDocument stamps the run header. Finish must be called before the
// document is written out.
func NewDocument(params config.Parameters) *Document {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Document{
		Version:    Version,
		RunID:      uuid.New().String(),
		Machine:    host,
		Began:      time.Now().UTC(),
		Parameters: params,
	}
}

// Finish records the end timestamp and attaches the run's outcomes.
func (d *Document) Finish(results []stats.PhaseResult, summaries []stats.PhaseSummary) {
	d.Finished = time.Now().UTC()
	d.Results = results
	d.Summaries = summaries
}

// WriteJSON emits the document as indented JSON.
func (d *Document) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// SaveJSON writes the document to path, creating or truncating the file.
func (d *Document) SaveJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.WriteJSON(f)
}

// RenderTable prints the per-phase summary table.
func (d *Document) RenderTable(w io.Writer) error {
	_, _ = bold.Fprintf(w, "parabench run %s on %s\n", d.RunID, d.Machine)
	_, _ = fmt.Fprintf(w, "api=%s tasks=%d block=%s xfer=%s segments=%d qd=%d\n\n",
		d.Parameters.Run.API,
		d.Parameters.Run.NumTasks,
		formatBytes(d.Parameters.Data.BlockSize),
		formatBytes(d.Parameters.Data.TransferSize),
		d.Parameters.Data.SegmentCount,
		d.Parameters.Data.QueueDepth)

	table := tablewriter.NewWriter(w)
	table.Header("Phase", "Moved", "Items", "Bandwidth", "Ops/sec", "Open", "Xfer", "Close", "Total", "Status")

	for _, s := range d.Summaries {
		if err := table.Append(
			s.Phase,
			formatBytes(s.Bytes),
			fmt.Sprintf("%d", s.Items),
			formatBandwidth(s.Bandwidth),
			fmt.Sprintf("%.1f", s.OpRate),
			formatSeconds(s.OpenTime),
			formatSeconds(s.XferTime),
			formatSeconds(s.CloseTime),
			formatSeconds(s.Elapsed),
			statusLabel(s),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderRankDetail prints the per-rank bandwidth spread for each phase,
// which is where load imbalance shows up first.
func (d *Document) RenderRankDetail(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Phase", "BW Min", "BW Max", "BW Mean", "BW StdDev", "Rate Mean")

	for _, s := range d.Summaries {
		if err := table.Append(
			s.Phase,
			formatBandwidth(s.BandwidthStats.Min),
			formatBandwidth(s.BandwidthStats.Max),
			formatBandwidth(s.BandwidthStats.Mean),
			formatBandwidth(s.BandwidthStats.StdDev),
			fmt.Sprintf("%.1f", s.RateStats.Mean),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func statusLabel(s stats.PhaseSummary) string {
	switch {
	case s.Failed:
		return red.Sprint("FAILED")
	case s.Mismatches > 0:
		return red.Sprintf("MISMATCH(%d)", s.Mismatches)
	case s.Stonewall:
		return yellow.Sprint("STONEWALL")
	default:
		return green.Sprint("OK")
	}
}

func formatBytes(n int64) string {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
		tib = 1 << 40
	)
	switch {
	case n >= tib:
		return fmt.Sprintf("%.2f TiB", float64(n)/tib)
	case n >= gib:
		return fmt.Sprintf("%.2f GiB", float64(n)/gib)
	case n >= mib:
		return fmt.Sprintf("%.2f MiB", float64(n)/mib)
	case n >= kib:
		return fmt.Sprintf("%.2f KiB", float64(n)/kib)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func formatBandwidth(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	return formatBytes(int64(bps)) + "/s"
}

func formatSeconds(s float64) string {
	if s <= 0 {
		return "0"
	}
	if s < 0.001 {
		return fmt.Sprintf("%.0fµs", s*1e6)
	}
	if s < 1 {
		return fmt.Sprintf("%.2fms", s*1e3)
	}
	return fmt.Sprintf("%.3fs", s)
}
