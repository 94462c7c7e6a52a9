// Command parabench drives the parallel storage benchmark: it fans the
// configured task count out over a collective group, runs the data and
// metadata phases on each rank, and reports aggregate results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/parabench/parabench/internal/backend"
	"github.com/parabench/parabench/internal/backend/posix"
	"github.com/parabench/parabench/internal/collective"
	"github.com/parabench/parabench/internal/config"
	"github.com/parabench/parabench/internal/engine"
	"github.com/parabench/parabench/internal/metrics"
	"github.com/parabench/parabench/internal/report"
	"github.com/parabench/parabench/internal/stats"
	"github.com/parabench/parabench/pkg/logging"
)

var (
	configPath  = flag.String("config", "", "load parameters from a YAML file")
	dumpConfig  = flag.String("dump-config", "", "write the effective parameters to a YAML file and exit")
	jsonPath    = flag.String("json", "", "write the full run document as JSON to this path")
	rankDetail  = flag.Bool("detail", false, "print per-rank bandwidth spread")
	metricsPort = flag.Int("metrics-port", 0, "expose Prometheus metrics on this port (0 disables)")

	api       = flag.String("api", "", "backend API name")
	testDir   = flag.String("testdir", "", "directory holding test files")
	numTasks  = flag.Int("tasks", 0, "number of concurrent tasks")
	reps      = flag.Int("reps", 0, "repetitions of the full phase sequence")
	blockSize = flag.String("block", "", "per-task block size (accepts k/m/g suffix)")
	xferSize  = flag.String("xfer", "", "transfer size (accepts k/m/g suffix)")
	segments  = flag.Int64("segments", 0, "segment count")
	queueD    = flag.Int("qd", 0, "async queue depth (1 = synchronous)")
	fpp       = flag.Bool("fpp", false, "file per process instead of a shared file")
	random    = flag.Bool("random", false, "randomize transfer offsets")
	stonewall = flag.Int("stonewall", 0, "stop issuing transfers after this many seconds")
	metadata  = flag.Bool("metadata", false, "run the metadata phase suite")
	logLevel  = flag.String("loglevel", "", "debug, info, warn, or error")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "parabench: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	params, err := buildParams()
	if err != nil {
		return err
	}

	if *dumpConfig != "" {
		return params.SaveToFile(*dumpConfig)
	}
	if err := params.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(params.Run.LogLevel)
	if err != nil {
		return err
	}
	log := logging.New(level, os.Stderr)

	registry := backend.NewRegistry()
	if err := posix.Register(registry); err != nil {
		return err
	}
	factory, err := registry.Lookup(params.Run.API)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mc *metrics.Collector
	if *metricsPort > 0 {
		mc, err = metrics.NewCollector(&metrics.Config{Enabled: true, Port: *metricsPort})
		if err != nil {
			return err
		}
		if err := mc.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = mc.Stop(context.Background()) }()
	}

	doc := report.NewDocument(*params)

	resultsByRank := make([][]stats.PhaseResult, params.Run.NumTasks)
	var summaries []stats.PhaseSummary

	runErr := collective.Run(params.Run.NumTasks, func(comm collective.Communicator) error {
		be, err := factory(params.Data.QueueDepth)
		if err != nil {
			return err
		}
		defer be.Shutdown()

		opts := []engine.Option{}
		if mc != nil {
			opts = append(opts, engine.WithMetrics(mc))
		}
		eng, err := engine.New(params, be, comm, log, opts...)
		if err != nil {
			return err
		}

		out, err := eng.Run(ctx)
		if out != nil {
			resultsByRank[comm.Rank()] = out.Results
			if comm.Rank() == 0 {
				summaries = out.Summaries
			}
		}
		return err
	})

	var results []stats.PhaseResult
	for _, rr := range resultsByRank {
		results = append(results, rr...)
	}
	doc.Finish(results, summaries)

	if err := doc.RenderTable(os.Stdout); err != nil {
		return err
	}
	if *rankDetail {
		fmt.Println()
		if err := doc.RenderRankDetail(os.Stdout); err != nil {
			return err
		}
	}
	if *jsonPath != "" {
		if err := doc.SaveJSON(*jsonPath); err != nil {
			return err
		}
		log.Info("run document written to %s", *jsonPath)
	}
	return runErr
}

// buildParams layers configuration: defaults, then the config file, then
// the environment, then explicit flags.
func buildParams() (*config.Parameters, error) {
	params := config.NewDefault()
	if *configPath != "" {
		if err := params.LoadFromFile(*configPath); err != nil {
			return nil, err
		}
	}
	if err := params.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := applyFlags(params); err != nil {
		return nil, err
	}
	return params, nil
}

func applyFlags(params *config.Parameters) error {
	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api":
			params.Run.API = *api
		case "testdir":
			params.Run.TestDir = *testDir
		case "tasks":
			params.Run.NumTasks = *numTasks
		case "reps":
			params.Run.Repetitions = *reps
		case "block":
			params.Data.BlockSize, err = parseSize(*blockSize)
		case "xfer":
			params.Data.TransferSize, err = parseSize(*xferSize)
		case "segments":
			params.Data.SegmentCount = *segments
		case "qd":
			params.Data.QueueDepth = *queueD
		case "fpp":
			params.Access.FilePerProc = *fpp
		case "random":
			params.Access.RandomOffset = *random
		case "stonewall":
			params.Stonewall.DeadlineSec = *stonewall
		case "metadata":
			params.Metadata.Enabled = *metadata
		case "loglevel":
			params.Run.LogLevel = *logLevel
		}
	})
	return err
}

// parseSize reads a byte count with an optional k, m, or g suffix.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size %q: %w", s, err)
	}
	return n * mult, nil
}
