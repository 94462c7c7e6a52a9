// Package metrics exposes per-operation benchmark instrumentation as
// Prometheus metrics. Collection is optional; with a nil or disabled
// config every record call is a no-op, so the hot path carries no
// conditional logic at the call sites.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/parabench/parabench/pkg/xerrors"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Collector tracks backend operation counts, latencies and transfer
// sizes, and the async pipeline's in-flight window.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	opCounter  *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	xferBytes  *prometheus.HistogramVec
	inflight   *prometheus.GaugeVec
	errorKinds *prometheus.CounterVec
	phaseBytes *prometheus.CounterVec
	phaseItems *prometheus.CounterVec

	server *http.Server
}

// NewCollector creates a collector. A nil config enables collection on
// the default port.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "parabench",
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	c.opCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "backend_operations_total",
			Help:      "Total number of backend operations",
		},
		[]string{"api", "op", "status"},
	)

	c.opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "backend_operation_duration_seconds",
			Help:      "Duration of backend operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12), // 10us to ~40s
		},
		[]string{"api", "op"},
	)

	c.xferBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "transfer_size_bytes",
			Help:      "Size of individual transfers in bytes",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 10), // 4KB to ~1GB
		},
		[]string{"api", "direction"},
	)

	c.inflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "pipeline_inflight_requests",
			Help:      "Requests currently in the async pipeline window",
		},
		[]string{"api"},
	)

	c.errorKinds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "errors_total",
			Help:      "Total errors by kind",
		},
		[]string{"op", "kind"},
	)

	c.phaseBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "phase_bytes_total",
			Help:      "Bytes moved per phase",
		},
		[]string{"phase"},
	)

	c.phaseItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "phase_items_total",
			Help:      "Items completed per phase",
		},
		[]string{"phase"},
	)
}

func (c *Collector) registerMetrics() error {
	for _, m := range []prometheus.Collector{
		c.opCounter,
		c.opDuration,
		c.xferBytes,
		c.inflight,
		c.errorKinds,
		c.phaseBytes,
		c.phaseItems,
	} {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records one backend call.
func (c *Collector) RecordOperation(api, op string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		c.errorKinds.With(prometheus.Labels{
			"op":   op,
			"kind": string(xerrors.KindOf(err)),
		}).Inc()
	}

	c.opCounter.With(prometheus.Labels{"api": api, "op": op, "status": status}).Inc()
	c.opDuration.With(prometheus.Labels{"api": api, "op": op}).Observe(duration.Seconds())
}

// RecordTransfer records the size of one completed transfer.
func (c *Collector) RecordTransfer(api, direction string, bytes int64) {
	if !c.config.Enabled {
		return
	}
	c.xferBytes.With(prometheus.Labels{"api": api, "direction": direction}).Observe(float64(bytes))
}

// SetInflight updates the pipeline window gauge.
func (c *Collector) SetInflight(api string, n int) {
	if !c.config.Enabled {
		return
	}
	c.inflight.With(prometheus.Labels{"api": api}).Set(float64(n))
}

// RecordPhase accumulates phase totals.
func (c *Collector) RecordPhase(phase string, bytes, items int64) {
	if !c.config.Enabled {
		return
	}
	c.phaseBytes.With(prometheus.Labels{"phase": phase}).Add(float64(bytes))
	c.phaseItems.With(prometheus.Labels{"phase": phase}).Add(float64(items))
}

// Gather returns the current metric families, mainly for tests and the
// end-of-run report.
func (c *Collector) Gather() ([]*dto.MetricFamily, error) {
	if !c.config.Enabled {
		return nil, nil
	}
	return c.registry.Gather()
}
