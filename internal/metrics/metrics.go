package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/therealutkarshpriyadarshi/dvblogparser/pkg/types"
)

// Namespace for all metrics
const namespace = "dvblogparser"

// Line outcomes used as the "outcome" label
const (
	OutcomeAdmitted  = "admitted"
	OutcomeDuplicate = "duplicate"
	OutcomeExpired   = "expired"
	OutcomeMalformed = "malformed"
)

// Worker job states used as the "status" label
const (
	JobProcessed = "processed"
	JobFailed    = "failed"
	JobSkipped   = "skipped"
)

// Collector holds the metrics of one run
type Collector struct {
	// Scan metrics
	LinesTotal   *prometheus.CounterVec
	FilesScanned prometheus.Counter
	FilesSkipped prometheus.Counter
	ScanDuration *prometheus.HistogramVec

	// Worker metrics
	WorkerJobs     *prometheus.CounterVec
	WorkerPoolSize prometheus.Gauge

	// State metrics
	WorkingSetSize  prometheus.Gauge
	RecordsPruned   prometheus.Counter
	NewErrors       prometheus.Counter
	PersistDuration prometheus.Histogram

	// Run metrics
	RunDuration      prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
	LastRunSuccess   prometheus.Gauge

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initScanMetrics()
	c.initWorkerMetrics()
	c.initStateMetrics()
	c.initRunMetrics()
	c.initSystemMetrics()

	return c
}

func (c *Collector) initScanMetrics() {
	c.LinesTotal = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "lines_total",
			Help:      "Total number of log lines read, by admission outcome",
		},
		[]string{"outcome"},
	)

	c.FilesScanned = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "files_scanned_total",
			Help:      "Total number of log files read",
		},
	)

	c.FilesSkipped = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "files_skipped_total",
			Help:      "Total number of unchanged log files skipped",
		},
	)

	c.ScanDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "file_duration_seconds",
			Help:      "Time spent scanning a single file",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
		},
		[]string{"compression"},
	)
}

func (c *Collector) initWorkerMetrics() {
	c.WorkerJobs = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total number of file scan jobs, by status",
		},
		[]string{"status"},
	)

	c.WorkerPoolSize = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "pool_size",
			Help:      "Number of scan workers in the last run",
		},
	)
}

func (c *Collector) initStateMetrics() {
	c.WorkingSetSize = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "records",
			Help:      "Number of records in the persisted working set",
		},
	)

	c.RecordsPruned = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "records_pruned_total",
			Help:      "Total number of records dropped for falling out of the retention window",
		},
	)

	c.NewErrors = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "new_errors_total",
			Help:      "Total number of newly seen records reported at the output level",
		},
	)

	c.PersistDuration = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "persist_duration_seconds",
			Help:      "Time spent writing the snapshot and its mirrors",
			Buckets:   prometheus.DefBuckets,
		},
	)
}

func (c *Collector) initRunMetrics() {
	c.RunDuration = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall time of the last run",
		},
	)

	c.LastRunTimestamp = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_timestamp_seconds",
			Help:      "Unix time the last run finished",
		},
	)

	c.LastRunSuccess = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_success",
			Help:      "Whether the last run persisted its state (1) or failed (0)",
		},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_alloc_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)
}

// ObserveStats adds per-line outcome counts
func (c *Collector) ObserveStats(stats types.RunStats) {
	c.LinesTotal.WithLabelValues(OutcomeAdmitted).Add(float64(stats.Admitted))
	c.LinesTotal.WithLabelValues(OutcomeDuplicate).Add(float64(stats.Duplicates))
	c.LinesTotal.WithLabelValues(OutcomeExpired).Add(float64(stats.Expired))
	c.LinesTotal.WithLabelValues(OutcomeMalformed).Add(float64(stats.Malformed))
}

// ObservePool records the job counts of one worker pool run. A failed job
// is also counted as processed.
func (c *Collector) ObservePool(workers int, processed, failed, skipped uint64) {
	c.WorkerPoolSize.Set(float64(workers))
	c.WorkerJobs.WithLabelValues(JobProcessed).Add(float64(processed))
	c.WorkerJobs.WithLabelValues(JobFailed).Add(float64(failed))
	c.WorkerJobs.WithLabelValues(JobSkipped).Add(float64(skipped))
}

// ObserveRun records the end of a run
func (c *Collector) ObserveRun(duration time.Duration, success bool) {
	c.RunDuration.Set(duration.Seconds())
	c.LastRunTimestamp.SetToCurrentTime()
	if success {
		c.LastRunSuccess.Set(1)
	} else {
		c.LastRunSuccess.Set(0)
	}
	c.collectSystemMetrics()
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
}

// WriteTextfile writes every metric in the Prometheus text format for the
// node_exporter textfile collector. An empty path is a no-op.
func (c *Collector) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
