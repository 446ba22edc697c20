package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for tokei runs. A tokei process is
// short-lived, so the registry is written to a textfile instead of served.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastRunTime   prometheus.Gauge
	lastExitCode  prometheus.Gauge

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Producer metrics
	producerRefreshes *prometheus.CounterVec
	producerDuration  *prometheus.HistogramVec

	// Outcome metrics
	classifications *prometheus.CounterVec
	reportsRendered *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a run in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		lastRunTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
		lastExitCode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_exit_code",
				Help:      "Public exit code of the last run",
			},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of run steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of run steps in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),

		producerRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "producer_refreshes_total",
				Help:      "Total number of producer refreshes by result",
			},
			[]string{"producer", "result"},
		),
		producerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "producer_refresh_duration_seconds",
				Help:      "Duration of producer refreshes in seconds",
				Buckets:   buckets,
			},
			[]string{"producer"},
		),

		classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classifications_total",
				Help:      "Total number of failures by public kind",
			},
			[]string{"kind"},
		),
		reportsRendered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_rendered_total",
				Help:      "Total number of reports rendered",
			},
			[]string{"resolution"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.lastRunTime,
		m.lastExitCode,
		m.stepsExecuted,
		m.stepDuration,
		m.producerRefreshes,
		m.producerDuration,
		m.classifications,
		m.reportsRendered,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(mode string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
}

// RecordRunCompleted records a finished run with its status, exit code
// and duration.
func (m *Metrics) RecordRunCompleted(status string, exitCode int, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.lastRunTime.SetToCurrentTime()
	m.lastExitCode.Set(float64(exitCode))
}

// Step Metrics

// RecordStep records one executed run step.
func (m *Metrics) RecordStep(step, status string, duration time.Duration) {
	if m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// Producer Metrics

// RecordProducerRefresh records a producer refresh. Result is one of
// fresh, stale, skipped or failed.
func (m *Metrics) RecordProducerRefresh(producer, result string, duration time.Duration) {
	if m.producerRefreshes == nil {
		return
	}
	m.producerRefreshes.WithLabelValues(producer, result).Inc()
	m.producerDuration.WithLabelValues(producer).Observe(duration.Seconds())
}

// Outcome Metrics

// RecordClassification records a failure by its public kind.
func (m *Metrics) RecordClassification(kind string) {
	if m.classifications == nil {
		return
	}
	m.classifications.WithLabelValues(kind).Inc()
}

// RecordReportRendered records a rendered report.
func (m *Metrics) RecordReportRendered(resolution string) {
	if m.reportsRendered == nil {
		return
	}
	if resolution == "" {
		resolution = "none"
	}
	m.reportsRendered.WithLabelValues(resolution).Inc()
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the registry to the configured textfile path.
// Nothing is written when metrics are disabled or no path is set.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.TextfilePath), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
