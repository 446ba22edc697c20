package telemetry

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/tokei-app/tokei/pkg/config"
)

// MetricsFileName is the textfile-collector output under the state directory.
const MetricsFileName = "metrics.prom"

// Config contains the telemetry configuration for a tokei process.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Logging contains logging configuration.
	Logging LoggingConfig

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig

	// Events contains event publishing configuration.
	Events EventsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format specifies the log format (console, json).
	Format string

	// Output specifies where logs are written (stdout, stderr, discard, file path).
	Output string

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool

	// NoColor disables ANSI colors in console output.
	NoColor bool
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// ExportTimeout is the timeout for trace export.
	ExportTimeout time.Duration

	// Insecure disables TLS for the exporter connection.
	Insecure bool
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Namespace is the metrics namespace prefix.
	Namespace string

	// TextfilePath is where the registry is written after a run, in the
	// node-exporter textfile format. Empty disables the write.
	TextfilePath string

	// DefaultHistogramBuckets are the default latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the event publishing system.
type EventsConfig struct {
	// Enabled controls whether event publishing is active.
	Enabled bool

	// BufferSize is the size of the event buffer in async mode.
	BufferSize int

	// EnableAsync delivers events from a background goroutine.
	EnableAsync bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "tokei",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 5 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "tokei",
			DefaultHistogramBuckets: []float64{
				0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
			},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// ForSettings returns the default configuration with the user's telemetry
// settings applied. A nil s keeps the defaults. Metrics are written under
// stateDir.
func ForSettings(s *config.TelemetrySettings, stateDir string) *Config {
	cfg := DefaultConfig()
	if stateDir != "" {
		cfg.Metrics.TextfilePath = filepath.Join(stateDir, MetricsFileName)
	}
	if s == nil {
		return cfg
	}

	if s.LogLevel != "" {
		cfg.Logging.Level = s.LogLevel
	}
	if s.TraceExporter != "" {
		cfg.Tracing.Exporter = s.TraceExporter
	}
	cfg.Tracing.Endpoint = s.TraceEndpoint
	cfg.Metrics.Enabled = s.MetricsEnabled
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	switch c.Tracing.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("otlp trace exporter requires an endpoint")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Events.EnableAsync && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	return nil
}
