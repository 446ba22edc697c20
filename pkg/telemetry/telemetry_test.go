package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokei-app/tokei/pkg/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp" }, wantErr: true},
		{name: "otlp with endpoint", mutate: func(c *Config) {
			c.Tracing.Exporter = "otlp"
			c.Tracing.Endpoint = "localhost:4317"
		}},
		{name: "unknown exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: true},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestForSettings(t *testing.T) {
	cfg := ForSettings(nil, "")
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.Empty(t, cfg.Metrics.TextfilePath)

	cfg = ForSettings(&config.TelemetrySettings{
		LogLevel:      "debug",
		TraceExporter: "otlp",
		TraceEndpoint: "collector:4317",
	}, "/data/state")

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, filepath.Join("/data/state", MetricsFileName), cfg.Metrics.TextfilePath)
	require.NoError(t, cfg.Validate())
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("producer").
		WithRunID("r1").
		WithProducer("hashi", 8766).
		Warn("export is stale")

	out := buf.String()
	assert.Contains(t, out, `"component":"producer"`)
	assert.Contains(t, out, `"run_id":"r1"`)
	assert.Contains(t, out, `"port":8766`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Error("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestMetrics_TextfileAndCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "metrics.prom")
	cfg := DefaultConfig().Metrics
	cfg.TextfilePath = path

	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	m.RecordRunStarted("run")
	m.RecordProducerRefresh("hashi", "fresh", 300*time.Millisecond)
	m.RecordClassification("storage_error")
	m.RecordRunCompleted("failed", 3, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.classifications.WithLabelValues("storage_error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.lastExitCode))

	require.NoError(t, m.WriteTextfile())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `tokei_producer_refreshes_total{producer="hashi",result="fresh"} 1`)
	assert.Contains(t, string(data), "tokei_last_run_exit_code 3")
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false, TextfilePath: filepath.Join(t.TempDir(), "m.prom")})
	require.NoError(t, err)

	m.RecordRunStarted("run")
	m.RecordRunCompleted("succeeded", 0, time.Second)
	assert.NoError(t, m.WriteTextfile())
	assert.Nil(t, m.Registry())
}

func TestEventPublisher_SyncDeliveryOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	require.NoError(t, err)

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Step) }, FilterByType(EventTypeStateChanged))

	require.NoError(t, ep.PublishRunStarted("r1", "run"))
	require.NoError(t, ep.PublishStateChanged("r1", "", "config_ready", ""))
	require.NoError(t, ep.PublishStateChanged("r1", "config_ready", "syncing", ""))

	assert.Equal(t, []string{"config_ready", "syncing"}, got)
	require.NoError(t, ep.Shutdown(context.Background()))
}

func TestEventPublisher_AsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})
	require.NoError(t, err)

	count := 0
	ep.Subscribe(func(Event) { count++ }, nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, ep.PublishWarning("r1", "test", "w"))
	}
	require.NoError(t, ep.Shutdown(context.Background()))
	assert.Equal(t, 10, count)

	assert.Error(t, ep.PublishWarning("r1", "test", "late"))
}

func TestEventPublisher_Filters(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	require.NoError(t, err)
	ep.AddFilter(FilterByLevel(EventLevelWarning))

	var msgs []string
	ep.Subscribe(func(e Event) { msgs = append(msgs, e.Message) }, FilterByRunID("r1"))

	require.NoError(t, ep.PublishStateChanged("r1", "a", "b", "info level"))
	require.NoError(t, ep.PublishWarning("r1", "engine", "kept"))
	require.NoError(t, ep.PublishWarning("r2", "engine", "other run"))

	assert.Equal(t, []string{"kept"}, msgs)
}

func TestRecordStep(t *testing.T) {
	tel := NewNop()
	ctx := tel.WithContext(context.Background())

	boom := errors.New("boom")
	err := RecordStep(ctx, "rendering", func(ctx context.Context) error {
		assert.NotNil(t, FromTelemetryContext(ctx))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, RecordStep(context.Background(), "rendering", func(context.Context) error { return nil }))
}

func TestRunContext_PublishesTerminalEvent(t *testing.T) {
	tel := NewNop()
	var last Event
	tel.Events.Subscribe(func(e Event) { last = e }, nil)

	ctx := WithRunContext(tel.WithContext(context.Background()), "r9", "run")
	EndRunContext(ctx, "r9", "failed", 2, "producer unreachable", errors.New("x"))

	assert.Equal(t, EventTypeRunFailed, last.Type)
	assert.Equal(t, EventLevelError, last.Level)
	assert.True(t, strings.Contains(last.Message, "unreachable"))
	assert.Equal(t, 2, last.Data["exit_code"])
}
