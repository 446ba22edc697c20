package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Producer kinds.
const (
	KindHTTP    = "http"
	KindProcess = "process"
)

// Well-known producer defaults.
const (
	DefaultHashiHost      = "127.0.0.1"
	DefaultHashiPort      = 8766
	DefaultHashiIdentity  = "Hashi"
	DefaultRefreshTimeout = 10 * time.Second
	DefaultStaleTolerance = 10 * time.Minute
)

// Endpoint describes one external producer. It is derived from the record
// and immutable for the duration of a run.
type Endpoint struct {
	// Name identifies the producer in logs and messages.
	Name string `json:"name" validate:"required"`

	// Kind selects the trigger implementation (http or process).
	Kind string `json:"kind" validate:"required,oneof=http process"`

	// Enabled producers are refreshed before every sync.
	Enabled bool `json:"enabled"`

	Host string `json:"host" validate:"required_if=Kind http"`
	Port int    `json:"port" validate:"omitempty,min=1,max=65535"`

	// Token is passed to the export call when set.
	Token string `json:"-"`

	// Identity is the name the producer reports from ping and export.
	Identity string `json:"identity"`

	// RefreshTimeout bounds the wait for the artifact to advance.
	RefreshTimeout time.Duration `json:"refresh_timeout" validate:"min=0"`

	// StaleTolerance is how old an existing artifact may be when the
	// producer cannot be reached.
	StaleTolerance time.Duration `json:"stale_tolerance" validate:"min=0"`

	// RequireFresh makes failure to refresh fatal.
	RequireFresh bool `json:"require_fresh"`

	// ArtifactPath is the exported file. Empty when the producer does not
	// use a file hand-off or the location is unknown.
	ArtifactPath string `json:"artifact_path"`

	// Command is the export command for process producers.
	Command []string `json:"command" validate:"required_if=Kind process"`
}

// CommandSpec describes an external command tokei invokes.
type CommandSpec struct {
	Command []string      `json:"command" validate:"required,min=1"`
	Dir     string        `json:"dir"`
	Timeout time.Duration `json:"timeout" validate:"min=0"`
}

// TelemetrySettings selects log level, trace exporter and metrics output.
type TelemetrySettings struct {
	LogLevel       string `json:"log_level" validate:"oneof=trace debug info warn error"`
	TraceExporter  string `json:"trace_exporter" validate:"oneof=none stdout otlp"`
	TraceEndpoint  string `json:"trace_endpoint" validate:"required_if=TraceExporter otlp"`
	MetricsEnabled bool   `json:"metrics_enabled"`
}

// Settings is the typed, validated view of a Record.
type Settings struct {
	Paths Paths `json:"paths"`

	OutputDir   string `json:"output_dir" validate:"required"`
	Timezone    string `json:"timezone"`
	Theme       string `json:"theme"`
	AnkiProfile string `json:"anki_profile"`

	// Producers are refreshed in this order.
	Producers []Endpoint `json:"producers" validate:"dive"`

	Adapter   CommandSpec       `json:"adapter"`
	Renderer  CommandSpec       `json:"renderer"`
	Telemetry TelemetrySettings `json:"telemetry"`
}

var validate = validator.New()

// Defaults returns the record a fresh setup starts from.
func Defaults() Record {
	return Record{
		"anki_profile": "User 1",
		"timezone":     "local",
		"theme":        "midnight",
		"output_dir":   "output",
		"one_page":     true,
		"hashi": map[string]interface{}{
			"enabled":            true,
			"host":               DefaultHashiHost,
			"port":               float64(DefaultHashiPort),
			"token":              nil,
			"refresh_timeout_ms": float64(DefaultRefreshTimeout / time.Millisecond),
			"require_fresh":      true,
		},
		"anki_snapshot": map[string]interface{}{
			"enabled": false,
			"rules":   []interface{}{},
		},
		"toggl": map[string]interface{}{
			"start_date":          "auto",
			"refresh_days_back":   float64(60),
			"refresh_buffer_days": float64(2),
			"chunk_days":          float64(7),
			"baseline_hours":      float64(0),
		},
		"ankimorphs": map[string]interface{}{"known_interval_days": float64(21)},
		"mokuro":     map[string]interface{}{"volume_data_path": ""},
		"gsm":        map[string]interface{}{"db_path": "auto"},
	}
}

// Settings derives the typed view, applying defaults for anything unset,
// and validates it.
func (r Record) Settings(paths Paths) (*Settings, error) {
	s := &Settings{
		Paths:       paths,
		OutputDir:   paths.Output,
		Timezone:    getString(r, "timezone", "local"),
		Theme:       getString(r, "theme", "midnight"),
		AnkiProfile: getString(r, "anki_profile", "User 1"),
	}
	if out := getString(r, "output_dir", ""); out != "" {
		s.OutputDir = resolveUnder(paths.Root, out)
	}

	s.Producers = append(s.Producers, r.hashiEndpoint(paths))
	if snap, ok := r.snapshotEndpoint(paths); ok {
		s.Producers = append(s.Producers, snap)
	}

	s.Adapter = r.commandSpec("sync", paths, []string{"python", filepath.Join(paths.AppRoot, "tools", "tokei_sync.py")}, 0)
	s.Renderer = r.commandSpec("renderer", paths, []string{"tokei-render"}, 2*time.Minute)

	tel := r.section("telemetry")
	tracing, _ := asMap(tel["tracing"])
	if tracing == nil {
		tracing = map[string]interface{}{}
	}
	s.Telemetry = TelemetrySettings{
		LogLevel:       strings.ToLower(getString(tel, "log_level", "info")),
		TraceExporter:  strings.ToLower(getString(tracing, "exporter", "none")),
		TraceEndpoint:  getString(tracing, "endpoint", ""),
		MetricsEnabled: getBool(tel, "metrics", true),
	}

	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

func (r Record) hashiEndpoint(paths Paths) Endpoint {
	h := r.section("hashi")
	ep := Endpoint{
		Name:           "hashi",
		Kind:           KindHTTP,
		Enabled:        getBool(h, "enabled", true),
		Host:           getString(h, "host", DefaultHashiHost),
		Port:           int(getNumber(h, "port", DefaultHashiPort)),
		Token:          getString(h, "token", ""),
		Identity:       getString(h, "identity", DefaultHashiIdentity),
		RefreshTimeout: millis(h, "refresh_timeout_ms", DefaultRefreshTimeout),
		StaleTolerance: millis(h, "stale_tolerance_ms", DefaultStaleTolerance),
		// Only an explicit false relaxes freshness.
		RequireFresh: getBool(h, "require_fresh", true),
		ArtifactPath: resolveUnder(paths.Root, getString(h, "stats_path", "")),
	}
	return ep
}

// snapshotEndpoint is the process-based exporter that writes the same
// stats snapshot from the collection database directly.
func (r Record) snapshotEndpoint(paths Paths) (Endpoint, bool) {
	snap := r.section("anki_snapshot")
	if !getBool(snap, "enabled", false) {
		return Endpoint{}, false
	}
	cmd := getStrings(snap, "command")
	if len(cmd) == 0 {
		cmd = []string{"python", filepath.Join(paths.AppRoot, "tools", "tokei_anki_export.py"), "--trigger", "tokei"}
	}
	hashi := r.section("hashi")
	artifact := getString(snap, "stats_path", getString(hashi, "stats_path", ""))
	return Endpoint{
		Name:           "anki_snapshot",
		Kind:           KindProcess,
		Enabled:        true,
		Identity:       "anki_snapshot",
		RefreshTimeout: millis(snap, "refresh_timeout_ms", DefaultRefreshTimeout),
		StaleTolerance: millis(snap, "stale_tolerance_ms", DefaultStaleTolerance),
		RequireFresh:   getBool(snap, "require_fresh", false),
		ArtifactPath:   resolveUnder(paths.Root, artifact),
		Command:        cmd,
	}, true
}

func (r Record) commandSpec(section string, paths Paths, def []string, defTimeout time.Duration) CommandSpec {
	m := r.section(section)
	cmd := getStrings(m, "command")
	if len(cmd) == 0 {
		cmd = def
	}
	dir := resolveUnder(paths.Root, getString(m, "dir", ""))
	if dir == "" {
		dir = paths.AppRoot
	}
	return CommandSpec{
		Command: cmd,
		Dir:     dir,
		Timeout: millis(m, "timeout_ms", defTimeout),
	}
}

func millis(m map[string]interface{}, key string, def time.Duration) time.Duration {
	v := getNumber(m, key, -1)
	if v < 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

// Location resolves the configured timezone. "local" and "system" mean the
// host zone; an unknown zone also falls back to it, matching hosts that
// ship without tzdata.
func (s *Settings) Location() *time.Location {
	switch strings.ToLower(s.Timezone) {
	case "", "local", "system":
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// EnabledProducers returns the producers to refresh, in order.
func (s *Settings) EnabledProducers() []Endpoint {
	out := make([]Endpoint, 0, len(s.Producers))
	for _, p := range s.Producers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}
