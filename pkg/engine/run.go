package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode selects which parts of the pipeline a run executes.
type Mode string

const (
	// ModeFull refreshes producers, syncs and renders.
	ModeFull Mode = "run"

	// ModeSyncOnly refreshes producers and syncs, without rendering.
	ModeSyncOnly Mode = "sync-only"

	// ModeNoSync skips producer refresh and asks the adapter to build the
	// report from its cache, then renders.
	ModeNoSync Mode = "no-sync"
)

// Validate checks if the mode is valid.
func (m Mode) Validate() error {
	switch m {
	case ModeFull, ModeSyncOnly, ModeNoSync:
		return nil
	default:
		return fmt.Errorf("invalid run mode: %s", m)
	}
}

// AdapterFlag returns the adapter mode flag for m, if any.
func (m Mode) AdapterFlag() string {
	switch m {
	case ModeSyncOnly:
		return FlagSyncOnly
	case ModeNoSync:
		return FlagNoSync
	default:
		return ""
	}
}

// Options control one run.
type Options struct {
	// RunID identifies the run. Generated when empty.
	RunID string

	// Mode selects the pipeline parts to execute. Defaults to ModeFull.
	Mode Mode

	// Resolution applies a duplicate-day resolution up front, without
	// prompting.
	Resolution Resolution

	// Interactive allows prompting and the setup hook. It must only be
	// true when a terminal is attached.
	Interactive bool
}

// RefreshOutcome describes how a producer refresh ended without error.
type RefreshOutcome string

const (
	// RefreshFresh means the artifact advanced past the run start.
	RefreshFresh RefreshOutcome = "fresh"

	// RefreshStale means the producer was unreachable but a recent enough
	// artifact exists.
	RefreshStale RefreshOutcome = "stale"

	// RefreshSkipped means refresh failed or was impossible and freshness
	// is not required.
	RefreshSkipped RefreshOutcome = "skipped"
)

// RefreshResult reports one producer refresh.
type RefreshResult struct {
	Producer string         `json:"producer"`
	Outcome  RefreshOutcome `json:"outcome"`

	// Port is the port the producer answered on, which may be the
	// fallback port. Zero for process producers.
	Port int `json:"port,omitempty"`

	// Warnings are soft failures to surface to the user.
	Warnings []string `json:"warnings,omitempty"`
}

// SyncRequest is one adapter invocation.
type SyncRequest struct {
	// Flags are the mode flags appended to the adapter's fixed arguments.
	Flags []string
}

// SyncResult is what a terminated adapter process reported.
type SyncResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// DuplicateInfo identifies the report that already exists for today.
type DuplicateInfo struct {
	Status      string `json:"status"`
	ReportNo    int    `json:"report_no"`
	GeneratedAt string `json:"generated_at"`
	ReportDay   string `json:"report_day"`
}

// StatusAlreadyGenerated is the adapter's duplicate-day status.
const StatusAlreadyGenerated = "already_generated"

// ParseDuplicate decodes the adapter's duplicate-day payload from stdout.
// The payload is the last non-empty stdout line.
func ParseDuplicate(stdout string) (*DuplicateInfo, bool) {
	line := lastLine(stdout)
	if !strings.HasPrefix(line, "{") {
		return nil, false
	}
	var raw struct {
		Status      string      `json:"status"`
		ReportNo    json.Number `json:"report_no"`
		GeneratedAt string      `json:"generated_at"`
		ReportDay   string      `json:"report_day"`
	}
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw.Status != StatusAlreadyGenerated {
		return nil, false
	}
	info := &DuplicateInfo{
		Status:      raw.Status,
		GeneratedAt: raw.GeneratedAt,
		ReportDay:   raw.ReportDay,
	}
	if n, err := raw.ReportNo.Int64(); err == nil {
		info.ReportNo = int(n)
	}
	return info, true
}

// Describe renders the duplicate for the prompt and logs.
func (d DuplicateInfo) Describe() string {
	no := "?"
	if d.ReportNo > 0 {
		no = fmt.Sprintf("%d", d.ReportNo)
	}
	if d.GeneratedAt != "" {
		return fmt.Sprintf("A report has already been generated for today (Report #%s at %s).", no, d.GeneratedAt)
	}
	return fmt.Sprintf("A report has already been generated for today (Report #%s).", no)
}

// RenderRequest asks the renderer to turn a stats document into artifacts.
type RenderRequest struct {
	StatsPath  string
	MarkupPath string
	ImagePath  string
}

// ArtifactSet is the result of a successful report run.
type ArtifactSet struct {
	StatsPath    string                 `json:"stats_path"`
	Stats        map[string]interface{} `json:"-"`
	ReportNo     int                    `json:"report_no"`
	GeneratedAt  time.Time              `json:"generated_at"`
	Warnings     []string               `json:"warnings,omitempty"`
	ImagePath    string                 `json:"image_path,omitempty"`
	MarkupPath   string                 `json:"markup_path,omitempty"`
	WarningsPath string                 `json:"warnings_path,omitempty"`
}

// Report is everything a finished run hands back to its caller.
type Report struct {
	RunID string `json:"run_id"`
	Mode  Mode   `json:"mode"`

	// Outcome is the terminal result; Outcome.ExitCode is the process exit code.
	Outcome Outcome `json:"outcome"`

	// Path lists the states entered, in order.
	Path []State `json:"path"`

	// Artifacts is set when a report was rendered.
	Artifacts *ArtifactSet `json:"artifacts,omitempty"`

	// Duplicate is set when a duplicate day was detected.
	Duplicate *DuplicateInfo `json:"duplicate,omitempty"`

	// Resolution is how a duplicate day was resolved.
	Resolution Resolution `json:"resolution,omitempty"`

	// Producers holds one entry per refreshed producer.
	Producers []RefreshResult `json:"producers,omitempty"`

	// Warnings are soft failures collected during the run.
	Warnings []string `json:"warnings,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Final returns the terminal state of the run.
func (r *Report) Final() State {
	if len(r.Path) == 0 {
		return ""
	}
	return r.Path[len(r.Path)-1]
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
