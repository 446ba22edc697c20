package stores

import (
	"context"
	"time"

	"github.com/tokei-app/tokei/pkg/engine"
	"github.com/tokei-app/tokei/pkg/telemetry"
)

// Run is one row of the runs table.
type Run struct {
	ID          string           `json:"id"`
	Mode        engine.Mode      `json:"mode"`
	Status      engine.RunStatus `json:"status"`
	OutcomeKind engine.Kind      `json:"outcome_kind,omitempty"`
	ExitCode    *int             `json:"exit_code,omitempty"`
	Message     string           `json:"message,omitempty"`
	AdapterCode *int             `json:"adapter_code,omitempty"`
	Resolution  string           `json:"resolution,omitempty"`
	StatePath   []engine.State   `json:"state_path"`
	ReportNo    *int             `json:"report_no,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Event is one row of the run_events table.
type Event struct {
	ID        int64                  `json:"id"`
	EventID   string                 `json:"event_id"`
	RunID     string                 `json:"run_id"`
	Type      string                 `json:"type"`
	Level     string                 `json:"level"`
	Source    string                 `json:"source,omitempty"`
	Step      string                 `json:"step,omitempty"`
	Producer  string                 `json:"producer,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventFromTelemetry converts a published event into a ledger row.
func EventFromTelemetry(e telemetry.Event) *Event {
	return &Event{
		EventID:   e.ID,
		RunID:     e.RunID,
		Type:      e.Type,
		Level:     e.Level,
		Source:    e.Source,
		Step:      e.Step,
		Producer:  e.Producer,
		Message:   e.Message,
		Data:      e.Data,
		Timestamp: e.Timestamp,
	}
}

// Report is one row of the reports table. A report number has at most
// one row; overwriting a day's report replaces it.
type Report struct {
	ReportNo     int       `json:"report_no"`
	RunID        string    `json:"run_id"`
	ReportDay    string    `json:"report_day"`
	ImagePath    string    `json:"image_path"`
	MarkupPath   string    `json:"markup_path,omitempty"`
	WarningsPath string    `json:"warnings_path,omitempty"`
	WarningCount int       `json:"warning_count"`
	GeneratedAt  time.Time `json:"generated_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store defines the ledger operations.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID string) ([]*Event, error)

	// Report operations
	UpsertReport(ctx context.Context, report *Report) error
	GetReport(ctx context.Context, reportNo int) (*Report, error)
	ListReports(ctx context.Context, limit int) ([]*Report, error)

	// RecordOutcome stores a finished run and any report it produced.
	RecordOutcome(ctx context.Context, report *engine.Report, loc *time.Location) error

	// Utility
	HealthCheck(ctx context.Context) error
}
