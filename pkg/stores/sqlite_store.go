package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/tokei-app/tokei/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultFileName is the ledger database name under the state directory.
const DefaultFileName = "tokei.db"

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path        string
	BusyTimeout time.Duration

	// Now is the clock for created_at/updated_at. Defaults to time.Now.
	Now func() time.Time
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Open creates, initializes and migrates the ledger at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.path, s.cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One writer per process; the run lock serializes processes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun inserts a run row. Creating an existing run is a no-op, so
// the event sink and the caller may both create it.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := s.cfg.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = engine.RunStatusRunning
	}

	path, err := encodeJSON(run.StatePath, "[]")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, mode, status, outcome_kind, exit_code, message, adapter_code,
			resolution, state_path, report_no, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		string(run.Mode),
		string(run.Status),
		nullString(string(run.OutcomeKind)),
		run.ExitCode,
		nullString(run.Message),
		run.AdapterCode,
		nullString(run.Resolution),
		path,
		run.ReportNo,
		formatTime(run.StartedAt),
		formatTimePtr(run.CompletedAt),
		formatTime(run.CreatedAt),
		formatTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

const runColumns = `id, mode, status, outcome_kind, exit_code, message, adapter_code,
	resolution, state_path, report_no, started_at, completed_at, created_at, updated_at`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// FinishRun writes the terminal fields of a run, creating the row if the
// run was never recorded as started.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	return s.finishRun(ctx, s.db, run)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) finishRun(ctx context.Context, db execer, run *Run) error {
	now := s.cfg.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	path, err := encodeJSON(run.StatePath, "[]")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, mode, status, outcome_kind, exit_code, message, adapter_code,
			resolution, state_path, report_no, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			outcome_kind = excluded.outcome_kind,
			exit_code = excluded.exit_code,
			message = excluded.message,
			adapter_code = excluded.adapter_code,
			resolution = excluded.resolution,
			state_path = excluded.state_path,
			report_no = excluded.report_no,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`
	_, err = db.ExecContext(ctx, query,
		run.ID,
		string(run.Mode),
		string(run.Status),
		nullString(string(run.OutcomeKind)),
		run.ExitCode,
		nullString(run.Message),
		run.AdapterCode,
		nullString(run.Resolution),
		path,
		run.ReportNo,
		formatTime(run.StartedAt),
		formatTimePtr(run.CompletedAt),
		formatTime(run.CreatedAt),
		formatTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// ListRuns lists runs, newest first, with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// PruneRuns deletes all but the newest keep runs and their events.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	query := `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`
	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// AppendEvent appends an event to a run's timeline.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	data, err := encodeJSON(event.Data, "")
	if err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.cfg.Now()
	}

	query := `
		INSERT INTO run_events (event_id, run_id, type, level, source, step, producer, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.RunID,
		event.Type,
		event.Level,
		nullString(event.Source),
		nullString(event.Step),
		nullString(event.Producer),
		nullString(event.Message),
		nullString(data),
		formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return nil
}

// ListEvents returns a run's events in the order they were appended.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]*Event, error) {
	query := `
		SELECT id, event_id, run_id, type, level, source, step, producer, message, data, timestamp
		FROM run_events
		WHERE run_id = ?
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			e                                         Event
			source, step, producer, message, data, ts sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.RunID, &e.Type, &e.Level,
			&source, &step, &producer, &message, &data, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Source, e.Step, e.Producer, e.Message = source.String, step.String, producer.String, message.String
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		if e.Timestamp, err = parseTime(ts.String); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// UpsertReport records a report, replacing any row with the same number.
func (s *SQLiteStore) UpsertReport(ctx context.Context, report *Report) error {
	return s.upsertReport(ctx, s.db, report)
}

func (s *SQLiteStore) upsertReport(ctx context.Context, db execer, report *Report) error {
	now := s.cfg.Now()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = now

	query := `
		INSERT INTO reports (report_no, run_id, report_day, image_path, markup_path, warnings_path,
			warning_count, generated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (report_no) DO UPDATE SET
			run_id = excluded.run_id,
			report_day = excluded.report_day,
			image_path = excluded.image_path,
			markup_path = excluded.markup_path,
			warnings_path = excluded.warnings_path,
			warning_count = excluded.warning_count,
			generated_at = excluded.generated_at,
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query,
		report.ReportNo,
		report.RunID,
		report.ReportDay,
		report.ImagePath,
		nullString(report.MarkupPath),
		nullString(report.WarningsPath),
		report.WarningCount,
		formatTime(report.GeneratedAt),
		formatTime(report.CreatedAt),
		formatTime(report.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert report: %w", err)
	}
	return nil
}

const reportColumns = `report_no, run_id, report_day, image_path, markup_path, warnings_path,
	warning_count, generated_at, created_at, updated_at`

// GetReport retrieves a report by number.
func (s *SQLiteStore) GetReport(ctx context.Context, reportNo int) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE report_no = ?`, reportNo)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %d: %w", reportNo, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return r, nil
}

// ListReports lists the newest reports by number.
func (s *SQLiteStore) ListReports(ctx context.Context, limit int) ([]*Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY report_no DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := []*Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	return reports, nil
}

// RecordOutcome stores a finished run and, when it rendered one, its
// report, in a single transaction. loc sets the report day.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, report *engine.Report, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	run := RunFromReport(report)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.finishRun(ctx, tx, run); err != nil {
		return err
	}

	if a := report.Artifacts; a != nil && a.ImagePath != "" {
		if err := s.upsertReport(ctx, tx, &Report{
			ReportNo:     a.ReportNo,
			RunID:        report.RunID,
			ReportDay:    a.GeneratedAt.In(loc).Format("2006-01-02"),
			ImagePath:    a.ImagePath,
			MarkupPath:   a.MarkupPath,
			WarningsPath: a.WarningsPath,
			WarningCount: len(a.Warnings),
			GeneratedAt:  a.GeneratedAt,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RunFromReport converts a finished engine report into a run row.
func RunFromReport(r *engine.Report) *Run {
	exit := r.Outcome.ExitCode
	run := &Run{
		ID:          r.RunID,
		Mode:        r.Mode,
		Status:      engine.StatusForState(r.Final()),
		OutcomeKind: r.Outcome.Kind,
		ExitCode:    &exit,
		Message:     r.Outcome.Message,
		AdapterCode: r.Outcome.AdapterCode,
		Resolution:  string(r.Resolution),
		StatePath:   r.Path,
		StartedAt:   r.StartedAt,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		run.CompletedAt = &finished
	}
	if r.Artifacts != nil && r.Artifacts.ImagePath != "" {
		n := r.Artifacts.ReportNo
		run.ReportNo = &n
	}
	return run
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                                    Run
		mode, status                           string
		kind, message, resolution, completedAt sql.NullString
		exitCode, adapterCode, reportNo        sql.NullInt64
		path, startedAt, createdAt, updatedAt  string
	)
	if err := row.Scan(&run.ID, &mode, &status, &kind, &exitCode, &message, &adapterCode,
		&resolution, &path, &reportNo, &startedAt, &completedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	run.Mode = engine.Mode(mode)
	run.Status = engine.RunStatus(status)
	run.OutcomeKind = engine.Kind(kind.String)
	run.Message = message.String
	run.Resolution = resolution.String
	run.ExitCode = intPtr(exitCode)
	run.AdapterCode = intPtr(adapterCode)
	run.ReportNo = intPtr(reportNo)

	if err := json.Unmarshal([]byte(path), &run.StatePath); err != nil {
		return nil, fmt.Errorf("failed to decode state path: %w", err)
	}

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &t
	}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if run.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

func scanReport(row scanner) (*Report, error) {
	var (
		r                                 Report
		markup, warnings                  sql.NullString
		generatedAt, createdAt, updatedAt string
	)
	if err := row.Scan(&r.ReportNo, &r.RunID, &r.ReportDay, &r.ImagePath, &markup, &warnings,
		&r.WarningCount, &generatedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.MarkupPath = markup.String
	r.WarningsPath = warnings.String

	var err error
	if r.GeneratedAt, err = parseTime(generatedAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// timeLayout is fixed-width RFC 3339 in UTC so stored timestamps sort
// lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func encodeJSON(v interface{}, empty string) (string, error) {
	switch x := v.(type) {
	case nil:
		return empty, nil
	case map[string]interface{}:
		if len(x) == 0 {
			return empty, nil
		}
	case []engine.State:
		if len(x) == 0 {
			return empty, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON: %w", err)
	}
	return string(data), nil
}
