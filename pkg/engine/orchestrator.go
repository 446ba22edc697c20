package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/fsutil"
	"github.com/tokei-app/tokei/pkg/telemetry"
)

// Orchestrator sequences one run: ensure config, refresh producers, sync,
// resolve a duplicate day, render and emit artifacts. It holds no per-run
// state; everything a run produces is threaded through a runState value.
type Orchestrator struct {
	// Paths are the resolved data locations.
	Paths config.Paths

	// Store is the configuration document.
	Store *config.Store

	// Collaborators builds the refresher, adapter and renderer.
	Collaborators Collaborators

	// Prompter resolves duplicate days in interactive runs.
	Prompter Prompter

	// Setup creates the configuration in interactive runs when missing.
	Setup SetupFunc

	// Telemetry receives logs, spans, metrics and events. Optional.
	Telemetry *telemetry.Telemetry

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// runState is threaded through the state machine.
type runState struct {
	opts     Options
	report   *Report
	settings *config.Settings
	logger   *telemetry.Logger
	tel      *telemetry.Telemetry
	state    State

	adapter  Adapter
	flags    []string
	sync     *SyncResult
	statsRef string
}

// Run executes one run and returns its report. The returned report is
// never nil; Report.Outcome carries the public exit code.
func (o *Orchestrator) Run(ctx context.Context, opts Options) *Report {
	now := o.now
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}

	tel := o.Telemetry
	if tel == nil {
		tel = telemetry.FromTelemetryContext(ctx)
	}
	if tel == nil {
		tel = telemetry.NewNop()
	}
	ctx = tel.WithContext(ctx)
	ctx = telemetry.WithRunContext(ctx, opts.RunID, string(opts.Mode))

	rs := &runState{
		opts: opts,
		report: &Report{
			RunID:     opts.RunID,
			Mode:      opts.Mode,
			StartedAt: now(),
		},
		logger: telemetry.FromContext(ctx).NewComponentLogger("orchestrator"),
		tel:    tel,
	}

	err := o.execute(ctx, rs)
	o.finish(ctx, rs, err)
	return rs.report
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) execute(ctx context.Context, rs *runState) error {
	if err := rs.opts.Mode.Validate(); err != nil {
		return NewConfigurationError("invalid run options", err)
	}
	if err := rs.opts.Resolution.Validate(); err != nil {
		return NewConfigurationError("invalid run options", err)
	}

	if err := o.step(ctx, "config", func(ctx context.Context) error {
		return o.ensureConfig(ctx, rs)
	}); err != nil {
		return err
	}
	o.enter(ctx, rs, StateConfigReady, "configuration loaded")

	if rs.opts.Mode != ModeNoSync {
		if err := o.step(ctx, "producers", func(ctx context.Context) error {
			return o.refreshProducers(ctx, rs)
		}); err != nil {
			return err
		}
		o.enter(ctx, rs, StateProducersRefreshed, fmt.Sprintf("%d producer(s) refreshed", len(rs.report.Producers)))
	}

	rs.adapter = o.Collaborators.Adapter(rs.settings)
	rs.flags = baseFlags(rs.opts)
	if err := o.step(ctx, "sync", func(ctx context.Context) error {
		return o.syncStep(ctx, rs)
	}); err != nil {
		return err
	}
	if rs.state == StateCancelled {
		return nil
	}

	if rs.opts.Mode == ModeSyncOnly {
		return nil
	}

	return o.step(ctx, "render", func(ctx context.Context) error {
		return o.render(ctx, rs)
	})
}

// step wraps fn in a span and step metrics.
func (o *Orchestrator) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return telemetry.RecordStep(ctx, name, fn)
}

// enter records a transition into s.
func (o *Orchestrator) enter(ctx context.Context, rs *runState, s State, detail string) {
	from := rs.state
	rs.state = s
	rs.report.Path = append(rs.report.Path, s)
	rs.logger.WithStep(string(s)).Debug(detail)
	telemetry.AddRunEvent(trace.SpanFromContext(ctx), "state."+string(s), detail)
	_ = rs.tel.Events.PublishStateChanged(rs.report.RunID, string(from), string(s), detail)
}

func (o *Orchestrator) warn(rs *runState, source, msg string) {
	rs.report.Warnings = append(rs.report.Warnings, msg)
	rs.logger.Warn(msg)
	_ = rs.tel.Events.PublishWarning(rs.report.RunID, source, msg)
}

// ensureConfig implements the ConfigReady transition.
func (o *Orchestrator) ensureConfig(ctx context.Context, rs *runState) error {
	if !o.Store.Exists() {
		if !rs.opts.Interactive || o.Setup == nil {
			return NewConfigurationError(
				fmt.Sprintf("config.json not found at %s; run \"tokei configure\" to set up tokei", o.Store.Path), nil).
				WithStep(StateConfigReady)
		}
		rs.logger.Info("no configuration found, starting setup")
		if err := o.Setup(ctx, o.Store); err != nil {
			return NewConfigurationError("setup did not complete", err).WithStep(StateConfigReady)
		}
		if !o.Store.Exists() {
			return NewConfigurationError(
				fmt.Sprintf("setup finished without writing %s", o.Store.Path), nil).WithStep(StateConfigReady)
		}
	}

	rec, warnings := o.Store.Load()
	for _, w := range warnings {
		o.warn(rs, "config", w)
	}

	settings, err := rec.Settings(o.Paths)
	if err != nil {
		return NewConfigurationError("configuration is invalid", err).WithStep(StateConfigReady)
	}
	rs.settings = settings
	return nil
}

// refreshProducers refreshes every enabled producer in order and stops at
// the first hard failure.
func (o *Orchestrator) refreshProducers(ctx context.Context, rs *runState) error {
	refresher := o.Collaborators.Refresher(rs.settings)
	if c, ok := refresher.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				rs.logger.WithError(err).Debug("failed to close producer refresher")
			}
		}()
	}
	for _, ep := range rs.settings.EnabledProducers() {
		timer := telemetry.NewTimer()
		res, err := refresher.Refresh(ctx, ep)
		if err != nil {
			rs.tel.Metrics.RecordProducerRefresh(ep.Name, "failed", timer.Duration())
			re, ok := asRunError(err)
			if !ok {
				re = NewExternalServiceError(fmt.Sprintf("refreshing %s failed", ep.Name), err)
			}
			return re.WithStep(StateProducersRefreshed).WithProducer(ep.Name)
		}

		rs.tel.Metrics.RecordProducerRefresh(ep.Name, string(res.Outcome), timer.Duration())
		_ = rs.tel.Events.PublishProducerRefreshed(rs.report.RunID, ep.Name, string(res.Outcome), res.Port)
		for _, w := range res.Warnings {
			o.warn(rs, ep.Name, w)
		}
		rs.report.Producers = append(rs.report.Producers, *res)
	}
	return nil
}

func baseFlags(opts Options) []string {
	var flags []string
	if f := opts.Mode.AdapterFlag(); f != "" {
		flags = append(flags, f)
	}
	if f := opts.Resolution.AdapterFlag(); f != "" {
		flags = append(flags, f)
	}
	return flags
}

// syncStep runs the adapter and resolves a duplicate day.
func (o *Orchestrator) syncStep(ctx context.Context, rs *runState) error {
	o.enter(ctx, rs, StateSyncing, "invoking adapter "+strings.Join(rs.flags, " "))

	res, err := o.invokeAdapter(ctx, rs, rs.flags)
	if err != nil {
		return err
	}

	dup, isDup := duplicateOf(res)
	if !isDup {
		return o.acceptSync(ctx, rs, res)
	}

	rs.report.Duplicate = dup
	o.enter(ctx, rs, StateDuplicateDetected, dup.Describe())
	_ = rs.tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeDuplicateDay,
		Source:  "engine",
		RunID:   rs.report.RunID,
		Step:    string(StateDuplicateDetected),
		Message: dup.Describe(),
		Data:    map[string]interface{}{"report_no": dup.ReportNo, "report_day": dup.ReportDay},
	})

	resolution, err := o.resolve(ctx, rs, *dup)
	if err != nil {
		return err
	}
	rs.report.Resolution = resolution
	if resolution == ResolutionCancel {
		o.enter(ctx, rs, StateCancelled, "duplicate day: cancelled")
		return nil
	}

	flags := rs.flags
	if f := resolution.AdapterFlag(); !slices.Contains(flags, f) {
		flags = append(append([]string(nil), flags...), f)
	}
	rs.flags = flags
	o.enter(ctx, rs, StateSyncing, "re-invoking adapter "+strings.Join(flags, " "))

	res, err = o.invokeAdapter(ctx, rs, flags)
	if err != nil {
		return err
	}
	if _, again := duplicateOf(res); again {
		return NewUnclassifiedError(
			fmt.Sprintf("adapter still reports a duplicate day after %s", resolution.AdapterFlag()), nil).
			WithStep(StateSyncing)
	}
	return o.acceptSync(ctx, rs, res)
}

func duplicateOf(res *SyncResult) (*DuplicateInfo, bool) {
	if res.ExitCode != AdapterExitDuplicate {
		return nil, false
	}
	if dup, ok := ParseDuplicate(res.Stdout); ok {
		return dup, true
	}
	// The status code alone marks the day as already reported.
	return &DuplicateInfo{Status: StatusAlreadyGenerated}, true
}

func (o *Orchestrator) invokeAdapter(ctx context.Context, rs *runState, flags []string) (*SyncResult, error) {
	res, err := rs.adapter.Sync(ctx, SyncRequest{Flags: flags})
	if err != nil {
		var re *RunError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, NewUnclassifiedError("failed to run the sync adapter", err).WithStep(StateSyncing)
	}
	rs.logger.WithField("exit_code", res.ExitCode).Debug("adapter finished")
	return res, nil
}

// acceptSync validates a terminated adapter run and enters ReportFresh.
func (o *Orchestrator) acceptSync(ctx context.Context, rs *runState, res *SyncResult) error {
	if res.ExitCode != 0 {
		return NewProcessError(fmt.Sprintf("sync adapter failed (code %d)", res.ExitCode), res.ExitCode, res.Stderr).
			WithStep(StateSyncing)
	}
	rs.sync = res
	rs.statsRef = statsPathFromStdout(res.Stdout)
	o.enter(ctx, rs, StateReportFresh, "stats document "+rs.statsRef)

	if rs.opts.Mode == ModeSyncOnly {
		rs.report.Artifacts = &ArtifactSet{StatsPath: o.resolveStats(rs)}
		o.enter(ctx, rs, StateDone, "sync complete")
	}
	return nil
}

// resolve picks the duplicate-day resolution: an up-front choice wins,
// non-interactive runs cancel, interactive runs prompt.
func (o *Orchestrator) resolve(ctx context.Context, rs *runState, dup DuplicateInfo) (Resolution, error) {
	if rs.opts.Resolution != ResolutionNone {
		return rs.opts.Resolution, nil
	}
	if !rs.opts.Interactive || o.Prompter == nil {
		rs.logger.Info("duplicate day in a non-interactive run, cancelling")
		return ResolutionCancel, nil
	}
	choice, err := o.Prompter.ChooseDuplicate(ctx, dup)
	if err != nil {
		return ResolutionNone, NewUnclassifiedError("failed to read duplicate-day choice", err).
			WithStep(StateDuplicateDetected)
	}
	if choice == ChoiceInvalid {
		return ResolutionCancel, nil
	}
	return choice.Resolution(), nil
}

// statsPathFromStdout extracts the stats document location: either the
// last stdout line, or a stats_path/path field of a JSON payload.
func statsPathFromStdout(stdout string) string {
	line := lastLine(stdout)
	if strings.HasPrefix(line, "{") {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(line), &payload); err == nil {
			for _, key := range []string{"stats_path", "path"} {
				if s, ok := payload[key].(string); ok && s != "" {
					return s
				}
			}
		}
		return ""
	}
	return line
}

func (o *Orchestrator) resolveStats(rs *runState) string {
	p := rs.statsRef
	if p == "" {
		p = filepath.Join(o.Paths.Cache, "latest_stats.json")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(rs.settings.Adapter.Dir, p)
	}
	return p
}

// render hands the stats document to the renderer in a staging directory
// and moves the artifacts into place only once rendering succeeded.
func (o *Orchestrator) render(ctx context.Context, rs *runState) error {
	o.enter(ctx, rs, StateRendering, "rendering report")

	set, err := o.loadStats(rs)
	if err != nil {
		return err
	}

	outDir := rs.settings.OutputDir
	if err := fsutil.EnsureDir(outDir); err != nil {
		return NewStorageError("failed to create output directory", err).WithStep(StateRendering)
	}
	staging, err := os.MkdirTemp(outDir, ".tokei-render-")
	if err != nil {
		return NewStorageError("failed to create staging directory", err).WithStep(StateRendering)
	}
	defer os.RemoveAll(staging)

	imageName, markupName, _ := ArtifactNames(set.ReportNo)
	req := RenderRequest{
		StatsPath:  set.StatsPath,
		ImagePath:  filepath.Join(staging, imageName),
		MarkupPath: filepath.Join(staging, markupName),
	}
	renderer := o.Collaborators.Renderer(rs.settings)
	if err := renderer.Render(ctx, req); err != nil {
		var re *RunError
		if errors.As(err, &re) {
			re.WithStep(StateRendering)
			return err
		}
		return NewUnclassifiedError("renderer failed", err).WithStep(StateRendering)
	}
	if _, err := os.Stat(req.ImagePath); err != nil {
		return NewUnclassifiedError("renderer reported success but wrote no image", err).WithStep(StateRendering)
	}

	// Markup moves before the image.
	imagePath, markupPath, warningsPath := artifactPaths(outDir, set.ReportNo)
	if _, err := os.Stat(req.MarkupPath); err == nil {
		if err := fsutil.MoveFile(req.MarkupPath, markupPath); err != nil {
			return NewStorageError("failed to write report markup", err).WithStep(StateRendering)
		}
		set.MarkupPath = markupPath
	}
	if err := fsutil.MoveFile(req.ImagePath, imagePath); err != nil {
		return NewStorageError("failed to write report image", err).WithStep(StateRendering)
	}
	set.ImagePath = imagePath

	if len(set.Warnings) > 0 {
		data := []byte(strings.Join(set.Warnings, "\n") + "\n")
		if err := fsutil.WriteFileAtomic(warningsPath, data, fsutil.WriteOptions{}); err != nil {
			return NewStorageError("failed to write warnings file", err).WithStep(StateRendering)
		}
		set.WarningsPath = warningsPath
	} else if rs.report.Resolution == ResolutionOverwrite {
		if err := os.Remove(warningsPath); err != nil && !os.IsNotExist(err) {
			return NewStorageError("failed to remove outdated warnings file", err).WithStep(StateRendering)
		}
	}

	rs.report.Artifacts = set
	rs.tel.Metrics.RecordReportRendered(string(rs.report.Resolution))
	_ = rs.tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeReportRendered,
		Source:  "engine",
		RunID:   rs.report.RunID,
		Message: fmt.Sprintf("Report #%d written", set.ReportNo),
		Data: map[string]interface{}{
			"report_no":  set.ReportNo,
			"image_path": set.ImagePath,
		},
	})
	o.enter(ctx, rs, StateDone, fmt.Sprintf("report #%d written", set.ReportNo))
	return nil
}

// loadStats reads the finalized stats document and derives the report
// number, timestamp and warnings from it.
func (o *Orchestrator) loadStats(rs *runState) (*ArtifactSet, error) {
	path := o.resolveStats(rs)
	data, err := fsutil.ReadFileNoBOM(path)
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to read stats document %s", path), err).WithStep(StateRendering)
	}
	var stats map[string]interface{}
	if err := json.Unmarshal(data, &stats); err != nil || stats == nil {
		if err == nil {
			err = errors.New("not a JSON object")
		}
		return nil, NewUnclassifiedError(fmt.Sprintf("stats document %s is invalid", path), err).WithStep(StateRendering)
	}

	set := &ArtifactSet{
		StatsPath:   path,
		Stats:       stats,
		GeneratedAt: o.now(),
	}

	if n, ok := stats["report_no"].(float64); ok && n >= 1 {
		set.ReportNo = int(n)
	} else if rs.report.Resolution == ResolutionOverwrite && rs.report.Duplicate != nil && rs.report.Duplicate.ReportNo > 0 {
		set.ReportNo = rs.report.Duplicate.ReportNo
	} else {
		n, err := NextSequence(rs.settings.OutputDir)
		if err != nil {
			return nil, NewStorageError("failed to infer report number", err).WithStep(StateRendering)
		}
		set.ReportNo = n
	}

	if s, ok := stats["generated_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			set.GeneratedAt = t
		}
	}

	if ws, ok := stats["warnings"].([]interface{}); ok {
		for _, w := range ws {
			if s := strings.TrimSpace(fmt.Sprint(w)); s != "" {
				set.Warnings = append(set.Warnings, s)
			}
		}
	}
	return set, nil
}

// finish converts the terminal error into the run's outcome and closes
// the run's telemetry.
func (o *Orchestrator) finish(ctx context.Context, rs *runState, err error) {
	rs.report.FinishedAt = o.now()

	if err != nil {
		rs.report.Path = append(rs.report.Path, StateFailed)
		rs.report.Outcome = OutcomeFromError(err, "")
		rs.tel.Metrics.RecordClassification(string(rs.report.Outcome.Kind))
		rs.logger.WithError(err).WithField("kind", string(rs.report.Outcome.Kind)).Error("run failed")
		_ = rs.tel.Events.PublishStateChanged(rs.report.RunID, string(rs.state), string(StateFailed), rs.report.Outcome.Message)
	} else {
		rs.report.Outcome = OutcomeFromError(nil, successMessage(rs.report))
	}

	status := StatusForState(rs.report.Final())
	telemetry.EndRunContext(ctx, rs.report.RunID, string(status), rs.report.Outcome.ExitCode, rs.report.Outcome.Message, err)
}

func successMessage(r *Report) string {
	switch r.Final() {
	case StateCancelled:
		return "Cancelled; no changes were made."
	case StateDone:
		if r.Artifacts != nil && r.Artifacts.ImagePath != "" {
			return fmt.Sprintf("Report #%d written to %s", r.Artifacts.ReportNo, filepath.Dir(r.Artifacts.ImagePath))
		}
		return "Sync complete."
	default:
		return "Done."
	}
}
