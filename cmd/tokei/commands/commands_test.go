package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/engine"
	"github.com/tokei-app/tokei/pkg/runlock"
	"github.com/tokei-app/tokei/pkg/stores"
	"github.com/tokei-app/tokei/pkg/telemetry"
)

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// exitCode returns the process exit code main would use.
func (r cliResult) exitCode() int {
	if r.err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(r.err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

func runCLI(t *testing.T, root, stdin string, args ...string) cliResult {
	t.Helper()
	cmd := newRootCommand("1.2.3", "abc123", "2026-01-01")
	var stdout, stderr bytes.Buffer
	cmd.SetArgs(append([]string{"--root", root}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// helperCommand is a command line that re-enters this test binary.
func helperCommand(mode string) []interface{} {
	return []interface{}{os.Args[0], "-test.run=TestHelperProcess", "--", mode}
}

// writeRunConfig writes a configuration whose adapter and renderer are
// helper processes and whose producers are disabled.
func writeRunConfig(t *testing.T, root, adapterMode string) {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	rec := config.Defaults()
	rec.Set("hashi.enabled", false)
	rec.Set("sync.command", helperCommand(adapterMode))
	rec.Set("renderer.command", helperCommand("render"))
	rec.Set("renderer.timeout_ms", float64(10000))
	rec.Set("telemetry.metrics", true)
	require.NoError(t, config.NewStore(filepath.Join(root, "config.json")).Save(rec))
}

func TestConfigure_WritesDefaults(t *testing.T) {
	root := t.TempDir()

	res := runCLI(t, root, "", "configure")

	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Configuration written to")
	rec, warnings := config.NewStore(filepath.Join(root, "config.json")).Load()
	assert.Empty(t, warnings)
	assert.Equal(t, "User 1", rec["anki_profile"])

	got := runCLI(t, root, "", "config", "get", "hashi.port")
	require.NoError(t, got.err)
	assert.Equal(t, "8766\n", got.stdout)
}

func TestConfigure_AppliesFlagsOverExistingRecord(t *testing.T) {
	root := t.TempDir()
	store := config.NewStore(filepath.Join(root, "config.json"))
	require.NoError(t, store.Save(config.Record{"theme": "paper", "custom": "kept"}))

	res := runCLI(t, root, "", "configure",
		"--hashi-port", "8765",
		"--require-fresh=false",
		"--set", "toggl.chunk_days=14",
		"--set", "anki_profile=Study")

	require.NoError(t, res.err)
	rec, _ := store.Load()
	assert.Equal(t, "paper", rec["theme"])
	assert.Equal(t, "kept", rec["custom"])
	assert.Equal(t, "Study", rec["anki_profile"])
	port, _ := rec.Get("hashi.port")
	assert.Equal(t, float64(8765), port)
	fresh, _ := rec.Get("hashi.require_fresh")
	assert.Equal(t, false, fresh)
	chunk, _ := rec.Get("toggl.chunk_days")
	assert.Equal(t, float64(14), chunk)
}

func TestConfigure_RefusesInvalidSettings(t *testing.T) {
	root := t.TempDir()

	res := runCLI(t, root, "", "configure", "--hashi-port", "70000")

	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "refusing to save")
	assert.NoFileExists(t, filepath.Join(root, "config.json"))
}

func TestConfigure_RejectsMalformedSet(t *testing.T) {
	res := runCLI(t, t.TempDir(), "", "configure", "--set", "no-equals-sign")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "expected key=value")
}

func TestConfigShow_Formats(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, runCLI(t, root, "", "configure").err)

	tests := []struct {
		format string
		want   string
	}{
		{format: "json", want: `"anki_profile": "User 1"`},
		{format: "yaml", want: "anki_profile: User 1"},
		{format: "toml", want: `anki_profile = "User 1"`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			res := runCLI(t, root, "", "config", "show", "--format", tt.format)
			require.NoError(t, res.err)
			assert.Contains(t, res.stdout, tt.want)
		})
	}

	res := runCLI(t, root, "", "config", "show", "--format", "ini")
	require.Error(t, res.err)
}

func TestConfigShow_WarnsOnMalformedFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.json"), []byte("{not json"), 0o600))

	res := runCLI(t, root, "", "config", "show", "--effective")

	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "not valid JSON")
	assert.Contains(t, res.stdout, `"theme": "midnight"`)
}

func TestRun_MissingConfigNonInteractive(t *testing.T) {
	root := t.TempDir()

	res := runCLI(t, root, "", "run")

	assert.Equal(t, engine.ExitConfiguration, res.exitCode())
	assert.Contains(t, res.stderr, `tokei configure`)
	assert.NoFileExists(t, filepath.Join(root, "config.json"))
}

func TestRun_FullReport(t *testing.T) {
	root := t.TempDir()
	writeRunConfig(t, root, "finalize")

	res := runCLI(t, root, "", "run")

	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Report #7 written to")
	assert.FileExists(t, filepath.Join(root, "output", "Tokei Report 7.png"))
	assert.FileExists(t, filepath.Join(root, "output", "Tokei Report 7.html"))
	assert.FileExists(t, filepath.Join(root, "state", telemetry.MetricsFileName))

	reports := runCLI(t, root, "", "--json", "history", "reports")
	require.NoError(t, reports.err)
	var rows []stores.Report
	require.NoError(t, json.Unmarshal([]byte(reports.stdout), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 7, rows[0].ReportNo)

	runs := runCLI(t, root, "", "--json", "history")
	require.NoError(t, runs.err)
	var runRows []stores.Run
	require.NoError(t, json.Unmarshal([]byte(runs.stdout), &runRows))
	require.Len(t, runRows, 1)
	assert.Equal(t, engine.RunStatusSucceeded, runRows[0].Status)

	show := runCLI(t, root, "", "history", "show", runRows[0].ID[:8])
	require.NoError(t, show.err)
	assert.Contains(t, show.stdout, "config_ready -> producers_refreshed -> syncing -> report_fresh -> rendering -> done")
	assert.Contains(t, show.stdout, "report.rendered")
}

func TestSync_StopsBeforeRendering(t *testing.T) {
	root := t.TempDir()
	writeRunConfig(t, root, "finalize")

	res := runCLI(t, root, "", "sync")

	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Sync complete.")
	assert.NoDirExists(t, filepath.Join(root, "output"))
}

func TestRun_DuplicateCancelsWhenNonInteractive(t *testing.T) {
	root := t.TempDir()
	writeRunConfig(t, root, "duplicate")

	res := runCLI(t, root, "", "--json", "run")

	require.NoError(t, res.err, res.stderr)
	var report engine.Report
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Equal(t, engine.StateCancelled, report.Final())
	require.NotNil(t, report.Duplicate)
	assert.Equal(t, 4, report.Duplicate.ReportNo)
	assert.NoDirExists(t, filepath.Join(root, "output"))
}

func TestRun_AdapterFailureExitCode(t *testing.T) {
	root := t.TempDir()
	writeRunConfig(t, root, "locked")

	res := runCLI(t, root, "", "run")

	assert.Equal(t, engine.ExitStorage, res.exitCode())
	assert.Contains(t, res.stderr, "database is locked")
}

func TestRun_FailsFastWhenLocked(t *testing.T) {
	root := t.TempDir()
	writeRunConfig(t, root, "finalize")
	lockPath := filepath.Join(root, "state", runlock.FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	owner, err := json.Marshal(runlock.Owner{PID: os.Getppid(), RunID: "other"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lockPath, owner, 0o644))

	res := runCLI(t, root, "", "run")

	assert.Equal(t, engine.ExitStorage, res.exitCode())
	assert.Contains(t, res.stderr, "another tokei run is in progress")
	assert.NoDirExists(t, filepath.Join(root, "output"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		stdin  string
		expect string
	}{
		{name: "adapter code", args: []string{"13"}, expect: "storage_error (exit 3)"},
		{name: "stderr from stdin", args: []string{"1"}, stdin: "JSONDecodeError: Expecting value", expect: "configuration_error (exit 1)"},
		{name: "explicit stdin", args: []string{"1", "--stderr-file", "-"}, stdin: "Permission denied", expect: "storage_error (exit 3)"},
		{name: "success", args: []string{"0"}, expect: "success (exit 0)"},
		{name: "unknown", args: []string{"42"}, stdin: "boom", expect: "unclassified (exit 99)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, t.TempDir(), tt.stdin, append([]string{"classify"}, tt.args...)...)
			require.NoError(t, res.err)
			assert.Equal(t, tt.expect+"\n", res.stdout)
		})
	}

	res := runCLI(t, t.TempDir(), "", "classify", "abc")
	require.Error(t, res.err)
}

func TestVersion(t *testing.T) {
	res := runCLI(t, t.TempDir(), "", "--json", "version")
	require.NoError(t, res.err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &v))
	assert.Equal(t, "1.2.3", v["version"])
	assert.Equal(t, "abc123", v["commit"])
}

func TestRunFlags_MutuallyExclusive(t *testing.T) {
	res := runCLI(t, t.TempDir(), "", "run", "--overwrite-today", "--allow-same-day")
	require.Error(t, res.err)
	assert.Equal(t, 1, res.exitCode())
}

// TestHelperProcess is not a real test; it stands in for the adapter and
// the renderer.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}

	switch args[1] {
	case "finalize":
		stats := filepath.Join(os.Getenv(config.EnvUserRoot), "cache", "latest_stats.json")
		_ = os.MkdirAll(filepath.Dir(stats), 0o755)
		doc := `{"report_no": 7, "generated_at": "2026-03-01T21:00:00Z", "warnings": []}`
		if err := os.WriteFile(stats, []byte(doc), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(12)
		}
		fmt.Println(stats)
		os.Exit(0)
	case "duplicate":
		fmt.Println(`{"status":"already_generated","report_no":4,"generated_at":"2026-03-01 08:00","report_day":"2026-03-01"}`)
		os.Exit(2)
	case "locked":
		fmt.Fprintln(os.Stderr, "sqlite3.OperationalError: database is locked")
		os.Exit(1)
	case "render":
		if len(args) != 5 {
			os.Exit(64)
		}
		_ = os.WriteFile(args[3], []byte("<html></html>"), 0o644)
		_ = os.WriteFile(args[4], []byte("\x89PNG"), 0o644)
		os.Exit(0)
	default:
		os.Exit(2)
	}
}
