package adapter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/engine"
)

func helperAdapter(t *testing.T, mode string) *ProcessAdapter {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	root := t.TempDir()
	return &ProcessAdapter{
		Spec: config.CommandSpec{
			Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--", mode},
			Dir:     root,
			Timeout: 5 * time.Second,
		},
		Paths: config.Paths{Root: root, AppRoot: root},
	}
}

func TestProcessAdapter_Sync(t *testing.T) {
	a := helperAdapter(t, "finalize")

	res, err := a.Sync(context.Background(), engine.SyncRequest{Flags: []string{engine.FlagSyncOnly}})

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	assert.Equal(t, "flags=--sync-only", lines[0])
	assert.Equal(t, a.Paths.Root+"/cache/latest_stats.json", lines[len(lines)-1])
}

func TestProcessAdapter_Duplicate(t *testing.T) {
	a := helperAdapter(t, "duplicate")

	res, err := a.Sync(context.Background(), engine.SyncRequest{})

	require.NoError(t, err)
	assert.Equal(t, engine.AdapterExitDuplicate, res.ExitCode)
	info, ok := engine.ParseDuplicate(res.Stdout)
	require.True(t, ok)
	assert.Equal(t, 12, info.ReportNo)
}

func TestProcessAdapter_Failure(t *testing.T) {
	a := helperAdapter(t, "locked")

	res, err := a.Sync(context.Background(), engine.SyncRequest{})

	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, engine.KindStorage, engine.Classify(res.ExitCode, res.Stderr))
}

func TestProcessAdapter_Timeout(t *testing.T) {
	a := helperAdapter(t, "hang")
	a.Spec.Timeout = 200 * time.Millisecond

	_, err := a.Sync(context.Background(), engine.SyncRequest{})

	require.Error(t, err)
	assert.True(t, engine.IsExternalService(err))
}

func TestProcessAdapter_MissingCommand(t *testing.T) {
	a := &ProcessAdapter{Spec: config.CommandSpec{Command: []string{"tokei-no-such-adapter"}}}

	_, err := a.Sync(context.Background(), engine.SyncRequest{})

	require.Error(t, err)
	assert.Equal(t, engine.KindUnclassified, engine.KindOf(err))
}

// TestHelperProcess is not a real test; it stands in for the adapter.
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
		fmt.Printf("flags=%s\n", strings.Join(args[2:], " "))
		fmt.Println(os.Getenv("TOKEI_USER_ROOT") + "/cache/latest_stats.json")
		os.Exit(0)
	case "duplicate":
		fmt.Println(`{"status":"already_generated","report_no":12,"generated_at":"2026-10-18T07:00:00Z","report_day":"2026-10-18"}`)
		os.Exit(2)
	case "locked":
		fmt.Fprintln(os.Stderr, "sqlite3.OperationalError: database is locked")
		os.Exit(1)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}
