package procexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test. It is re-executed as a child
// process by the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "echo":
		fmt.Fprint(os.Stdout, os.Getenv("HELPER_OUT"))
		fmt.Fprint(os.Stderr, "diagnostic")
		os.Exit(0)
	case "fail":
		fmt.Fprint(os.Stderr, "PermissionError: [Errno 13] Permission denied")
		os.Exit(1)
	case "sleep":
		time.Sleep(10 * time.Second)
		os.Exit(0)
	}
	os.Exit(0)
}

func helper(mode string) Params {
	return Params{
		Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
			"HELPER_MODE":            mode,
			"HELPER_OUT":             "/tmp/latest_stats.json",
		},
	}
}

func TestRun_CapturesOutput(t *testing.T) {
	res, err := Run(context.Background(), helper("echo"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "/tmp/latest_stats.json", res.Stdout)
	assert.Equal(t, "diagnostic", res.Stderr)
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	res, err := Run(context.Background(), helper("fail"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "Errno 13")
}

func TestRun_Timeout(t *testing.T) {
	p := helper("sleep")
	p.Timeout = 200 * time.Millisecond
	_, err := Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestRun_MissingProgram(t *testing.T) {
	_, err := Run(context.Background(), Params{Command: []string{"/nonexistent/tokei-helper"}})
	assert.Error(t, err)

	_, err = Run(context.Background(), Params{})
	assert.Error(t, err)
}

func TestEnvList_Sorted(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=2"}, envList(map[string]string{"B": "2", "A": "1"}))
}
