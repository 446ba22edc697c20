// Package adapter runs the metric source adapter, the external program
// that syncs remote sources and finalizes the day's stats document.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/engine"
	"github.com/tokei-app/tokei/pkg/procexec"
	"github.com/tokei-app/tokei/pkg/telemetry"
)

// ProcessAdapter implements engine.Adapter by running a command.
type ProcessAdapter struct {
	Spec  config.CommandSpec
	Paths config.Paths

	// Env is added on top of the tokei path variables.
	Env map[string]string
}

// New creates an adapter from validated settings.
func New(s *config.Settings) *ProcessAdapter {
	return &ProcessAdapter{Spec: s.Adapter, Paths: s.Paths}
}

// Sync implements engine.Adapter. The flags are appended to the
// configured command. Any exit code is reported in the result; an error
// means the command could not run to completion.
func (a *ProcessAdapter) Sync(ctx context.Context, req engine.SyncRequest) (*engine.SyncResult, error) {
	cmd := make([]string, 0, len(a.Spec.Command)+len(req.Flags))
	cmd = append(cmd, a.Spec.Command...)
	cmd = append(cmd, req.Flags...)

	env := map[string]string{
		config.EnvUserRoot: a.Paths.Root,
		config.EnvAppRoot:  a.Paths.AppRoot,
	}
	for k, v := range a.Env {
		env[k] = v
	}

	logger := telemetry.FromContext(ctx).NewComponentLogger("adapter")
	logger.WithField("command", cmd).Debug("running adapter")

	res, err := procexec.Run(ctx, procexec.Params{
		Command: cmd,
		WorkDir: a.Spec.Dir,
		Env:     env,
		Timeout: a.Spec.Timeout,
	})
	if err != nil {
		if errors.Is(err, procexec.ErrTimeout) {
			return nil, engine.NewExternalServiceError("sync adapter timed out", err).
				WithStep(engine.StateSyncing)
		}
		return nil, fmt.Errorf("sync adapter: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
	}).Debug("adapter exited")

	return &engine.SyncResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, nil
}
