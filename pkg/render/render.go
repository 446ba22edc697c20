// Package render runs the external report renderer, which draws a
// finalized stats document into the report image and markup.
package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/engine"
	"github.com/tokei-app/tokei/pkg/procexec"
	"github.com/tokei-app/tokei/pkg/telemetry"
)

// Environment passed to the renderer.
const (
	EnvTheme    = "TOKEI_THEME"
	EnvTimezone = "TOKEI_TIMEZONE"
)

// CommandRenderer implements engine.Renderer. It invokes
//
//	<command...> <stats.json> <out.html> <out.png>
//
// and expects the renderer to write both output files.
type CommandRenderer struct {
	Spec  config.CommandSpec
	Paths config.Paths
	Env   map[string]string
}

// New creates a renderer from validated settings.
func New(s *config.Settings) *CommandRenderer {
	return &CommandRenderer{
		Spec:  s.Renderer,
		Paths: s.Paths,
		Env: map[string]string{
			EnvTheme:    s.Theme,
			EnvTimezone: s.Timezone,
		},
	}
}

// Render implements engine.Renderer.
func (r *CommandRenderer) Render(ctx context.Context, req engine.RenderRequest) error {
	cmd := append(append([]string(nil), r.Spec.Command...), req.StatsPath, req.MarkupPath, req.ImagePath)

	env := map[string]string{
		config.EnvUserRoot: r.Paths.Root,
		config.EnvAppRoot:  r.Paths.AppRoot,
	}
	for k, v := range r.Env {
		env[k] = v
	}

	telemetry.FromContext(ctx).NewComponentLogger("render").
		WithField("stats", req.StatsPath).Debug("running renderer")

	res, err := procexec.Run(ctx, procexec.Params{
		Command: cmd,
		WorkDir: r.Spec.Dir,
		Env:     env,
		Timeout: r.Spec.Timeout,
	})
	if err != nil {
		if errors.Is(err, procexec.ErrTimeout) {
			return engine.NewUnclassifiedError("renderer timed out", err)
		}
		return fmt.Errorf("renderer: %w", err)
	}
	if res.ExitCode != 0 {
		return engine.NewProcessError(fmt.Sprintf("renderer failed (code %d)", res.ExitCode), res.ExitCode, res.Stderr)
	}
	return nil
}
