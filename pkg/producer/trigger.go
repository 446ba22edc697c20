package producer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/procexec"
)

// Trigger asks a producer to write its artifact. It returns once the
// request was accepted; the artifact may be written later.
type Trigger interface {
	Trigger(ctx context.Context, ep config.Endpoint) error
}

// HTTPTrigger triggers an HTTP producer's /export endpoint.
type HTTPTrigger struct {
	Client *Client

	// Port overrides the endpoint's port, e.g. after a fallback.
	Port int
}

// Trigger implements Trigger.
func (t *HTTPTrigger) Trigger(ctx context.Context, ep config.Endpoint) error {
	port := ep.Port
	if t.Port != 0 {
		port = t.Port
	}
	return t.Client.Export(ctx, ep, port)
}

// ProcessTrigger runs the endpoint's export command.
type ProcessTrigger struct {
	// Dir is the working directory for the command.
	Dir string

	// Env is added to the command's environment.
	Env map[string]string
}

// Trigger implements Trigger. A non-zero exit is a failure carrying the
// command's stderr.
func (t *ProcessTrigger) Trigger(ctx context.Context, ep config.Endpoint) error {
	res, err := procexec.Run(ctx, procexec.Params{
		Command: ep.Command,
		WorkDir: t.Dir,
		Env:     t.Env,
		Timeout: ep.RefreshTimeout,
	})
	if err != nil {
		return fmt.Errorf("%s exporter: %w", ep.Name, err)
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return fmt.Errorf("%s exporter exited with code %d: %s", ep.Name, res.ExitCode, msg)
	}
	return nil
}

// Refresh triggers the producer and waits for its artifact to advance
// past before. An endpoint without an artifact path succeeds as soon as
// the trigger does.
func Refresh(ctx context.Context, trig Trigger, ep config.Endpoint, before ArtifactState) error {
	if err := trig.Trigger(ctx, ep); err != nil {
		return err
	}
	timeout := ep.RefreshTimeout
	if timeout <= 0 {
		timeout = config.DefaultRefreshTimeout
	}
	return WaitForUpdate(ctx, ep.ArtifactPath, before, timeout)
}
