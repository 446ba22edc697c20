package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/engine"
	"github.com/tokei-app/tokei/pkg/telemetry"
)

// Refresher implements engine.Refresher for HTTP and process producers.
type Refresher struct {
	Client *Client
	Paths  config.Paths

	// Now is the clock used for artifact ages. Defaults to time.Now.
	Now func() time.Time
}

// NewRefresher creates a refresher for the given data paths.
func NewRefresher(paths config.Paths) *Refresher {
	return &Refresher{Client: NewClient(), Paths: paths}
}

// Close releases the HTTP client's idle connections.
func (r *Refresher) Close() error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Refresh brings one producer's artifact up to date. Soft failures come
// back as warnings in the result; a returned error is always a
// *engine.RunError of kind external_service_error or storage_error.
func (r *Refresher) Refresh(ctx context.Context, ep config.Endpoint) (*engine.RefreshResult, error) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return r.refresh(ctx, ep)
	}

	spanCtx, span := tel.Tracer.StartProducerSpan(ctx, ep.Name, "refresh")
	defer span.End()
	res, err := r.refresh(spanCtx, ep)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		span.SetAttributes(telemetry.AttrProducerResult.String(string(res.Outcome)))
		telemetry.RecordSuccess(span)
	}
	return res, err
}

func (r *Refresher) refresh(ctx context.Context, ep config.Endpoint) (*engine.RefreshResult, error) {
	logger := telemetry.FromContext(ctx).WithProducer(ep.Name, ep.Port)

	before, err := ProbeArtifact(ep.ArtifactPath)
	if err != nil {
		return nil, engine.NewStorageError("cannot inspect producer artifact", err).WithProducer(ep.Name)
	}

	var trig Trigger
	port := 0
	switch ep.Kind {
	case config.KindProcess:
		trig = &ProcessTrigger{
			Dir: r.Paths.AppRoot,
			Env: map[string]string{
				config.EnvUserRoot: r.Paths.Root,
				config.EnvAppRoot:  r.Paths.AppRoot,
			},
		}
	default:
		located, err := r.Client.Locate(ctx, ep)
		if err != nil {
			logger.WithError(err).Debug("producer not reachable")
			return r.unreachable(ep, before)
		}
		port = located
		if port != ep.Port {
			logger.Infof("%s answered on fallback port %d", ep.Name, port)
		}
		trig = &HTTPTrigger{Client: r.Client, Port: port}
	}

	if err := Refresh(ctx, trig, ep, before); err != nil {
		if ctx.Err() != nil {
			return nil, engine.NewUnclassifiedError("refresh interrupted", ctx.Err()).WithProducer(ep.Name)
		}
		if !ep.RequireFresh {
			msg := fmt.Sprintf("%s refresh failed, continuing with the existing export: %v", ep.Name, err)
			return &engine.RefreshResult{
				Producer: ep.Name,
				Outcome:  engine.RefreshSkipped,
				Port:     port,
				Warnings: []string{msg},
			}, nil
		}
		return nil, engine.NewExternalServiceError(refreshFailure(ep, err), err).WithProducer(ep.Name)
	}

	logger.Debug("producer artifact refreshed")
	return &engine.RefreshResult{Producer: ep.Name, Outcome: engine.RefreshFresh, Port: port}, nil
}

// unreachable applies the freshness policy to a producer that did not
// answer: optional freshness skips, a recent artifact is tolerated, and
// anything else fails.
func (r *Refresher) unreachable(ep config.Endpoint, before ArtifactState) (*engine.RefreshResult, error) {
	if !ep.RequireFresh {
		return &engine.RefreshResult{
			Producer: ep.Name,
			Outcome:  engine.RefreshSkipped,
			Warnings: []string{fmt.Sprintf("%s not reachable; skipping refresh", displayName(ep))},
		}, nil
	}

	tolerance := ep.StaleTolerance
	if tolerance <= 0 {
		tolerance = config.DefaultStaleTolerance
	}
	if age, ok := before.Age(r.now()); ok && age <= tolerance {
		return &engine.RefreshResult{
			Producer: ep.Name,
			Outcome:  engine.RefreshStale,
			Warnings: []string{fmt.Sprintf("%s not reachable, using recent existing export: %s", displayName(ep), before.Path)},
		}, nil
	}

	return nil, engine.NewExternalServiceError(fmt.Sprintf(
		"%s not detected on %s. If you use AnkiConnect, it often occupies port %d; set %s to %d in its rules.json and in tokei's config",
		displayName(ep), BaseURL(ep.Host, ep.Port), ConflictPort, displayName(ep), FallbackPort), nil).
		WithProducer(ep.Name)
}

func refreshFailure(ep config.Endpoint, err error) string {
	if ep.ArtifactPath != "" && errors.Is(err, ErrNotUpdated) {
		return fmt.Sprintf("%s export did not update at %s. Is Anki running and unlocked, and is the export directory configured?",
			displayName(ep), ep.ArtifactPath)
	}
	return fmt.Sprintf("%s refresh failed", displayName(ep))
}

func displayName(ep config.Endpoint) string {
	if ep.Kind == config.KindHTTP && ep.Identity != "" {
		return ep.Identity
	}
	return ep.Name
}
