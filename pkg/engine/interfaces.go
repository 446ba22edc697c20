package engine

import (
	"context"

	"github.com/tokei-app/tokei/pkg/config"
)

// Refresher brings one producer's exported artifact up to date. Soft
// failures are reported in the result; a returned error is fatal to the run.
type Refresher interface {
	Refresh(ctx context.Context, ep config.Endpoint) (*RefreshResult, error)
}

// Adapter invokes the metric source adapter. An error means the adapter
// could not be run at all; a run that terminated is reported in SyncResult
// whatever its exit code.
type Adapter interface {
	Sync(ctx context.Context, req SyncRequest) (*SyncResult, error)
}

// Renderer turns a finalized stats document into image and markup files.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) error
}

// Prompter asks the user how to resolve a duplicate day.
type Prompter interface {
	ChooseDuplicate(ctx context.Context, info DuplicateInfo) (Choice, error)
}

// Collaborators builds the external collaborators from validated settings.
type Collaborators interface {
	Refresher(s *config.Settings) Refresher
	Adapter(s *config.Settings) Adapter
	Renderer(s *config.Settings) Renderer
}

// SetupFunc creates the configuration when none exists. It is only
// called for interactive runs.
type SetupFunc func(ctx context.Context, store *config.Store) error
