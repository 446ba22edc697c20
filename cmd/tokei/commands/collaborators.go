package commands

import (
	"github.com/tokei-app/tokei/pkg/adapter"
	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/engine"
	"github.com/tokei-app/tokei/pkg/producer"
	"github.com/tokei-app/tokei/pkg/render"
)

// processCollaborators wires the shipped producer, adapter and renderer
// implementations into the orchestrator.
type processCollaborators struct{}

var _ engine.Collaborators = processCollaborators{}

func (processCollaborators) Refresher(s *config.Settings) engine.Refresher {
	return producer.NewRefresher(s.Paths)
}

func (processCollaborators) Adapter(s *config.Settings) engine.Adapter {
	return adapter.New(s)
}

func (processCollaborators) Renderer(s *config.Settings) engine.Renderer {
	return render.New(s)
}
