package generation

import (
	"go.uber.org/fx"

	"github.com/atelierhq/atelier/internal/generation/service"
)

// Module wires the generation orchestrator and the task tracker.
var Module = fx.Module("generation.service",
	fx.Provide(service.NewTracker),
	fx.Provide(service.NewService),
)
