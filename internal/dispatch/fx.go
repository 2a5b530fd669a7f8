package dispatch

import (
	"context"

	"go.uber.org/fx"

	gendomain "github.com/atelierhq/atelier/internal/generation/domain"
)

// Module wires the dispatcher and binds it to the fx lifecycle.
var Module = fx.Module("dispatch",
	fx.Provide(
		New,
		func(d *Dispatcher) gendomain.Dispatcher { return d },
	),
	fx.Invoke(registerHooks),
)

func registerHooks(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			d.Stop()
			return nil
		},
	})
}
