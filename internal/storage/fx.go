package storage

import "go.uber.org/fx"

// Module wires the storage resolver.
var Module = fx.Module("storage.resolver",
	fx.Provide(NewObjectIndex),
)
