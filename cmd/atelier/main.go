package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/atelierhq/atelier/internal/chat"
	"github.com/atelierhq/atelier/internal/clock"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/credit"
	"github.com/atelierhq/atelier/internal/dispatch"
	"github.com/atelierhq/atelier/internal/generation"
	"github.com/atelierhq/atelier/internal/logger"
	"github.com/atelierhq/atelier/internal/migration"
	"github.com/atelierhq/atelier/internal/pricing"
	"github.com/atelierhq/atelier/internal/provider"
	"github.com/atelierhq/atelier/internal/server"
	"github.com/atelierhq/atelier/internal/storage"
	"github.com/atelierhq/atelier/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		credit.Module,
		pricing.Module,
		storage.Module,
		provider.Module,
		dispatch.Module,
		generation.Module,
		chat.Module,

		// HTTP surface
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
