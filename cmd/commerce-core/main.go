package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallcraft/commerce-core/internal/clock"
	"github.com/smallcraft/commerce-core/internal/migration"
	"github.com/smallcraft/commerce-core/internal/observability"
	"github.com/smallcraft/commerce-core/internal/scheduler"
	"github.com/smallcraft/commerce-core/internal/server"
	"github.com/smallcraft/commerce-core/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Functional Domains
		server.Module,
		scheduler.Module,
		migration.Module,
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
