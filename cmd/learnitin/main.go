package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/learnitin/api/internal/clock"
	"github.com/learnitin/api/internal/config"
	"github.com/learnitin/api/internal/migration"
	"github.com/learnitin/api/internal/observability"
	"github.com/learnitin/api/internal/server"
	"github.com/learnitin/api/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// HTTP surface plus every domain module it mounts
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
