package main

import (
	"log"

	"ambassador-controlplane/pkg/config"
	"ambassador-controlplane/pkg/db"
	"ambassador-controlplane/pkg/hashistack/secretmanager"
	"ambassador-controlplane/pkg/logger"
	"ambassador-controlplane/pkg/otelcol"
	"ambassador-controlplane/pkg/task"
	"ambassador-controlplane/services/campaign"
	settlement "ambassador-controlplane/services/task"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		configModule(),
		logger.Module,
		otelcol.Module,
		db.Module,
		task.Client,
		fx.Provide(
			provideSnowflakeNode,
			campaign.NewService,
		),
		settlement.SchedulerModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func configModule() fx.Option {
	if secretmanager.Enabled() {
		return fx.Options(secretmanager.Module, config.RemoteModule)
	}
	return config.Module
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
