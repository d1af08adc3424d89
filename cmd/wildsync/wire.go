//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"wildsync/internal/server"
	"wildsync/ioc"
)

func InitDaemon(ctx context.Context, path ioc.ConfigPath) (*server.Daemon, func(), error) {
	panic(wire.Build(
		ioc.InitConfig,
		ioc.InitLogger,
		ioc.InitTokenSource,
		ioc.InitGISClient,
		ioc.InitLayerResolver,
		ioc.InitObjectStore,
		ioc.InitFormsClient,
		ioc.InitMetrics,
		ioc.InitAppService,
		ioc.InitScheduler,
		server.NewDaemon,
	))
}
