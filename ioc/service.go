package ioc

import (
	"context"

	"go.uber.org/zap"

	"wildsync/internal/app"
	"wildsync/internal/forms"
	"wildsync/internal/metrics"
	"wildsync/internal/objstore"
)

// InitMetrics 构建指标收集器，未配置 pushgateway 时只在进程内累计。
func InitMetrics(cfg app.Config) *metrics.Recorder {
	return metrics.NewRecorder(cfg.Metrics.PushgatewayURL)
}

// InitAppService 构建同步服务。
func InitAppService(cfg app.Config, layers app.LayerResolver, store objstore.Store, formsClient forms.Client, recorder *metrics.Recorder, logger *zap.Logger) (*app.Service, func(), error) {
	svc, err := app.NewService(cfg, layers, store, formsClient, recorder, logger)
	if err != nil {
		return nil, nil, err
	}
	return svc, func() { _ = svc.Close(context.Background()) }, nil
}
