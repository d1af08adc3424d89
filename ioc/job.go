package ioc

import (
	"go.uber.org/zap"

	"wildsync/internal/app"
	"wildsync/internal/job"
)

// InitScheduler 构建定时任务调度器。
func InitScheduler(cfg app.Config, svc *app.Service, logger *zap.Logger) *job.Scheduler {
	var run job.RunFunc
	if svc != nil {
		run = svc.Run
	}
	return job.NewScheduler(cfg, run, logger.Named("scheduler"))
}
