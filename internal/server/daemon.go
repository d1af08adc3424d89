package server

import (
	"context"

	"go.uber.org/zap"

	"wildsync/internal/app"
	"wildsync/internal/job"
)

// Daemon 封装常驻调度进程运行所需的依赖。
type Daemon struct {
	Logger  *zap.Logger
	Config  app.Config
	Service *app.Service
	Job     *job.Scheduler
}

// NewDaemon 构建 Daemon。
func NewDaemon(logger *zap.Logger, cfg app.Config, svc *app.Service, scheduler *job.Scheduler) *Daemon {
	return &Daemon{
		Logger:  logger,
		Config:  cfg,
		Service: svc,
		Job:     scheduler,
	}
}

// RunOnce 执行单个作业。
func (d *Daemon) RunOnce(ctx context.Context, job string) error {
	return d.Service.Run(ctx, job)
}

// Run 启动调度器并阻塞到 ctx 结束。
func (d *Daemon) Run(ctx context.Context) error {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.Job == nil || len(d.Job.Jobs()) == 0 {
		logger.Warn("no scheduled jobs configured")
		<-ctx.Done()
		return nil
	}
	stop := d.Job.Start(ctx)
	defer stop()
	logger.Info("daemon started", zap.Strings("jobs", d.Job.Jobs()))
	<-ctx.Done()
	logger.Info("daemon stopping", zap.Error(ctx.Err()))
	return nil
}

// Shutdown 释放资源。
func (d *Daemon) Shutdown(ctx context.Context) {
	if d.Service != nil {
		if err := d.Service.Close(ctx); err != nil && d.Logger != nil {
			d.Logger.Warn("close app service failed", zap.Error(err))
		}
	}
}
