package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wildsync/internal/domain"
	"wildsync/internal/forms"
	"wildsync/internal/metrics"
	"wildsync/internal/objstore"
	"wildsync/internal/reconcile"
)

// Flow 是一次可执行的同步作业，结果写入 Report。
type Flow interface {
	Run(ctx context.Context, rep *domain.Report) error
}

// Service 负责装配各个 Flow 并提供统一入口。
type Service struct {
	cfg     Config
	flows   map[string]Flow
	metrics *metrics.Recorder
	logger  *zap.Logger
	now     func() time.Time

	RestoreFlow *RestoreFlow
}

// NewService 根据配置构建 Service。store 与 formsClient 可以为空，对应作业运行时报错。
func NewService(cfg Config, layers LayerResolver, store objstore.Store, formsClient forms.Client, recorder *metrics.Recorder, logger *zap.Logger) (*Service, error) {
	if layers == nil {
		return nil, fmt.Errorf("必须提供图层解析器")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sync := reconcile.NewSynchronizer(domain.FieldObjectID, logger.Named("attachments"))
	jobs := cfg.Jobs

	svc := &Service{
		cfg:     cfg,
		metrics: recorder,
		logger:  logger,
		now:     time.Now,
	}
	svc.RestoreFlow = &RestoreFlow{
		Layers: layers,
		Store:  store,
		Sync:   sync,
		Job:    jobs.Restore,
		Logger: logger.With(zap.String("flow", JobRestore)),
	}
	svc.flows = map[string]Flow{
		JobAppend: &AppendFlow{
			Layers: layers,
			Sync:   sync,
			Job:    jobs.Append,
			Logger: logger.With(zap.String("flow", JobAppend)),
		},
		JobRename: &RenameFlow{
			Layers:  layers,
			Sync:    sync,
			Targets: jobs.Rename,
			Logger:  logger.With(zap.String("flow", JobRename)),
		},
		JobRollup: &RollupFlow{
			Layers:  layers,
			Targets: jobs.Rollup,
			Now:     svc.clock,
			Logger:  logger.With(zap.String("flow", JobRollup)),
		},
		JobBackup: &BackupFlow{
			Layers: layers,
			Store:  store,
			Sync:   sync,
			Job:    jobs.Backup,
			Now:    svc.clock,
			Logger: logger.With(zap.String("flow", JobBackup)),
		},
		JobRestore: svc.RestoreFlow,
		JobMigrate: &MigrateFlow{
			Store:  store,
			Prefix: jobs.Backup.SnapshotPrefix,
			Logger: logger.With(zap.String("flow", JobMigrate)),
		},
	}
	if formsClient != nil {
		svc.flows[JobFormSync] = &FormSyncFlow{
			Layers: layers,
			Forms:  formsClient,
			Mapper: forms.NewMapper(cfg.Forms.Mapper),
			Sync:   sync,
			Job:    jobs.FormSync,
			Logger: logger.With(zap.String("flow", JobFormSync)),
		}
	}
	return svc, nil
}

// SetClock 替换时间来源，测试用。
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) clock() time.Time {
	return s.now()
}

// Close 释放资源。
func (s *Service) Close(ctx context.Context) error {
	if s.logger != nil {
		_ = s.logger.Sync()
	}
	return nil
}

// Run 执行一个作业；没有新数据时返回 nil。
func (s *Service) Run(ctx context.Context, job string) error {
	_, err := s.RunReport(ctx, job)
	return err
}

// RunReport 执行一个作业并返回运行报告。
func (s *Service) RunReport(ctx context.Context, job string) (*domain.Report, error) {
	flow, ok := s.flows[job]
	if !ok {
		if job == JobFormSync {
			return nil, fmt.Errorf("未配置表单接口，无法执行 %s", job)
		}
		return nil, fmt.Errorf("未知作业 %q", job)
	}
	if err := s.cfg.Validate(job); err != nil {
		return nil, fmt.Errorf("作业 %s 配置不完整: %w", job, err)
	}

	rep := domain.NewReport(job, uuid.NewString())
	logger := s.logger.With(zap.String("job", job), zap.String("run_id", rep.RunID))
	logger.Info("job started")
	start := s.now()
	err := flow.Run(ctx, rep)
	end := s.now()
	elapsed := end.Sub(start)

	s.metrics.ObserveReport(rep)
	s.metrics.ObserveRun(job, elapsed, err, end)
	if perr := s.metrics.Push(ctx, job); perr != nil {
		logger.Warn("push metrics failed", zap.Error(perr))
	}

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int("added", rep.Count(domain.OutcomeAdded)),
		zap.Int("updated", rep.Count(domain.OutcomeUpdated)),
		zap.Int("skipped", rep.Count(domain.OutcomeSkipped)),
		zap.Int("failed", rep.Count(domain.OutcomeFailed)),
	}
	switch {
	case errors.Is(err, domain.ErrNoNewRecords):
		logger.Info("no new records", fields...)
		return rep, nil
	case err != nil:
		logger.Error("job failed", append(fields, zap.Error(err))...)
		return rep, err
	}
	logger.Info("job finished", fields...)
	return rep, nil
}

// Restore 从最新快照恢复图层；truncate 为 true 时先清空图层。
func (s *Service) Restore(ctx context.Context, truncate bool) (*domain.Report, error) {
	s.RestoreFlow.Truncate = truncate
	defer func() { s.RestoreFlow.Truncate = false }()
	return s.RunReport(ctx, JobRestore)
}
