package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wildsync/internal/domain"
	"wildsync/internal/objstore"
	"wildsync/internal/snapshot"
)

// MigrateFlow 把 DD-MM-YYYY 旧格式命名的快照改为规范名。
// 规范名已存在时保留旧文件，不覆盖。
type MigrateFlow struct {
	Store  objstore.Store
	Prefix string
	Logger *zap.Logger
}

func (f *MigrateFlow) Run(ctx context.Context, rep *domain.Report) error {
	if f == nil {
		return fmt.Errorf("migrate flow 未初始化")
	}
	if f.Store == nil {
		return fmt.Errorf("migrate flow 依赖未注入完整")
	}
	logger := flowLogger(f.Logger)

	names, err := f.Store.List(ctx, snapshot.Dir(f.Prefix))
	if err != nil {
		return fmt.Errorf("列出快照失败: %w", err)
	}
	existing := make(map[string]bool, len(names))
	for _, n := range names {
		existing[n] = true
	}

	for _, name := range names {
		target, ok := snapshot.Canonical(name, f.Prefix)
		if !ok {
			continue
		}
		rep.Pending(name)
		if existing[target] {
			rep.Mark(name, domain.OutcomeSkipped)
			logger.Warn("canonical snapshot already exists, legacy kept", zap.String("legacy", name), zap.String("canonical", target))
			continue
		}
		if err := f.move(ctx, name, target); err != nil {
			rep.Mark(name, domain.OutcomeFailed)
			logger.Warn("migrate snapshot failed", zap.String("legacy", name), zap.Error(err))
			continue
		}
		existing[target] = true
		rep.Mark(name, domain.OutcomeUpdated)
		logger.Info("snapshot renamed", zap.String("from", name), zap.String("to", target))
	}
	if rep.Total() == 0 {
		return domain.ErrNoNewRecords
	}
	return nil
}

func (f *MigrateFlow) move(ctx context.Context, from, to string) error {
	data, err := f.Store.Get(ctx, from)
	if err != nil {
		return err
	}
	if err := f.Store.Put(ctx, to, data, snapshot.ContentType); err != nil {
		return err
	}
	return f.Store.Delete(ctx, from)
}
