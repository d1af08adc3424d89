package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"wildsync/internal/domain"
	"wildsync/internal/reconcile"
)

// AppendFlow 把源图层中目标图层尚未出现的记录追加到目标图层，并复制附件。
type AppendFlow struct {
	Layers LayerResolver
	Sync   *reconcile.Synchronizer
	Job    AppendJob
	Logger *zap.Logger
}

func (f *AppendFlow) Run(ctx context.Context, rep *domain.Report) error {
	if f == nil {
		return fmt.Errorf("append flow 未初始化")
	}
	if f.Layers == nil || f.Sync == nil {
		return fmt.Errorf("append flow 依赖未注入完整")
	}
	logger := flowLogger(f.Logger)

	src, err := f.Layers.Resolve(ctx, f.Job.Source)
	if err != nil {
		return fmt.Errorf("解析源图层失败: %w", err)
	}
	dst, err := f.Layers.Resolve(ctx, f.Job.Destination)
	if err != nil {
		return fmt.Errorf("解析目标图层失败: %w", err)
	}

	srcRecords, err := src.Query(ctx, f.Job.Where)
	if err != nil {
		return fmt.Errorf("读取源图层失败: %w", err)
	}
	dstRecords, err := dst.Query(ctx, "")
	if err != nil {
		return fmt.Errorf("读取目标图层失败: %w", err)
	}

	srcKeys, missing := reconcile.Keys(srcRecords, f.Job.SourceKey)
	if missing > 0 {
		logger.Warn("source records without key, skipped", zap.String("field", f.Job.SourceKey), zap.Int("count", missing))
	}
	dstKeys, _ := reconcile.Keys(dstRecords, f.Job.DestinationKey)
	keys := reconcile.NewKeys(srcKeys, dstKeys)
	logger.Info("append diff computed",
		zap.Int("source", len(srcRecords)),
		zap.Int("destination", len(dstRecords)),
		zap.Int("new", len(keys)))
	if len(keys) == 0 {
		return domain.ErrNoNewRecords
	}

	index := reconcile.Index(srcRecords, f.Job.SourceKey)
	for _, key := range keys {
		rep.Pending(key)
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		source := index[key]
		err := f.appendOne(ctx, src, dst, source)
		switch {
		case err == nil:
			rep.Mark(key, domain.OutcomeAdded)
		case isFatal(err):
			rep.Mark(key, domain.OutcomeFailed)
			return fmt.Errorf("追加记录 %s 失败: %w", key, err)
		default:
			rep.Mark(key, domain.OutcomeFailed)
			logger.Warn("append record failed", zap.String("key", key),
				zap.Bool("rolled_back", errors.Is(err, reconcile.ErrRolledBack)), zap.Error(err))
		}
	}

	logger.Info("append finished",
		zap.Int("added", rep.Count(domain.OutcomeAdded)),
		zap.Int("failed", rep.Count(domain.OutcomeFailed)))
	return nil
}

func (f *AppendFlow) appendOne(ctx context.Context, src, dst FeatureLayer, source domain.Record) error {
	// 先校验源 object id，避免目标记录已建而附件无法复制
	var srcOID int64
	if f.Job.CopyAttachments {
		field := f.Sync.WithObjectIDField(f.Job.Source.ObjectIDField).ObjectIDField
		oid, ok := source.Int64(field)
		if !ok {
			return fmt.Errorf("源记录缺少 %s: %w", field, domain.ErrPermanent)
		}
		srcOID = oid
	}

	rec := source.Clone()
	for _, field := range f.Job.DropFields {
		rec.Delete(field)
	}
	rec.Set(f.Job.DestinationKey, source.Get(f.Job.SourceKey))

	newOID, err := addOne(ctx, dst, rec)
	if err != nil {
		return fmt.Errorf("新增目标记录失败: %w", err)
	}
	if !f.Job.CopyAttachments {
		return nil
	}
	res, err := f.Sync.WithObjectIDField(f.Job.Destination.ObjectIDField).CopyAll(ctx, src, srcOID, dst, newOID)
	if err != nil {
		return err
	}
	if len(res.Skipped) > 0 {
		flowLogger(f.Logger).Warn("some attachments were missing at source",
			zap.Int64("source_oid", srcOID), zap.Int64("oid", newOID), zap.Int("skipped", len(res.Skipped)))
	}
	return nil
}

func flowLogger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
