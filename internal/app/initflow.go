package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"wildsync/internal/domain"
	"wildsync/internal/objstore"
	"wildsync/internal/reconcile"
	"wildsync/internal/snapshot"
)

// RestoreFlow 从最新快照重建图层，并把对象存储中的照片重新挂为附件。
type RestoreFlow struct {
	Layers LayerResolver
	Store  objstore.Store
	Sync   *reconcile.Synchronizer
	Job    RestoreJob
	// Truncate 为 true 时先清空目标图层。
	Truncate bool
	Logger   *zap.Logger
}

func (f *RestoreFlow) Run(ctx context.Context, rep *domain.Report) error {
	if f == nil {
		return fmt.Errorf("restore flow 未初始化")
	}
	if f.Layers == nil || f.Store == nil || f.Sync == nil {
		return fmt.Errorf("restore flow 依赖未注入完整")
	}
	logger := flowLogger(f.Logger)

	names, err := f.Store.List(ctx, snapshot.Dir(f.Job.SnapshotPrefix))
	if err != nil {
		return fmt.Errorf("列出快照失败: %w", err)
	}
	latest, ok := snapshot.Latest(names, f.Job.SnapshotPrefix)
	if !ok {
		return fmt.Errorf("前缀 %s 下没有快照: %w", f.Job.SnapshotPrefix, domain.ErrNotFound)
	}
	data, err := f.Store.Get(ctx, latest)
	if err != nil {
		return fmt.Errorf("下载快照 %s 失败: %w", latest, err)
	}
	records, err := snapshot.Decode(data, f.Job.DateFields, f.Job.DropFields)
	if err != nil {
		return err
	}
	logger.Info("snapshot loaded", zap.String("name", latest), zap.Int("records", len(records)))

	layer, err := f.Layers.Resolve(ctx, f.Job.Layer)
	if err != nil {
		return fmt.Errorf("解析目标图层失败: %w", err)
	}
	if f.Truncate {
		t, ok := layer.(TruncatableLayer)
		if !ok {
			return fmt.Errorf("图层 %s 不支持清空", layer.URL())
		}
		if err := t.Truncate(ctx); err != nil {
			return err
		}
		logger.Warn("destination truncated", zap.String("layer", layer.URL()))
	}
	if len(records) == 0 {
		return domain.ErrNoNewRecords
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := fmt.Sprintf("%d", i)
		rep.Pending(key)
		err := f.restoreOne(ctx, layer, rec)
		switch {
		case err == nil:
			rep.Mark(key, domain.OutcomeAdded)
		case isFatal(err):
			rep.Mark(key, domain.OutcomeFailed)
			return fmt.Errorf("恢复第 %d 条记录失败: %w", i, err)
		default:
			rep.Mark(key, domain.OutcomeFailed)
			logger.Warn("restore record failed", zap.Int("index", i),
				zap.Bool("rolled_back", errors.Is(err, reconcile.ErrRolledBack)), zap.Error(err))
		}
	}
	logger.Info("restore finished",
		zap.Int("added", rep.Count(domain.OutcomeAdded)),
		zap.Int("failed", rep.Count(domain.OutcomeFailed)))
	return nil
}

func (f *RestoreFlow) restoreOne(ctx context.Context, layer FeatureLayer, rec domain.Record) error {
	oid, err := addOne(ctx, layer, rec)
	if err != nil {
		return fmt.Errorf("新增记录失败: %w", err)
	}
	photos := domain.SplitPhotoNames(rec.Get(f.Job.PhotoField))
	if len(photos) == 0 || f.Job.PhotosPrefix == "" {
		return nil
	}
	sync := f.Sync.WithObjectIDField(f.Job.Layer.ObjectIDField)
	res, err := sync.CopyFromStore(ctx, f.Store, f.Job.PhotosPrefix, photos, layer, oid)
	if err != nil {
		return err
	}
	if len(res.Skipped) == 0 {
		return nil
	}
	// 部分照片缺失时，照片字段只保留实际挂上的附件
	update := domain.NewRecord()
	update.Set(sync.ObjectIDField, oid)
	if len(res.Names) == 0 {
		update.Set(f.Job.PhotoField, nil)
	} else {
		update.Set(f.Job.PhotoField, domain.JoinPhotoNames(res.Names))
	}
	resp, err := layer.ApplyEdits(ctx, nil, []domain.Record{update}, nil)
	if err == nil && len(resp.Updates) > 0 {
		err = editOutcome(resp.Updates[0])
	}
	if err != nil {
		return fmt.Errorf("%w: oid=%d: %w", reconcile.ErrPhotoFieldStale, oid, err)
	}
	return nil
}
