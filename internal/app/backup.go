package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wildsync/internal/domain"
	"wildsync/internal/objstore"
	"wildsync/internal/reconcile"
	"wildsync/internal/snapshot"
)

// BackupFlow 备份照片、导出当日 GeoJSON 快照并清理过期快照。
type BackupFlow struct {
	Layers LayerResolver
	Store  objstore.Store
	Sync   *reconcile.Synchronizer
	Job    BackupJob
	Now    func() time.Time
	Logger *zap.Logger
}

func (f *BackupFlow) Run(ctx context.Context, rep *domain.Report) error {
	if f == nil {
		return fmt.Errorf("backup flow 未初始化")
	}
	if f.Layers == nil || f.Store == nil || f.Sync == nil {
		return fmt.Errorf("backup flow 依赖未注入完整")
	}
	logger := flowLogger(f.Logger)
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}

	layer, err := f.Layers.Resolve(ctx, f.Job.Layer)
	if err != nil {
		return fmt.Errorf("解析图层失败: %w", err)
	}
	records, err := layer.Query(ctx, f.Job.Where)
	if err != nil {
		return fmt.Errorf("读取图层失败: %w", err)
	}

	if f.Job.PhotosPrefix != "" {
		sync := f.Sync.WithObjectIDField(f.Job.Layer.ObjectIDField)
		res, err := sync.MirrorPhotos(ctx, layer, records, f.Job.PhotoField, f.Store, f.Job.PhotosPrefix)
		if err != nil {
			return fmt.Errorf("备份照片失败: %w", err)
		}
		logger.Info("photos mirrored",
			zap.Int("uploaded", res.Uploaded),
			zap.Int("present", res.Present),
			zap.Int("failed", res.Failed))
	}

	data, err := snapshot.Encode(snapshot.Export(records, f.Job.DateFields))
	if err != nil {
		return err
	}
	name := snapshot.Name(f.Job.SnapshotPrefix, now)
	if err := f.Store.Put(ctx, name, data, snapshot.ContentType); err != nil {
		return fmt.Errorf("上传快照 %s 失败: %w", name, err)
	}
	// 只有快照文件本身是新增的对象，图层记录没有变化
	rep.Mark(name, domain.OutcomeAdded)
	logger.Info("snapshot written", zap.String("name", name), zap.Int("records", len(records)), zap.Int("bytes", len(data)))

	f.prune(ctx, now)
	return nil
}

// prune 删除超过保留天数的快照，失败只记录日志。
func (f *BackupFlow) prune(ctx context.Context, now time.Time) {
	if f.Job.RetentionDays <= 0 {
		return
	}
	logger := flowLogger(f.Logger)
	names, err := f.Store.List(ctx, snapshot.Dir(f.Job.SnapshotPrefix))
	if err != nil {
		logger.Warn("list snapshots failed, retention skipped", zap.Error(err))
		return
	}
	for _, name := range snapshot.Expired(names, f.Job.SnapshotPrefix, now, f.Job.RetentionDays) {
		if err := f.Store.Delete(ctx, name); err != nil {
			logger.Warn("delete expired snapshot failed", zap.String("name", name), zap.Error(err))
			continue
		}
		logger.Info("expired snapshot deleted", zap.String("name", name))
	}
}
