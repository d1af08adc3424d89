package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"wildsync/internal/domain"
	"wildsync/internal/reconcile"
)

// RenameFlow 把各图层附件改为规范名并同步照片字段。
type RenameFlow struct {
	Layers  LayerResolver
	Sync    *reconcile.Synchronizer
	Targets []RenameTarget
	Logger  *zap.Logger
}

func (f *RenameFlow) Run(ctx context.Context, rep *domain.Report) error {
	if f == nil {
		return fmt.Errorf("rename flow 未初始化")
	}
	if f.Layers == nil || f.Sync == nil {
		return fmt.Errorf("rename flow 依赖未注入完整")
	}
	for _, target := range f.Targets {
		layer, err := f.Layers.Resolve(ctx, target.Layer)
		if err != nil {
			return fmt.Errorf("解析图层失败 %s: %w", target.Layer, err)
		}
		records, err := layer.Query(ctx, target.Where)
		if err != nil {
			return fmt.Errorf("读取图层失败 %s: %w", target.Layer, err)
		}
		if err := renameRecords(ctx, f.Sync.WithObjectIDField(target.Layer.ObjectIDField), layer, records, target.Naming, layer.URL()+":", rep, flowLogger(f.Logger)); err != nil {
			return err
		}
	}
	if rep.Count(domain.OutcomeUpdated) == 0 && rep.Count(domain.OutcomeFailed) == 0 {
		return domain.ErrNoNewRecords
	}
	return nil
}

// renameRecords 逐条整理附件名；单条失败记为 Failed，连接类错误终止。
func renameRecords(ctx context.Context, sync *reconcile.Synchronizer, layer FeatureLayer, records []domain.Record, naming reconcile.Naming, keyPrefix string, rep *domain.Report, logger *zap.Logger) error {
	sort.SliceStable(records, func(i, j int) bool {
		a, _ := records[i].Int64(sync.ObjectIDField)
		b, _ := records[j].Int64(sync.ObjectIDField)
		return a < b
	})
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := keyPrefix + domain.KeyOf(rec.Get(sync.ObjectIDField))
		rep.Pending(key)
		res, err := sync.Rename(ctx, layer, rec, naming)
		switch {
		case err == nil && len(res.Failures) == 0 && res.Orphans == 0:
			if res.Renamed > 0 || res.FieldUpdated {
				rep.Mark(key, domain.OutcomeUpdated)
			} else {
				rep.Mark(key, domain.OutcomeSkipped)
			}
		case err != nil && isFatal(err):
			rep.Mark(key, domain.OutcomeFailed)
			return fmt.Errorf("整理附件失败 %s: %w", key, err)
		default:
			rep.Mark(key, domain.OutcomeFailed)
			logger.Warn("rename incomplete",
				zap.String("key", key),
				zap.Int("renamed", res.Renamed),
				zap.Int("orphans", res.Orphans),
				zap.Int("failures", len(res.Failures)),
				zap.Bool("stale_field", errors.Is(err, reconcile.ErrPhotoFieldStale)),
				zap.Error(err))
		}
	}
	return nil
}
