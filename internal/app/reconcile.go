package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wildsync/internal/domain"
	"wildsync/internal/reconcile"
)

// RollupFlow 把子表最新一条记录的状态字段汇总到父图层。
type RollupFlow struct {
	Layers  LayerResolver
	Targets []RollupTarget
	Now     func() time.Time
	Logger  *zap.Logger
}

func (f *RollupFlow) Run(ctx context.Context, rep *domain.Report) error {
	if f == nil {
		return fmt.Errorf("rollup flow 未初始化")
	}
	if f.Layers == nil {
		return fmt.Errorf("rollup flow 依赖未注入完整")
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	changed := 0
	for _, target := range f.Targets {
		n, err := f.runTarget(ctx, target, now(), rep)
		if err != nil {
			return fmt.Errorf("汇总 %s 失败: %w", target.Name, err)
		}
		changed += n
	}
	if changed == 0 {
		return domain.ErrNoNewRecords
	}
	return nil
}

func (f *RollupFlow) runTarget(ctx context.Context, target RollupTarget, now time.Time, rep *domain.Report) (int, error) {
	logger := flowLogger(f.Logger).With(zap.String("target", target.Name))
	parentLayer, err := f.Layers.Resolve(ctx, target.Parent)
	if err != nil {
		return 0, fmt.Errorf("解析父图层失败: %w", err)
	}
	childLayer, err := f.Layers.Resolve(ctx, target.Child)
	if err != nil {
		return 0, fmt.Errorf("解析子表失败: %w", err)
	}
	parents, err := parentLayer.Query(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("读取父图层失败: %w", err)
	}
	children, err := childLayer.Query(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("读取子表失败: %w", err)
	}

	cfg := target.Rollup
	if cfg.ObjectIDField == "" {
		cfg.ObjectIDField = domain.FieldObjectID
	}
	key := func(oid any) string {
		return target.Name + ":" + domain.KeyOf(oid)
	}
	for _, p := range parents {
		rep.Pending(key(p.Get(cfg.ObjectIDField)))
	}

	res := reconcile.Rollup(parents, children, cfg, now)
	logger.Info("rollup computed",
		zap.Int("parents", len(parents)),
		zap.Int("children", len(children)),
		zap.Int("updates", len(res.Updates)),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("no_children", res.NoChildren),
		zap.Bool("reset", res.Reset))

	if len(res.Updates) > 0 {
		resp, err := parentLayer.ApplyEdits(ctx, nil, res.Updates, nil)
		if err != nil {
			return 0, fmt.Errorf("更新父图层失败: %w", err)
		}
		for i, upd := range res.Updates {
			k := key(upd.Get(cfg.ObjectIDField))
			if i >= len(resp.Updates) {
				rep.Mark(k, domain.OutcomeFailed)
				continue
			}
			if err := editOutcome(resp.Updates[i]); err != nil {
				rep.Mark(k, domain.OutcomeFailed)
				logger.Warn("parent update failed", zap.String("key", k), zap.Error(err))
				continue
			}
			rep.Mark(k, domain.OutcomeUpdated)
		}
	}
	for _, p := range parents {
		k := key(p.Get(cfg.ObjectIDField))
		if rep.Outcome(k) == domain.OutcomePending {
			rep.Mark(k, domain.OutcomeSkipped)
		}
	}
	return len(res.Updates), nil
}
