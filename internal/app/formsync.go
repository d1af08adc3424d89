package app

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"wildsync/internal/domain"
	"wildsync/internal/forms"
	"wildsync/internal/reconcile"
)

// FormSyncFlow 把表单提交同步到图层：
// 先上传照片、尚未填写表单字段的记录用提交内容补全；图层中没有的提交新增；
// 可选地清理重复与缺少确认号的记录，最后统一整理附件名。
type FormSyncFlow struct {
	Layers LayerResolver
	Forms  forms.Client
	Mapper *forms.Mapper
	Sync   *reconcile.Synchronizer
	Job    FormSyncJob
	Logger *zap.Logger
}

func (f *FormSyncFlow) Run(ctx context.Context, rep *domain.Report) error {
	if f == nil {
		return fmt.Errorf("formsync flow 未初始化")
	}
	if f.Layers == nil || f.Forms == nil || f.Mapper == nil || f.Sync == nil {
		return fmt.Errorf("formsync flow 依赖未注入完整")
	}
	logger := flowLogger(f.Logger)
	sync := f.Sync.WithObjectIDField(f.Job.Layer.ObjectIDField)

	subs, err := f.Forms.FetchSubmissions(ctx)
	if err != nil {
		return fmt.Errorf("拉取表单提交失败: %w", err)
	}
	layer, err := f.Layers.Resolve(ctx, f.Job.Layer)
	if err != nil {
		return fmt.Errorf("解析图层失败: %w", err)
	}
	existing, err := layer.Query(ctx, f.Job.Where)
	if err != nil {
		return fmt.Errorf("读取图层失败: %w", err)
	}

	mapped := make([]domain.Record, 0, len(subs))
	for _, sub := range subs {
		rec, err := f.Mapper.Map(sub)
		key := domain.KeyOf(rec.Get(f.Job.KeyField))
		if err != nil {
			if key == "" {
				key = domain.KeyOf(sub.Get("submissionId"))
			}
			rep.Mark(key, domain.OutcomeFailed)
			logger.Warn("map submission failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if key == "" {
			logger.Warn("submission without key, skipped", zap.String("field", f.Job.KeyField))
			continue
		}
		mapped = append(mapped, rec)
	}

	adds, updates := f.plan(mapped, existing, sync.ObjectIDField)
	logger.Info("formsync planned",
		zap.Int("submissions", len(subs)),
		zap.Int("existing", len(existing)),
		zap.Int("adds", len(adds)),
		zap.Int("updates", len(updates)))

	if len(adds)+len(updates) > 0 {
		if err := f.apply(ctx, layer, adds, updates, rep); err != nil {
			return err
		}
	}

	// 新增、补全后重新读取，整理附件名并回写照片字段
	records, err := layer.Query(ctx, f.Job.Where)
	if err != nil {
		return fmt.Errorf("重新读取图层失败: %w", err)
	}
	removed := 0
	if f.Job.Cleanup {
		records, removed, err = f.cleanup(ctx, layer, records, sync.ObjectIDField)
		if err != nil {
			return err
		}
	}
	renames := domain.NewReport(rep.Job, rep.RunID)
	if err := renameRecords(ctx, sync, layer, records, f.Job.Naming, "", renames, logger); err != nil {
		return err
	}
	logger.Info("formsync attachments renamed",
		zap.Int("updated", renames.Count(domain.OutcomeUpdated)),
		zap.Int("failed", renames.Count(domain.OutcomeFailed)))

	if len(adds)+len(updates)+removed == 0 && renames.Count(domain.OutcomeUpdated) == 0 {
		return domain.ErrNoNewRecords
	}
	return nil
}

// plan 计算新增与补全：图层中不存在的 key 新增；已有照片但状态字段为空的记录补全。
func (f *FormSyncFlow) plan(mapped, existing []domain.Record, oidField string) (adds, updates []domain.Record) {
	index := reconcile.Index(existing, f.Job.KeyField)
	mappedKeys, _ := reconcile.Keys(mapped, f.Job.KeyField)
	existingKeys, _ := reconcile.Keys(existing, f.Job.KeyField)
	mappedIndex := reconcile.Index(mapped, f.Job.KeyField)

	for _, key := range reconcile.NewKeys(mappedKeys, existingKeys) {
		adds = append(adds, mappedIndex[key])
	}
	seen := make(map[string]bool, len(mappedKeys))
	for _, key := range mappedKeys {
		cur, ok := index[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		if cur.String(f.Job.PhotoField) == "" || cur.String(f.Job.StatusField) != "" {
			continue
		}
		oid, ok := cur.Int64(oidField)
		if !ok {
			continue
		}
		upd := mappedIndex[key].Clone()
		upd.Delete(f.Job.PhotoField)
		upd.Delete(domain.FieldGlobalID)
		upd.Set(oidField, oid)
		updates = append(updates, upd)
	}
	return adds, updates
}

func (f *FormSyncFlow) apply(ctx context.Context, layer FeatureLayer, adds, updates []domain.Record, rep *domain.Report) error {
	for _, rec := range adds {
		rep.Pending(domain.KeyOf(rec.Get(f.Job.KeyField)))
	}
	for _, rec := range updates {
		rep.Pending(domain.KeyOf(rec.Get(f.Job.KeyField)))
	}
	resp, err := layer.ApplyEdits(ctx, adds, updates, nil)
	if err != nil {
		return fmt.Errorf("写入表单记录失败: %w", err)
	}
	mark := func(records []domain.Record, results []domain.EditResult, ok domain.Outcome) {
		for i, rec := range records {
			key := domain.KeyOf(rec.Get(f.Job.KeyField))
			if i >= len(results) {
				rep.Mark(key, domain.OutcomeFailed)
				continue
			}
			if err := editOutcome(results[i]); err != nil {
				rep.Mark(key, domain.OutcomeFailed)
				flowLogger(f.Logger).Warn("form record edit failed", zap.String("key", key), zap.Error(err))
				continue
			}
			rep.Mark(key, ok)
		}
	}
	mark(adds, resp.Adds, domain.OutcomeAdded)
	mark(updates, resp.Updates, domain.OutcomeUpdated)
	return nil
}

// cleanup 删除 key 重复的记录与缺少确认号的记录，返回剩余记录与删除数量。
// 删除失败只记录日志，该记录保留。
func (f *FormSyncFlow) cleanup(ctx context.Context, layer FeatureLayer, records []domain.Record, oidField string) ([]domain.Record, int, error) {
	sort.SliceStable(records, func(i, j int) bool {
		a, _ := records[i].Int64(oidField)
		b, _ := records[j].Int64(oidField)
		return a < b
	})
	remove := map[int64]bool{}
	for _, group := range reconcile.Group(records, f.Job.KeyField) {
		for i, rec := range group {
			oid, ok := rec.Int64(oidField)
			if !ok {
				continue
			}
			if i > 0 || (f.Job.ConfirmationField != "" && rec.String(f.Job.ConfirmationField) == "") {
				remove[oid] = true
			}
		}
	}
	if len(remove) == 0 {
		return records, 0, nil
	}
	oids := make([]int64, 0, len(remove))
	for oid := range remove {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	logger := flowLogger(f.Logger)
	resp, err := layer.ApplyEdits(ctx, nil, nil, oids)
	if err != nil {
		return nil, 0, fmt.Errorf("删除重复或空白记录失败: %w", err)
	}
	deleted := make(map[int64]bool, len(resp.Deletes))
	for _, r := range resp.Deletes {
		if err := editOutcome(r); err != nil {
			logger.Warn("delete duplicate record failed", zap.Int64("oid", r.ObjectID), zap.Error(err))
			continue
		}
		deleted[r.ObjectID] = true
	}
	kept := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		if oid, ok := rec.Int64(oidField); ok && deleted[oid] {
			continue
		}
		kept = append(kept, rec)
	}
	logger.Info("duplicate and blank records removed", zap.Int("requested", len(oids)), zap.Int("deleted", len(deleted)))
	return kept, len(deleted), nil
}
