package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wildsync/internal/domain"
	"wildsync/internal/gis"
	"wildsync/internal/reconcile"
)

// FeatureLayer 是各个 Flow 依赖的图层能力，由 *gis.Layer 实现。
type FeatureLayer interface {
	reconcile.AttachmentLayer
	Query(ctx context.Context, where string) ([]domain.Record, error)
	URL() string
}

// TruncatableLayer 支持清空全部要素。
type TruncatableLayer interface {
	FeatureLayer
	Truncate(ctx context.Context) error
}

// LayerResolver 把配置中的图层引用解析为可用图层。
type LayerResolver interface {
	Resolve(ctx context.Context, ref LayerRef) (FeatureLayer, error)
}

// GISResolver 基于要素服务客户端解析图层。
type GISResolver struct {
	Client *gis.Client
}

func (r GISResolver) Resolve(ctx context.Context, ref LayerRef) (FeatureLayer, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("未注入要素服务客户端")
	}
	if u := strings.TrimSpace(ref.URL); u != "" {
		return r.Client.Layer(u), nil
	}
	if strings.TrimSpace(ref.ItemID) == "" {
		return nil, fmt.Errorf("图层引用为空")
	}
	layer, err := r.Client.ResolveLayer(ctx, ref.ItemID, ref.LayerID)
	if err != nil {
		return nil, err
	}
	return layer, nil
}

// StaticResolver 按 LayerRef.String() 返回预置图层，用于测试与演练。
type StaticResolver map[string]FeatureLayer

func (r StaticResolver) Resolve(_ context.Context, ref LayerRef) (FeatureLayer, error) {
	layer, ok := r[ref.String()]
	if !ok {
		return nil, fmt.Errorf("图层 %s: %w", ref, domain.ErrNotFound)
	}
	return layer, nil
}

// editOutcome 把 applyEdits 单条结果转换为错误。
func editOutcome(r domain.EditResult) error {
	if r.Success {
		return nil
	}
	if r.Error != nil {
		return fmt.Errorf("oid=%d: %w: %w", r.ObjectID, domain.ErrPermanent, r.Error)
	}
	return fmt.Errorf("oid=%d: %w", r.ObjectID, domain.ErrPermanent)
}

// addOne 新增一条记录并返回新 object id。
func addOne(ctx context.Context, layer FeatureLayer, rec domain.Record) (int64, error) {
	resp, err := layer.ApplyEdits(ctx, []domain.Record{rec}, nil, nil)
	if err != nil {
		return 0, err
	}
	if len(resp.Adds) != 1 {
		return 0, fmt.Errorf("新增结果数量异常 %d: %w", len(resp.Adds), domain.ErrPermanent)
	}
	if err := editOutcome(resp.Adds[0]); err != nil {
		return 0, err
	}
	return resp.Adds[0].ObjectID, nil
}

// isFatal 判断错误是否应该终止整次运行（连接、鉴权类错误）。
func isFatal(err error) bool {
	if errors.Is(err, gis.ErrUnauthorized) {
		return true
	}
	var apiErr *gis.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403 || apiErr.Code == 498 || apiErr.Code == 499
	}
	return domain.Classify(err) == domain.ResultTransient
}
