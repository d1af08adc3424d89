package gis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"wildsync/internal/domain"
	"wildsync/pkg/util"
)

// Layer 是托管图层或表的句柄，提供查询、编辑、附件操作。
type Layer struct {
	client *Client
	url    string
}

// URL 返回图层地址。
func (l *Layer) URL() string {
	return l.url
}

type wireGeometry struct {
	X                *float64        `json:"x,omitempty"`
	Y                *float64        `json:"y,omitempty"`
	SpatialReference *wireSpatialRef `json:"spatialReference,omitempty"`
}

type wireSpatialRef struct {
	WKID int `json:"wkid"`
}

type wireFeature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *wireGeometry  `json:"geometry,omitempty"`
}

type queryResponse struct {
	Features              []wireFeature `json:"features"`
	ExceededTransferLimit bool          `json:"exceededTransferLimit"`
}

// Query 按 where 条件分页拉取全部要素，where 为空时查询全部。
func (l *Layer) Query(ctx context.Context, where string) ([]domain.Record, error) {
	if strings.TrimSpace(where) == "" {
		where = "1=1"
	}
	var (
		records []domain.Record
		offset  int
	)
	for {
		q := url.Values{}
		q.Set("where", where)
		q.Set("outFields", "*")
		q.Set("returnGeometry", "true")
		q.Set("resultOffset", strconv.Itoa(offset))
		q.Set("resultRecordCount", strconv.Itoa(l.client.pageSize))
		if l.client.outSR > 0 {
			q.Set("outSR", strconv.Itoa(l.client.outSR))
		}

		var page queryResponse
		if err := l.client.getJSON(ctx, l.url+"/query", q, &page); err != nil {
			return nil, fmt.Errorf("查询图层失败 layer=%s: %w", l.url, err)
		}
		for _, f := range page.Features {
			records = append(records, fromWire(f))
		}
		if !page.ExceededTransferLimit || len(page.Features) == 0 {
			break
		}
		offset += len(page.Features)
	}
	return records, nil
}

// ApplyEdits 提交新增、更新、删除；超过批大小时拆分为多次请求，结果按顺序合并。
// rollbackOnFailure=false，单条失败不影响同批其他要素。
func (l *Layer) ApplyEdits(ctx context.Context, adds, updates []domain.Record, deletes []int64) (domain.EditResponse, error) {
	var out domain.EditResponse
	err := util.EachBatch(adds, l.client.batchSize, func(chunk []domain.Record) error {
		resp, err := l.applyEdits(ctx, chunk, nil, nil)
		out.Adds = append(out.Adds, resp.Adds...)
		return err
	})
	if err != nil {
		return out, err
	}
	err = util.EachBatch(updates, l.client.batchSize, func(chunk []domain.Record) error {
		resp, err := l.applyEdits(ctx, nil, chunk, nil)
		out.Updates = append(out.Updates, resp.Updates...)
		return err
	})
	if err != nil {
		return out, err
	}
	err = util.EachBatch(deletes, l.client.batchSize, func(chunk []int64) error {
		resp, err := l.applyEdits(ctx, nil, nil, chunk)
		out.Deletes = append(out.Deletes, resp.Deletes...)
		return err
	})
	return out, err
}

func (l *Layer) applyEdits(ctx context.Context, adds, updates []domain.Record, deletes []int64) (domain.EditResponse, error) {
	form := url.Values{}
	form.Set("rollbackOnFailure", "false")
	if len(adds) > 0 {
		payload, err := json.Marshal(l.toWire(adds))
		if err != nil {
			return domain.EditResponse{}, fmt.Errorf("编码新增要素失败: %w", err)
		}
		form.Set("adds", string(payload))
	}
	if len(updates) > 0 {
		payload, err := json.Marshal(l.toWire(updates))
		if err != nil {
			return domain.EditResponse{}, fmt.Errorf("编码更新要素失败: %w", err)
		}
		form.Set("updates", string(payload))
	}
	if len(deletes) > 0 {
		ids := make([]string, 0, len(deletes))
		for _, id := range deletes {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		form.Set("deletes", strings.Join(ids, ","))
	}

	var resp domain.EditResponse
	if err := l.client.postForm(ctx, l.url+"/applyEdits", form, &resp); err != nil {
		return domain.EditResponse{}, fmt.Errorf("applyEdits 失败 layer=%s: %w", l.url, err)
	}
	return resp, nil
}

// Truncate 通过管理接口清空图层全部要素，不可恢复。
func (l *Layer) Truncate(ctx context.Context) error {
	adminURL := strings.Replace(l.url, "/rest/services/", "/rest/admin/services/", 1)
	if adminURL == l.url {
		return fmt.Errorf("无法推导管理接口地址: %s", l.url)
	}
	form := url.Values{}
	form.Set("async", "false")
	var resp struct {
		Success bool `json:"success"`
	}
	if err := l.client.postForm(ctx, adminURL+"/truncate", form, &resp); err != nil {
		return fmt.Errorf("清空图层失败 layer=%s: %w", l.url, err)
	}
	if !resp.Success {
		return fmt.Errorf("清空图层失败 layer=%s: %w", l.url, domain.ErrPermanent)
	}
	return nil
}

func fromWire(f wireFeature) domain.Record {
	rec := domain.Record{Attributes: f.Attributes}
	if rec.Attributes == nil {
		rec.Attributes = map[string]any{}
	}
	if f.Geometry != nil && f.Geometry.X != nil && f.Geometry.Y != nil {
		rec.Geometry = &domain.Point{X: *f.Geometry.X, Y: *f.Geometry.Y}
	}
	return rec
}

func (l *Layer) toWire(records []domain.Record) []wireFeature {
	out := make([]wireFeature, 0, len(records))
	for _, r := range records {
		wf := wireFeature{Attributes: r.Attributes}
		if r.Geometry != nil {
			x, y := r.Geometry.X, r.Geometry.Y
			wf.Geometry = &wireGeometry{X: &x, Y: &y}
			if l.client.outSR > 0 {
				wf.Geometry.SpatialReference = &wireSpatialRef{WKID: l.client.outSR}
			}
		}
		out = append(out, wf)
	}
	return out
}
