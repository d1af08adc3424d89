package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"wildsync/internal/domain"
)

// ContentType 是快照文件在对象存储中的类型。
const ContentType = "application/geo+json"

const isoLayout = "2006-01-02T15:04:05.999Z07:00"

// 合法毫秒时间戳范围：公元 1 年至 9999 年。
const (
	minMillis = -62135596800000
	maxMillis = 253402300799999
)

// Export 把记录转换为 FeatureCollection；dateFields 中的毫秒时间戳转为 ISO-8601 UTC，
// 无法转换的值原样保留。
func Export(records []domain.Record, dateFields []string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, rec := range records {
		var geom orb.Geometry
		if rec.Geometry != nil {
			geom = orb.Point{rec.Geometry.X, rec.Geometry.Y}
		}
		feature := geojson.NewFeature(geom)
		for k, v := range rec.Attributes {
			feature.Properties[k] = v
		}
		for _, field := range dateFields {
			v, ok := feature.Properties[field]
			if !ok {
				continue
			}
			if iso, ok := millisToISO(v); ok {
				feature.Properties[field] = iso
			}
		}
		fc.Append(feature)
	}
	return fc
}

// Encode 输出带缩进的 GeoJSON 文档。
func Encode(fc *geojson.FeatureCollection) ([]byte, error) {
	raw, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("编码快照失败: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("格式化快照失败: %w", err)
	}
	return out.Bytes(), nil
}

// Decode 解析快照为记录：dateFields 中的 ISO 字符串转回毫秒时间戳，dropFields 中的字段被丢弃，
// 以便目标图层分配新的 object id / global id。
func Decode(data []byte, dateFields, dropFields []string) ([]domain.Record, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("解析快照失败: %w", err)
	}
	drop := make(map[string]bool, len(dropFields))
	for _, f := range dropFields {
		drop[strings.ToLower(f)] = true
	}
	records := make([]domain.Record, 0, len(fc.Features))
	for i, f := range fc.Features {
		rec := domain.NewRecord()
		for k, v := range f.Properties {
			if drop[strings.ToLower(k)] {
				continue
			}
			rec.Set(k, v)
		}
		for _, field := range dateFields {
			s, ok := rec.Get(field).(string)
			if !ok {
				continue
			}
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				rec.Set(field, t.UnixMilli())
			}
		}
		switch g := f.Geometry.(type) {
		case nil:
		case orb.Point:
			rec.Geometry = &domain.Point{X: g.X(), Y: g.Y()}
		default:
			return nil, fmt.Errorf("第 %d 个要素几何类型 %s 不受支持", i, g.GeoJSONType())
		}
		records = append(records, rec)
	}
	return records, nil
}

func millisToISO(v any) (string, bool) {
	ms, ok := domain.AsFloat64(v)
	if !ok || ms < minMillis || ms > maxMillis {
		return "", false
	}
	return time.UnixMilli(int64(ms)).UTC().Format(isoLayout), true
}
