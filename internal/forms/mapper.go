package forms

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"wildsync/internal/domain"
)

// MapperConfig 描述表单字段到图层字段的转换规则。
type MapperConfig struct {
	// Rename 表单字段名 -> 图层字段名，未列出的字段保持原名。
	Rename map[string]string `yaml:"rename"`
	// ValueMaps 图层字段 -> (表单编码值 -> 图层显示值)，映射不到的值写 nil。
	ValueMaps map[string]map[string]string `yaml:"value_maps"`
	// Checkboxes 中的字段是 {"选项": bool} 对象，转换为 "A, B"。
	Checkboxes []string `yaml:"checkboxes"`
	// Dates 中的字段统一格式化为 YYYY-MM-DD。
	Dates []string `yaml:"dates"`
	// Copies 图层字段 -> 来源图层字段，在其他转换之后复制。
	Copies map[string]string `yaml:"copies"`
	// Blank 中的字段空串写为 nil。
	Blank []string `yaml:"blank"`
	// Drop 中的字段不写入图层。
	Drop []string `yaml:"drop"`

	LatitudeField      string `yaml:"latitude_field"`
	LongitudeField     string `yaml:"longitude_field"`
	ConfirmationSource string `yaml:"confirmation_source"`
	ConfirmationField  string `yaml:"confirmation_field"`
}

// Mapper 把表单提交转换为可写入图层的记录。
type Mapper struct {
	cfg MapperConfig
}

// NewMapper 创建转换器。
func NewMapper(cfg MapperConfig) *Mapper {
	if cfg.LatitudeField == "" {
		cfg.LatitudeField = "latitude"
	}
	if cfg.LongitudeField == "" {
		cfg.LongitudeField = "longitude"
	}
	if cfg.ConfirmationSource == "" {
		cfg.ConfirmationSource = "confirmationId"
	}
	return &Mapper{cfg: cfg}
}

// Map 转换单条提交。经纬度无法解析时记录没有几何。
func (m *Mapper) Map(sub domain.Record) (domain.Record, error) {
	out := domain.NewRecord()
	for k, v := range sub.Attributes {
		if name, ok := m.cfg.Rename[k]; ok {
			k = name
		}
		out.Set(k, v)
	}

	for _, field := range m.cfg.Checkboxes {
		if v, ok := out.Attributes[field]; ok {
			out.Set(field, joinChecked(v))
		}
	}
	for field, values := range m.cfg.ValueMaps {
		v, ok := out.Attributes[field]
		if !ok || v == nil {
			continue
		}
		mapped, found := values[domain.KeyOf(v)]
		if !found {
			out.Set(field, nil)
			continue
		}
		out.Set(field, mapped)
	}
	for _, field := range m.cfg.Dates {
		v, ok := out.Attributes[field]
		if !ok || v == nil {
			continue
		}
		day, err := formatDate(v)
		if err != nil {
			return out, fmt.Errorf("字段 %s 日期格式错误: %w", field, err)
		}
		out.Set(field, day)
	}
	for _, field := range m.cfg.Blank {
		if s, ok := out.Attributes[field].(string); ok && strings.TrimSpace(s) == "" {
			out.Set(field, nil)
		}
	}
	if m.cfg.ConfirmationField != "" {
		if v, ok := sub.Attributes[m.cfg.ConfirmationSource]; ok {
			out.Set(m.cfg.ConfirmationField, v)
		}
	}
	for dst, src := range m.cfg.Copies {
		if v, ok := out.Attributes[src]; ok {
			out.Set(dst, v)
		}
	}

	lat, latOK := toFloat(out.Get(m.cfg.LatitudeField))
	lon, lonOK := toFloat(out.Get(m.cfg.LongitudeField))
	if latOK && lonOK {
		out.Geometry = &domain.Point{X: lon, Y: lat}
	}

	for _, field := range m.cfg.Drop {
		delete(out.Attributes, field)
	}
	return out, nil
}

// joinChecked 把 {"tracks": true, "scat": false} 转成 "Tracks"，按选项名排序。
func joinChecked(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	keys := make([]string, 0, len(obj))
	for k, checked := range obj {
		if truthy(checked) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	for i, k := range keys {
		keys[i] = titleCase(k)
	}
	return strings.Join(keys, ", ")
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

// titleCase 将每个字母段首字母大写，其余小写。
func titleCase(s string) string {
	var sb strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				sb.WriteRune(unicode.ToLower(r))
			} else {
				sb.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		sb.WriteRune(r)
	}
	return sb.String()
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", time.DateOnly}

func formatDate(v any) (string, error) {
	if ms, ok := domain.AsFloat64(v); ok {
		return time.UnixMilli(int64(ms)).UTC().Format(time.DateOnly), nil
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.DateOnly), nil
		}
	}
	return "", fmt.Errorf("无法解析日期 %q", s)
}

func toFloat(v any) (float64, bool) {
	if f, ok := domain.AsFloat64(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}
