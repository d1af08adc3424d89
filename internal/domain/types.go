package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point 表示要素的点几何（x=经度，y=纬度）。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Record 是图层、表、表单提交在内存中的统一表示。
type Record struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *Point         `json:"geometry,omitempty"`
}

// NewRecord 构建带空属性集合的记录。
func NewRecord() Record {
	return Record{Attributes: map[string]any{}}
}

// Get 返回字段值，字段不存在时返回 nil。
func (r Record) Get(field string) any {
	if r.Attributes == nil {
		return nil
	}
	return r.Attributes[field]
}

// Set 写入字段值。
func (r *Record) Set(field string, value any) {
	if r.Attributes == nil {
		r.Attributes = map[string]any{}
	}
	r.Attributes[field] = value
}

// Delete 删除字段，字段名不区分大小写（OBJECTID 与 objectid 视为同一字段）。
func (r *Record) Delete(field string) {
	for k := range r.Attributes {
		if strings.EqualFold(k, field) {
			delete(r.Attributes, k)
		}
	}
}

// String 以字符串形式读取字段，nil 返回空串。
func (r Record) String(field string) string {
	v := r.Get(field)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return KeyOf(v)
}

// Int64 读取整数字段（如 objectid）。
func (r Record) Int64(field string) (int64, bool) {
	return AsInt64(r.Get(field))
}

// Clone 深拷贝属性与几何，避免修改原始查询结果。
func (r Record) Clone() Record {
	out := Record{Attributes: make(map[string]any, len(r.Attributes))}
	for k, v := range r.Attributes {
		out.Attributes[k] = v
	}
	if r.Geometry != nil {
		g := *r.Geometry
		out.Geometry = &g
	}
	return out
}

// AttachmentInfo 描述记录上的一个附件。
type AttachmentInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// EditError 是 applyEdits 单条结果中的错误。
type EditError struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

func (e *EditError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("code=%d %s", e.Code, e.Description)
}

// EditResult 对应 applyEdits 的单条结果。
type EditResult struct {
	ObjectID int64      `json:"objectId"`
	GlobalID string     `json:"globalId"`
	Success  bool       `json:"success"`
	Error    *EditError `json:"error,omitempty"`
}

// EditResponse 汇总一次 applyEdits 的新增、更新、删除结果。
type EditResponse struct {
	Adds    []EditResult `json:"addResults"`
	Updates []EditResult `json:"updateResults"`
	Deletes []EditResult `json:"deleteResults"`
}

// KeyOf 把标识字段统一为字符串，保证 3、3.0、"3" 互相匹配。
func KeyOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return KeyOf(float64(t))
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return KeyOf(f)
		}
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// AsInt64 尝试把 JSON 解码出的数值转为 int64。
func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// AsFloat64 尝试把数值字段转为 float64，字符串不做解析。
func AsFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
