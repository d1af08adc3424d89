package reconcile

import (
	"strings"
	"time"

	"wildsync/internal/domain"
)

// FieldPair 表示父记录字段 <- 子记录字段。
type FieldPair struct {
	Parent string `yaml:"parent"`
	Child  string `yaml:"child"`
}

// ResetRule 描述“最近一次子记录已超过 AfterDays 天且没有任何子记录为 Value 时，
// 所有父记录的 Field 重置为 Value”。
type ResetRule struct {
	Field     string `yaml:"field"`
	Value     string `yaml:"value"`
	AfterDays int    `yaml:"after_days"`
}

// RollupConfig 配置父子表状态汇总。
type RollupConfig struct {
	ParentKey     string      `yaml:"parent_key"`
	ChildKey      string      `yaml:"child_key"`
	DateField     string      `yaml:"date_field"`
	Fields        []FieldPair `yaml:"fields"`
	ObjectIDField string      `yaml:"objectid_field"`
	Reset         *ResetRule  `yaml:"reset"`
}

// RollupResult 是一次汇总的结果。
type RollupResult struct {
	// Updates 只包含 object id 与发生变化的字段。
	Updates   []domain.Record
	Unchanged int
	// NoChildren 是没有子记录而被跳过的父记录数。
	NoChildren int
	// Reset 为 true 表示本次走了重置规则。
	Reset bool
}

// Rollup 为每个父记录找出日期最新的子记录（同一日期取 object id 最大者），
// 把配置的字段复制到父记录；值相同则不产生更新。
func Rollup(parents, children []domain.Record, cfg RollupConfig, now time.Time) RollupResult {
	oidField := cfg.ObjectIDField
	if oidField == "" {
		oidField = domain.FieldObjectID
	}
	if cfg.Reset != nil && shouldReset(children, cfg, now) {
		return resetParents(parents, cfg.Reset, oidField)
	}

	var res RollupResult
	groups := Group(children, cfg.ChildKey)
	for _, parent := range parents {
		kids := groups[domain.KeyOf(parent.Get(cfg.ParentKey))]
		if len(kids) == 0 {
			res.NoChildren++
			continue
		}
		latest := Latest(kids, cfg.DateField, oidField)

		update := domain.NewRecord()
		changed := false
		for _, pair := range cfg.Fields {
			want := latest.Get(pair.Child)
			if sameValue(parent.Get(pair.Parent), want) {
				continue
			}
			update.Set(pair.Parent, want)
			changed = true
		}
		if !changed {
			res.Unchanged++
			continue
		}
		oid, _ := parent.Int64(oidField)
		update.Set(oidField, oid)
		res.Updates = append(res.Updates, update)
	}
	return res
}

// Latest 返回日期最新的记录；日期无法解析的记录排在最后，同一日期取 object id 最大者。
func Latest(records []domain.Record, dateField, oidField string) domain.Record {
	var (
		best     domain.Record
		bestTime time.Time
		bestOK   bool
		bestOID  int64
		found    bool
	)
	for _, r := range records {
		t, ok := ParseTime(r.Get(dateField))
		oid, _ := r.Int64(oidField)
		if found && !newer(t, ok, oid, bestTime, bestOK, bestOID) {
			continue
		}
		best, bestTime, bestOK, bestOID, found = r, t, ok, oid, true
	}
	return best
}

func newer(t time.Time, ok bool, oid int64, bestTime time.Time, bestOK bool, bestOID int64) bool {
	if ok != bestOK {
		return ok
	}
	if ok && !t.Equal(bestTime) {
		return t.After(bestTime)
	}
	return oid > bestOID
}

func shouldReset(children []domain.Record, cfg RollupConfig, now time.Time) bool {
	rule := cfg.Reset
	if rule.Field == "" || len(children) == 0 {
		return false
	}
	var newest time.Time
	for _, c := range children {
		if domain.KeyOf(c.Get(rule.Field)) == rule.Value {
			return false
		}
		if t, ok := ParseTime(c.Get(cfg.DateField)); ok && t.After(newest) {
			newest = t
		}
	}
	if newest.IsZero() {
		return false
	}
	// 按整天比较，不足一天的部分舍去
	days := int(now.Sub(newest).Hours() / 24)
	return days > rule.AfterDays
}

func resetParents(parents []domain.Record, rule *ResetRule, oidField string) RollupResult {
	res := RollupResult{Reset: true}
	for _, p := range parents {
		if domain.KeyOf(p.Get(rule.Field)) == rule.Value {
			res.Unchanged++
			continue
		}
		oid, _ := p.Int64(oidField)
		update := domain.NewRecord()
		update.Set(oidField, oid)
		update.Set(rule.Field, rule.Value)
		res.Updates = append(res.Updates, update)
	}
	return res
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return domain.KeyOf(a) == domain.KeyOf(b)
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}

// ParseTime 解析毫秒时间戳或常见的日期字符串。
func ParseTime(v any) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	if ms, ok := domain.AsFloat64(v); ok {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
