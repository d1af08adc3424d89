package reconcile

import (
	"sort"
	"strconv"

	"wildsync/internal/domain"
	"wildsync/pkg/util"
)

// NewKeys 返回 source 中存在而 dest 中不存在的 key（去重、升序）。
// 结果为空表示没有新数据，调用方应正常退出。
func NewKeys(source, dest []string) []string {
	seen := make(map[string]struct{}, len(dest))
	for _, k := range dest {
		seen[k] = struct{}{}
	}
	var out []string
	for _, k := range source {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	SortKeys(out)
	return out
}

// Keys 提取记录的 key，返回 key 列表与缺少 key 的记录数。
func Keys(records []domain.Record, field string) ([]string, int) {
	keys := make([]string, 0, len(records))
	missing := 0
	for _, r := range records {
		k := domain.KeyOf(r.Get(field))
		if k == "" {
			missing++
			continue
		}
		keys = append(keys, k)
	}
	return keys, missing
}

// Index 按 key 建立索引；重复 key 保留第一条。
func Index(records []domain.Record, field string) map[string]domain.Record {
	idx := make(map[string]domain.Record, len(records))
	for _, r := range records {
		k := domain.KeyOf(r.Get(field))
		if k == "" {
			continue
		}
		if _, ok := idx[k]; !ok {
			idx[k] = r
		}
	}
	return idx
}

// Group 按外键分组，保持记录原有顺序。
func Group(records []domain.Record, field string) map[string][]domain.Record {
	groups := make(map[string][]domain.Record)
	for _, r := range records {
		k := domain.KeyOf(r.Get(field))
		if k == "" {
			continue
		}
		groups[k] = append(groups[k], r)
	}
	return groups
}

// DiffResult 是两侧记录的比对结果，key 均为升序。
type DiffResult struct {
	Added     []string
	Updated   []string
	Unchanged []string
	// Missing 是两侧缺少 key 的记录数。
	Missing int
}

// Empty 表示没有新增也没有变更。
func (d DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0
}

// Diff 比对 source 与 dest：dest 中没有的 key 为新增；两侧都有且 fields 的 hash 不同为变更。
// fields 为空时只判断新增。
func Diff(source, dest []domain.Record, sourceKey, destKey string, fields []string) DiffResult {
	var res DiffResult
	srcKeys, missing := Keys(source, sourceKey)
	res.Missing += missing
	destIdx := Index(dest, destKey)
	for _, r := range dest {
		if domain.KeyOf(r.Get(destKey)) == "" {
			res.Missing++
		}
	}

	destKeys := make([]string, 0, len(destIdx))
	for k := range destIdx {
		destKeys = append(destKeys, k)
	}
	res.Added = NewKeys(srcKeys, destKeys)

	srcIdx := Index(source, sourceKey)
	for k, src := range srcIdx {
		d, ok := destIdx[k]
		if !ok {
			continue
		}
		if len(fields) > 0 && util.HashFields(src.Attributes, fields) != util.HashFields(d.Attributes, fields) {
			res.Updated = append(res.Updated, k)
			continue
		}
		res.Unchanged = append(res.Unchanged, k)
	}
	SortKeys(res.Updated)
	SortKeys(res.Unchanged)
	return res
}

// SortKeys 升序排列 key，纯数字按数值比较，其余按字符串比较且排在数字之后。
func SortKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, aErr := strconv.ParseInt(keys[i], 10, 64)
		b, bErr := strconv.ParseInt(keys[j], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
}
