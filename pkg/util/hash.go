package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// HashFields 返回指定字段的稳定 hash，用于判断记录内容是否变化。
// fields 为空时对全部字段计算；缺失字段与 nil 等价。
func HashFields(m map[string]any, fields []string) string {
	keys := fields
	if len(keys) == 0 {
		keys = make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
	}
	keys = append([]string(nil), keys...)
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		if v, ok := m[k]; ok && v != nil {
			h.Write([]byte(fmt.Sprintf("%v", v)))
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
