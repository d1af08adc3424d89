package snapshot

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
)

const ext = ".geojson"

// legacyLayout 是早期脚本使用的日期片段 DD-MM-YYYY，只在迁移时识别。
const legacyLayout = "02-01-2006"

var (
	canonicalToken = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})\.geojson$`)
	legacyToken    = regexp.MustCompile(`_(\d{2}-\d{2}-\d{4})\.geojson$`)
)

// Name 生成规范快照名：<prefix>_<YYYY-MM-DD>.geojson。
func Name(prefix string, day time.Time) string {
	return prefix + "_" + day.UTC().Format(time.DateOnly) + ext
}

// ParseDate 解析规范快照名中的日期；不属于 prefix 或不是规范格式时返回 false。
func ParseDate(name, prefix string) (time.Time, bool) {
	if !strings.HasPrefix(name, prefix+"_") {
		return time.Time{}, false
	}
	m := canonicalToken.FindStringSubmatch(name)
	if m == nil || name != prefix+"_"+m[1]+ext {
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Latest 返回日期最大的规范快照名。
func Latest(names []string, prefix string) (string, bool) {
	var (
		best     string
		bestDate time.Time
	)
	for _, name := range names {
		t, ok := ParseDate(name, prefix)
		if !ok {
			continue
		}
		if best == "" || t.After(bestDate) {
			best, bestDate = name, t
		}
	}
	return best, best != ""
}

// Expired 返回早于 now-days 的规范快照名（升序）；days<=0 时不清理。
func Expired(names []string, prefix string, now time.Time, days int) []string {
	if days <= 0 {
		return nil
	}
	cutoff := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -days)
	var out []string
	for _, name := range names {
		if t, ok := ParseDate(name, prefix); ok && t.Before(cutoff) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Canonical 把 DD-MM-YYYY 旧格式快照名改写为规范名；已是规范名或无法识别时返回 false。
func Canonical(name, prefix string) (string, bool) {
	if !strings.HasPrefix(name, prefix+"_") {
		return "", false
	}
	m := legacyToken.FindStringSubmatch(name)
	if m == nil || name != prefix+"_"+m[1]+ext {
		return "", false
	}
	t, err := time.Parse(legacyLayout, m[1])
	if err != nil {
		return "", false
	}
	return Name(prefix, t), true
}

// Dir 返回快照前缀所在的目录，用于对象存储 List。
func Dir(prefix string) string {
	dir := path.Dir(prefix)
	if dir == "." {
		return ""
	}
	return dir + "/"
}
