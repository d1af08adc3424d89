package domain

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	FieldObjectID  = "objectid"
	FieldGlobalID  = "globalid"
	FieldPhotoName = "photo_name"

	// PhotoLabel 用于无日期的命名：{id}_photo_{n}.{ext}
	PhotoLabel = "photo"
)

const invalidPathChars = `<>:"/\|?*`

// SplitPhotoNames 拆分逗号分隔的照片字段，去掉空项。
func SplitPhotoNames(v any) []string {
	raw := ""
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		raw = t
	default:
		raw = fmt.Sprintf("%v", t)
	}
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			names = append(names, p)
		}
	}
	return names
}

// JoinPhotoNames 按顺序拼接照片名。
func JoinPhotoNames(names []string) string {
	return strings.Join(names, ",")
}

// SanitizeToken 把日期或标签转换成可用于文件名的片段。
// 毫秒时间戳会格式化为 YYYY-MM-DD（UTC）。
func SanitizeToken(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	default:
		if ms, ok := AsFloat64(t); ok {
			s = time.UnixMilli(int64(ms)).UTC().Format(time.DateOnly)
		} else {
			s = fmt.Sprintf("%v", t)
		}
	}
	var sb strings.Builder
	for _, c := range s {
		if strings.ContainsRune(invalidPathChars, c) {
			sb.WriteRune('-')
			continue
		}
		sb.WriteRune(c)
	}
	return strings.TrimRight(sb.String(), ". ")
}

// PhotoPrefix 生成规范前缀：{id}_{token}。
func PhotoPrefix(id string, token string) string {
	return fmt.Sprintf("%s_%s", id, token)
}

// PhotoName 生成规范照片名：{prefix}_{n}.{ext}。
func PhotoName(prefix string, n int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return fmt.Sprintf("%s_%d", prefix, n)
	}
	return fmt.Sprintf("%s_%d.%s", prefix, n, ext)
}

// PhotoExt 返回文件扩展名（不含点）。
func PhotoExt(name string) string {
	return strings.TrimPrefix(path.Ext(name), ".")
}

// PhotoSeq 解析规范名中的序号，非规范名返回 false。
func PhotoSeq(prefix, name string) (int, bool) {
	if !strings.HasPrefix(name, prefix+"_") {
		return 0, false
	}
	rest := strings.TrimPrefix(name, prefix+"_")
	rest = strings.TrimSuffix(rest, path.Ext(rest))
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
