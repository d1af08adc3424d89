package util

// Batch 将切片按固定大小拆分，最后一批可能小于 size；size<=0 时整体作为一批。
func Batch[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	result := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		result = append(result, items[start:end:end])
	}
	return result
}

// EachBatch 逐批调用 fn，遇到错误立即返回。
func EachBatch[T any](items []T, size int, fn func(chunk []T) error) error {
	for _, chunk := range Batch(items, size) {
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}
