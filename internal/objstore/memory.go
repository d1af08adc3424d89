package objstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"wildsync/internal/domain"
)

// Memory 是内存实现，用于测试或本地演练。
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemory 创建空的内存存储。
func NewMemory() *Memory {
	return &Memory{objects: map[string][]byte{}, types: map[string]string{}}
}

// List 返回前缀下的对象名。
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Put 保存对象副本。
func (m *Memory) Put(_ context.Context, name string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = append([]byte(nil), data...)
	m.types[name] = contentType
	return nil
}

// Get 返回对象副本。
func (m *Memory) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("读取对象失败 key=%s: %w", name, domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Delete 删除对象。
func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	delete(m.types, name)
	return nil
}

// ContentType 返回写入时记录的类型。
func (m *Memory) ContentType(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[name]
}
