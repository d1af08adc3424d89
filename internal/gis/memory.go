package gis

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wildsync/internal/domain"
)

// MemoryLayer 是内存中的图层实现，用于测试与演练。
// Query 忽略 where 条件，按 object id 升序返回全部要素。
type MemoryLayer struct {
	Name string
	// ObjectIDField 为空时使用 objectid。
	ObjectIDField string

	mu          sync.Mutex
	nextOID     int64
	nextAttID   int64
	features    map[int64]domain.Record
	attachments map[int64][]memoryAttachment
}

type memoryAttachment struct {
	info domain.AttachmentInfo
	data []byte
}

// NewMemoryLayer 创建空图层。
func NewMemoryLayer(name string) *MemoryLayer {
	return &MemoryLayer{
		Name:        name,
		nextOID:     1,
		nextAttID:   1,
		features:    map[int64]domain.Record{},
		attachments: map[int64][]memoryAttachment{},
	}
}

func (m *MemoryLayer) oidField() string {
	if m.ObjectIDField == "" {
		return domain.FieldObjectID
	}
	return m.ObjectIDField
}

func (m *MemoryLayer) URL() string {
	return "memory://" + m.Name
}

// Seed 直接写入要素并返回分配的 object id。
func (m *MemoryLayer) Seed(rec domain.Record) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(rec)
}

// SeedAttachment 直接写入附件。
func (m *MemoryLayer) SeedAttachment(oid int64, name string, data []byte) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attach(oid, name, data)
}

// AttachmentNames 返回记录的附件名（按附件 id 顺序）。
func (m *MemoryLayer) AttachmentNames(oid int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, a := range m.attachments[oid] {
		names = append(names, a.info.Name)
	}
	return names
}

// Feature 返回要素副本。
func (m *MemoryLayer) Feature(oid int64) (domain.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.features[oid]
	if !ok {
		return domain.Record{}, false
	}
	return rec.Clone(), true
}

// Len 返回要素数量。
func (m *MemoryLayer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.features)
}

func (m *MemoryLayer) insert(rec domain.Record) int64 {
	oid := m.nextOID
	m.nextOID++
	rec = rec.Clone()
	rec.Set(m.oidField(), oid)
	m.features[oid] = rec
	return oid
}

func (m *MemoryLayer) attach(oid int64, name string, data []byte) int64 {
	id := m.nextAttID
	m.nextAttID++
	m.attachments[oid] = append(m.attachments[oid], memoryAttachment{
		info: domain.AttachmentInfo{ID: id, Name: name, Size: int64(len(data))},
		data: append([]byte(nil), data...),
	})
	return id
}

func (m *MemoryLayer) Query(_ context.Context, _ string) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oids := make([]int64, 0, len(m.features))
	for oid := range m.features {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })
	out := make([]domain.Record, 0, len(oids))
	for _, oid := range oids {
		out = append(out, m.features[oid].Clone())
	}
	return out, nil
}

func (m *MemoryLayer) ApplyEdits(_ context.Context, adds, updates []domain.Record, deletes []int64) (domain.EditResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var resp domain.EditResponse
	for _, rec := range adds {
		resp.Adds = append(resp.Adds, domain.EditResult{ObjectID: m.insert(rec), Success: true})
	}
	for _, rec := range updates {
		oid, ok := rec.Int64(m.oidField())
		cur, exists := m.features[oid]
		if !ok || !exists {
			resp.Updates = append(resp.Updates, domain.EditResult{ObjectID: oid, Error: &domain.EditError{Code: 1019, Description: "feature not found"}})
			continue
		}
		for k, v := range rec.Attributes {
			cur.Set(k, v)
		}
		if rec.Geometry != nil {
			g := *rec.Geometry
			cur.Geometry = &g
		}
		m.features[oid] = cur
		resp.Updates = append(resp.Updates, domain.EditResult{ObjectID: oid, Success: true})
	}
	for _, oid := range deletes {
		if _, ok := m.features[oid]; !ok {
			resp.Deletes = append(resp.Deletes, domain.EditResult{ObjectID: oid, Error: &domain.EditError{Code: 1019, Description: "feature not found"}})
			continue
		}
		delete(m.features, oid)
		delete(m.attachments, oid)
		resp.Deletes = append(resp.Deletes, domain.EditResult{ObjectID: oid, Success: true})
	}
	return resp, nil
}

func (m *MemoryLayer) Truncate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features = map[int64]domain.Record{}
	m.attachments = map[int64][]memoryAttachment{}
	return nil
}

func (m *MemoryLayer) Attachments(_ context.Context, oid int64) ([]domain.AttachmentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.features[oid]; !ok {
		return nil, fmt.Errorf("要素 %d: %w", oid, domain.ErrNotFound)
	}
	var out []domain.AttachmentInfo
	for _, a := range m.attachments[oid] {
		out = append(out, a.info)
	}
	return out, nil
}

func (m *MemoryLayer) DownloadAttachment(_ context.Context, oid, attachmentID int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attachments[oid] {
		if a.info.ID == attachmentID {
			return append([]byte(nil), a.data...), nil
		}
	}
	return nil, fmt.Errorf("附件 %d/%d: %w", oid, attachmentID, domain.ErrNotFound)
}

func (m *MemoryLayer) AddAttachment(_ context.Context, oid int64, name string, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.features[oid]; !ok {
		return 0, fmt.Errorf("要素 %d: %w", oid, domain.ErrNotFound)
	}
	return m.attach(oid, name, data), nil
}

func (m *MemoryLayer) UpdateAttachment(_ context.Context, oid, attachmentID int64, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.attachments[oid]
	for i := range list {
		if list[i].info.ID == attachmentID {
			list[i].info.Name = name
			list[i].info.Size = int64(len(data))
			list[i].data = append([]byte(nil), data...)
			return nil
		}
	}
	return fmt.Errorf("附件 %d/%d: %w", oid, attachmentID, domain.ErrNotFound)
}

func (m *MemoryLayer) DeleteAttachment(_ context.Context, oid, attachmentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.attachments[oid]
	for i := range list {
		if list[i].info.ID == attachmentID {
			m.attachments[oid] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("附件 %d/%d: %w", oid, attachmentID, domain.ErrNotFound)
}
