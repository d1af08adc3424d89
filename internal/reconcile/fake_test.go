package reconcile

import (
	"context"
	"fmt"
	"sort"

	"wildsync/internal/domain"
)

type fakeAttachment struct {
	info domain.AttachmentInfo
	data []byte
}

// fakeLayer 在内存中模拟图层的要素与附件。
type fakeLayer struct {
	nextOID int64
	nextAtt int64
	records map[int64]domain.Record
	atts    map[int64][]fakeAttachment

	downloads, adds, updates, deletes, edits int

	downloadErr map[int64]error // 按附件 id
	addErr      error
	updateErr   error
	deleteErr   error
	editErr     error
	failDeletes bool
}

func newFakeLayer() *fakeLayer {
	return &fakeLayer{nextOID: 1, nextAtt: 1, records: map[int64]domain.Record{}, atts: map[int64][]fakeAttachment{}, downloadErr: map[int64]error{}}
}

func (f *fakeLayer) addRecord(rec domain.Record) int64 {
	oid := f.nextOID
	f.nextOID++
	rec = rec.Clone()
	rec.Set(domain.FieldObjectID, oid)
	f.records[oid] = rec
	return oid
}

func (f *fakeLayer) attach(oid int64, name, data string) int64 {
	id := f.nextAtt
	f.nextAtt++
	f.atts[oid] = append(f.atts[oid], fakeAttachment{info: domain.AttachmentInfo{ID: id, Name: name}, data: []byte(data)})
	return id
}

func (f *fakeLayer) names(oid int64) []string {
	var out []string
	for _, a := range f.atts[oid] {
		out = append(out, a.info.Name)
	}
	return out
}

func (f *fakeLayer) list() []domain.Record {
	oids := make([]int64, 0, len(f.records))
	for oid := range f.records {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })
	out := make([]domain.Record, 0, len(oids))
	for _, oid := range oids {
		out = append(out, f.records[oid].Clone())
	}
	return out
}

func (f *fakeLayer) Attachments(_ context.Context, oid int64) ([]domain.AttachmentInfo, error) {
	var out []domain.AttachmentInfo
	for _, a := range f.atts[oid] {
		out = append(out, a.info)
	}
	return out, nil
}

func (f *fakeLayer) DownloadAttachment(_ context.Context, oid, id int64) ([]byte, error) {
	f.downloads++
	if err := f.downloadErr[id]; err != nil {
		return nil, err
	}
	for _, a := range f.atts[oid] {
		if a.info.ID == id {
			return a.data, nil
		}
	}
	return nil, fmt.Errorf("attachment %d: %w", id, domain.ErrNotFound)
}

func (f *fakeLayer) AddAttachment(_ context.Context, oid int64, name string, data []byte) (int64, error) {
	f.adds++
	if f.addErr != nil {
		return 0, f.addErr
	}
	return f.attach(oid, name, string(data)), nil
}

func (f *fakeLayer) UpdateAttachment(_ context.Context, oid, id int64, name string, data []byte) error {
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	for i, a := range f.atts[oid] {
		if a.info.ID == id {
			f.atts[oid][i] = fakeAttachment{info: domain.AttachmentInfo{ID: id, Name: name}, data: data}
			return nil
		}
	}
	return fmt.Errorf("attachment %d: %w", id, domain.ErrNotFound)
}

func (f *fakeLayer) DeleteAttachment(_ context.Context, oid, id int64) error {
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	kept := f.atts[oid][:0]
	for _, a := range f.atts[oid] {
		if a.info.ID != id {
			kept = append(kept, a)
		}
	}
	f.atts[oid] = kept
	return nil
}

func (f *fakeLayer) ApplyEdits(_ context.Context, adds, updates []domain.Record, deletes []int64) (domain.EditResponse, error) {
	f.edits++
	var resp domain.EditResponse
	if f.editErr != nil {
		return resp, f.editErr
	}
	for _, r := range adds {
		oid := f.addRecord(r)
		resp.Adds = append(resp.Adds, domain.EditResult{ObjectID: oid, Success: true})
	}
	for _, u := range updates {
		oid, _ := u.Int64(domain.FieldObjectID)
		rec, ok := f.records[oid]
		if !ok {
			resp.Updates = append(resp.Updates, domain.EditResult{ObjectID: oid, Error: &domain.EditError{Code: 1019, Description: "not found"}})
			continue
		}
		for k, v := range u.Attributes {
			rec.Set(k, v)
		}
		resp.Updates = append(resp.Updates, domain.EditResult{ObjectID: oid, Success: true})
	}
	for _, oid := range deletes {
		if f.failDeletes {
			resp.Deletes = append(resp.Deletes, domain.EditResult{ObjectID: oid, Error: &domain.EditError{Code: 1000, Description: "locked"}})
			continue
		}
		delete(f.records, oid)
		delete(f.atts, oid)
		resp.Deletes = append(resp.Deletes, domain.EditResult{ObjectID: oid, Success: true})
	}
	return resp, nil
}

func record(kv ...any) domain.Record {
	rec := domain.NewRecord()
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Set(kv[i].(string), kv[i+1])
	}
	return rec
}
