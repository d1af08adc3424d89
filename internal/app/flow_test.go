package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"wildsync/internal/domain"
	"wildsync/internal/forms"
	"wildsync/internal/gis"
	"wildsync/internal/objstore"
	"wildsync/internal/reconcile"
	"wildsync/internal/snapshot"
)

// brokenDownloads 让指定附件下载失败。
type brokenDownloads struct {
	*gis.MemoryLayer
	err error
}

func (b *brokenDownloads) DownloadAttachment(ctx context.Context, oid, attachmentID int64) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.MemoryLayer.DownloadAttachment(ctx, oid, attachmentID)
}

func rec(kv ...any) domain.Record {
	r := domain.NewRecord()
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

func newSync() *reconcile.Synchronizer {
	return reconcile.NewSynchronizer(domain.FieldObjectID, nil)
}

func findBy(t *testing.T, layer *gis.MemoryLayer, field, value string) domain.Record {
	t.Helper()
	records, _ := layer.Query(context.Background(), "")
	for _, r := range records {
		if r.String(field) == value {
			return r
		}
	}
	t.Fatalf("no record with %s=%s", field, value)
	return domain.Record{}
}

func appendJob() AppendJob {
	return AppendJob{
		Source:          LayerRef{URL: "src"},
		Destination:     LayerRef{URL: "dst"},
		SourceKey:       domain.FieldObjectID,
		DestinationKey:  "source_oid",
		DropFields:      []string{domain.FieldObjectID, domain.FieldGlobalID},
		CopyAttachments: true,
	}
}

func TestAppendFlowAddsOnlyNewRecords(t *testing.T) {
	ctx := context.Background()
	src := gis.NewMemoryLayer("src")
	dst := gis.NewMemoryLayer("dst")
	for _, name := range []string{"a", "b", "c"} {
		oid := src.Seed(rec("name", name, domain.FieldGlobalID, "{"+name+"}"))
		src.SeedAttachment(oid, name+".jpg", []byte(name))
	}
	dst.Seed(rec("source_oid", int64(1), "name", "a"))
	dst.Seed(rec("source_oid", "2", "name", "b"))

	flow := &AppendFlow{Layers: StaticResolver{"src": src, "dst": dst}, Sync: newSync(), Job: appendJob()}
	rep := domain.NewReport(JobAppend, "t")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rep.Outcome("3") != domain.OutcomeAdded || rep.Total() != 1 {
		t.Fatalf("unexpected report: added=%v total=%d", rep.Keys(domain.OutcomeAdded), rep.Total())
	}
	got := findBy(t, dst, "source_oid", "3")
	if got.String("name") != "c" || got.Get(domain.FieldGlobalID) != nil {
		t.Fatalf("unexpected appended record: %v", got.Attributes)
	}
	oid, _ := got.Int64(domain.FieldObjectID)
	if names := dst.AttachmentNames(oid); len(names) != 1 || names[0] != "c.jpg" {
		t.Fatalf("attachments = %v", names)
	}

	err := flow.Run(ctx, domain.NewReport(JobAppend, "t2"))
	if !errors.Is(err, domain.ErrNoNewRecords) {
		t.Fatalf("expected ErrNoNewRecords on second run, got %v", err)
	}
}

func TestAppendFlowRollsBackAndRetries(t *testing.T) {
	ctx := context.Background()
	mem := gis.NewMemoryLayer("src")
	oid := mem.Seed(rec("name", "a"))
	mem.SeedAttachment(oid, "a.jpg", []byte("a"))
	src := &brokenDownloads{MemoryLayer: mem, err: domain.ErrPermanent}
	dst := gis.NewMemoryLayer("dst")

	flow := &AppendFlow{Layers: StaticResolver{"src": src, "dst": dst}, Sync: newSync(), Job: appendJob()}
	rep := domain.NewReport(JobAppend, "t")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("per-record failure should not fail the run: %v", err)
	}
	if rep.Outcome("1") != domain.OutcomeFailed {
		t.Fatalf("outcome = %s", rep.Outcome("1"))
	}
	if dst.Len() != 0 {
		t.Fatalf("destination record should be rolled back, have %d", dst.Len())
	}

	src.err = nil
	rep = domain.NewReport(JobAppend, "t2")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if rep.Outcome("1") != domain.OutcomeAdded || dst.Len() != 1 {
		t.Fatalf("retry should add the record, outcome=%s len=%d", rep.Outcome("1"), dst.Len())
	}
}

func TestAppendFlowStopsOnConnectivityError(t *testing.T) {
	mem := gis.NewMemoryLayer("src")
	oid := mem.Seed(rec("name", "a"))
	mem.SeedAttachment(oid, "a.jpg", []byte("a"))
	src := &brokenDownloads{MemoryLayer: mem, err: domain.ErrTransient}
	dst := gis.NewMemoryLayer("dst")

	flow := &AppendFlow{Layers: StaticResolver{"src": src, "dst": dst}, Sync: newSync(), Job: appendJob()}
	err := flow.Run(context.Background(), domain.NewReport(JobAppend, "t"))
	if err == nil || !errors.Is(err, reconcile.ErrRolledBack) {
		t.Fatalf("expected fatal rolled back error, got %v", err)
	}
	if dst.Len() != 0 {
		t.Fatalf("destination should be empty after rollback")
	}
}

func TestRollupFlowCopiesLatestStatus(t *testing.T) {
	ctx := context.Background()
	parents := gis.NewMemoryLayer("sites")
	children := gis.NewMemoryLayer("checks")
	parents.Seed(rec("site_id", "S1", "status", "Unknown"))
	parents.Seed(rec("site_id", "S2", "status", "Active"))
	parents.Seed(rec("site_id", "S3", "status", nil))
	children.Seed(rec("site_id", "S1", "check_date", "2024-05-01", "site_status", "Active"))
	children.Seed(rec("site_id", "S1", "check_date", "2024-06-01", "site_status", "Inactive"))
	children.Seed(rec("site_id", "S2", "check_date", "2024-06-01", "site_status", "Active"))

	flow := &RollupFlow{
		Layers: StaticResolver{"sites": parents, "checks": children},
		Targets: []RollupTarget{{
			Name:   "sites",
			Parent: LayerRef{URL: "sites"},
			Child:  LayerRef{URL: "checks"},
			Rollup: reconcile.RollupConfig{
				ParentKey: "site_id",
				ChildKey:  "site_id",
				DateField: "check_date",
				Fields:    []reconcile.FieldPair{{Parent: "status", Child: "site_status"}},
			},
		}},
		Now: func() time.Time { return time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC) },
	}
	rep := domain.NewReport(JobRollup, "t")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := findBy(t, parents, "site_id", "S1").String("status"); got != "Inactive" {
		t.Fatalf("S1 status = %q", got)
	}
	if rep.Outcome("sites:1") != domain.OutcomeUpdated || rep.Outcome("sites:2") != domain.OutcomeSkipped || rep.Outcome("sites:3") != domain.OutcomeSkipped {
		t.Fatalf("unexpected outcomes: updated=%v skipped=%v", rep.Keys(domain.OutcomeUpdated), rep.Keys(domain.OutcomeSkipped))
	}
	if err := flow.Run(ctx, domain.NewReport(JobRollup, "t2")); !errors.Is(err, domain.ErrNoNewRecords) {
		t.Fatalf("second run should be a no-op, got %v", err)
	}
}

func TestRenameFlowCanonicalisesAttachments(t *testing.T) {
	ctx := context.Background()
	layer := gis.NewMemoryLayer("burrows")
	oid := layer.Seed(rec("survey_date", "2024-03-05"))
	layer.SeedAttachment(oid, "IMG_0001.JPG", []byte("x"))
	layer.Seed(rec("survey_date", "2024-03-06"))

	flow := &RenameFlow{
		Layers: StaticResolver{"burrows": layer},
		Sync:   newSync(),
		Targets: []RenameTarget{{
			Layer:  LayerRef{URL: "burrows"},
			Naming: reconcile.Naming{DateField: "survey_date", PhotoField: domain.FieldPhotoName},
		}},
	}
	rep := domain.NewReport(JobRename, "t")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if names := layer.AttachmentNames(oid); len(names) != 1 || names[0] != "1_2024-03-05_1.JPG" {
		t.Fatalf("attachments = %v", names)
	}
	got, _ := layer.Feature(oid)
	if got.String(domain.FieldPhotoName) != "1_2024-03-05_1.JPG" {
		t.Fatalf("photo field = %q", got.String(domain.FieldPhotoName))
	}
	if rep.Count(domain.OutcomeUpdated) != 1 || rep.Count(domain.OutcomeSkipped) != 1 {
		t.Fatalf("updated=%v skipped=%v", rep.Keys(domain.OutcomeUpdated), rep.Keys(domain.OutcomeSkipped))
	}
	if err := flow.Run(ctx, domain.NewReport(JobRename, "t2")); !errors.Is(err, domain.ErrNoNewRecords) {
		t.Fatalf("second run should be a no-op, got %v", err)
	}
}

func TestBackupFlowWritesSnapshotAndPrunes(t *testing.T) {
	ctx := context.Background()
	layer := gis.NewMemoryLayer("burrows")
	oid := layer.Seed(rec(domain.FieldPhotoName, "1_2024-06-01_1.jpg", "survey_start", int64(1717243200000)))
	layer.SeedAttachment(oid, "1_2024-06-01_1.jpg", []byte("jpeg"))
	layer.Seed(rec("name", "no photos"))

	store := objstore.NewMemory()
	_ = store.Put(ctx, "backup/snap_2024-05-01.geojson", []byte("{}"), snapshot.ContentType)
	_ = store.Put(ctx, "backup/snap_2024-06-15.geojson", []byte("{}"), snapshot.ContentType)

	flow := &BackupFlow{
		Layers: StaticResolver{"burrows": layer},
		Store:  store,
		Sync:   newSync(),
		Job: BackupJob{
			Layer:          LayerRef{URL: "burrows"},
			DateFields:     []string{"survey_start"},
			PhotoField:     domain.FieldPhotoName,
			SnapshotPrefix: "backup/snap",
			PhotosPrefix:   "photos",
			RetentionDays:  30,
		},
		Now: func() time.Time { return time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC) },
	}
	rep := domain.NewReport(JobBackup, "t")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	names, _ := store.List(ctx, "")
	want := []string{"backup/snap_2024-06-15.geojson", "backup/snap_2024-07-01.geojson", "photos/1_2024-06-01_1.jpg"}
	if strings.Join(names, "|") != strings.Join(want, "|") {
		t.Fatalf("store = %v", names)
	}
	data, _ := store.Get(ctx, "backup/snap_2024-07-01.geojson")
	if !strings.Contains(string(data), "2024-06-01T12:00:00Z") {
		t.Fatalf("snapshot should carry ISO dates: %s", data)
	}
	if keys := rep.Keys(domain.OutcomeAdded); len(keys) != 1 || keys[0] != "backup/snap_2024-07-01.geojson" {
		t.Fatalf("only the snapshot should be reported as added: %v", keys)
	}
}

func TestRestoreFlowRebuildsFromLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	records := []domain.Record{
		rec(domain.FieldObjectID, int64(10), "name", "a", domain.FieldPhotoName, "a.jpg,b.jpg", "survey_start", int64(1717243200000)),
		rec(domain.FieldObjectID, int64(11), "name", "b"),
	}
	data, err := snapshot.Encode(snapshot.Export(records, []string{"survey_start"}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = store.Put(ctx, "backup/snap_2024-06-01.geojson", data, snapshot.ContentType)
	_ = store.Put(ctx, "backup/snap_2024-05-01.geojson", []byte("garbage"), snapshot.ContentType)
	_ = store.Put(ctx, "photos/a.jpg", []byte("a"), "image/jpeg")

	layer := gis.NewMemoryLayer("burrows")
	layer.Seed(rec("name", "stale"))

	flow := &RestoreFlow{
		Layers: StaticResolver{"burrows": layer},
		Store:  store,
		Sync:   newSync(),
		Job: RestoreJob{
			Layer:          LayerRef{URL: "burrows"},
			DateFields:     []string{"survey_start"},
			DropFields:     []string{domain.FieldObjectID, domain.FieldGlobalID},
			PhotoField:     domain.FieldPhotoName,
			SnapshotPrefix: "backup/snap",
			PhotosPrefix:   "photos",
		},
		Truncate: true,
	}
	rep := domain.NewReport(JobRestore, "t")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if layer.Len() != 2 || rep.Count(domain.OutcomeAdded) != 2 {
		t.Fatalf("len=%d added=%d", layer.Len(), rep.Count(domain.OutcomeAdded))
	}
	a := findBy(t, layer, "name", "a")
	oid, _ := a.Int64(domain.FieldObjectID)
	if names := layer.AttachmentNames(oid); len(names) != 1 || names[0] != "a.jpg" {
		t.Fatalf("attachments = %v", names)
	}
	if a.String(domain.FieldPhotoName) != "a.jpg" {
		t.Fatalf("photo field should list restored photos only, got %q", a.String(domain.FieldPhotoName))
	}
	if ms, ok := a.Int64("survey_start"); !ok || ms != 1717243200000 {
		t.Fatalf("survey_start = %v", a.Get("survey_start"))
	}
}

func TestRestoreFlowWithoutSnapshot(t *testing.T) {
	flow := &RestoreFlow{
		Layers: StaticResolver{},
		Store:  objstore.NewMemory(),
		Sync:   newSync(),
		Job:    RestoreJob{SnapshotPrefix: "backup/snap"},
	}
	err := flow.Run(context.Background(), domain.NewReport(JobRestore, "t"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrateFlowRenamesLegacySnapshots(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	_ = store.Put(ctx, "backup/snap_05-06-2024.geojson", []byte("old"), snapshot.ContentType)
	_ = store.Put(ctx, "backup/snap_01-06-2024.geojson", []byte("dup"), snapshot.ContentType)
	_ = store.Put(ctx, "backup/snap_2024-06-01.geojson", []byte("new"), snapshot.ContentType)

	flow := &MigrateFlow{Store: store, Prefix: "backup/snap"}
	rep := domain.NewReport(JobMigrate, "t")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	names, _ := store.List(ctx, "backup/")
	want := "backup/snap_01-06-2024.geojson|backup/snap_2024-06-01.geojson|backup/snap_2024-06-05.geojson"
	if strings.Join(names, "|") != want {
		t.Fatalf("store = %v", names)
	}
	if data, _ := store.Get(ctx, "backup/snap_2024-06-01.geojson"); string(data) != "new" {
		t.Fatalf("existing canonical snapshot must not be overwritten")
	}
	if rep.Outcome("backup/snap_01-06-2024.geojson") != domain.OutcomeSkipped {
		t.Fatalf("duplicate legacy snapshot should be skipped")
	}
	if err := flow.Run(ctx, domain.NewReport(JobMigrate, "t2")); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestFormSyncFlowAddsAndCompletesRecords(t *testing.T) {
	ctx := context.Background()
	layer := gis.NewMemoryLayer("badgers")
	photoOID := layer.Seed(rec("unique_id", "A", domain.FieldPhotoName, "IMG_1.jpg", "sighting_type", nil))
	layer.SeedAttachment(photoOID, "IMG_1.jpg", []byte("a"))
	layer.Seed(rec("unique_id", "B", "sighting_type", "Badger", "comments", "keep"))

	client := &forms.StaticClient{Submissions: []domain.Record{
		rec("confirmationId", "A", "sightingType", "live", "sightingDate", "2024-05-01T10:00:00Z", "latitude", 50.1, "longitude", -120.2),
		rec("confirmationId", "B", "sightingType", "dead", "comments", "changed"),
		rec("confirmationId", "C", "sightingType", "live", "sightingDate", "2024-05-03", "latitude", "50.5", "longitude", "-121"),
	}}
	mapper := forms.NewMapper(forms.MapperConfig{
		Rename:            map[string]string{"sightingType": "sighting_type", "sightingDate": "sighting_date"},
		ValueMaps:         map[string]map[string]string{"sighting_type": {"live": "Live Badger", "dead": "Dead Badger"}},
		Dates:             []string{"sighting_date"},
		ConfirmationField: "unique_id",
		Drop:              []string{"confirmationId", "latitude", "longitude"},
	})
	flow := &FormSyncFlow{
		Layers: StaticResolver{"badgers": layer},
		Forms:  client,
		Mapper: mapper,
		Sync:   newSync(),
		Job: FormSyncJob{
			Layer:       LayerRef{URL: "badgers"},
			KeyField:    "unique_id",
			PhotoField:  domain.FieldPhotoName,
			StatusField: "sighting_type",
			Naming:      reconcile.Naming{IDField: "unique_id", DateField: "sighting_date", PhotoField: domain.FieldPhotoName},
		},
	}
	rep := domain.NewReport(JobFormSync, "t")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rep.Outcome("A") != domain.OutcomeUpdated || rep.Outcome("C") != domain.OutcomeAdded || rep.Outcome("B") != "" {
		t.Fatalf("outcomes A=%s B=%s C=%s", rep.Outcome("A"), rep.Outcome("B"), rep.Outcome("C"))
	}

	a, _ := layer.Feature(photoOID)
	if a.String("sighting_type") != "Live Badger" || a.String("sighting_date") != "2024-05-01" {
		t.Fatalf("record A not completed: %v", a.Attributes)
	}
	if a.Geometry == nil || a.Geometry.X != -120.2 {
		t.Fatalf("record A geometry = %v", a.Geometry)
	}
	if names := layer.AttachmentNames(photoOID); len(names) != 1 || names[0] != "A_2024-05-01_1.jpg" {
		t.Fatalf("attachments = %v", names)
	}
	if a.String(domain.FieldPhotoName) != "A_2024-05-01_1.jpg" {
		t.Fatalf("photo field = %q", a.String(domain.FieldPhotoName))
	}
	if b := findBy(t, layer, "unique_id", "B"); b.String("comments") != "keep" {
		t.Fatalf("completed records must not be overwritten: %v", b.Attributes)
	}
	c := findBy(t, layer, "unique_id", "C")
	if c.String("sighting_type") != "Live Badger" || c.Geometry == nil || c.Geometry.Y != 50.5 {
		t.Fatalf("record C = %v %v", c.Attributes, c.Geometry)
	}

	if err := flow.Run(ctx, domain.NewReport(JobFormSync, "t2")); !errors.Is(err, domain.ErrNoNewRecords) {
		t.Fatalf("second run should be a no-op, got %v", err)
	}
}

func TestAppendFlowChecksSourceObjectIDBeforeAdding(t *testing.T) {
	ctx := context.Background()
	src := gis.NewMemoryLayer("src")
	src.ObjectIDField = "OBJECTID"
	dst := gis.NewMemoryLayer("dst")
	oid := src.Seed(rec("unique_id", "U1", "name", "a"))
	src.SeedAttachment(oid, "a.jpg", []byte("a"))

	job := appendJob()
	job.SourceKey = "unique_id"
	job.DestinationKey = "unique_id"
	flow := &AppendFlow{Layers: StaticResolver{"src": src, "dst": dst}, Sync: newSync(), Job: job}

	// 未配置源图层的 object id 字段：记录失败，但目标图层不留下半成品
	for i := 0; i < 2; i++ {
		rep := domain.NewReport(JobAppend, "t")
		if err := flow.Run(ctx, rep); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
		if rep.Outcome("U1") != domain.OutcomeFailed || dst.Len() != 0 {
			t.Fatalf("run %d: outcome=%s dst=%d", i, rep.Outcome("U1"), dst.Len())
		}
	}

	flow.Job.Source.ObjectIDField = "OBJECTID"
	rep := domain.NewReport(JobAppend, "t")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rep.Outcome("U1") != domain.OutcomeAdded {
		t.Fatalf("outcome = %s", rep.Outcome("U1"))
	}
	got := findBy(t, dst, "unique_id", "U1")
	if _, copied := got.Attributes["OBJECTID"]; copied {
		t.Fatalf("source object id must be dropped regardless of case: %v", got.Attributes)
	}
	newOID, _ := got.Int64(domain.FieldObjectID)
	if names := dst.AttachmentNames(newOID); len(names) != 1 || names[0] != "a.jpg" {
		t.Fatalf("attachments = %v", names)
	}
}

func TestRenameFlowUsesLayerObjectIDField(t *testing.T) {
	ctx := context.Background()
	layer := gis.NewMemoryLayer("hair_snag")
	layer.ObjectIDField = "OBJECTID"
	oid := layer.Seed(rec("survey_date", "2024-04-02", domain.FieldPhotoName, "DSC001.JPG"))
	layer.SeedAttachment(oid, "DSC001.JPG", []byte("x"))

	flow := &RenameFlow{
		Layers: StaticResolver{"hair_snag": layer},
		Sync:   newSync(),
		Targets: []RenameTarget{{
			Layer:  LayerRef{URL: "hair_snag", ObjectIDField: "OBJECTID"},
			Naming: reconcile.Naming{DateField: "survey_date", PhotoField: domain.FieldPhotoName},
		}},
	}
	rep := domain.NewReport(JobRename, "t")
	if err := flow.Run(ctx, rep); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rep.Count(domain.OutcomeUpdated) != 1 || rep.Count(domain.OutcomeFailed) != 0 {
		t.Fatalf("updated=%d failed=%d", rep.Count(domain.OutcomeUpdated), rep.Count(domain.OutcomeFailed))
	}
	got, _ := layer.Feature(oid)
	if got.String(domain.FieldPhotoName) != "1_2024-04-02_1.JPG" {
		t.Fatalf("photo field = %q", got.String(domain.FieldPhotoName))
	}
}

func TestFormSyncFlowCleanupRemovesDuplicatesAndBlanks(t *testing.T) {
	ctx := context.Background()
	layer := gis.NewMemoryLayer("badgers")
	first := layer.Seed(rec("unique_id", "A", "chefs_confirmation_id", "C-1"))
	dup := layer.Seed(rec("unique_id", "A", "chefs_confirmation_id", "C-2"))
	blank := layer.Seed(rec("unique_id", "B"))
	noKey := layer.Seed(rec("comments", "survey123 only"))

	flow := &FormSyncFlow{
		Layers: StaticResolver{"badgers": layer},
		Forms:  &forms.StaticClient{},
		Mapper: forms.NewMapper(forms.MapperConfig{}),
		Sync:   newSync(),
		Job: FormSyncJob{
			Layer:             LayerRef{URL: "badgers"},
			KeyField:          "unique_id",
			PhotoField:        domain.FieldPhotoName,
			StatusField:       "sighting_type",
			Naming:            reconcile.Naming{IDField: "unique_id", PhotoField: domain.FieldPhotoName},
			Cleanup:           true,
			ConfirmationField: "chefs_confirmation_id",
		},
	}
	if err := flow.Run(ctx, domain.NewReport(JobFormSync, "t")); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, oid := range []int64{first, noKey} {
		if _, ok := layer.Feature(oid); !ok {
			t.Fatalf("record %d should be kept", oid)
		}
	}
	for _, oid := range []int64{dup, blank} {
		if _, ok := layer.Feature(oid); ok {
			t.Fatalf("record %d should be removed", oid)
		}
	}
	if err := flow.Run(ctx, domain.NewReport(JobFormSync, "t2")); !errors.Is(err, domain.ErrNoNewRecords) {
		t.Fatalf("second run should be a no-op, got %v", err)
	}
}
