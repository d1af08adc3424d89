package reconcile

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"go.uber.org/zap"

	"wildsync/internal/domain"
)

// ErrPhotoFieldStale 表示附件已改名但照片字段未能同步更新，记录处于可检测的不一致状态。
var ErrPhotoFieldStale = errors.New("photo field out of sync with attachments")

// ErrRolledBack 表示附件失败后目标记录已被删除，下次运行会重新新增。
var ErrRolledBack = errors.New("destination record rolled back")

// AttachmentSource 是可读取附件的图层。
type AttachmentSource interface {
	Attachments(ctx context.Context, oid int64) ([]domain.AttachmentInfo, error)
	DownloadAttachment(ctx context.Context, oid, attachmentID int64) ([]byte, error)
}

// AttachmentLayer 是可读写附件、可编辑要素的图层，由 *gis.Layer 实现。
type AttachmentLayer interface {
	AttachmentSource
	AddAttachment(ctx context.Context, oid int64, name string, data []byte) (int64, error)
	UpdateAttachment(ctx context.Context, oid, attachmentID int64, name string, data []byte) error
	DeleteAttachment(ctx context.Context, oid, attachmentID int64) error
	ApplyEdits(ctx context.Context, adds, updates []domain.Record, deletes []int64) (domain.EditResponse, error)
}

// ObjectReader 从对象存储读取文件。
type ObjectReader interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// ObjectWriter 列出并写入对象存储。
type ObjectWriter interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Put(ctx context.Context, name string, data []byte, contentType string) error
}

// Synchronizer 负责附件复制、规范命名以及照片字段一致性。
type Synchronizer struct {
	// ObjectIDField 是调用要素服务时使用的 object id 字段。
	ObjectIDField string
	Logger        *zap.Logger
}

// NewSynchronizer 创建附件同步器。
func NewSynchronizer(objectIDField string, logger *zap.Logger) *Synchronizer {
	if objectIDField == "" {
		objectIDField = domain.FieldObjectID
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{ObjectIDField: objectIDField, Logger: logger}
}

// WithObjectIDField 返回使用指定 object id 字段的副本，field 为空时返回自身。
func (s *Synchronizer) WithObjectIDField(field string) *Synchronizer {
	if field == "" || field == s.ObjectIDField {
		return s
	}
	cp := *s
	cp.ObjectIDField = field
	return &cp
}

func (s *Synchronizer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// CopyResult 汇总一条记录的附件复制结果。
type CopyResult struct {
	Copied int
	// Names 是成功挂到目标记录的附件名，按处理顺序。
	Names   []string
	Skipped []domain.AttachmentResult
}

type pendingFile struct {
	name  string
	fetch func(ctx context.Context) ([]byte, error)
}

// CopyAll 把 src 记录的全部附件复制到 dst 记录。
// 下载返回 NotFound 的附件跳过；其他失败会删除 dst 记录并返回 ErrRolledBack。
func (s *Synchronizer) CopyAll(ctx context.Context, src AttachmentSource, srcOID int64, dst AttachmentLayer, dstOID int64) (CopyResult, error) {
	infos, err := src.Attachments(ctx, srcOID)
	if err != nil {
		return CopyResult{}, s.rollback(ctx, dst, dstOID, fmt.Errorf("列出源附件失败: %w", err))
	}
	files := make([]pendingFile, 0, len(infos))
	for _, info := range infos {
		info := info
		files = append(files, pendingFile{
			name: info.Name,
			fetch: func(ctx context.Context) ([]byte, error) {
				return src.DownloadAttachment(ctx, srcOID, info.ID)
			},
		})
	}
	return s.attachAll(ctx, dst, dstOID, files)
}

// CopyFromStore 从对象存储 <prefix>/<name> 读取照片并挂到 dst 记录，失败规则同 CopyAll。
func (s *Synchronizer) CopyFromStore(ctx context.Context, store ObjectReader, prefix string, names []string, dst AttachmentLayer, dstOID int64) (CopyResult, error) {
	files := make([]pendingFile, 0, len(names))
	for _, name := range names {
		key := objectKey(prefix, name)
		files = append(files, pendingFile{
			name: name,
			fetch: func(ctx context.Context) ([]byte, error) {
				return store.Get(ctx, key)
			},
		})
	}
	return s.attachAll(ctx, dst, dstOID, files)
}

func (s *Synchronizer) attachAll(ctx context.Context, dst AttachmentLayer, dstOID int64, files []pendingFile) (CopyResult, error) {
	var res CopyResult
	for _, f := range files {
		data, err := f.fetch(ctx)
		kind := domain.Classify(err)
		switch kind {
		case domain.ResultOK:
		case domain.ResultNotFound:
			s.logger().Warn("source attachment missing, skip",
				zap.Int64("oid", dstOID), zap.String("name", f.name), zap.Error(err))
			res.Skipped = append(res.Skipped, domain.AttachmentResult{Name: f.name, Kind: kind, Err: err})
			continue
		default:
			return res, s.rollback(ctx, dst, dstOID, fmt.Errorf("下载附件 %s 失败(%s): %w", f.name, kind, err))
		}
		if _, err := dst.AddAttachment(ctx, dstOID, f.name, data); err != nil {
			return res, s.rollback(ctx, dst, dstOID, fmt.Errorf("上传附件 %s 失败(%s): %w", f.name, domain.Classify(err), err))
		}
		res.Copied++
		res.Names = append(res.Names, f.name)
	}
	return res, nil
}

// rollback 删除刚创建的目标记录；删除失败时记录孤儿日志。
func (s *Synchronizer) rollback(ctx context.Context, dst AttachmentLayer, dstOID int64, cause error) error {
	resp, err := dst.ApplyEdits(ctx, nil, nil, []int64{dstOID})
	if err == nil {
		err = firstFailure(resp.Deletes)
	}
	if err != nil {
		s.logger().Error("rollback failed, orphan record left at destination",
			zap.Int64("oid", dstOID), zap.NamedError("cause", cause), zap.Error(err))
		return fmt.Errorf("%w; 回滚目标记录 %d 失败: %v", cause, dstOID, err)
	}
	s.logger().Warn("destination record rolled back", zap.Int64("oid", dstOID), zap.Error(cause))
	return fmt.Errorf("%w: %w", ErrRolledBack, cause)
}

// Naming 描述附件规范命名：{id}_{date}_{n}.{ext} 或 {id}_{label}_{n}.{ext}。
type Naming struct {
	// IDField 是用于命名的标识字段，为空时使用 object id。
	IDField string `yaml:"id_field"`
	// DateField 为空或取值为空时使用 Label。
	DateField string `yaml:"date_field"`
	Label     string `yaml:"label"`
	// PhotoField 为空时不维护照片字段。
	PhotoField string `yaml:"photo_field"`
}

// Prefix 计算记录的规范前缀。
func (n Naming) Prefix(rec domain.Record, oid int64) string {
	id := ""
	if n.IDField != "" {
		id = domain.SanitizeToken(domain.KeyOf(rec.Get(n.IDField)))
	}
	if id == "" {
		id = fmt.Sprintf("%d", oid)
	}
	token := ""
	if n.DateField != "" {
		token = domain.SanitizeToken(rec.Get(n.DateField))
	}
	if token == "" {
		token = n.Label
		if token == "" {
			token = domain.PhotoLabel
		}
	}
	return domain.PhotoPrefix(id, token)
}

// RenameResult 汇总一条记录的改名结果。
type RenameResult struct {
	Downloads    int
	Renamed      int
	Orphans      int
	FieldUpdated bool
	// Names 是改名后附件的存储名，按附件列表顺序。
	Names    []string
	Failures []domain.AttachmentResult
}

// Rename 把记录上不符合规范前缀的附件改为规范名，并让照片字段与附件列表一致。
// 已是规范名的附件不会被下载；对已规范的记录重复执行不产生任何写操作。
func (s *Synchronizer) Rename(ctx context.Context, layer AttachmentLayer, rec domain.Record, naming Naming) (RenameResult, error) {
	var res RenameResult
	oid, ok := rec.Int64(s.ObjectIDField)
	if !ok {
		return res, fmt.Errorf("记录缺少 %s 字段: %w", s.ObjectIDField, domain.ErrPermanent)
	}
	prefix := naming.Prefix(rec, oid)

	infos, err := layer.Attachments(ctx, oid)
	if err != nil {
		return res, fmt.Errorf("列出附件失败 oid=%d: %w", oid, err)
	}

	used := make(map[int]bool, len(infos))
	for _, info := range infos {
		if n, ok := domain.PhotoSeq(prefix, info.Name); ok {
			used[n] = true
		}
	}
	next := 1
	nextSeq := func() int {
		for used[next] {
			next++
		}
		used[next] = true
		return next
	}

	log := s.logger().With(zap.Int64("oid", oid), zap.String("prefix", prefix))
	for _, info := range infos {
		if strings.HasPrefix(info.Name, prefix+"_") {
			res.Names = append(res.Names, info.Name)
			continue
		}
		res.Downloads++
		data, err := layer.DownloadAttachment(ctx, oid, info.ID)
		if err != nil {
			kind := domain.Classify(err)
			log.Warn("download attachment failed", zap.String("name", info.Name), zap.Stringer("kind", kind), zap.Error(err))
			res.Failures = append(res.Failures, domain.AttachmentResult{Name: info.Name, Kind: kind, Err: err})
			if kind != domain.ResultNotFound {
				res.Names = append(res.Names, info.Name)
			}
			continue
		}
		// 序号在下载成功后才分配，失败的附件不占用编号
		newName := domain.PhotoName(prefix, nextSeq(), domain.PhotoExt(info.Name))

		err = layer.UpdateAttachment(ctx, oid, info.ID, newName, data)
		if err == nil {
			res.Renamed++
			res.Names = append(res.Names, newName)
			log.Info("attachment renamed", zap.String("from", info.Name), zap.String("to", newName))
			continue
		}
		if domain.Classify(err) == domain.ResultTransient {
			log.Warn("update attachment failed", zap.String("name", info.Name), zap.Error(err))
			res.Failures = append(res.Failures, domain.AttachmentResult{Name: info.Name, Kind: domain.ResultTransient, Err: err})
			res.Names = append(res.Names, info.Name)
			continue
		}

		// 不支持原地更新时退化为先新增再删除
		if _, addErr := layer.AddAttachment(ctx, oid, newName, data); addErr != nil {
			kind := domain.Classify(addErr)
			log.Warn("add renamed attachment failed", zap.String("name", newName), zap.Error(addErr))
			res.Failures = append(res.Failures, domain.AttachmentResult{Name: info.Name, Kind: kind, Err: addErr})
			res.Names = append(res.Names, info.Name)
			continue
		}
		res.Renamed++
		res.Names = append(res.Names, newName)
		if delErr := layer.DeleteAttachment(ctx, oid, info.ID); delErr != nil {
			res.Orphans++
			res.Names = append(res.Names[:len(res.Names)-1], info.Name, newName)
			log.Error("orphan attachment left after rename",
				zap.String("orphan", info.Name), zap.Int64("attachment_id", info.ID), zap.Error(delErr))
			continue
		}
		log.Info("attachment replaced", zap.String("from", info.Name), zap.String("to", newName))
	}

	if naming.PhotoField == "" {
		return res, nil
	}
	want := domain.JoinPhotoNames(res.Names)
	if rec.String(naming.PhotoField) == want {
		return res, nil
	}
	update := domain.NewRecord()
	update.Set(s.ObjectIDField, oid)
	if want == "" {
		update.Set(naming.PhotoField, nil)
	} else {
		update.Set(naming.PhotoField, want)
	}
	resp, err := layer.ApplyEdits(ctx, nil, []domain.Record{update}, nil)
	if err == nil {
		err = firstFailure(resp.Updates)
	}
	if err != nil {
		log.Error("photo field update failed", zap.String("want", want), zap.Error(err))
		return res, fmt.Errorf("%w: oid=%d: %w", ErrPhotoFieldStale, oid, err)
	}
	res.FieldUpdated = true
	return res, nil
}

// MirrorResult 汇总照片备份结果。
type MirrorResult struct {
	Uploaded int
	Present  int
	Failed   int
}

// MirrorPhotos 把记录照片字段中列出、对象存储 <prefix>/ 下尚不存在的照片上传到对象存储。
// 单张照片失败只记录日志，不中断。
func (s *Synchronizer) MirrorPhotos(ctx context.Context, layer AttachmentSource, records []domain.Record, photoField string, store ObjectWriter, prefix string) (MirrorResult, error) {
	var res MirrorResult
	existing, err := store.List(ctx, objectKey(prefix, ""))
	if err != nil {
		return res, fmt.Errorf("列出已备份照片失败: %w", err)
	}
	stored := make(map[string]bool, len(existing))
	for _, name := range existing {
		stored[name] = true
	}

	for _, rec := range records {
		names := domain.SplitPhotoNames(rec.Get(photoField))
		var missing []string
		for _, name := range names {
			if stored[objectKey(prefix, name)] {
				res.Present++
				continue
			}
			missing = append(missing, name)
		}
		if len(missing) == 0 {
			continue
		}
		oid, ok := rec.Int64(s.ObjectIDField)
		if !ok {
			res.Failed += len(missing)
			s.logger().Warn("record without object id, skip photo backup", zap.Strings("photos", missing))
			continue
		}
		infos, err := layer.Attachments(ctx, oid)
		if err != nil {
			res.Failed += len(missing)
			s.logger().Warn("list attachments failed", zap.Int64("oid", oid), zap.Error(err))
			continue
		}
		byName := make(map[string]domain.AttachmentInfo, len(infos))
		for _, info := range infos {
			byName[info.Name] = info
		}
		for _, name := range missing {
			info, ok := byName[name]
			if !ok {
				res.Failed++
				s.logger().Warn("photo named in field has no attachment", zap.Int64("oid", oid), zap.String("name", name))
				continue
			}
			data, err := layer.DownloadAttachment(ctx, oid, info.ID)
			if err != nil {
				res.Failed++
				s.logger().Warn("download photo failed", zap.Int64("oid", oid), zap.String("name", name), zap.Error(err))
				continue
			}
			key := objectKey(prefix, name)
			if err := store.Put(ctx, key, data, contentType(info)); err != nil {
				res.Failed++
				s.logger().Warn("upload photo failed", zap.String("key", key), zap.Error(err))
				continue
			}
			stored[key] = true
			res.Uploaded++
		}
	}
	return res, nil
}

func objectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func contentType(info domain.AttachmentInfo) string {
	if info.ContentType != "" {
		return info.ContentType
	}
	if ct := mime.TypeByExtension(path.Ext(info.Name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func firstFailure(results []domain.EditResult) error {
	for _, r := range results {
		if r.Success {
			continue
		}
		if r.Error != nil {
			return fmt.Errorf("oid=%d: %w: %w", r.ObjectID, domain.ErrPermanent, r.Error)
		}
		return fmt.Errorf("oid=%d: %w", r.ObjectID, domain.ErrPermanent)
	}
	return nil
}
