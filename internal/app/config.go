package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"wildsync/internal/domain"
	"wildsync/internal/forms"
	"wildsync/internal/reconcile"
)

// 作业名，与 CLI 子命令一致。
const (
	JobAppend   = "append"
	JobRename   = "rename"
	JobRollup   = "rollup"
	JobBackup   = "backup"
	JobRestore  = "restore"
	JobMigrate  = "migrate"
	JobFormSync = "formsync"
)

// Jobs 列出可调度的作业。restore 与 migrate 只能手动执行。
var Jobs = []string{JobAppend, JobRename, JobRollup, JobBackup, JobFormSync}

type ArcGIS struct {
	PortalURL     string `yaml:"portal_url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Token         string `yaml:"token"`
	Referer       string `yaml:"referer"`
	TimeoutSecond int    `yaml:"timeout_second"`
	PageSize      int    `yaml:"page_size"`
	BatchSize     int    `yaml:"batch_size"`
	OutSR         int    `yaml:"out_sr"`
}

type ObjectStore struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Bucket        string `yaml:"bucket"`
	UsePathStyle  bool   `yaml:"use_path_style"`
	TimeoutSecond int    `yaml:"timeout_second"`
}

type Forms struct {
	BaseURL       string             `yaml:"base_url"`
	FormID        string             `yaml:"form_id"`
	APIKey        string             `yaml:"api_key"`
	Versions      []string           `yaml:"versions"`
	Fields        []string           `yaml:"fields"`
	TimeoutSecond int                `yaml:"timeout_second"`
	Mapper        forms.MapperConfig `yaml:"mapper"`
}

type Logging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
}

// LayerRef 指向一个图层或表：直接给出 URL，或通过门户 item id + 子图层序号解析。
// ObjectIDField 为图层的 object id 字段名（如 OBJECTID），为空时使用 objectid。
type LayerRef struct {
	URL           string `yaml:"url"`
	ItemID        string `yaml:"item_id"`
	LayerID       int    `yaml:"layer_id"`
	ObjectIDField string `yaml:"objectid_field"`
}

func (r LayerRef) String() string {
	if r.URL != "" {
		return r.URL
	}
	return fmt.Sprintf("item:%s/%d", r.ItemID, r.LayerID)
}

func (r LayerRef) empty() bool {
	return strings.TrimSpace(r.URL) == "" && strings.TrimSpace(r.ItemID) == ""
}

type AppendJob struct {
	Source          LayerRef `yaml:"source"`
	Destination     LayerRef `yaml:"destination"`
	Where           string   `yaml:"where"`
	SourceKey       string   `yaml:"source_key"`
	DestinationKey  string   `yaml:"destination_key"`
	DropFields      []string `yaml:"drop_fields"`
	CopyAttachments bool     `yaml:"copy_attachments"`
}

type RenameTarget struct {
	Layer  LayerRef         `yaml:"layer"`
	Where  string           `yaml:"where"`
	Naming reconcile.Naming `yaml:"naming"`
}

type RollupTarget struct {
	Name   string                 `yaml:"name"`
	Parent LayerRef               `yaml:"parent"`
	Child  LayerRef               `yaml:"child"`
	Rollup reconcile.RollupConfig `yaml:"rollup"`
}

type BackupJob struct {
	Layer          LayerRef `yaml:"layer"`
	Where          string   `yaml:"where"`
	DateFields     []string `yaml:"date_fields"`
	PhotoField     string   `yaml:"photo_field"`
	SnapshotPrefix string   `yaml:"snapshot_prefix"`
	PhotosPrefix   string   `yaml:"photos_prefix"`
	RetentionDays  int      `yaml:"retention_days"`
}

type RestoreJob struct {
	Layer          LayerRef `yaml:"layer"`
	DateFields     []string `yaml:"date_fields"`
	DropFields     []string `yaml:"drop_fields"`
	PhotoField     string   `yaml:"photo_field"`
	SnapshotPrefix string   `yaml:"snapshot_prefix"`
	PhotosPrefix   string   `yaml:"photos_prefix"`
}

type FormSyncJob struct {
	Layer       LayerRef         `yaml:"layer"`
	Where       string           `yaml:"where"`
	KeyField    string           `yaml:"key_field"`
	PhotoField  string           `yaml:"photo_field"`
	StatusField string           `yaml:"status_field"`
	Naming      reconcile.Naming `yaml:"naming"`
	// Cleanup 为 true 时，同步后删除 key 重复的记录（保留 object id 最小的一条），
	// 以及有 key 但 ConfirmationField 为空的记录。
	Cleanup           bool   `yaml:"cleanup"`
	ConfirmationField string `yaml:"confirmation_field"`
}

type JobsConfig struct {
	Append   AppendJob      `yaml:"append"`
	Rename   []RenameTarget `yaml:"rename"`
	Rollup   []RollupTarget `yaml:"rollup"`
	Backup   BackupJob      `yaml:"backup"`
	Restore  RestoreJob     `yaml:"restore"`
	FormSync FormSyncJob    `yaml:"formsync"`
}

type Schedule struct {
	// Crons 作业名 -> cron 表达式，未配置的作业不调度。
	Crons      map[string]string `yaml:"crons"`
	RunOnStart bool              `yaml:"run_on_start"`
}

type Config struct {
	ArcGIS      ArcGIS      `yaml:"arcgis"`
	ObjectStore ObjectStore `yaml:"object_store"`
	Forms       Forms       `yaml:"forms"`
	Logging     Logging     `yaml:"logging"`
	Metrics     Metrics     `yaml:"metrics"`
	Jobs        JobsConfig  `yaml:"jobs"`
	Schedule    Schedule    `yaml:"schedule"`
}

// LoadConfig 从文件加载配置，${VAR} 形式的环境变量会先被展开。
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("读取配置失败: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig 解析配置内容并补齐默认值。
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.ArcGIS.PortalURL == "" {
		c.ArcGIS.PortalURL = "https://www.arcgis.com"
	}
	if c.ArcGIS.TimeoutSecond <= 0 {
		c.ArcGIS.TimeoutSecond = 60
	}
	if c.ObjectStore.TimeoutSecond <= 0 {
		c.ObjectStore.TimeoutSecond = 60
	}
	if c.Forms.TimeoutSecond <= 0 {
		c.Forms.TimeoutSecond = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	a := &c.Jobs.Append
	if a.SourceKey == "" {
		a.SourceKey = domain.FieldObjectID
	}
	if a.DestinationKey == "" {
		a.DestinationKey = "source_oid"
	}
	if len(a.DropFields) == 0 {
		a.DropFields = []string{domain.FieldObjectID, domain.FieldGlobalID}
	}

	b := &c.Jobs.Backup
	if b.PhotoField == "" {
		b.PhotoField = domain.FieldPhotoName
	}
	r := &c.Jobs.Restore
	if r.PhotoField == "" {
		r.PhotoField = domain.FieldPhotoName
	}
	if len(r.DropFields) == 0 {
		r.DropFields = []string{domain.FieldObjectID, domain.FieldGlobalID}
	}
	if r.SnapshotPrefix == "" {
		r.SnapshotPrefix = b.SnapshotPrefix
	}
	if r.PhotosPrefix == "" {
		r.PhotosPrefix = b.PhotosPrefix
	}
	if len(r.DateFields) == 0 {
		r.DateFields = b.DateFields
	}

	f := &c.Jobs.FormSync
	if f.KeyField == "" {
		f.KeyField = "unique_id"
	}
	if f.PhotoField == "" {
		f.PhotoField = domain.FieldPhotoName
	}
	if f.Naming.PhotoField == "" {
		f.Naming.PhotoField = f.PhotoField
	}
	if f.ConfirmationField == "" {
		f.ConfirmationField = c.Forms.Mapper.ConfirmationField
	}
	for i := range c.Jobs.Rename {
		if c.Jobs.Rename[i].Naming.PhotoField == "" {
			c.Jobs.Rename[i].Naming.PhotoField = domain.FieldPhotoName
		}
	}
}

// Validate 检查执行某个作业所需的配置是否齐全。
func (c Config) Validate(job string) error {
	var errs []error
	need := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	gisNeeded := job != JobMigrate
	if gisNeeded {
		need(c.ArcGIS.Token != "" || (c.ArcGIS.Username != "" && c.ArcGIS.Password != ""),
			"arcgis 需要 token 或 username/password")
	}
	switch job {
	case JobAppend:
		need(!c.Jobs.Append.Source.empty(), "jobs.append.source 不能为空")
		need(!c.Jobs.Append.Destination.empty(), "jobs.append.destination 不能为空")
	case JobRename:
		need(len(c.Jobs.Rename) > 0, "jobs.rename 至少需要一个图层")
		for i, t := range c.Jobs.Rename {
			need(!t.Layer.empty(), fmt.Sprintf("jobs.rename[%d].layer 不能为空", i))
		}
	case JobRollup:
		need(len(c.Jobs.Rollup) > 0, "jobs.rollup 至少需要一组父子表")
		for i, t := range c.Jobs.Rollup {
			need(!t.Parent.empty() && !t.Child.empty(), fmt.Sprintf("jobs.rollup[%d] 需要 parent 与 child", i))
			need(t.Rollup.ParentKey != "" && t.Rollup.ChildKey != "" && t.Rollup.DateField != "",
				fmt.Sprintf("jobs.rollup[%d] 需要 parent_key/child_key/date_field", i))
			need(len(t.Rollup.Fields) > 0 || t.Rollup.Reset != nil, fmt.Sprintf("jobs.rollup[%d] 没有需要汇总的字段", i))
		}
	case JobBackup:
		need(!c.Jobs.Backup.Layer.empty(), "jobs.backup.layer 不能为空")
		need(c.Jobs.Backup.SnapshotPrefix != "", "jobs.backup.snapshot_prefix 不能为空")
		need(c.Jobs.Backup.RetentionDays >= 0, "jobs.backup.retention_days 不能为负数")
		need(c.ObjectStore.Bucket != "", "object_store.bucket 不能为空")
	case JobRestore:
		need(!c.Jobs.Restore.Layer.empty(), "jobs.restore.layer 不能为空")
		need(c.Jobs.Restore.SnapshotPrefix != "", "jobs.restore.snapshot_prefix 不能为空")
		need(c.ObjectStore.Bucket != "", "object_store.bucket 不能为空")
	case JobMigrate:
		need(c.Jobs.Backup.SnapshotPrefix != "", "jobs.backup.snapshot_prefix 不能为空")
		need(c.ObjectStore.Bucket != "", "object_store.bucket 不能为空")
	case JobFormSync:
		need(!c.Jobs.FormSync.Layer.empty(), "jobs.formsync.layer 不能为空")
		need(c.Forms.BaseURL != "" && c.Forms.FormID != "" && c.Forms.APIKey != "", "forms 需要 base_url/form_id/api_key")
		need(len(c.Forms.Versions) > 0, "forms.versions 不能为空")
		need(c.Jobs.FormSync.StatusField != "", "jobs.formsync.status_field 不能为空")
	default:
		return fmt.Errorf("未知作业 %q", job)
	}
	return errors.Join(errs...)
}
