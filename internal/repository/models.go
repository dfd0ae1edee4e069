package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/crash-analysis/pkg/model"
)

// CrashTaskRecord represents the crash_task table.
type CrashTaskRecord struct {
	ID             int64                `gorm:"column:id;primaryKey;autoIncrement"`
	TID            string               `gorm:"column:tid;type:varchar(64);uniqueIndex"`
	Product        string               `gorm:"column:product;type:varchar(128)"`
	Version        string               `gorm:"column:version;type:varchar(64)"`
	ReleaseChannel string               `gorm:"column:release_channel;type:varchar(64)"`
	Platform       model.Platform       `gorm:"column:platform"`
	AnalysisStatus model.AnalysisStatus `gorm:"column:analysis_status;index"`
	Priority       bool                 `gorm:"column:priority"`
	StatusInfo     string               `gorm:"column:status_info;type:text"`
	DumpKey        string               `gorm:"column:dump_key;type:varchar(512)"`
	ExtraKey       string               `gorm:"column:extra_key;type:varchar(512)"`
	ResultFile     string               `gorm:"column:result_file;type:varchar(512)"`
	Options        JSONField            `gorm:"column:options;type:json"`
	CreateTime     time.Time            `gorm:"column:create_time;autoCreateTime"`
	BeginTime      *time.Time           `gorm:"column:begin_time"`
	EndTime        *time.Time           `gorm:"column:end_time"`
}

// TableName returns the table name for CrashTaskRecord.
func (CrashTaskRecord) TableName() string {
	return "crash_task"
}

// ToModel converts CrashTaskRecord to model.CrashTask.
func (t *CrashTaskRecord) ToModel() *model.CrashTask {
	task := &model.CrashTask{
		ID:             t.ID,
		TaskUUID:       t.TID,
		Product:        t.Product,
		Version:        t.Version,
		ReleaseChannel: t.ReleaseChannel,
		Platform:       t.Platform,
		AnalysisStatus: t.AnalysisStatus,
		StatusInfo:     t.StatusInfo,
		DumpKey:        t.DumpKey,
		ExtraKey:       t.ExtraKey,
		ResultFile:     t.ResultFile,
		CreateTime:     t.CreateTime,
		BeginTime:      t.BeginTime,
		EndTime:        t.EndTime,
	}
	if t.Options != nil {
		_ = json.Unmarshal(t.Options, &task.Options)
	}
	task.Options.Priority = t.Priority
	return task
}

func newCrashTaskRecord(task *model.CrashTask) (*CrashTaskRecord, error) {
	opts, err := json.Marshal(task.Options)
	if err != nil {
		return nil, err
	}
	return &CrashTaskRecord{
		TID:            task.TaskUUID,
		Product:        task.Product,
		Version:        task.Version,
		ReleaseChannel: task.ReleaseChannel,
		Platform:       task.Platform,
		AnalysisStatus: task.AnalysisStatus,
		Priority:       task.Options.Priority,
		StatusInfo:     task.StatusInfo,
		DumpKey:        task.DumpKey,
		ExtraKey:       task.ExtraKey,
		ResultFile:     task.ResultFile,
		Options:        opts,
		CreateTime:     task.CreateTime,
	}, nil
}

// CrashReportRecord represents the crash_report table.
type CrashReportRecord struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TID            string    `gorm:"column:tid;type:varchar(64);uniqueIndex"`
	Status         string    `gorm:"column:status;type:varchar(32)"`
	CrashType      string    `gorm:"column:crash_type;type:varchar(128)"`
	CrashAddress   string    `gorm:"column:crash_address;type:varchar(32)"`
	CrashingThread int       `gorm:"column:crashing_thread"`
	MainModule     string    `gorm:"column:main_module;type:varchar(256)"`
	Signature      string    `gorm:"column:signature;type:text"`
	Fingerprint    string    `gorm:"column:fingerprint;type:varchar(64);index"`
	DuplicateOf    string    `gorm:"column:duplicate_of;type:varchar(64)"`
	ThreadCount    int       `gorm:"column:thread_count"`
	ModuleCount    int       `gorm:"column:module_count"`
	ResultFile     string    `gorm:"column:result_file;type:varchar(512)"`
	Version        string    `gorm:"column:version;type:varchar(32)"`
	AnalyzedAt     time.Time `gorm:"column:analyzed_at"`
}

// TableName returns the table name for CrashReportRecord.
func (CrashReportRecord) TableName() string {
	return "crash_report"
}

// ToModel converts CrashReportRecord to model.CrashReport.
func (r *CrashReportRecord) ToModel() *model.CrashReport {
	return &model.CrashReport{
		ID:             r.ID,
		TaskUUID:       r.TID,
		Status:         r.Status,
		CrashType:      r.CrashType,
		CrashAddress:   r.CrashAddress,
		CrashingThread: r.CrashingThread,
		MainModule:     r.MainModule,
		Signature:      r.Signature,
		Fingerprint:    r.Fingerprint,
		DuplicateOf:    r.DuplicateOf,
		ThreadCount:    r.ThreadCount,
		ModuleCount:    r.ModuleCount,
		ResultFile:     r.ResultFile,
		AnalyzedAt:     r.AnalyzedAt,
	}
}

// JSONField is a custom type for handling JSON fields in GORM.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = []byte(v)
	default:
		return errors.New("unsupported type for JSONField")
	}
	return nil
}
