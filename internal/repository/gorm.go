package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/crash-analysis/pkg/errors"
	"github.com/crash-analysis/pkg/model"
)

func dbError(msg string, err error) error {
	return apperrors.Wrap(apperrors.CodeDatabaseError, msg, err)
}

// GormTaskRepository implements TaskRepository using GORM.
type GormTaskRepository struct {
	db *gorm.DB
}

// NewGormTaskRepository creates a new GormTaskRepository.
func NewGormTaskRepository(db *gorm.DB) *GormTaskRepository {
	return &GormTaskRepository{db: db}
}

// CreateTask inserts a new task.
func (r *GormTaskRepository) CreateTask(ctx context.Context, task *model.CrashTask) error {
	record, err := newCrashTaskRecord(task)
	if err != nil {
		return dbError("failed to encode task options", err)
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return dbError("failed to create task", err)
	}
	task.ID = record.ID
	task.CreateTime = record.CreateTime
	return nil
}

// GetPendingTasks retrieves tasks that are pending analysis.
func (r *GormTaskRepository) GetPendingTasks(ctx context.Context, limit int) ([]*model.CrashTask, error) {
	var tasks []CrashTaskRecord

	err := r.db.WithContext(ctx).
		Where("analysis_status = ?", model.AnalysisStatusPending).
		Order("priority DESC").
		Order("id ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, dbError("failed to query pending tasks", err)
	}

	result := make([]*model.CrashTask, len(tasks))
	for i := range tasks {
		result[i] = tasks[i].ToModel()
	}
	return result, nil
}

// GetTaskByID retrieves a task by its ID.
func (r *GormTaskRepository) GetTaskByID(ctx context.Context, id int64) (*model.CrashTask, error) {
	var task CrashTaskRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "task not found: %d", id)
		}
		return nil, dbError("failed to get task", err)
	}
	return task.ToModel(), nil
}

// GetTaskByUUID retrieves a task by its UUID.
func (r *GormTaskRepository) GetTaskByUUID(ctx context.Context, uuid string) (*model.CrashTask, error) {
	var task CrashTaskRecord
	if err := r.db.WithContext(ctx).Where("tid = ?", uuid).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "task not found: %s", uuid)
		}
		return nil, dbError("failed to get task", err)
	}
	return task.ToModel(), nil
}

// UpdateAnalysisStatus updates the analysis status of a task.
func (r *GormTaskRepository) UpdateAnalysisStatus(ctx context.Context, id int64, status model.AnalysisStatus) error {
	return r.updateTask(ctx, id, statusUpdates(status))
}

// UpdateAnalysisStatusWithInfo updates the analysis status with additional info.
func (r *GormTaskRepository) UpdateAnalysisStatusWithInfo(ctx context.Context, id int64, status model.AnalysisStatus, info string) error {
	updates := statusUpdates(status)
	updates["status_info"] = info
	return r.updateTask(ctx, id, updates)
}

// SetResultFile records the storage key of the task's report.
func (r *GormTaskRepository) SetResultFile(ctx context.Context, id int64, resultFile string) error {
	return r.updateTask(ctx, id, map[string]interface{}{"result_file": resultFile})
}

func statusUpdates(status model.AnalysisStatus) map[string]interface{} {
	updates := map[string]interface{}{"analysis_status": status}
	if status.IsTerminal() {
		updates["end_time"] = time.Now()
	}
	return updates
}

func (r *GormTaskRepository) updateTask(ctx context.Context, id int64, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&CrashTaskRecord{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return dbError("failed to update task", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "task not found: %d", id)
	}
	return nil
}

// LockTaskForAnalysis attempts to lock a task for analysis using FOR UPDATE.
func (r *GormTaskRepository) LockTaskForAnalysis(ctx context.Context, id int64) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task CrashTaskRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND analysis_status = ?", id, model.AnalysisStatusPending).
			First(&task).Error
		if err != nil {
			return err
		}

		return tx.Model(&CrashTaskRecord{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"analysis_status": model.AnalysisStatusRunning,
				"begin_time":      time.Now(),
			}).Error
	})

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, dbError("failed to lock task", err)
	}
	return true, nil
}

// GormReportRepository implements ReportRepository using GORM.
type GormReportRepository struct {
	db      *gorm.DB
	version string
}

// NewGormReportRepository creates a new GormReportRepository. version is
// stamped on every saved row.
func NewGormReportRepository(db *gorm.DB, version string) *GormReportRepository {
	return &GormReportRepository{db: db, version: version}
}

// SaveReport inserts the report, replacing an earlier one for the same task.
func (r *GormReportRepository) SaveReport(ctx context.Context, report *model.CrashReport) error {
	record := &CrashReportRecord{
		TID:            report.TaskUUID,
		Status:         report.Status,
		CrashType:      report.CrashType,
		CrashAddress:   report.CrashAddress,
		CrashingThread: report.CrashingThread,
		MainModule:     report.MainModule,
		Signature:      report.Signature,
		Fingerprint:    report.Fingerprint,
		DuplicateOf:    report.DuplicateOf,
		ThreadCount:    report.ThreadCount,
		ModuleCount:    report.ModuleCount,
		ResultFile:     report.ResultFile,
		Version:        r.version,
		AnalyzedAt:     report.AnalyzedAt,
	}
	if record.AnalyzedAt.IsZero() {
		record.AnalyzedAt = time.Now()
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tid"}},
			UpdateAll: true,
		}).
		Create(record).Error
	if err != nil {
		return dbError("failed to save crash report", err)
	}
	report.ID = record.ID
	return nil
}

// GetReportByTaskUUID retrieves the report for a task.
func (r *GormReportRepository) GetReportByTaskUUID(ctx context.Context, taskUUID string) (*model.CrashReport, error) {
	var record CrashReportRecord
	if err := r.db.WithContext(ctx).Where("tid = ?", taskUUID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "report not found for task: %s", taskUUID)
		}
		return nil, dbError("failed to get report", err)
	}
	return record.ToModel(), nil
}

// FindByFingerprint returns reports sharing a fingerprint, newest first.
func (r *GormReportRepository) FindByFingerprint(ctx context.Context, fingerprint string, limit int) ([]*model.CrashReport, error) {
	var records []CrashReportRecord
	err := r.db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		Order("analyzed_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, dbError("failed to query reports by fingerprint", err)
	}

	reports := make([]*model.CrashReport, len(records))
	for i := range records {
		reports[i] = records[i].ToModel()
	}
	return reports, nil
}
