// Package repository provides database access for crash tasks and reports.
package repository

import (
	"context"

	"github.com/crash-analysis/pkg/model"
)

// TaskRepository defines the interface for crash task operations.
type TaskRepository interface {
	// CreateTask inserts a new task and fills its ID.
	CreateTask(ctx context.Context, task *model.CrashTask) error

	// GetPendingTasks retrieves tasks waiting for analysis, priority first.
	GetPendingTasks(ctx context.Context, limit int) ([]*model.CrashTask, error)

	// GetTaskByID retrieves a task by its ID.
	GetTaskByID(ctx context.Context, id int64) (*model.CrashTask, error)

	// GetTaskByUUID retrieves a task by its UUID.
	GetTaskByUUID(ctx context.Context, uuid string) (*model.CrashTask, error)

	// UpdateAnalysisStatus updates the analysis status of a task.
	UpdateAnalysisStatus(ctx context.Context, id int64, status model.AnalysisStatus) error

	// UpdateAnalysisStatusWithInfo updates the analysis status with additional info.
	UpdateAnalysisStatusWithInfo(ctx context.Context, id int64, status model.AnalysisStatus, info string) error

	// SetResultFile records where the task's report was uploaded.
	SetResultFile(ctx context.Context, id int64, resultFile string) error

	// LockTaskForAnalysis moves a pending task to running. It returns false
	// when another worker got there first.
	LockTaskForAnalysis(ctx context.Context, id int64) (bool, error)
}

// ReportRepository defines the interface for crash report operations.
type ReportRepository interface {
	// SaveReport inserts or replaces the report of a task.
	SaveReport(ctx context.Context, report *model.CrashReport) error

	// GetReportByTaskUUID retrieves the report for a task.
	GetReportByTaskUUID(ctx context.Context, taskUUID string) (*model.CrashReport, error)

	// FindByFingerprint returns reports sharing a crash fingerprint, newest first.
	FindByFingerprint(ctx context.Context, fingerprint string, limit int) ([]*model.CrashReport, error)
}
