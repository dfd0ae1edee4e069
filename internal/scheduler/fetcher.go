package scheduler

import (
	"context"

	"github.com/crash-analysis/internal/repository"
	"github.com/crash-analysis/pkg/model"
)

// RepositoryTaskFetcher implements TaskFetcher on a TaskRepository.
type RepositoryTaskFetcher struct {
	taskRepo repository.TaskRepository
}

// NewRepositoryTaskFetcher creates a new RepositoryTaskFetcher.
func NewRepositoryTaskFetcher(taskRepo repository.TaskRepository) *RepositoryTaskFetcher {
	return &RepositoryTaskFetcher{taskRepo: taskRepo}
}

// FetchPendingTasks returns pending tasks to be processed.
func (f *RepositoryTaskFetcher) FetchPendingTasks(ctx context.Context, limit int) ([]*Task, error) {
	tasks, err := f.taskRepo.GetPendingTasks(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := make([]*Task, len(tasks))
	for i, t := range tasks {
		result[i] = convertModelTask(t)
	}
	return result, nil
}

// LockTask attempts to lock a task for processing.
func (f *RepositoryTaskFetcher) LockTask(ctx context.Context, taskID int64) (bool, error) {
	return f.taskRepo.LockTaskForAnalysis(ctx, taskID)
}

// UpdateTaskStatus updates the task status.
func (f *RepositoryTaskFetcher) UpdateTaskStatus(ctx context.Context, taskID int64, status model.AnalysisStatus, info string) error {
	if info != "" {
		return f.taskRepo.UpdateAnalysisStatusWithInfo(ctx, taskID, status, info)
	}
	return f.taskRepo.UpdateAnalysisStatus(ctx, taskID, status)
}

func convertModelTask(t *model.CrashTask) *Task {
	task := &Task{
		ID:       t.ID,
		UUID:     t.TaskUUID,
		Platform: t.Platform,
		DumpKey:  t.DumpKey,
		ExtraKey: t.ExtraKey,
		Options:  t.Options,
	}
	if t.Options.Priority {
		task.Priority = 1
	}
	return task
}
