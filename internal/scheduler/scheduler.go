// Package scheduler polls for uploaded minidumps and analyzes them on a
// bounded set of workers.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crash-analysis/pkg/config"
	apperrors "github.com/crash-analysis/pkg/errors"
	"github.com/crash-analysis/pkg/model"
	"github.com/crash-analysis/pkg/utils"
)

// Task represents a task to be processed by the worker pool.
type Task struct {
	ID       int64
	UUID     string
	Platform model.Platform
	DumpKey  string
	ExtraKey string
	Options  model.TaskOptions
	Priority int // Higher value = higher priority
}

// TaskFetcher supplies tasks and records their outcome.
type TaskFetcher interface {
	FetchPendingTasks(ctx context.Context, limit int) ([]*Task, error)
	LockTask(ctx context.Context, taskID int64) (bool, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status model.AnalysisStatus, info string) error
}

// TaskProcessor defines the interface for processing tasks. A nil error
// means the processor recorded the task as completed.
type TaskProcessor interface {
	Process(ctx context.Context, task *Task) error
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	PollInterval  time.Duration // How often to poll for new tasks
	WorkerCount   int           // Number of concurrent workers
	PrioritySlots int           // Reserved slots for high priority tasks
	TaskBatchSize int           // Max tasks to fetch per poll
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PollInterval:  2 * time.Second,
		WorkerCount:   5,
		PrioritySlots: 1,
		TaskBatchSize: 10,
	}
}

// FromConfig creates scheduler config from application config.
func FromConfig(cfg *config.SchedulerConfig) *SchedulerConfig {
	return &SchedulerConfig{
		PollInterval:  time.Duration(cfg.PollInterval) * time.Second,
		WorkerCount:   cfg.WorkerCount,
		PrioritySlots: cfg.PrioritySlots,
		TaskBatchSize: cfg.TaskBatchSize,
	}
}

// Scheduler manages task scheduling and worker pool.
type Scheduler struct {
	config    *SchedulerConfig
	fetcher   TaskFetcher
	processor TaskProcessor
	logger    utils.Logger

	workerPool chan struct{} // Semaphore for worker count
	wg         sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a new Scheduler.
func New(config *SchedulerConfig, fetcher TaskFetcher, processor TaskProcessor, logger utils.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSchedulerConfig().PollInterval
	}
	if config.TaskBatchSize < 1 {
		config.TaskBatchSize = config.WorkerCount
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	return &Scheduler{
		config:     config,
		fetcher:    fetcher,
		processor:  processor,
		logger:     logger,
		workerPool: make(chan struct{}, config.WorkerCount),
	}
}

// Start starts polling. It returns immediately; Stop ends the loop and
// waits for running tasks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	s.logger.Info("Starting scheduler with %d workers", s.config.WorkerCount)

	for len(s.workerPool) < s.config.WorkerCount {
		s.workerPool <- struct{}{}
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.pollLoop(ctx)
	return nil
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler...")
	<-done
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		s.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// poll fetches one batch and dispatches what the free workers can take.
func (s *Scheduler) poll(ctx context.Context) {
	if len(s.workerPool) == 0 {
		return
	}
	tasks, err := s.fetcher.FetchPendingTasks(ctx, s.config.TaskBatchSize)
	if err != nil {
		s.logger.Warn("Failed to fetch pending tasks: %v", err)
		return
	}

	for _, task := range tasks {
		if !s.shouldAcceptTask(task) {
			s.logger.Debug("Skipping task %d due to priority constraints", task.ID)
			continue
		}
		select {
		case <-s.workerPool:
		default:
			return
		}

		locked, err := s.fetcher.LockTask(ctx, task.ID)
		if err != nil || !locked {
			s.workerPool <- struct{}{}
			if err != nil {
				s.logger.Warn("Failed to lock task %d: %v", task.ID, err)
			}
			continue
		}

		s.wg.Add(1)
		go s.processTask(ctx, task)
	}
}

// shouldAcceptTask keeps PrioritySlots workers free for priority tasks.
func (s *Scheduler) shouldAcceptTask(task *Task) bool {
	free := len(s.workerPool)
	if task.Priority > 0 {
		return free > 0
	}
	return free > s.config.PrioritySlots
}

// processTask processes a single task.
func (s *Scheduler) processTask(ctx context.Context, task *Task) {
	defer func() {
		s.workerPool <- struct{}{} // Release worker slot
		s.wg.Done()
	}()

	log := s.logger.WithFields(map[string]interface{}{"task_id": task.ID, "uuid": task.UUID})
	log.Info("Processing task")

	start := time.Now()
	err := s.processor.Process(ctx, task)
	duration := time.Since(start)
	if err == nil {
		log.Info("Task completed in %v", duration)
		return
	}

	status := model.AnalysisStatusFailed
	if apperrors.IsEmptyFileError(err) {
		status = model.AnalysisStatusEmpty
	}
	log.Error("Task failed after %v: %v", duration, err)
	// The task context may already be canceled.
	if uerr := s.fetcher.UpdateTaskStatus(context.WithoutCancel(ctx), task.ID, status, err.Error()); uerr != nil {
		log.Error("Failed to record task failure: %v", uerr)
	}
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	active := 0
	if running {
		active = s.config.WorkerCount - len(s.workerPool)
	}
	return SchedulerStats{
		ActiveWorkers: active,
		TotalWorkers:  s.config.WorkerCount,
		Running:       running,
	}
}

// SchedulerStats holds scheduler statistics.
type SchedulerStats struct {
	ActiveWorkers int  `json:"active_workers"`
	TotalWorkers  int  `json:"total_workers"`
	Running       bool `json:"running"`
}
