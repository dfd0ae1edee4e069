package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/crash-analysis/pkg/model"
)

// MockTaskRepository is a mock implementation of the TaskRepository interface.
type MockTaskRepository struct {
	mock.Mock
}

// CreateTask mocks the CreateTask method.
func (m *MockTaskRepository) CreateTask(ctx context.Context, task *model.CrashTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

// GetPendingTasks mocks the GetPendingTasks method.
func (m *MockTaskRepository) GetPendingTasks(ctx context.Context, limit int) ([]*model.CrashTask, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CrashTask), args.Error(1)
}

// GetTaskByID mocks the GetTaskByID method.
func (m *MockTaskRepository) GetTaskByID(ctx context.Context, id int64) (*model.CrashTask, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CrashTask), args.Error(1)
}

// GetTaskByUUID mocks the GetTaskByUUID method.
func (m *MockTaskRepository) GetTaskByUUID(ctx context.Context, uuid string) (*model.CrashTask, error) {
	args := m.Called(ctx, uuid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CrashTask), args.Error(1)
}

// UpdateAnalysisStatus mocks the UpdateAnalysisStatus method.
func (m *MockTaskRepository) UpdateAnalysisStatus(ctx context.Context, id int64, status model.AnalysisStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

// UpdateAnalysisStatusWithInfo mocks the UpdateAnalysisStatusWithInfo method.
func (m *MockTaskRepository) UpdateAnalysisStatusWithInfo(ctx context.Context, id int64, status model.AnalysisStatus, info string) error {
	args := m.Called(ctx, id, status, info)
	return args.Error(0)
}

// SetResultFile mocks the SetResultFile method.
func (m *MockTaskRepository) SetResultFile(ctx context.Context, id int64, resultFile string) error {
	args := m.Called(ctx, id, resultFile)
	return args.Error(0)
}

// LockTaskForAnalysis mocks the LockTaskForAnalysis method.
func (m *MockTaskRepository) LockTaskForAnalysis(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// ExpectGetPendingTasks sets up an expectation for GetPendingTasks.
func (m *MockTaskRepository) ExpectGetPendingTasks(limit int, tasks []*model.CrashTask, err error) *mock.Call {
	return m.On("GetPendingTasks", mock.Anything, limit).Return(tasks, err)
}

// ExpectUpdateAnalysisStatus sets up an expectation for UpdateAnalysisStatus.
func (m *MockTaskRepository) ExpectUpdateAnalysisStatus(id int64, status model.AnalysisStatus, err error) *mock.Call {
	return m.On("UpdateAnalysisStatus", mock.Anything, id, status).Return(err)
}

// ExpectLockTaskForAnalysis sets up an expectation for LockTaskForAnalysis.
func (m *MockTaskRepository) ExpectLockTaskForAnalysis(id int64, success bool, err error) *mock.Call {
	return m.On("LockTaskForAnalysis", mock.Anything, id).Return(success, err)
}

// ExpectSetResultFile sets up an expectation for SetResultFile.
func (m *MockTaskRepository) ExpectSetResultFile(id int64, resultFile string, err error) *mock.Call {
	return m.On("SetResultFile", mock.Anything, id, resultFile).Return(err)
}

// ExpectGetTaskByUUID sets up an expectation for GetTaskByUUID.
func (m *MockTaskRepository) ExpectGetTaskByUUID(uuid string, task *model.CrashTask, err error) *mock.Call {
	return m.On("GetTaskByUUID", mock.Anything, uuid).Return(task, err)
}

// ExpectCreateTask sets up an expectation for CreateTask with any task.
func (m *MockTaskRepository) ExpectCreateTask(err error) *mock.Call {
	return m.On("CreateTask", mock.Anything, mock.AnythingOfType("*model.CrashTask")).Return(err)
}

// MockReportRepository is a mock implementation of the ReportRepository interface.
type MockReportRepository struct {
	mock.Mock
}

// SaveReport mocks the SaveReport method.
func (m *MockReportRepository) SaveReport(ctx context.Context, report *model.CrashReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

// GetReportByTaskUUID mocks the GetReportByTaskUUID method.
func (m *MockReportRepository) GetReportByTaskUUID(ctx context.Context, taskUUID string) (*model.CrashReport, error) {
	args := m.Called(ctx, taskUUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CrashReport), args.Error(1)
}

// FindByFingerprint mocks the FindByFingerprint method.
func (m *MockReportRepository) FindByFingerprint(ctx context.Context, fingerprint string, limit int) ([]*model.CrashReport, error) {
	args := m.Called(ctx, fingerprint, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CrashReport), args.Error(1)
}

// ExpectSaveReport sets up an expectation for SaveReport.
func (m *MockReportRepository) ExpectSaveReport(err error) *mock.Call {
	return m.On("SaveReport", mock.Anything, mock.Anything).Return(err)
}
