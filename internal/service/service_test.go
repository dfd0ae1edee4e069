package service

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/crash-analysis/internal/collector"
	"github.com/crash-analysis/internal/repository"
	"github.com/crash-analysis/internal/testutil"
	"github.com/crash-analysis/pkg/config"
	"github.com/crash-analysis/pkg/model"
	"github.com/crash-analysis/pkg/utils"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Analysis.Version = "1.0.0"
	cfg.Storage = config.StorageConfig{Type: "local", LocalPath: t.TempDir()}
	cfg.Scheduler = config.SchedulerConfig{WorkerCount: 2, PollInterval: 1, PrioritySlots: 0, TaskBatchSize: 4}
	return cfg
}

func TestService_New(t *testing.T) {
	cfg := testConfig(t)

	t.Run("WithLogger", func(t *testing.T) {
		svc, err := New(cfg, utils.NewDefaultLogger(utils.LevelInfo, nil))
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.False(t, svc.IsRunning())
	})

	t.Run("WithoutLogger", func(t *testing.T) {
		svc, err := New(cfg, nil)
		require.NoError(t, err)
		require.NotNil(t, svc)
	})

	t.Run("WithoutConfig", func(t *testing.T) {
		_, err := New(nil, nil)
		assert.Error(t, err)
	})
}

func TestService_StartBeforeInitialize(t *testing.T) {
	svc, err := New(testConfig(t), &utils.NullLogger{})
	require.NoError(t, err)
	assert.Error(t, svc.Start(context.Background()))
	assert.False(t, svc.Stats().Running)
}

func TestService_HealthCheck_NoComponents(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)

	// Nothing is connected before Initialize.
	assert.NoError(t, svc.HealthCheck(context.Background()))
}

func TestService_AnalyzesPendingTasks(t *testing.T) {
	db, err := repository.OpenGorm(sqlite.Open(":memory:"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	svc, err := New(testConfig(t), &utils.NullLogger{}, WithDB(db))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx))
	require.NoError(t, svc.HealthCheck(ctx))

	task := model.NewCrashTask("svc-1", "svc-1/crash.dmp", model.PlatformLinux)
	require.NoError(t, svc.Storage().Upload(ctx, task.DumpKey, bytes.NewReader(testutil.LinuxSegfault())))
	require.NoError(t, svc.Repositories().Task.CreateTask(ctx, task))

	require.NoError(t, svc.Start(ctx))
	assert.True(t, svc.IsRunning())

	require.Eventually(t, func() bool {
		got, err := svc.Repositories().Task.GetTaskByUUID(ctx, "svc-1")
		return err == nil && got.AnalysisStatus.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	got, err := svc.Repositories().Task.GetTaskByUUID(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisStatusCompleted, got.AnalysisStatus, got.StatusInfo)

	exists, err := svc.Storage().Exists(ctx, "svc-1/report.json")
	require.NoError(t, err)
	assert.True(t, exists)

	stats := svc.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, 2, stats.Scheduler.TotalWorkers)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
}

func TestService_CollectorAndCache(t *testing.T) {
	db, err := repository.OpenGorm(sqlite.Open(":memory:"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	cfg := testConfig(t)
	cfg.Collector = config.CollectorConfig{Enabled: true, Listen: "127.0.0.1:0", MaxUploadSize: 1 << 20}
	cfg.Cache = config.CacheConfig{Type: "memory", TTL: 60}

	svc, err := New(cfg, &utils.NullLogger{}, WithDB(db))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx))
	require.NotNil(t, svc.Collector())
	require.NoError(t, svc.Start(ctx))

	submit := func() string {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		fw, err := w.CreateFormFile(collector.FieldMinidump, "crash.dmp")
		require.NoError(t, err)
		_, err = fw.Write(testutil.LinuxSegfault())
		require.NoError(t, err)
		require.NoError(t, w.WriteField("ProductName", "Crashy"))
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/submit", &body)
		req.Header.Set("Content-Type", w.FormDataContentType())
		rec := httptest.NewRecorder()
		svc.Collector().Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var r struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
		return r.ID
	}
	waitDone := func(id string) {
		require.Eventually(t, func() bool {
			got, err := svc.Repositories().Task.GetTaskByUUID(ctx, id)
			return err == nil && got.AnalysisStatus.IsTerminal()
		}, 5*time.Second, 20*time.Millisecond)
	}

	first := submit()
	waitDone(first)
	second := submit()
	waitDone(second)

	rec, err := svc.Repositories().Report.GetReportByTaskUUID(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first, rec.DuplicateOf)

	healthz := httptest.NewRecorder()
	svc.Collector().Handler().ServeHTTP(healthz, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, healthz.Code)

	require.NoError(t, svc.Stop())
}

func TestService_InitializeBadCache(t *testing.T) {
	db, err := repository.OpenGorm(sqlite.Open(":memory:"))
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Cache = config.CacheConfig{Type: "redis"}
	svc, err := New(cfg, &utils.NullLogger{}, WithDB(db))
	require.NoError(t, err)
	assert.Error(t, svc.Initialize(context.Background()))
}
