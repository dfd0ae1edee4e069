package mock

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crash-analysis/internal/repository"
	"github.com/crash-analysis/internal/storage"
	apperrors "github.com/crash-analysis/pkg/errors"
)

var (
	_ repository.TaskRepository   = (*MockTaskRepository)(nil)
	_ repository.ReportRepository = (*MockReportRepository)(nil)
	_ storage.Storage             = (*MockStorage)(nil)
)

func TestMockStorage_RecordsUploads(t *testing.T) {
	ctx := context.Background()
	store := &MockStorage{}
	store.ExpectUpload("t1/report.json", nil)
	store.ExpectUpload("t2/report.json", errors.New("bucket full"))

	require.NoError(t, store.Upload(ctx, "t1/report.json", bytes.NewReader([]byte(`{"status":"OK"}`))))
	assert.Error(t, store.Upload(ctx, "t2/report.json", bytes.NewReader([]byte(`{}`))))

	got, ok := store.Uploaded("t1/report.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"OK"}`, string(got))
	_, ok = store.Uploaded("t2/report.json")
	assert.False(t, ok)
	store.AssertExpectations(t)
}

func TestMockStorage_DownloadIsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := &MockStorage{}
	store.ExpectDownload("t1/minidump.dmp", []byte("MDMP"), nil)
	store.ExpectDownload("gone", nil, apperrors.ErrNotFound)

	for i := 0; i < 2; i++ {
		rc, err := store.Download(ctx, "t1/minidump.dmp")
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, []byte("MDMP"), data)
	}
	_, err := store.Download(ctx, "gone")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
