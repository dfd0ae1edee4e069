package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify double for storage.Storage. Uploads are read
// fully and kept, so tests can inspect the report documents a processor
// wrote.
type MockStorage struct {
	mock.Mock

	mu       sync.Mutex
	uploaded map[string][]byte
}

func (m *MockStorage) Upload(ctx context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if err := m.Called(ctx, key, data).Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploaded == nil {
		m.uploaded = make(map[string][]byte)
	}
	m.uploaded[key] = data
	return nil
}

func (m *MockStorage) UploadFile(ctx context.Context, key string, localPath string) error {
	return m.Called(ctx, key, localPath).Error(0)
}

// Download returns the bytes registered with ExpectDownload as a fresh
// reader on every call.
func (m *MockStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(args.Get(0).([]byte))), nil
}

func (m *MockStorage) DownloadFile(ctx context.Context, key string, localPath string) error {
	return m.Called(ctx, key, localPath).Error(0)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) GetURL(key string) string {
	return m.Called(key).String(0)
}

// Uploaded returns what was successfully uploaded under key.
func (m *MockStorage) Uploaded(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.uploaded[key]
	return data, ok
}

// ExpectDownload serves data, or fails with err, for key.
func (m *MockStorage) ExpectDownload(key string, data []byte, err error) *mock.Call {
	return m.On("Download", mock.Anything, key).Return(data, err)
}

// ExpectUpload accepts, or fails with err, an upload to key.
func (m *MockStorage) ExpectUpload(key string, err error) *mock.Call {
	return m.On("Upload", mock.Anything, key, mock.Anything).Return(err)
}

// ExpectExists answers the health probe and other existence checks.
func (m *MockStorage) ExpectExists(key string, exists bool, err error) *mock.Call {
	return m.On("Exists", mock.Anything, key).Return(exists, err)
}
