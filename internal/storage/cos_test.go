package storage

import (
	"bytes"
	"context"
	"hash/crc64"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crash-analysis/pkg/config"
	apperrors "github.com/crash-analysis/pkg/errors"
)

// fakeBucket is an in-memory COS bucket speaking the object subset of
// the REST API.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		b.objects[key] = data
		w.Header().Set("x-cos-hash-crc64ecma", checksum(data))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := b.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("x-cos-hash-crc64ecma", checksum(data))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	case http.MethodDelete:
		delete(b.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (b *fakeBucket) get(key string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[key]
}

func checksum(data []byte) string {
	return strconv.FormatUint(crc64.Checksum(data, crc64.MakeTable(crc64.ECMA)), 10)
}

func newFakeCOS(t *testing.T) (*COSStorage, *fakeBucket) {
	bucket := &fakeBucket{objects: map[string][]byte{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	s, err := NewCOSStorage(&COSConfig{
		Bucket:    "crashes",
		Region:    "ap-guangzhou",
		SecretID:  "id",
		SecretKey: "key",
		Endpoint:  srv.URL,
	})
	require.NoError(t, err)
	return s, bucket
}

func TestNewCOSStorage_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  COSConfig
		want string
	}{
		{"MissingBucket", COSConfig{Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"}, "bucket and region are required"},
		{"MissingRegion", COSConfig{Bucket: "b", SecretID: "id", SecretKey: "key"}, "bucket and region are required"},
		{"MissingCredentials", COSConfig{Bucket: "b", Region: "ap-guangzhou"}, "credentials are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewCOSStorage(&tt.cfg)
			assert.Nil(t, s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCOSStorage_GetURL(t *testing.T) {
	s, err := NewCOSStorage(&COSConfig{Bucket: "my-bucket", Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"})
	require.NoError(t, err)
	assert.Equal(t, "https://my-bucket.cos.ap-guangzhou.myqcloud.com/path/to/file.txt", s.GetURL("path/to/file.txt"))

	s, err = NewCOSStorage(&COSConfig{Bucket: "b", Region: "r", SecretID: "id", SecretKey: "key", Endpoint: "http://gateway:9000/"})
	require.NoError(t, err)
	assert.Equal(t, "http://gateway:9000/k", s.GetURL("k"))
}

func TestCOSStorage_RoundTrip(t *testing.T) {
	s, bucket := newFakeCOS(t)
	ctx := context.Background()
	content := []byte("MDMP uploaded dump")

	require.NoError(t, s.Upload(ctx, "uploads/x.dmp", bytes.NewReader(content)))
	assert.Equal(t, content, bucket.get("uploads/x.dmp"))

	ok, err := s.Exists(ctx, "uploads/x.dmp")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := ReadAll(ctx, s, "uploads/x.dmp", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, s.Delete(ctx, "uploads/x.dmp"))
	ok, err = s.Exists(ctx, "uploads/x.dmp")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Download(ctx, "uploads/x.dmp")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestNewStorage_COS(t *testing.T) {
	s, err := NewStorage(&config.StorageConfig{
		Type:      "cos",
		Bucket:    "test-bucket",
		Region:    "ap-guangzhou",
		SecretID:  "test-id",
		SecretKey: "test-key",
	})
	require.NoError(t, err)
	_, ok := s.(*COSStorage)
	assert.True(t, ok)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.StorageConfig
		want string
	}{
		{"NilConfig", nil, "storage config is nil"},
		{"InvalidStorageType", &config.StorageConfig{Type: "s3"}, "unsupported storage type"},
		{"COSMissingBucket", &config.StorageConfig{Type: "cos", Region: "r", SecretID: "i", SecretKey: "k"}, "COS bucket is required"},
		{"COSMissingRegion", &config.StorageConfig{Type: "cos", Bucket: "b", SecretID: "i", SecretKey: "k"}, "COS region is required"},
		{"COSMissingCredentials", &config.StorageConfig{Type: "cos", Bucket: "b", Region: "r"}, "COS credentials are required"},
		{"LocalMissingPath", &config.StorageConfig{Type: "local"}, "local storage path is required"},
		{"Valid", &config.StorageConfig{Type: "local", LocalPath: "/tmp/x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
