package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"print-backend/internal/database"
	"print-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingObjectStore struct {
	putErr      error
	downloadErr error
}

func (s *failingObjectStore) CreateBucket(ctx context.Context, bucket string) error {
	return nil
}

func (s *failingObjectStore) PutObject(ctx context.Context, bucket, key string, data io.Reader) error {
	return s.putErr
}

func (s *failingObjectStore) DownloadObject(ctx context.Context, bucket, key, filename string) error {
	return s.downloadErr
}

func newRouter(t *testing.T, remote storage.ObjectStore) *storage.Router {
	t.Helper()
	dir := t.TempDir()
	router, err := storage.NewRouter(filepath.Join(dir, "uploads"), filepath.Join(dir, "downloads"), remote, "documents")
	require.NoError(t, err)
	return router
}

func newLocalBackedRouter(t *testing.T) *storage.Router {
	t.Helper()
	remote, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, remote.CreateBucket(context.Background(), "documents"))
	return newRouter(t, remote)
}

func TestStoreSmallDocumentGoesLocal(t *testing.T) {
	router := newRouter(t, nil)

	content := []byte("small document")
	storageType, identifier, err := router.Store(context.Background(), bytes.NewReader(content), int64(len(content)), "notes.pdf")
	require.NoError(t, err)
	assert.Equal(t, database.StorageLocal, storageType)

	data, err := os.ReadFile(identifier)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestStoreJustBelowThresholdGoesLocal(t *testing.T) {
	router := newRouter(t, nil)

	_, _, err := router.Store(context.Background(), strings.NewReader("x"), storage.RemoteThresholdBytes-1, "notes.pdf")
	require.NoError(t, err)
}

func TestStoreAtThresholdGoesRemote(t *testing.T) {
	router := newLocalBackedRouter(t)

	storageType, identifier, err := router.Store(context.Background(), strings.NewReader("large"), storage.RemoteThresholdBytes, "big scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, database.StorageRemote, storageType)
	assert.True(t, strings.HasPrefix(identifier, "documents/"), "remote identifier should be an object key, got %q", identifier)
	assert.NotContains(t, identifier, " ")
}

func TestStoreLargeWithoutRemoteFails(t *testing.T) {
	router := newRouter(t, nil)

	_, _, err := router.Store(context.Background(), strings.NewReader("large"), storage.RemoteThresholdBytes, "big.pdf")
	assert.ErrorIs(t, err, storage.ErrRemoteUnavailable)
}

func TestStoreRemoteUploadFailure(t *testing.T) {
	router := newRouter(t, &failingObjectStore{putErr: errors.New("quota exceeded")})

	_, _, err := router.Store(context.Background(), strings.NewReader("large"), storage.RemoteThresholdBytes, "big.pdf")
	assert.ErrorIs(t, err, storage.ErrUploadFailed)
}

func TestUniqueLocalPathsForSameFilename(t *testing.T) {
	router := newRouter(t, nil)

	_, first, err := router.Store(context.Background(), strings.NewReader("a"), 1, "same.pdf")
	require.NoError(t, err)
	_, second, err := router.Store(context.Background(), strings.NewReader("b"), 1, "same.pdf")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestRetrieveLocalIsIdentity(t *testing.T) {
	router := newRouter(t, nil)

	path, err := router.Retrieve(context.Background(), database.StorageLocal, "/tmp/uploads/doc.pdf", 7)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/uploads/doc.pdf", path)
}

func TestRetrieveRemoteDownloads(t *testing.T) {
	router := newLocalBackedRouter(t)
	ctx := context.Background()

	content := []byte("offloaded document")
	_, key, err := router.Store(ctx, bytes.NewReader(content), storage.RemoteThresholdBytes, "scan.pdf")
	require.NoError(t, err)

	path, err := router.Retrieve(ctx, database.StorageRemote, key, 7)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Contains(t, filepath.Base(path), "task_7_")
}

func TestRetrieveRemoteFailure(t *testing.T) {
	router := newRouter(t, &failingObjectStore{downloadErr: errors.New("object not found")})

	_, err := router.Retrieve(context.Background(), database.StorageRemote, "documents/x/scan.pdf", 7)
	assert.ErrorIs(t, err, storage.ErrRetrievalFailed)
}
