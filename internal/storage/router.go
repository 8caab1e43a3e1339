package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"print-backend/internal/database"

	"github.com/google/uuid"
)

// RemoteThresholdBytes is the size at which a document is offloaded to the
// remote blob store instead of local disk. A document of exactly this size
// goes remote.
const RemoteThresholdBytes = 5 * 1024 * 1024

var (
	// ErrRemoteUnavailable means a document must go remote but no blob store
	// is configured. Submission fails; the document is never downgraded to
	// local storage.
	ErrRemoteUnavailable = errors.New("remote storage not available")

	ErrUploadFailed = errors.New("remote upload failed")

	ErrRetrievalFailed = errors.New("remote retrieval failed")
)

var unsafeFilenameChars = regexp.MustCompile(`[^\w.-]+`)

// Router decides between local and remote persistence for submitted
// documents and retrieves them again before execution. The decision is a
// pure function of size and remote availability.
type Router struct {
	uploadDir   string
	downloadDir string

	remote ObjectStore // nil when no remote backend is configured
	bucket string
}

func NewRouter(uploadDir, downloadDir string, remote ObjectStore, bucket string) (*Router, error) {
	for _, dir := range []string{uploadDir, downloadDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return &Router{
		uploadDir:   uploadDir,
		downloadDir: downloadDir,
		remote:      remote,
		bucket:      bucket,
	}, nil
}

// Store persists a submitted document and returns the storage type plus the
// opaque identifier to retrieve it later: a filesystem path for local
// documents, an object key for remote ones.
func (r *Router) Store(ctx context.Context, data io.Reader, size int64, filename string) (string, string, error) {
	if size < RemoteThresholdBytes {
		path, err := r.storeLocal(data, filename)
		if err != nil {
			return "", "", err
		}
		return database.StorageLocal, path, nil
	}

	if r.remote == nil {
		return "", "", fmt.Errorf("%w: document of %d bytes requires the remote backend", ErrRemoteUnavailable, size)
	}

	key := fmt.Sprintf("documents/%s/%s", uuid.NewString(), sanitizeFilename(filename))
	if err := r.remote.PutObject(ctx, r.bucket, key, data); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return database.StorageRemote, key, nil
}

// Retrieve produces a readable local path for a stored document. Local
// documents resolve to their existing path; remote ones are downloaded to a
// fresh file under the download directory.
func (r *Router) Retrieve(ctx context.Context, storageType, fileIdentifier string, taskId uint) (string, error) {
	switch storageType {
	case database.StorageLocal:
		return fileIdentifier, nil
	case database.StorageRemote:
		if r.remote == nil {
			return "", fmt.Errorf("%w: no remote backend configured", ErrRetrievalFailed)
		}
		dest := filepath.Join(r.downloadDir, fmt.Sprintf("task_%d_%s", taskId, sanitizeFilename(filepath.Base(fileIdentifier))))
		if err := r.remote.DownloadObject(ctx, r.bucket, fileIdentifier, dest); err != nil {
			return "", fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
		}
		return dest, nil
	default:
		return "", fmt.Errorf("%w: unknown storage type %q", ErrRetrievalFailed, storageType)
	}
}

// RemoteAvailable reports whether documents at or above the threshold can be
// accepted.
func (r *Router) RemoteAvailable() bool {
	return r.remote != nil
}

func (r *Router) storeLocal(data io.Reader, filename string) (string, error) {
	name := fmt.Sprintf("local_%d_%s_%s", time.Now().UTC().UnixNano(), uuid.NewString()[:8], sanitizeFilename(filename))
	path := filepath.Join(r.uploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create local file %s: %w", path, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write local file %s: %w", path, err)
	}
	return path, nil
}

func sanitizeFilename(filename string) string {
	base := filepath.Base(filename)
	safe := unsafeFilenameChars.ReplaceAllString(base, "_")
	if safe == "" || safe == "." || safe == ".." {
		return "document"
	}
	return safe
}
