package storage

import (
	"context"
	"io"
)

// ObjectStore is the blob backend large documents are offloaded to.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	DownloadObject(ctx context.Context, bucket, key, filename string) error
}
