package domain

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// UploadOptions carry the per-object storage class and metadata tags. Adapters
// that have no notion of either ignore them.
type UploadOptions struct {
	StorageClass string
	Metadata     map[string]string
}

type Storage interface {
	Upload(ctx context.Context, localPath string, remoteKey string, opts UploadOptions) error
	Download(ctx context.Context, remoteKey string, localPath string) error
	List(ctx context.Context) ([]ObjectInfo, error)
	Delete(ctx context.Context, remoteKey string) error
}
