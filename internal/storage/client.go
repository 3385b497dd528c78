package storage

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Client defines the interface for S3-compatible object storage operations.
// The registry uses it to issue presigned write/read URLs and to verify
// acknowledged uploads; it never proxies chunk bytes itself.
type Client interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) error
	GetObject(ctx context.Context, bucket, key string) (Object, error)
	StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error)

	// Presigned operations back the short-lived, single-location write and
	// read credentials handed out by the registry.
	PresignedPutURL(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error)
	PresignedGetURL(ctx context.Context, bucket, key string, expiry time.Duration) (*url.URL, error)
}

// Object represents an object stream
type Object interface {
	io.ReadCloser
	Stat() (ObjectInfo, error)
}

// ObjectInfo contains object metadata
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// PutOptions contains options for put operations
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Config contains client configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}
