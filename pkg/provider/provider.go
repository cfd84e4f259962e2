// Package provider defines the durable object sinks that run logs, markers
// and status documents are written to.
//
// Sinks use SDK default credential chains; they do not implement custom auth
// logic.
package provider

import (
	"context"
	"io"
)

// Sink is a write target for run artifacts.
//
// Implementations should be safe for concurrent use.
type Sink interface {
	ObjectPutter

	// URI returns the externally meaningful location of key, e.g.
	// s3://bucket/key or file:///abs/path.
	URI(key string) string

	// Type identifies the backing store.
	Type() ProviderType

	// Close releases any resources held by the sink.
	Close() error
}

// ObjectPutter can create or overwrite objects.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents a local directory.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// ParseProviderType validates a configured provider name.
func ParseProviderType(s string) (ProviderType, bool) {
	switch ProviderType(s) {
	case ProviderS3, ProviderFile:
		return ProviderType(s), true
	default:
		return "", false
	}
}
