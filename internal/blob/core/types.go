// Package core defines the archive abstraction shared by the blob backends
// that keep execution transcripts.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem writes objects below a local directory.
	DriverFilesystem Driver = "fs"
	// DriverS3 talks to an S3 or MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps objects in process memory.
	DriverMemory Driver = "memory"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a create-only object store. Put refuses to overwrite an existing
// key so archived transcripts are never rewritten.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Presigner is implemented by backends that can hand out time limited
// download links.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("blob: not found")
	// ErrExists is returned by Put when the key is already taken.
	ErrExists = errors.New("blob: already exists")
	// ErrInvalidKey is returned for empty keys or keys escaping the store root.
	ErrInvalidKey = errors.New("blob: invalid key")
)
