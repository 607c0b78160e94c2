// Package blob is the only entry point to the archive backends. Callers
// depend on blob.Store and obtain concrete stores through Open or the
// New* constructors.
package blob

import (
	"context"
	"fmt"

	"rpgkernel/internal/blob/core"
	"rpgkernel/internal/config"
	fsstore "rpgkernel/internal/infra/blob/fs"
	memstore "rpgkernel/internal/infra/blob/memory"
	s3store "rpgkernel/internal/infra/blob/s3"
)

// Re-exported core types.
type (
	Store      = core.Store
	Presigner  = core.Presigner
	Driver     = core.Driver
	Info       = core.Info
	PutOptions = core.PutOptions
)

// Re-exported drivers and sentinel errors.
const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound   = core.ErrNotFound
	ErrExists     = core.ErrExists
	ErrInvalidKey = core.ErrInvalidKey
)

// NewMemory returns an in-memory store.
func NewMemory() Store { return memstore.New() }

// NewFilesystem returns a store rooted at dir.
func NewFilesystem(dir string) (Store, error) {
	store, err := fsstore.New(dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMockS3ForTests returns an S3 store backed by an in-process fake bucket.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }

// Open builds the store selected by cfg.Driver. It returns (nil, nil) when
// archiving is disabled.
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	switch cfg.Driver {
	case "", config.BlobNone:
		return nil, nil
	case config.BlobMemory:
		return NewMemory(), nil
	case config.BlobFS:
		return NewFilesystem(cfg.FSRoot)
	case config.BlobS3:
		store, err := s3store.New(ctx, s3store.Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			SessionToken:    cfg.S3SessionToken,
			PathStyle:       cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}
