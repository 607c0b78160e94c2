// Package memory keeps archived objects in process memory.
package memory

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // etag only
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"rpgkernel/internal/blob/core"
)

var _ core.Store = (*Store)(nil)

type object struct {
	info core.Info
	data []byte
}

// Store implements core.Store on a map.
type Store struct {
	mu    sync.RWMutex
	objs  map[string]object
	nowFn func() time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{objs: make(map[string]object), nowFn: func() time.Time { return time.Now().UTC() }}
}

// Driver returns core.DriverMemory.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores a new object; an existing key yields core.ErrExists.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	if strings.TrimSpace(key) == "" {
		return core.Info{}, core.ErrInvalidKey
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("read %s: %w", key, err)
	}
	sum := md5.Sum(data) //nolint:gosec
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objs[key]; exists {
		return core.Info{}, fmt.Errorf("%s: %w", key, core.ErrExists)
	}
	info := core.Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     maps.Clone(opts.Metadata),
		LastModified: s.nowFn(),
	}
	s.objs[key] = object{info: info, data: data}
	return copyInfo(info), nil
}

// Get returns the object metadata and a reader over a private copy.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	obj, err := s.lookup(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return copyInfo(obj.info), io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

// Head returns the object metadata.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	obj, err := s.lookup(ctx, key)
	if err != nil {
		return core.Info{}, err
	}
	return copyInfo(obj.info), nil
}

func (s *Store) lookup(ctx context.Context, key string) (object, error) {
	if err := ctx.Err(); err != nil {
		return object{}, err
	}
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return object{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	return obj, nil
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok, nil
}

// List returns objects whose key starts with prefix, sorted by key.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]core.Info, 0, len(s.objs))
	for key, obj := range s.objs {
		if strings.HasPrefix(key, prefix) {
			out = append(out, copyInfo(obj.info))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func copyInfo(info core.Info) core.Info {
	info.Metadata = maps.Clone(info.Metadata)
	return info
}
