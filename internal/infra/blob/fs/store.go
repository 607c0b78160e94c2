// Package fs archives objects below a local directory. Each object is stored
// next to a ".meta" JSON sidecar carrying its content type, metadata and
// sha256 etag.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"rpgkernel/internal/blob/core"
)

var _ core.Store = (*Store)(nil)

const (
	metaSuffix  = ".meta"
	defaultRoot = "./transcripts"
)

// Store implements core.Store on the local filesystem.
type Store struct {
	root string
	mu   sync.Mutex
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = defaultRoot
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Driver returns core.DriverFilesystem.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the directory objects are written to.
func (s *Store) Root() string { return s.root }

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (m sidecar) info(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.ETag,
		Metadata:     maps.Clone(m.Metadata),
		LastModified: m.CreatedAt,
	}
}

func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("%q: %w", key, core.ErrInvalidKey)
	}
	if strings.HasSuffix(key, metaSuffix) {
		return "", fmt.Errorf("%q: reserved suffix: %w", key, core.ErrInvalidKey)
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}

func (s *Store) paths(key string) (string, string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	data := filepath.Join(s.root, filepath.FromSlash(clean))
	return data, data + metaSuffix, nil
}

// Put streams r into a temporary file and renames it into place. An existing
// key yields core.ErrExists.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return core.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(dataPath); err == nil {
		return core.Info{}, fmt.Errorf("%s: %w", key, core.ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o750); err != nil {
		return core.Info{}, fmt.Errorf("create dirs: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return core.Info{}, fmt.Errorf("temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("write %s: %w", key, err)
	}
	meta := sidecar{
		ContentType: opts.ContentType,
		Metadata:    maps.Clone(opts.Metadata),
		ETag:        hex.EncodeToString(hash.Sum(nil)),
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return core.Info{}, err
	}
	if err := os.WriteFile(metaPath, raw, 0o600); err != nil {
		return core.Info{}, fmt.Errorf("write sidecar: %w", err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		_ = os.Remove(metaPath)
		return core.Info{}, fmt.Errorf("publish %s: %w", key, err)
	}
	return meta.info(key), nil
}

// Get opens the object for reading. The caller closes the reader.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	dataPath, _, _ := s.paths(key)
	f, err := os.Open(dataPath) //nolint:gosec // path is sanitised by cleanKey
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	return info, f, nil
}

// Head reads the object's sidecar.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	_, metaPath, err := s.paths(key)
	if err != nil {
		return core.Info{}, err
	}
	meta, err := readSidecar(metaPath)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, err
	}
	return meta.info(key), nil
}

// Delete removes the object and its sidecar.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = os.Remove(dataPath)
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List walks the root and returns objects whose key starts with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []core.Info
	err := filepath.WalkDir(s.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		meta, err := readSidecar(path)
		if err != nil {
			return fmt.Errorf("read sidecar %s: %w", key, err)
		}
		out = append(out, meta.info(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func readSidecar(path string) (sidecar, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is derived from a sanitised key
	if err != nil {
		return sidecar{}, err
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return sidecar{}, fmt.Errorf("decode sidecar: %w", err)
	}
	return meta, nil
}
