// Package storage keeps uploaded ticket images outside the database.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

const filePerms = 0o644

var (
	ErrInvalidKey = errors.New("storage: invalid key")
	ErrNotFound   = errors.New("storage: blob not found")
)

// BlobStore stores opaque blobs addressed by a flat key.
type BlobStore interface {
	// Put writes the blob and returns its size in bytes.
	Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error)
	Delete(ctx context.Context, key string) error
	// URL returns the reference clients use to retrieve the blob.
	URL(key string) string
}

// BlobReader is implemented by stores that can stream blobs back.
type BlobReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ValidKey reports whether key is a plain file name.
func ValidKey(key string) bool {
	return key != "" && key != "." && key != ".." &&
		!strings.ContainsAny(key, `/\`) && filepath.Base(key) == key
}

// LocalBlobStore writes blobs under a directory of the local filesystem.
type LocalBlobStore struct {
	dir    string
	prefix string
}

// NewLocalBlobStore creates dir when missing.
func NewLocalBlobStore(dir, publicPrefix string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalBlobStore{dir: dir, prefix: strings.TrimRight(publicPrefix, "/")}, nil
}

// Path returns the filesystem location of key.
func (s *LocalBlobStore) Path(key string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.dir, key), nil
}

func (s *LocalBlobStore) Put(ctx context.Context, key, _ string, r io.Reader) (int64, error) {
	target, err := s.Path(key)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cr := &countingReader{r: r}
	if err := atomic.WriteFile(target, cr); err != nil {
		return 0, fmt.Errorf("write blob: %w", err)
	}
	// atomic.WriteFile leaves temp-file permissions on new files
	if err := os.Chmod(target, filePerms); err != nil {
		return 0, fmt.Errorf("chmod blob: %w", err)
	}
	return cr.n, nil
}

func (s *LocalBlobStore) Delete(_ context.Context, key string) error {
	target, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *LocalBlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *LocalBlobStore) URL(key string) string {
	return path.Join(s.prefix, key)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// MemoryBlobStore keeps blobs in memory.
type MemoryBlobStore struct {
	mu     sync.Mutex
	prefix string
	blobs  map[string][]byte
}

// NewMemoryBlobStore returns an empty store serving URLs under publicPrefix.
func NewMemoryBlobStore(publicPrefix string) *MemoryBlobStore {
	return &MemoryBlobStore{prefix: strings.TrimRight(publicPrefix, "/"), blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(ctx context.Context, key, _ string, r io.Reader) (int64, error) {
	if !ValidKey(key) {
		return 0, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return int64(len(data)), nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		return ErrNotFound
	}
	delete(m.blobs, key)
	return nil
}

func (m *MemoryBlobStore) URL(key string) string {
	return path.Join(m.prefix, key)
}

func (m *MemoryBlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if !ValidKey(key) {
		return nil, ErrInvalidKey
	}
	data, ok := m.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Get returns a stored blob.
func (m *MemoryBlobStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	return data, ok
}

// Len reports how many blobs are stored.
func (m *MemoryBlobStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
