package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tripflow/tripflow/pkg/errors"
)

// Local implements ObjectStore on a filesystem directory.
type Local struct {
	root string
}

// NewLocal creates a local store rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.StorageUnavailable(err, abs)
	}
	return &Local{root: abs}, nil
}

// Scheme returns "file".
func (s *Local) Scheme() string {
	return "file"
}

// Put writes the object via a temp file and rename, so a crashed write
// never leaves a half-written artifact at the final key.
func (s *Local) Put(ctx context.Context, key string, data io.Reader) error {
	full := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.StorageUnavailable(err, key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return errors.StorageUnavailable(err, key)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return errors.StorageUnavailable(err, key)
	}
	if err := tmp.Close(); err != nil {
		return errors.StorageUnavailable(err, key)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return errors.StorageUnavailable(err, key)
	}
	return nil
}

// Get returns a reader for the object.
func (s *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, errors.StorageUnavailable(err, key)
	}
	return f, nil
}

// Delete removes an object; missing objects are ignored.
func (s *Local) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.fullPath(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.StorageUnavailable(err, key)
	}
	return nil
}

// Exists checks whether an object is present.
func (s *Local) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.fullPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.StorageUnavailable(err, key)
	}
	return true, nil
}

// List returns objects under a prefix, sorted by key.
func (s *Local) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var results []ObjectInfo
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(filepath.Base(rel), ".put-") {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}
		results = append(results, ObjectInfo{
			Key:          rel,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.StorageUnavailable(err, prefix)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

func (s *Local) fullPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Memory implements ObjectStore in memory for tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	mtimes  map[string]time.Time

	// FailPuts makes every Put fail, for exercising storage-unavailable
	// paths in tests.
	FailPuts bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
		mtimes:  make(map[string]time.Time),
	}
}

// Scheme returns "memory".
func (s *Memory) Scheme() string {
	return "memory"
}

// Put stores the object bytes.
func (s *Memory) Put(ctx context.Context, key string, data io.Reader) error {
	if s.FailPuts {
		return errors.StorageUnavailable(fmt.Errorf("puts disabled"), key)
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	s.mtimes[key] = time.Now()
	return nil
}

// Get returns a reader over the stored bytes.
func (s *Memory) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return io.NopCloser(strings.NewReader(string(b))), nil
}

// Delete removes an object; missing objects are ignored.
func (s *Memory) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	delete(s.mtimes, key)
	return nil
}

// Exists checks whether an object is present.
func (s *Memory) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// List returns objects under a prefix, sorted by key.
func (s *Memory) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []ObjectInfo
	for key, b := range s.objects {
		if strings.HasPrefix(key, prefix) {
			results = append(results, ObjectInfo{
				Key:          key,
				Size:         int64(len(b)),
				LastModified: s.mtimes[key],
			})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

var (
	_ ObjectStore = (*Local)(nil)
	_ ObjectStore = (*Memory)(nil)
)
