package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileSuffix = ".json"

// FileStore keeps one file per key under a directory. Writes go to a
// temporary file that is synced and renamed over the target, so a reader
// never sees a partial snapshot.
type FileStore struct {
	dir string

	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: file store needs a data directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileSuffix)
}

func (f *FileStore) ensureOpen() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrStorageClosed
	}
	return nil
}

// Get reads the file stored for key.
func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to read %q: %w", key, err)
	}
	return data, nil
}

// Put atomically replaces the file for key.
func (f *FileStore) Put(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStorageClosed
	}

	path := f.path(key)
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("storage: failed to create temp file: %w", err)
	}
	if _, err := file.Write(value); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("storage: failed to write %q: %w", key, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("storage: failed to sync %q: %w", key, err)
	}
	file.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: failed to rename %q: %w", key, err)
	}

	// The data is already safe; a failed directory sync only risks the
	// rename itself.
	_ = syncDir(f.dir)
	return nil
}

// Delete removes the file for key.
func (f *FileStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStorageClosed
	}
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: failed to delete %q: %w", key, err)
	}
	return nil
}

// Keys lists stored keys with the given prefix.
func (f *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list %s: %w", f.dir, err)
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil || !strings.HasPrefix(key, prefix) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close marks the store closed.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ Store = (*FileStore)(nil)
