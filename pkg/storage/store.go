// Package storage provides the snapshot stores flowkeeper persists its
// best-effort edge backups to.
//
// Every backend implements Store, a small context-aware key/value contract:
//
//   - MemoryStore: process-local maps, for tests and ephemeral sessions
//   - FileStore: one JSON file per key with atomic temp-file renames
//   - BadgerStore: embedded BadgerDB, optionally in-memory
//   - RedisStore: shared Redis instance, for multi-process editors
//
// Payloads are opaque bytes; the snapshot codec in snapshot.go defines what
// flowkeeper writes into them.
//
// Example:
//
//	store, err := storage.Open(ctx, storage.Options{Backend: storage.BackendBadger, DataDir: "./data"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	err = storage.SaveSnapshot(ctx, store, "flowkeeper-edges-42", snap)
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Errors returned by stores.
var (
	ErrNotFound       = errors.New("storage: key not found")
	ErrInvalidKey     = errors.New("storage: invalid key")
	ErrStorageClosed  = errors.New("storage: store is closed")
	ErrUnknownBackend = errors.New("storage: unknown backend")
)

// Store is a key/value snapshot store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists the keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend string

	// DataDir is used by the file and badger backends.
	DataDir string

	// InMemory runs badger without touching disk.
	InMemory bool

	// SyncWrites forces an fsync per badger write.
	SyncWrites bool

	// RedisURL is a redis:// URL for the redis backend.
	RedisURL string

	// RedisNamespace prefixes every redis key.
	RedisNamespace string

	// TTL expires redis keys. Zero keeps them forever.
	TTL time.Duration

	Logger *zerolog.Logger
}

// Open creates the store selected by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(opts.DataDir)
	case BackendBadger:
		return NewBadgerStoreWithOptions(BadgerOptions{
			DataDir:    opts.DataDir,
			InMemory:   opts.InMemory,
			SyncWrites: opts.SyncWrites,
			Logger:     opts.Logger,
		})
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{URL: opts.RedisURL, TTL: opts.TTL, Namespace: opts.RedisNamespace})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	return nil
}
