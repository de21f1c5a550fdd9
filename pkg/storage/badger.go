package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/orneryd/flowkeeper/pkg/logging"
)

// Key prefix separating snapshot keys from anything else sharing the
// database.
const prefixSnapshot byte = 0x01

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging at warn level and above.
	// If nil, BadgerDB logging is discarded.
	Logger *zerolog.Logger

	// EncryptionKey is the 16, 24, or 32 byte key for AES encryption.
	// Leave empty to disable encryption.
	EncryptionKey []byte
}

// BadgerStore persists snapshots in an embedded BadgerDB.
//
// Snapshots are small and written at most every few seconds, so the store
// runs with BadgerDB's low-memory settings.
type BadgerStore struct {
	db       *badger.DB
	mu       sync.RWMutex
	closed   bool
	inMemory bool
}

// NewBadgerStore opens a persistent store in dataDir with default settings.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerStoreInMemory opens an in-memory store for tests.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerStoreWithOptions opens a store with explicit options.
func NewBadgerStoreWithOptions(opts BadgerOptions) (*BadgerStore, error) {
	if opts.DataDir == "" && !opts.InMemory {
		return nil, fmt.Errorf("storage: badger store needs a data directory")
	}
	dir := opts.DataDir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(logging.NewBadgerLogger(*opts.Logger))
	} else {
		// Use a quiet logger by default
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	if len(opts.EncryptionKey) > 0 {
		keyLen := len(opts.EncryptionKey)
		if keyLen != 16 && keyLen != 24 && keyLen != 32 {
			return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes (got %d bytes)", keyLen)
		}
		badgerOpts = badgerOpts.WithEncryptionKey(opts.EncryptionKey).WithIndexCacheSize(4 << 20)
	}

	badgerOpts = badgerOpts.
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(32 << 20).
		WithNumMemtables(1).
		WithNumLevelZeroTables(1).
		WithNumLevelZeroTablesStall(2).
		WithBlockCacheSize(8 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerStore{db: db, inMemory: opts.InMemory}, nil
}

func snapshotKey(key string) []byte {
	return append([]byte{prefixSnapshot}, key...)
}

// Get returns the value for key.
func (b *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var out []byte
	err := b.view("get", key, func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put stores value under key.
func (b *BadgerStore) Put(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return b.update("put", key, func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(key), copyBytes(value))
	})
}

// Delete removes key.
func (b *BadgerStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return b.update("delete", key, func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(key))
	})
}

// Keys lists keys with the given prefix.
func (b *BadgerStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.view("list", prefix, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = snapshotKey(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[1:]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// IsInMemory reports whether the store runs without disk.
func (b *BadgerStore) IsInMemory() bool { return b.inMemory }

var _ Store = (*BadgerStore)(nil)
