package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// view runs fn in a read transaction. Missing keys come back as ErrNotFound
// and a closed database as ErrStorageClosed, unwrapped; anything else is
// wrapped with the operation and key.
func (b *BadgerStore) view(op, key string, fn func(txn *badger.Txn) error) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return badgerErr(op, key, b.db.View(fn))
}

// update is view for read-write transactions.
func (b *BadgerStore) update(op, key string, fn func(txn *badger.Txn) error) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return badgerErr(op, key, b.db.Update(fn))
}

func (b *BadgerStore) ensureOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

func badgerErr(op, key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return ErrStorageClosed
	}
	return fmt.Errorf("storage: badger %s %q: %w", op, key, err)
}
