package storage

import (
	"bufio"
	"fmt"
	"os"
)

// Backup streams a full, consistent copy of the store to path. The file can
// be loaded back with Restore.
func (b *BadgerStore) Backup(path string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	buf := bufio.NewWriterSize(f, 1<<20)

	// since=0 means full backup
	if _, err := b.db.Backup(buf, 0); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync backup: %w", err)
	}
	return nil
}

// Restore loads a backup written by Backup. Existing keys are overwritten.
func (b *BadgerStore) Restore(path string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	if err := b.db.Load(bufio.NewReader(f), 256); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	return nil
}
