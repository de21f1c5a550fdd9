//go:build windows

package storage

import (
	"fmt"
	"os"
)

// syncDir only checks the directory exists. NTFS makes renames durable on
// its own and refuses Sync on directory handles.
func syncDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("storage: directory does not exist: %w", err)
	}
	return nil
}
