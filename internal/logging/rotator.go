package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// LogRotator shifts numbered backups of a log file once it grows past a size threshold.
// sieve.log becomes sieve.log.1, sieve.log.1 becomes sieve.log.2, and so on.
type LogRotator struct {
	basePath   string
	maxSizeMB  int
	maxBackups int
}

// NewLogRotator creates a rotator for basePath
func NewLogRotator(basePath string, maxSizeMB, maxBackups int) *LogRotator {
	return &LogRotator{
		basePath:   basePath,
		maxSizeMB:  maxSizeMB,
		maxBackups: maxBackups,
	}
}

// ShouldRotate reports whether currentSize has reached the threshold.
// A non-positive maxSizeMB disables rotation.
func (r *LogRotator) ShouldRotate(currentSize int64) bool {
	if r.maxSizeMB <= 0 {
		return false
	}
	return currentSize >= int64(r.maxSizeMB)*1024*1024
}

func (r *LogRotator) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", r.basePath, n)
}

// Rotate drops the oldest backup, shifts the rest up by one and moves the live file to .1.
// With maxBackups == 0 the live file is simply removed.
func (r *LogRotator) Rotate() error {
	if r.maxBackups <= 0 {
		if err := os.Remove(r.basePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove current log file: %w", err)
		}
		return nil
	}

	if err := os.Remove(r.backupPath(r.maxBackups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete oldest backup: %w", err)
	}

	for i := r.maxBackups - 1; i >= 1; i-- {
		err := os.Rename(r.backupPath(i), r.backupPath(i+1))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to shift backup %d: %w", i, err)
		}
	}

	if err := os.Rename(r.basePath, r.backupPath(1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to rename current log: %w", err)
	}
	return nil
}
