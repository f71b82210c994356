package capsule

import (
	"fmt"
	"os"
	"path/filepath"
	"sieve/internal/config"
	"strings"
)

// Layout names the vault directories the capsule code touches
type Layout struct {
	VaultRoot   string
	CapsulesDir string
	AssetsDir   string
	LegacyDir   string
}

// LayoutFor derives the layout from configuration
func LayoutFor(cfg *config.Config) Layout {
	return Layout{
		VaultRoot:   cfg.VaultRoot,
		CapsulesDir: cfg.CapsulesPath(),
		AssetsDir:   cfg.AssetsPath(),
		LegacyDir:   cfg.LegacyPath(),
	}
}

// Rel returns path relative to the vault root using forward slashes
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.VaultRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// UniquePath returns dest if it does not exist, otherwise the first free stem_N.ext
func UniquePath(dest string) string {
	if _, err := os.Lstat(dest); os.IsNotExist(err) {
		return dest
	}

	dir := filepath.Dir(dest)
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(filepath.Base(dest), ext)
	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// WriteFileAtomic writes data to a temp file in the target directory and renames it into place
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MoveFile renames src to dst, copying across filesystems when rename is not possible
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies contents and mode, preserving the modification time
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
