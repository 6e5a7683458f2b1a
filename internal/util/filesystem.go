package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
)

// IsSameFilesystem checks if two paths are on the same filesystem
// by comparing their device IDs (st_dev).
// Returns (true, nil) if on same filesystem
// Returns (false, nil) if on different filesystems
// Returns (false, err) if paths cannot be stat'd
func IsSameFilesystem(path1, path2 string) (bool, error) {
	stat1, err := os.Stat(path1)
	if err != nil {
		return false, err
	}

	stat2, err := os.Stat(path2)
	if err != nil {
		return false, err
	}

	// Cast to syscall.Stat_t to access device ID
	sysStat1, ok1 := stat1.Sys().(*syscall.Stat_t)
	sysStat2, ok2 := stat2.Sys().(*syscall.Stat_t)

	if !ok1 || !ok2 {
		// If we can't get syscall.Stat_t, assume different filesystems
		// (better to warn when unsure)
		return false, nil
	}

	return sysStat1.Dev == sysStat2.Dev, nil
}

// EnsureParent creates the parent directory of path if it does not exist
func EnsureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// SafeMove moves src to dst without risking data loss.
// Same-filesystem moves use an atomic rename. Across filesystems the file is
// copied to a uniquely named temp file next to dst, verified against the
// source digest, renamed into place, and only then is src removed.
func SafeMove(src, dst string) error {
	if src == dst {
		return nil
	}
	if err := EnsureParent(dst); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	// Rename failed (different filesystem), fall back to copy + verify + delete
	srcHash, err := ContentHash(src)
	if err != nil {
		return fmt.Errorf("failed to hash source: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(dst), fmt.Sprintf(".%s.blc.tmp.%s", filepath.Base(dst), uuid.NewString()))
	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}

	tmpHash, err := ContentHash(tmp)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to hash copy: %w", err)
	}
	if tmpHash != srcHash {
		os.Remove(tmp)
		return fmt.Errorf("copy verification failed for %s", src)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename: %w", err)
	}

	if err := os.Remove(src); err != nil {
		WarnLog("Failed to delete source file %s: %v", src, err)
		// Not fatal - file was copied and verified
	}

	return nil
}

// BackupAside renames path to a uniquely suffixed sibling and returns the
// backup path. Used to preserve a destination occupant instead of
// overwriting it.
func BackupAside(path string) (string, error) {
	backup := fmt.Sprintf("%s.blc.keep.%s", path, uuid.NewString()[:8])
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("failed to move occupant aside: %w", err)
	}
	return backup, nil
}

// copyFile copies src to dst with a bounded buffer
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	buf := make([]byte, 128*1024)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to flush copy: %w", err)
	}

	return nil
}
