package util

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// hashChunkSize bounds memory while hashing arbitrarily large files
const hashChunkSize = 128 * 1024

// ContentHash computes the SHA-256 digest of a file's content.
// The same bytes always produce the same digest regardless of path or mtime,
// so the digest doubles as the file's catalog identity.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return HashReader(f)
}

// HashReader computes the SHA-256 digest of a stream in fixed-size chunks
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)

	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// GetFileMetadata extracts basic filesystem metadata
func GetFileMetadata(path string) (size int64, mtime int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat file: %w", err)
	}

	return info.Size(), info.ModTime().Unix(), nil
}
