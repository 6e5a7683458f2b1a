package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestContentHashDeterministic(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.epub")
	b := filepath.Join(dir, "b.epub")
	if err := os.WriteFile(a, []byte("same content"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("same content"), 0644); err != nil {
		t.Fatal(err)
	}

	ha, err := ContentHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := ContentHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Error("identical content must hash identically")
	}
	if len(ha) != 64 {
		t.Errorf("expected hex sha256, got %q", ha)
	}

	if err := os.WriteFile(b, []byte("different content"), 0644); err != nil {
		t.Fatal(err)
	}
	hb2, err := ContentHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if hb2 == ha {
		t.Error("different content must hash differently")
	}
}

func TestHashReaderKnownVector(t *testing.T) {
	got, err := HashReader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Errorf("empty input hash = %s, want %s", got, want)
	}
}

func TestSafeMoveRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.epub")
	dst := filepath.Join(dir, "nested", "deeper", "dst.epub")
	if err := os.WriteFile(src, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := SafeMove(src, dst); err != nil {
		t.Fatalf("SafeMove failed: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Error("content lost in move")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source still present")
	}
}

func TestSafeMoveSamePathIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.epub")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := SafeMove(path, path); err != nil {
		t.Fatalf("SafeMove to itself failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("file vanished")
	}
}

func TestBackupAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "occupied.epub")
	if err := os.WriteFile(path, []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}

	backup, err := BackupAside(path)
	if err != nil {
		t.Fatalf("BackupAside failed: %v", err)
	}
	if !strings.HasPrefix(backup, path+".blc.keep.") {
		t.Errorf("unexpected backup name %q", backup)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original path should be free after backup")
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "keep me" {
		t.Error("backup content wrong")
	}
}

func TestGetFileMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.epub")
	if err := os.WriteFile(path, []byte("12345"), 0644); err != nil {
		t.Fatal(err)
	}

	size, mtime, err := GetFileMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	if size != 5 {
		t.Errorf("size = %d, want 5", size)
	}
	if mtime == 0 {
		t.Error("mtime not populated")
	}
}
