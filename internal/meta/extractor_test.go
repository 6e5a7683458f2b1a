package meta

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStem(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/library/incoming/dune.epub", "dune"},
		{"snow crash.pdf", "snow crash"},
		{"no-extension", "no-extension"},
		{"/a/b/c.tar.gz", "c.tar"},
	}
	for _, tt := range tests {
		if got := Stem(tt.path); got != tt.want {
			t.Errorf("Stem(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestIsSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"book.epub", true},
		{"book.EPUB", true},
		{"book.pdf", true},
		{"book.mobi", true},
		{"book.azw3", true},
		{"book.txt", false},
		{"book.mp3", false},
		{"book", false},
	}
	for _, tt := range tests {
		if got := IsSupported(tt.path); got != tt.want {
			t.Errorf("IsSupported(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestExtractUnknownFormatFallsBackToStem(t *testing.T) {
	local, err := Extract("/library/some book title.txt")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if local.Title != "some book title" {
		t.Errorf("expected filename stem as title, got %q", local.Title)
	}
}

func TestExtractEPUB(t *testing.T) {
	path := writeTestEPUB(t, `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <metadata>
    <dc:title>The Dispossessed</dc:title>
    <dc:creator>Ursula K. Le Guin</dc:creator>
    <dc:identifier>urn:isbn:9780061054884</dc:identifier>
    <dc:language>en</dc:language>
  </metadata>
</package>`)

	local, err := Extract(path)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if local.Title != "The Dispossessed" {
		t.Errorf("unexpected title %q", local.Title)
	}
	if len(local.Authors) != 1 || local.Authors[0] != "Ursula K. Le Guin" {
		t.Errorf("unexpected authors %v", local.Authors)
	}
	if len(local.Identifiers) != 1 || local.Identifiers[0] != "urn:isbn:9780061054884" {
		t.Errorf("unexpected identifiers %v", local.Identifiers)
	}
	if local.Language != "en" {
		t.Errorf("unexpected language %q", local.Language)
	}
}

func TestExtractEPUBCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.epub")
	if err := os.WriteFile(path, []byte("this is not a zip"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Extract(path)
	if err == nil {
		t.Fatal("expected extraction error for corrupt archive")
	}
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected *ExtractionError, got %T", err)
	}
	if extErr.Format != "epub" {
		t.Errorf("unexpected format %q", extErr.Format)
	}
}

func TestExtractMOBIFallsBackOnGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mystery book.mobi")
	if err := os.WriteFile(path, []byte("short"), 0644); err != nil {
		t.Fatal(err)
	}

	local, err := Extract(path)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if local.Title != "mystery book" {
		t.Errorf("expected stem fallback, got %q", local.Title)
	}
}

func TestYearFromPDFDate(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"D:20040815120000Z", 2004},
		{"D:1999", 1999},
		{"", 0},
		{"D:99", 0},
	}
	for _, tt := range tests {
		if got := yearFromPDFDate(tt.date); got != tt.want {
			t.Errorf("yearFromPDFDate(%q) = %d, want %d", tt.date, got, tt.want)
		}
	}
}

func writeTestEPUB(t *testing.T, opf string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	container, err := w.Create("META-INF/container.xml")
	if err != nil {
		t.Fatal(err)
	}
	container.Write([]byte(`<?xml version="1.0"?>
<container xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`))

	content, err := w.Create("content.opf")
	if err != nil {
		t.Fatal(err)
	}
	content.Write([]byte(opf))

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}
