// Package meta reads embedded metadata from ebook files. Extractors return
// raw, unnormalized text; all normalization happens downstream in the
// matching stage.
package meta

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SupportedExtensions are the ebook file extensions the pipeline handles
var SupportedExtensions = []string{
	".epub",
	".pdf",
	".mobi",
	".azw",
	".azw3",
}

// LocalMetadata holds metadata read from one file's embedded attributes
// or inferred from its filename
type LocalMetadata struct {
	Title       string
	Authors     []string
	Identifiers []string
	Language    string
	Year        int
}

// ExtractionError marks a hard parser failure for a format we are required
// to understand. It is distinguishable from "file parsed fine but carries
// no metadata", which is reported as an empty LocalMetadata.
type ExtractionError struct {
	Path   string
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s (%s): %v", e.Path, e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsSupported checks if a file has a supported ebook extension
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

// Extract reads metadata from a file, dispatching on its extension.
// Unknown formats degrade to the filename stem as title. EPUB and PDF
// parse failures surface as *ExtractionError; MOBI-family files fall back
// to the filename stem since their metadata block is optional in the wild.
func Extract(path string) (*LocalMetadata, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".epub":
		return extractEPUB(path)
	case ".pdf":
		return extractPDF(path)
	case ".mobi", ".azw", ".azw3":
		return extractMOBI(path)
	default:
		return &LocalMetadata{Title: Stem(path)}, nil
	}
}

// Stem returns the filename without directory or extension
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
