package meta

import (
	"fmt"

	"rsc.io/pdf"
)

// extractPDF reads the document information dictionary. The pdf package
// panics on malformed input, so the whole read runs under a recover that
// converts the panic into an ExtractionError.
func extractPDF(path string) (local *LocalMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			local = nil
			err = &ExtractionError{Path: path, Format: "pdf", Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	reader, err := pdf.Open(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Format: "pdf", Err: err}
	}

	local = &LocalMetadata{}
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return local, nil
	}

	if title := info.Key("Title"); !title.IsNull() {
		local.Title = title.Text()
	}
	if author := info.Key("Author"); !author.IsNull() {
		if name := author.Text(); name != "" {
			local.Authors = []string{name}
		}
	}
	if created := info.Key("CreationDate"); !created.IsNull() {
		local.Year = yearFromPDFDate(created.Text())
	}
	return local, nil
}

// yearFromPDFDate parses the year out of a PDF date string, which looks
// like "D:20040815120000Z"
func yearFromPDFDate(date string) int {
	digits := make([]byte, 0, 4)
	for i := 0; i < len(date) && len(digits) < 4; i++ {
		if date[i] >= '0' && date[i] <= '9' {
			digits = append(digits, date[i])
		}
	}
	if len(digits) < 4 {
		return 0
	}
	year := 0
	for _, d := range digits {
		year = year*10 + int(d-'0')
	}
	return year
}
