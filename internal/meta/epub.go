package meta

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
)

// container.xml names the OPF package document inside the archive
type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// epubPackage is the Dublin Core subset of the OPF metadata block
type epubPackage struct {
	Metadata struct {
		Titles      []string `xml:"http://purl.org/dc/elements/1.1/ title"`
		Creators    []string `xml:"http://purl.org/dc/elements/1.1/ creator"`
		Identifiers []string `xml:"http://purl.org/dc/elements/1.1/ identifier"`
		Languages   []string `xml:"http://purl.org/dc/elements/1.1/ language"`
	} `xml:"metadata"`
}

// extractEPUB reads Dublin Core metadata from the OPF package document.
// An EPUB is a zip archive; a broken archive or missing package document is
// a hard extraction failure, not "no metadata".
func extractEPUB(p string) (*LocalMetadata, error) {
	archive, err := zip.OpenReader(p)
	if err != nil {
		return nil, &ExtractionError{Path: p, Format: "epub", Err: fmt.Errorf("not a zip archive: %w", err)}
	}
	defer archive.Close()

	opfPath, err := findOPFPath(&archive.Reader)
	if err != nil {
		return nil, &ExtractionError{Path: p, Format: "epub", Err: err}
	}

	opfData, err := readArchiveFile(&archive.Reader, opfPath)
	if err != nil {
		return nil, &ExtractionError{Path: p, Format: "epub", Err: err}
	}

	var pkg epubPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, &ExtractionError{Path: p, Format: "epub", Err: fmt.Errorf("malformed package document: %w", err)}
	}

	local := &LocalMetadata{
		Authors:     pkg.Metadata.Creators,
		Identifiers: pkg.Metadata.Identifiers,
	}
	if len(pkg.Metadata.Titles) > 0 {
		local.Title = pkg.Metadata.Titles[0]
	}
	if len(pkg.Metadata.Languages) > 0 {
		local.Language = pkg.Metadata.Languages[0]
	}
	return local, nil
}

// findOPFPath locates the OPF document via META-INF/container.xml,
// falling back to scanning for any .opf entry
func findOPFPath(archive *zip.Reader) (string, error) {
	data, err := readArchiveFile(archive, "META-INF/container.xml")
	if err == nil {
		var container epubContainer
		if err := xml.Unmarshal(data, &container); err == nil {
			for _, rootfile := range container.Rootfiles {
				if rootfile.FullPath != "" {
					return rootfile.FullPath, nil
				}
			}
		}
	}

	for _, f := range archive.File {
		if path.Ext(f.Name) == ".opf" {
			return f.Name, nil
		}
	}

	return "", fmt.Errorf("no package document found")
}

func readArchiveFile(archive *zip.Reader, name string) ([]byte, error) {
	for _, f := range archive.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}
