package meta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/franz/book-janitor/internal/util"
)

// EXTH record types carrying the metadata we want
const (
	exthAuthor = 100
	exthISBN   = 104
	exthLang   = 524
	exthTitle  = 503
	exthASIN   = 113
)

// extractMOBI reads the EXTH metadata block of a PalmDB container. The
// block is optional in the wild, so any shape we cannot read degrades to
// the filename stem instead of failing the file.
func extractMOBI(path string) (*LocalMetadata, error) {
	local, err := readEXTH(path)
	if err != nil {
		util.DebugLog("MOBI metadata unreadable for %s, using filename: %v", path, err)
		return &LocalMetadata{Title: Stem(path)}, nil
	}
	if local.Title == "" {
		local.Title = Stem(path)
	}
	return local, nil
}

func readEXTH(path string) (*LocalMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// PalmDB header is 78 bytes; record 0 offset sits at byte 78
	if len(data) < 86 {
		return nil, fmt.Errorf("file too small for PalmDB header")
	}

	record0 := binary.BigEndian.Uint32(data[78:82])
	if int(record0) >= len(data) {
		return nil, fmt.Errorf("record 0 offset out of range")
	}
	rec := data[record0:]

	// MOBI header starts 16 bytes into record 0, after the PalmDOC header
	if len(rec) < 0x14+4 {
		return nil, fmt.Errorf("record 0 truncated")
	}
	if !bytes.Equal(rec[0x10:0x14], []byte("MOBI")) {
		return nil, fmt.Errorf("no MOBI header")
	}
	mobiHeaderLen := binary.BigEndian.Uint32(rec[0x14:0x18])

	// EXTH flag bit at offset 0x80 of record 0
	if len(rec) < 0x84 {
		return nil, fmt.Errorf("record 0 truncated before EXTH flags")
	}
	exthFlags := binary.BigEndian.Uint32(rec[0x80:0x84])
	if exthFlags&0x40 == 0 {
		return nil, fmt.Errorf("no EXTH block")
	}

	exthStart := 16 + int(mobiHeaderLen)
	if len(rec) < exthStart+12 {
		return nil, fmt.Errorf("EXTH block out of range")
	}
	exth := rec[exthStart:]
	if !bytes.Equal(exth[0:4], []byte("EXTH")) {
		return nil, fmt.Errorf("EXTH magic missing")
	}
	recordCount := binary.BigEndian.Uint32(exth[8:12])

	local := &LocalMetadata{}
	pos := 12
	for i := uint32(0); i < recordCount; i++ {
		if len(exth) < pos+8 {
			break
		}
		recType := binary.BigEndian.Uint32(exth[pos : pos+4])
		recLen := int(binary.BigEndian.Uint32(exth[pos+4 : pos+8]))
		if recLen < 8 || len(exth) < pos+recLen {
			break
		}
		value := string(exth[pos+8 : pos+recLen])
		switch recType {
		case exthAuthor:
			local.Authors = append(local.Authors, value)
		case exthTitle:
			local.Title = value
		case exthISBN:
			local.Identifiers = append(local.Identifiers, value)
		case exthASIN:
			local.Identifiers = append(local.Identifiers, value)
		case exthLang:
			local.Language = value
		}
		pos += recLen
	}
	return local, nil
}
