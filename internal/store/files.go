package store

import (
	"database/sql"
	"fmt"
	"time"
)

// File represents a catalogued file on disk. There is at most one row per
// content identity: re-discovering the same bytes at a new path updates the
// existing row instead of creating another.
type File struct {
	ID        int64
	EditionID int64 // 0 when not attached to an edition
	Path      string
	Ext       string
	SizeBytes int64
	SHA256    string
	Mime      string
	AddedAt   time.Time
	LastSeen  time.Time
}

// GetFileBySHA256 looks up a file by its content identity
func GetFileBySHA256(q execer, sha string) (*File, error) {
	return scanFile(q.QueryRow(fileSelect+` WHERE sha256 = ?`, sha))
}

// GetFileByPath looks up a file by its current path
func GetFileByPath(q execer, path string) (*File, error) {
	return scanFile(q.QueryRow(fileSelect+` WHERE path = ?`, path))
}

// GetFirstFileByEdition returns the oldest file attached to an edition
func GetFirstFileByEdition(q execer, editionID int64) (*File, error) {
	return scanFile(q.QueryRow(fileSelect+` WHERE edition_id = ? ORDER BY id LIMIT 1`, editionID))
}

// last_seen must be selected raw: wrapping it in COALESCE strips the
// column's DATETIME decltype and the driver hands back a string
const fileSelect = `
	SELECT id, COALESCE(edition_id, 0), path, COALESCE(ext, ''),
	       COALESCE(size_bytes, 0), sha256, COALESCE(mime, ''),
	       added_at, last_seen
	FROM file`

func scanFile(row *sql.Row) (*File, error) {
	f := &File{}
	var lastSeen sql.NullTime
	err := row.Scan(&f.ID, &f.EditionID, &f.Path, &f.Ext, &f.SizeBytes,
		&f.SHA256, &f.Mime, &f.AddedAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query file: %w", err)
	}
	f.LastSeen = f.AddedAt
	if lastSeen.Valid {
		f.LastSeen = lastSeen.Time
	}
	return f, nil
}

// InsertFile inserts a file row and sets its ID
func InsertFile(q execer, f *File) error {
	now := time.Now().UTC()
	var editionID any
	if f.EditionID != 0 {
		editionID = f.EditionID
	}
	res, err := q.Exec(`
		INSERT INTO file (edition_id, path, ext, size_bytes, sha256, mime, added_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, editionID, f.Path, nullable(f.Ext), f.SizeBytes, f.SHA256, nullable(f.Mime), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	f.ID, err = res.LastInsertId()
	f.AddedAt = now
	f.LastSeen = now
	return err
}

// TouchFile updates path and last-seen on an existing file row.
// This is the idempotent re-ingestion path: same bytes at a new location.
func TouchFile(q execer, id int64, path string) error {
	_, err := q.Exec(`UPDATE file SET path = ?, last_seen = ? WHERE id = ?`,
		path, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch file: %w", err)
	}
	return nil
}

// UpdateFilePath moves a file row to a new path (post-organize bookkeeping)
func UpdateFilePath(q execer, id int64, path string) error {
	return TouchFile(q, id, path)
}

// GetCataloguedFiles returns all files attached to an edition, optionally
// restricted to a set of edition IDs, in insertion order
func GetCataloguedFiles(q execer, editionIDs []int64) ([]*File, error) {
	query := fileSelect + ` WHERE edition_id IS NOT NULL`
	args := make([]any, 0, len(editionIDs))
	if len(editionIDs) > 0 {
		query += ` AND edition_id IN (`
		for i, id := range editionIDs {
			if i > 0 {
				query += `,`
			}
			query += `?`
			args = append(args, id)
		}
		query += `)`
	}
	query += ` ORDER BY id`

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f := &File{}
		var lastSeen sql.NullTime
		if err := rows.Scan(&f.ID, &f.EditionID, &f.Path, &f.Ext, &f.SizeBytes,
			&f.SHA256, &f.Mime, &f.AddedAt, &lastSeen); err != nil {
			return nil, err
		}
		f.LastSeen = f.AddedAt
		if lastSeen.Valid {
			f.LastSeen = lastSeen.Time
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
