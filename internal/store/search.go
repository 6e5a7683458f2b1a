package store

import "fmt"

// ReindexEdition refreshes the full-text row for an edition. Call it after
// any change to the edition's descriptive fields.
func ReindexEdition(q execer, editionID int64) error {
	if _, err := q.Exec(`DELETE FROM search WHERE rowid = ?`, editionID); err != nil {
		return fmt.Errorf("failed to clear search row: %w", err)
	}

	_, err := q.Exec(`
		INSERT INTO search (rowid, title, authors, publisher)
		SELECT
		  e.id,
		  COALESCE(NULLIF(e.title, ''), w.title, ''),
		  COALESCE((
		    SELECT GROUP_CONCAT(DISTINCT a.name)
		    FROM work_author wa
		    JOIN author a ON a.id = wa.author_id
		    WHERE wa.work_id = w.id
		  ), ''),
		  COALESCE(e.publisher, '')
		FROM edition e
		LEFT JOIN work w ON w.id = e.work_id
		WHERE e.id = ?
	`, editionID)
	if err != nil {
		return fmt.Errorf("failed to reindex edition: %w", err)
	}
	return nil
}

// SearchEditions returns edition IDs matching a full-text query, best first
func SearchEditions(q execer, query string, limit int) ([]int64, error) {
	rows, err := q.Query(`
		SELECT rowid FROM search WHERE search MATCH ? ORDER BY rank LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search editions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
