package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Work represents an abstract book, independent of any particular printing
type Work struct {
	ID        int64
	Title     string
	SortTitle string
	Language  string
}

// Author represents a person credited on one or more works
type Author struct {
	ID       int64
	Name     string
	SortName string
}

// Edition represents one concrete published form of a Work
type Edition struct {
	ID        int64
	WorkID    int64
	Title     string
	Publisher string
	PubYear   int
	Format    string
	Language  string
	CoverURL  string
}

// Identifier is an external identifier attached to an edition
type Identifier struct {
	ID        int64
	EditionID int64
	Scheme    string
	Value     string
}

// The catalog CRUD helpers take an execer so they compose inside
// Store.Transaction: one ingested file or one manifest stage is always a
// single committed-or-rolled-back unit.

// GetWorkBySortTitle looks up a work by its normalized sort title
func GetWorkBySortTitle(q execer, sortTitle string) (*Work, error) {
	w := &Work{}
	err := q.QueryRow(`
		SELECT id, title, COALESCE(sort_title, ''), COALESCE(language, '')
		FROM work WHERE sort_title = ?
	`, sortTitle).Scan(&w.ID, &w.Title, &w.SortTitle, &w.Language)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query work: %w", err)
	}
	return w, nil
}

// GetWork retrieves a work by ID
func GetWork(q execer, id int64) (*Work, error) {
	w := &Work{}
	err := q.QueryRow(`
		SELECT id, title, COALESCE(sort_title, ''), COALESCE(language, '')
		FROM work WHERE id = ?
	`, id).Scan(&w.ID, &w.Title, &w.SortTitle, &w.Language)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query work: %w", err)
	}
	return w, nil
}

// InsertWork inserts a work and sets its ID
func InsertWork(q execer, w *Work) error {
	res, err := q.Exec(`
		INSERT INTO work (title, sort_title, language) VALUES (?, ?, ?)
	`, w.Title, nullable(w.SortTitle), nullable(w.Language))
	if err != nil {
		return fmt.Errorf("failed to insert work: %w", err)
	}
	w.ID, err = res.LastInsertId()
	return err
}

// UpdateWork updates a work's descriptive fields
func UpdateWork(q execer, w *Work) error {
	_, err := q.Exec(`
		UPDATE work SET title = ?, sort_title = ?, language = ?, updated_at = ?
		WHERE id = ?
	`, w.Title, nullable(w.SortTitle), nullable(w.Language), time.Now().UTC(), w.ID)
	if err != nil {
		return fmt.Errorf("failed to update work: %w", err)
	}
	return nil
}

// GetAuthorByName looks up an author by exact name
func GetAuthorByName(q execer, name string) (*Author, error) {
	a := &Author{}
	err := q.QueryRow(`
		SELECT id, name, COALESCE(sort_name, '') FROM author WHERE name = ?
	`, name).Scan(&a.ID, &a.Name, &a.SortName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query author: %w", err)
	}
	return a, nil
}

// InsertAuthor inserts an author and sets its ID
func InsertAuthor(q execer, a *Author) error {
	res, err := q.Exec(`
		INSERT INTO author (name, sort_name) VALUES (?, ?)
	`, a.Name, nullable(a.SortName))
	if err != nil {
		return fmt.Errorf("failed to insert author: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// LinkWorkAuthor attaches an author to a work (idempotent)
func LinkWorkAuthor(q execer, workID, authorID int64) error {
	_, err := q.Exec(`
		INSERT OR IGNORE INTO work_author (work_id, author_id, role) VALUES (?, ?, 'author')
	`, workID, authorID)
	if err != nil {
		return fmt.Errorf("failed to link author: %w", err)
	}
	return nil
}

// ClearWorkAuthors detaches all authors from a work
func ClearWorkAuthors(q execer, workID int64) error {
	_, err := q.Exec(`DELETE FROM work_author WHERE work_id = ?`, workID)
	if err != nil {
		return fmt.Errorf("failed to clear authors: %w", err)
	}
	return nil
}

// GetWorkAuthors returns the authors of a work in attachment order
func GetWorkAuthors(q execer, workID int64) ([]*Author, error) {
	rows, err := q.Query(`
		SELECT a.id, a.name, COALESCE(a.sort_name, '')
		FROM work_author wa
		JOIN author a ON a.id = wa.author_id
		WHERE wa.work_id = ?
		ORDER BY a.id
	`, workID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work authors: %w", err)
	}
	defer rows.Close()

	var authors []*Author
	for rows.Next() {
		a := &Author{}
		if err := rows.Scan(&a.ID, &a.Name, &a.SortName); err != nil {
			return nil, err
		}
		authors = append(authors, a)
	}
	return authors, rows.Err()
}

// InsertEdition inserts an edition and sets its ID
func InsertEdition(q execer, e *Edition) error {
	res, err := q.Exec(`
		INSERT INTO edition (work_id, title, publisher, pub_year, format, language, cover_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.WorkID, nullable(e.Title), nullable(e.Publisher), nullableInt(e.PubYear),
		nullable(e.Format), nullable(e.Language), nullable(e.CoverURL))
	if err != nil {
		return fmt.Errorf("failed to insert edition: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// GetEdition retrieves an edition by ID
func GetEdition(q execer, id int64) (*Edition, error) {
	e := &Edition{}
	err := q.QueryRow(`
		SELECT id, work_id, COALESCE(title, ''), COALESCE(publisher, ''),
		       COALESCE(pub_year, 0), COALESCE(format, ''), COALESCE(language, ''),
		       COALESCE(cover_url, '')
		FROM edition WHERE id = ?
	`, id).Scan(&e.ID, &e.WorkID, &e.Title, &e.Publisher, &e.PubYear,
		&e.Format, &e.Language, &e.CoverURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query edition: %w", err)
	}
	return e, nil
}

// UpdateEdition updates an edition's descriptive fields
func UpdateEdition(q execer, e *Edition) error {
	_, err := q.Exec(`
		UPDATE edition SET title = ?, publisher = ?, pub_year = ?, format = ?,
		       language = ?, cover_url = ?, updated_at = ?
		WHERE id = ?
	`, nullable(e.Title), nullable(e.Publisher), nullableInt(e.PubYear),
		nullable(e.Format), nullable(e.Language), nullable(e.CoverURL),
		time.Now().UTC(), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update edition: %w", err)
	}
	return nil
}

// InsertIdentifier attaches an identifier to an edition.
// Duplicate (scheme, value) pairs for the same edition are ignored.
func InsertIdentifier(q execer, editionID int64, scheme, value string) error {
	_, err := q.Exec(`
		INSERT OR IGNORE INTO identifier (edition_id, scheme, value) VALUES (?, ?, ?)
	`, editionID, scheme, value)
	if err != nil {
		return fmt.Errorf("failed to insert identifier: %w", err)
	}
	return nil
}

// GetIdentifiers returns all identifiers attached to an edition
func GetIdentifiers(q execer, editionID int64) ([]*Identifier, error) {
	rows, err := q.Query(`
		SELECT id, edition_id, scheme, value FROM identifier
		WHERE edition_id = ? ORDER BY id
	`, editionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identifiers: %w", err)
	}
	defer rows.Close()

	var ids []*Identifier
	for rows.Next() {
		i := &Identifier{}
		if err := rows.Scan(&i.ID, &i.EditionID, &i.Scheme, &i.Value); err != nil {
			return nil, err
		}
		ids = append(ids, i)
	}
	return ids, rows.Err()
}

// nullable maps empty strings to SQL NULL
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableInt maps zero to SQL NULL
func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
