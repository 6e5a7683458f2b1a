package store

import (
	"database/sql"
	"fmt"
	"time"
)

// IdentifyResult is the persisted outcome of one reconciliation run for an
// edition. It is upserted: a later run replaces the earlier outcome.
type IdentifyResult struct {
	EditionID      int64
	AutoAccepted   bool
	ChosenProvider string
	TopScore       float64
	CandidatesJSON string
	CreatedAt      time.Time
}

// MatchEvent is one append-only audit row per ranked candidate. The rows for
// an edition are replaced wholesale on each reconciliation run.
type MatchEvent struct {
	ID            int64
	EditionID     int64
	Stage         string
	Provider      string
	CandidateRank int
	Score         float64
	Accepted      bool
}

// ProviderHit caches the raw remote payload for a provider record
type ProviderHit struct {
	ID          int64
	Provider    string
	RemoteID    string
	EditionID   int64
	PayloadJSON string
	Score       float64
}

// UpsertIdentifyResult inserts or replaces the identification outcome
func UpsertIdentifyResult(q execer, r *IdentifyResult) error {
	_, err := q.Exec(`
		INSERT INTO identify_result (edition_id, auto_accepted, chosen_provider, top_score, candidates_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(edition_id) DO UPDATE SET
		  auto_accepted = excluded.auto_accepted,
		  chosen_provider = excluded.chosen_provider,
		  top_score = excluded.top_score,
		  candidates_json = excluded.candidates_json
	`, r.EditionID, r.AutoAccepted, nullable(r.ChosenProvider), r.TopScore, r.CandidatesJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert identify result: %w", err)
	}
	return nil
}

// GetIdentifyResult retrieves the identification outcome for an edition
func GetIdentifyResult(q execer, editionID int64) (*IdentifyResult, error) {
	r := &IdentifyResult{}
	err := q.QueryRow(`
		SELECT edition_id, auto_accepted, COALESCE(chosen_provider, ''), top_score,
		       candidates_json, created_at
		FROM identify_result WHERE edition_id = ?
	`, editionID).Scan(&r.EditionID, &r.AutoAccepted, &r.ChosenProvider,
		&r.TopScore, &r.CandidatesJSON, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query identify result: %w", err)
	}
	return r, nil
}

// ListPendingIdentifications returns unresolved identifications whose top
// score falls in [minScore, maxScore), oldest first, plus the total count.
func ListPendingIdentifications(q execer, minScore, maxScore float64, limit, offset int) ([]*IdentifyResult, int, error) {
	var total int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM identify_result
		WHERE auto_accepted = 0 AND top_score >= ? AND top_score < ?
	`, minScore, maxScore).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count pending identifications: %w", err)
	}

	rows, err := q.Query(`
		SELECT edition_id, auto_accepted, COALESCE(chosen_provider, ''), top_score,
		       candidates_json, created_at
		FROM identify_result
		WHERE auto_accepted = 0 AND top_score >= ? AND top_score < ?
		ORDER BY created_at ASC, edition_id ASC
		LIMIT ? OFFSET ?
	`, minScore, maxScore, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query pending identifications: %w", err)
	}
	defer rows.Close()

	var results []*IdentifyResult
	for rows.Next() {
		r := &IdentifyResult{}
		if err := rows.Scan(&r.EditionID, &r.AutoAccepted, &r.ChosenProvider,
			&r.TopScore, &r.CandidatesJSON, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// ReplaceMatchEvents discards the prior run's audit rows for an edition and
// writes the new ranked list
func ReplaceMatchEvents(q execer, editionID int64, events []*MatchEvent) error {
	if _, err := q.Exec(`DELETE FROM match_event WHERE edition_id = ?`, editionID); err != nil {
		return fmt.Errorf("failed to clear match events: %w", err)
	}
	for _, e := range events {
		_, err := q.Exec(`
			INSERT INTO match_event (edition_id, stage, provider, candidate_rank, score, accepted)
			VALUES (?, ?, ?, ?, ?, ?)
		`, editionID, e.Stage, e.Provider, e.CandidateRank, e.Score, e.Accepted)
		if err != nil {
			return fmt.Errorf("failed to insert match event: %w", err)
		}
	}
	return nil
}

// GetMatchEvents returns the audit rows for an edition in rank order
func GetMatchEvents(q execer, editionID int64) ([]*MatchEvent, error) {
	rows, err := q.Query(`
		SELECT id, edition_id, stage, provider, candidate_rank, score, accepted
		FROM match_event WHERE edition_id = ? ORDER BY candidate_rank
	`, editionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match events: %w", err)
	}
	defer rows.Close()

	var events []*MatchEvent
	for rows.Next() {
		e := &MatchEvent{}
		if err := rows.Scan(&e.ID, &e.EditionID, &e.Stage, &e.Provider,
			&e.CandidateRank, &e.Score, &e.Accepted); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpsertProviderHit caches a provider payload keyed by (provider, remote id)
func UpsertProviderHit(q execer, h *ProviderHit) error {
	var editionID any
	if h.EditionID != 0 {
		editionID = h.EditionID
	}

	var existing int64
	err := q.QueryRow(`
		SELECT id FROM provider_hit WHERE provider = ? AND remote_id IS ?
	`, h.Provider, nullable(h.RemoteID)).Scan(&existing)
	if err == sql.ErrNoRows {
		_, err := q.Exec(`
			INSERT INTO provider_hit (provider, remote_id, edition_id, payload_json, score, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, h.Provider, nullable(h.RemoteID), editionID, h.PayloadJSON, h.Score, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert provider hit: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query provider hit: %w", err)
	}

	_, err = q.Exec(`
		UPDATE provider_hit SET edition_id = ?, payload_json = ?, score = ?, fetched_at = ?
		WHERE id = ?
	`, editionID, h.PayloadJSON, h.Score, time.Now().UTC(), existing)
	if err != nil {
		return fmt.Errorf("failed to update provider hit: %w", err)
	}
	return nil
}
