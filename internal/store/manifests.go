package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ManifestStatus is the lifecycle state of an organize manifest
type ManifestStatus string

const (
	ManifestPreview    ManifestStatus = "preview"
	ManifestApplying   ManifestStatus = "applying"
	ManifestApplied    ManifestStatus = "applied"
	ManifestFailed     ManifestStatus = "failed"
	ManifestRolledBack ManifestStatus = "rolled_back"
)

// OpStatus is the lifecycle state of a single organize operation
type OpStatus string

const (
	OpPlanned  OpStatus = "planned"
	OpSkipped  OpStatus = "skipped"
	OpDone     OpStatus = "done"
	OpFailed   OpStatus = "failed"
	OpReverted OpStatus = "reverted"
)

// manifestTransitions is the closed set of legal manifest status changes
var manifestTransitions = map[ManifestStatus][]ManifestStatus{
	ManifestPreview:  {ManifestApplying},
	ManifestApplying: {ManifestApplied, ManifestFailed},
	// apply can be retried on the failed subset, and both terminal apply
	// states admit a rollback pass; a rollback that itself fails leaves a
	// failed manifest failed
	ManifestApplied: {ManifestApplying, ManifestRolledBack, ManifestFailed},
	ManifestFailed:  {ManifestApplying, ManifestRolledBack, ManifestFailed},
}

// opTransitions is the closed set of legal op status changes
var opTransitions = map[OpStatus][]OpStatus{
	OpPlanned: {OpDone, OpFailed, OpSkipped},
	OpDone:    {OpReverted, OpFailed},
	OpFailed:  {OpDone, OpFailed, OpSkipped},
}

// OrganizeManifest is a persisted, ordered plan of file moves
type OrganizeManifest struct {
	ID           int64
	Template     string
	Root         string
	Status       ManifestStatus
	WatcherState string
	Notes        string
	CreatedAt    time.Time
}

// OrganizeOp is one planned move inside a manifest
type OrganizeOp struct {
	ID         int64
	ManifestID int64
	EditionID  int64
	SrcPath    string
	DstPath    string
	Status     OpStatus
	Reason     string
	SrcSHA256  string
	DstSHA256  string
}

// InsertManifest inserts a manifest in preview state and sets its ID
func InsertManifest(q execer, m *OrganizeManifest) error {
	if m.Status == "" {
		m.Status = ManifestPreview
	}
	res, err := q.Exec(`
		INSERT INTO organize_manifest (template, root, status, watcher_state, notes)
		VALUES (?, ?, ?, ?, ?)
	`, m.Template, m.Root, string(m.Status), nullable(m.WatcherState), nullable(m.Notes))
	if err != nil {
		return fmt.Errorf("failed to insert manifest: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// GetManifest retrieves a manifest by ID
func GetManifest(q execer, id int64) (*OrganizeManifest, error) {
	m := &OrganizeManifest{}
	var status string
	err := q.QueryRow(`
		SELECT id, template, root, status, COALESCE(watcher_state, ''),
		       COALESCE(notes, ''), created_at
		FROM organize_manifest WHERE id = ?
	`, id).Scan(&m.ID, &m.Template, &m.Root, &status, &m.WatcherState, &m.Notes, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query manifest: %w", err)
	}
	m.Status = ManifestStatus(status)
	return m, nil
}

// TransitionManifest is the single mutation point for manifest status.
// Illegal transitions (e.g. preview straight to applied) are rejected.
func TransitionManifest(q execer, m *OrganizeManifest, next ManifestStatus) error {
	if !validManifestTransition(m.Status, next) {
		return fmt.Errorf("invalid manifest transition %s -> %s", m.Status, next)
	}
	_, err := q.Exec(`UPDATE organize_manifest SET status = ? WHERE id = ?`, string(next), m.ID)
	if err != nil {
		return fmt.Errorf("failed to update manifest status: %w", err)
	}
	m.Status = next
	return nil
}

// SetManifestWatcherState records whether a watcher was running when apply
// paused it, so a later rollback can restore it
func SetManifestWatcherState(q execer, m *OrganizeManifest, state string) error {
	_, err := q.Exec(`UPDATE organize_manifest SET watcher_state = ? WHERE id = ?`,
		nullable(state), m.ID)
	if err != nil {
		return fmt.Errorf("failed to update watcher state: %w", err)
	}
	m.WatcherState = state
	return nil
}

func validManifestTransition(from, to ManifestStatus) bool {
	for _, allowed := range manifestTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InsertOp inserts an op and sets its ID
func InsertOp(q execer, op *OrganizeOp) error {
	if op.Status == "" {
		op.Status = OpPlanned
	}
	var editionID any
	if op.EditionID != 0 {
		editionID = op.EditionID
	}
	res, err := q.Exec(`
		INSERT INTO organize_op (manifest_id, edition_id, src_path, dst_path, status, reason, src_sha256, dst_sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ManifestID, editionID, op.SrcPath, op.DstPath, string(op.Status),
		nullable(op.Reason), nullable(op.SrcSHA256), nullable(op.DstSHA256))
	if err != nil {
		return fmt.Errorf("failed to insert op: %w", err)
	}
	op.ID, err = res.LastInsertId()
	return err
}

// TransitionOp is the single mutation point for op status. It validates the
// transition and persists status, reason and destination digest together.
// The UPDATE is conditional on the status the caller loaded, so two
// processes racing on the same op cannot both claim it.
func TransitionOp(q execer, op *OrganizeOp, next OpStatus, reason string) error {
	if !validOpTransition(op.Status, next) {
		return fmt.Errorf("invalid op transition %s -> %s", op.Status, next)
	}
	res, err := q.Exec(`
		UPDATE organize_op SET status = ?, reason = ?, dst_sha256 = ? WHERE id = ? AND status = ?
	`, string(next), nullable(reason), nullable(op.DstSHA256), op.ID, string(op.Status))
	if err != nil {
		return fmt.Errorf("failed to update op status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update op status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("op %d is no longer %s", op.ID, op.Status)
	}
	op.Status = next
	op.Reason = reason
	return nil
}

func validOpTransition(from, to OpStatus) bool {
	for _, allowed := range opTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GetOpsByManifest returns all ops of a manifest in plan order
func GetOpsByManifest(q execer, manifestID int64) ([]*OrganizeOp, error) {
	return queryOps(q, `
		SELECT id, manifest_id, COALESCE(edition_id, 0), src_path, dst_path,
		       status, COALESCE(reason, ''), COALESCE(src_sha256, ''), COALESCE(dst_sha256, '')
		FROM organize_op WHERE manifest_id = ? ORDER BY id
	`, manifestID)
}

// ListOps returns a page of ops, optionally filtered by status
func ListOps(q execer, manifestID int64, statuses []OpStatus, limit, offset int) ([]*OrganizeOp, error) {
	query := `
		SELECT id, manifest_id, COALESCE(edition_id, 0), src_path, dst_path,
		       status, COALESCE(reason, ''), COALESCE(src_sha256, ''), COALESCE(dst_sha256, '')
		FROM organize_op WHERE manifest_id = ?`
	args := []any{manifestID}
	if len(statuses) > 0 {
		query += ` AND status IN (`
		for i, st := range statuses {
			if i > 0 {
				query += `,`
			}
			query += `?`
			args = append(args, string(st))
		}
		query += `)`
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return queryOps(q, query, args...)
}

// CountOpsByStatus returns per-status op counts for a manifest
func CountOpsByStatus(q execer, manifestID int64) (map[OpStatus]int, error) {
	rows, err := q.Query(`
		SELECT status, COUNT(*) FROM organize_op WHERE manifest_id = ? GROUP BY status
	`, manifestID)
	if err != nil {
		return nil, fmt.Errorf("failed to count ops: %w", err)
	}
	defer rows.Close()

	counts := make(map[OpStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[OpStatus(status)] = n
	}
	return counts, rows.Err()
}

func queryOps(q execer, query string, args ...any) ([]*OrganizeOp, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ops: %w", err)
	}
	defer rows.Close()

	var ops []*OrganizeOp
	for rows.Next() {
		op := &OrganizeOp{}
		var status string
		if err := rows.Scan(&op.ID, &op.ManifestID, &op.EditionID, &op.SrcPath,
			&op.DstPath, &status, &op.Reason, &op.SrcSHA256, &op.DstSHA256); err != nil {
			return nil, err
		}
		op.Status = OpStatus(status)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
