package organize

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/franz/book-janitor/internal/report"
	"github.com/franz/book-janitor/internal/store"
	"github.com/franz/book-janitor/internal/util"
)

// Reasons recorded on skipped or failed ops
const (
	ReasonDuplicateDestination = "duplicate_destination"
	ReasonAlreadyInPlace       = "already_in_place"
	ReasonMissingWork          = "missing_work"
)

// Watcher states captured on a manifest while apply holds the tree
const (
	WatcherWasRunning = "running"
	WatcherWasStopped = "stopped"
)

// WatcherControl is the subset of the ingest watcher the engine needs to
// pause it around filesystem mutation
type WatcherControl interface {
	IsRunning() bool
	Start() error
	Stop() error
}

// Engine plans destination layouts and executes them as manifests
type Engine struct {
	store   *store.Store
	watcher WatcherControl
	logger  *report.EventLogger
}

// Config holds engine configuration
type Config struct {
	Store   *store.Store
	Watcher WatcherControl
	Logger  *report.EventLogger
}

// New creates a new Engine
func New(cfg *Config) *Engine {
	return &Engine{
		store:   cfg.Store,
		watcher: cfg.Watcher,
		logger:  cfg.Logger,
	}
}

// PreviewResult is a freshly planned manifest with its ops
type PreviewResult struct {
	Manifest *store.OrganizeManifest
	Ops      []*store.OrganizeOp
}

// Preview plans destination paths for catalogued files without touching the
// filesystem. The manifest and its ops persist in preview state so a later
// apply, possibly in another process, can pick them up.
func (e *Engine) Preview(root, template string, editionIDs []int64) (*PreviewResult, error) {
	if template == "" {
		template = DefaultTemplate
	}
	util.InfoLog("Planning layout under %s with template %s", root, template)

	files, err := store.GetCataloguedFiles(e.store.DB(), editionIDs)
	if err != nil {
		return nil, err
	}

	manifest := &store.OrganizeManifest{Template: template, Root: root}
	var ops []*store.OrganizeOp
	planned := 0

	err = e.store.Transaction(func(tx *sql.Tx) error {
		if err := store.InsertManifest(tx, manifest); err != nil {
			return err
		}

		for _, file := range files {
			dst, reason, err := e.renderDestination(tx, root, template, file)
			if err != nil {
				return err
			}
			if reason == "" && dst == file.Path {
				reason = ReasonAlreadyInPlace
			}

			// skipped files still get an op row so counts by status
			// describe the whole manifest
			op := &store.OrganizeOp{
				ManifestID: manifest.ID,
				EditionID:  file.EditionID,
				SrcPath:    file.Path,
				DstPath:    dst,
				SrcSHA256:  file.SHA256,
			}
			if reason != "" {
				op.Status = store.OpSkipped
				op.Reason = reason
			} else {
				planned++
			}
			if err := store.InsertOp(tx, op); err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.SuccessLog("Planned %d moves, %d skipped (manifest %d)", planned, len(ops)-planned, manifest.ID)
	return &PreviewResult{Manifest: manifest, Ops: ops}, nil
}

// renderDestination returns the planned destination for a file, or a
// non-empty skip reason when the catalog graph cannot name one
func (e *Engine) renderDestination(tx *sql.Tx, root, template string, file *store.File) (string, string, error) {
	edition, err := store.GetEdition(tx, file.EditionID)
	if err != nil {
		return "", "", err
	}
	if edition == nil {
		return "", ReasonMissingWork, nil
	}

	work, err := store.GetWork(tx, edition.WorkID)
	if err != nil {
		return "", "", err
	}
	if work == nil {
		return "", ReasonMissingWork, nil
	}
	authors, err := store.GetWorkAuthors(tx, edition.WorkID)
	if err != nil {
		return "", "", err
	}
	identifiers, err := store.GetIdentifiers(tx, edition.ID)
	if err != nil {
		return "", "", err
	}
	var isbns []string
	for _, id := range identifiers {
		if id.Scheme == "ISBN13" {
			isbns = append(isbns, id.Value)
		}
	}

	ctx := BuildContext(work, authors, edition, isbns, file)
	return Render(root, template, ctx), "", nil
}

// ApplyResult summarizes one apply run
type ApplyResult struct {
	Moved   int
	Skipped int
	Failed  int
}

// Apply executes a manifest's moves whose status is in the given set, by
// default planned ops plus failed ones being retried. The watcher, if one
// is attached and running, is paused for the duration and its prior state
// is recorded on the manifest. Each op fails or succeeds on its own; the
// manifest ends applied only when no op failed this run.
func (e *Engine) Apply(manifestID int64, statuses []store.OpStatus) (*ApplyResult, error) {
	if len(statuses) == 0 {
		statuses = []store.OpStatus{store.OpPlanned, store.OpFailed}
	}

	manifest, err := e.loadManifest(manifestID)
	if err != nil {
		return nil, err
	}

	watcherState := WatcherWasStopped
	if e.watcher != nil && e.watcher.IsRunning() {
		watcherState = WatcherWasRunning
		if err := e.watcher.Stop(); err != nil {
			return nil, fmt.Errorf("failed to pause watcher: %w", err)
		}
	}

	err = e.store.Transaction(func(tx *sql.Tx) error {
		if err := store.SetManifestWatcherState(tx, manifest, watcherState); err != nil {
			return err
		}
		return store.TransitionManifest(tx, manifest, store.ManifestApplying)
	})
	if err != nil {
		return nil, err
	}

	ops, err := store.GetOpsByManifest(e.store.DB(), manifestID)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{}
	for _, op := range ops {
		if !statusIn(op.Status, statuses) {
			continue
		}
		e.applyOp(op, result)
	}

	final := store.ManifestApplied
	if result.Failed > 0 {
		final = store.ManifestFailed
	}
	err = e.store.Transaction(func(tx *sql.Tx) error {
		return store.TransitionManifest(tx, manifest, final)
	})
	if err != nil {
		return nil, err
	}

	if watcherState == WatcherWasRunning {
		if err := e.watcher.Start(); err != nil {
			util.WarnLog("Failed to restart watcher: %v", err)
		}
	}

	util.SuccessLog("Apply complete: %d moved, %d skipped, %d failed",
		result.Moved, result.Skipped, result.Failed)
	return result, nil
}

// applyOp moves one file. Failures are recorded on the op and never abort
// the run.
func (e *Engine) applyOp(op *store.OrganizeOp, result *ApplyResult) {
	if _, err := os.Stat(op.DstPath); err == nil {
		occupantHash, err := util.ContentHash(op.DstPath)
		if err != nil {
			e.finishOp(op, store.OpFailed, fmt.Sprintf("failed to hash occupant: %v", err))
			result.Failed++
			return
		}
		if occupantHash == op.SrcSHA256 {
			// same bytes already live at the destination; leave the
			// source where it is
			e.finishOp(op, store.OpSkipped, ReasonDuplicateDestination)
			result.Skipped++
			return
		}
		backup, err := util.BackupAside(op.DstPath)
		if err != nil {
			e.finishOp(op, store.OpFailed, err.Error())
			result.Failed++
			return
		}
		util.WarnLog("Destination %s occupied by different content, kept as %s", op.DstPath, backup)
	}

	if err := util.SafeMove(op.SrcPath, op.DstPath); err != nil {
		e.finishOp(op, store.OpFailed, err.Error())
		result.Failed++
		return
	}

	// re-hash the destination so the op records what actually arrived
	dstHash, err := util.ContentHash(op.DstPath)
	if err != nil {
		e.finishOp(op, store.OpFailed, fmt.Sprintf("failed to verify move: %v", err))
		result.Failed++
		return
	}
	if dstHash != op.SrcSHA256 {
		e.finishOp(op, store.OpFailed, "content changed during move")
		result.Failed++
		return
	}

	op.DstSHA256 = dstHash
	err = e.store.Transaction(func(tx *sql.Tx) error {
		file, err := store.GetFileByPath(tx, op.SrcPath)
		if err != nil {
			return err
		}
		if file != nil {
			if err := store.UpdateFilePath(tx, file.ID, op.DstPath); err != nil {
				return err
			}
		}
		return store.TransitionOp(tx, op, store.OpDone, "")
	})
	if err != nil {
		util.ErrorLog("Failed to record move of %s: %v", op.SrcPath, err)
		result.Failed++
		return
	}
	result.Moved++
	util.DebugLog("Moved %s -> %s", op.SrcPath, op.DstPath)
	e.logger.LogOrganize(op.SrcPath, op.DstPath, string(store.OpDone), "")
}

func (e *Engine) finishOp(op *store.OrganizeOp, status store.OpStatus, reason string) {
	err := e.store.Transaction(func(tx *sql.Tx) error {
		return store.TransitionOp(tx, op, status, reason)
	})
	if err != nil {
		util.ErrorLog("Failed to record op %d status: %v", op.ID, err)
	}
	e.logger.LogOrganize(op.SrcPath, op.DstPath, string(status), reason)
}

// RollbackResult summarizes one rollback run
type RollbackResult struct {
	Reverted int
	Failed   int
}

// Rollback undoes the completed moves of an applied or failed manifest.
// Only ops in done state are touched; skipped and failed ops never moved
// anything. The watcher is confirmed stopped before any file moves, and is
// restarted afterwards if it was running now or when apply paused it.
func (e *Engine) Rollback(manifestID int64) (*RollbackResult, error) {
	manifest, err := e.loadManifest(manifestID)
	if err != nil {
		return nil, err
	}
	if manifest.Status != store.ManifestApplied && manifest.Status != store.ManifestFailed {
		return nil, fmt.Errorf("manifest %d is %s, nothing to roll back", manifestID, manifest.Status)
	}

	watcherWasRunning := false
	if e.watcher != nil && e.watcher.IsRunning() {
		watcherWasRunning = true
		if err := e.watcher.Stop(); err != nil {
			return nil, fmt.Errorf("failed to pause watcher: %w", err)
		}
	}

	ops, err := store.GetOpsByManifest(e.store.DB(), manifestID)
	if err != nil {
		return nil, err
	}

	result := &RollbackResult{}
	for _, op := range ops {
		if op.Status != store.OpDone {
			continue
		}

		if err := util.SafeMove(op.DstPath, op.SrcPath); err != nil {
			e.finishOp(op, store.OpFailed, err.Error())
			result.Failed++
			continue
		}

		err := e.store.Transaction(func(tx *sql.Tx) error {
			file, err := store.GetFileByPath(tx, op.DstPath)
			if err != nil {
				return err
			}
			if file != nil {
				if err := store.UpdateFilePath(tx, file.ID, op.SrcPath); err != nil {
					return err
				}
			}
			return store.TransitionOp(tx, op, store.OpReverted, "")
		})
		if err != nil {
			util.ErrorLog("Failed to record revert of %s: %v", op.DstPath, err)
			result.Failed++
			continue
		}
		result.Reverted++
		e.logger.LogRollback(op.SrcPath, op.DstPath, string(store.OpReverted))
	}

	// rolled_back only when every revert landed
	final := store.ManifestRolledBack
	if result.Failed > 0 {
		final = store.ManifestFailed
	}
	err = e.store.Transaction(func(tx *sql.Tx) error {
		return store.TransitionManifest(tx, manifest, final)
	})
	if err != nil {
		return nil, err
	}

	if e.watcher != nil && !e.watcher.IsRunning() &&
		(watcherWasRunning || manifest.WatcherState == WatcherWasRunning) {
		if err := e.watcher.Start(); err != nil {
			util.WarnLog("Failed to restart watcher: %v", err)
		}
	}

	util.SuccessLog("Rollback complete: %d reverted, %d failed", result.Reverted, result.Failed)
	return result, nil
}

// Show returns a manifest with its ops and per-status counts
func (e *Engine) Show(manifestID int64) (*store.OrganizeManifest, []*store.OrganizeOp, map[store.OpStatus]int, error) {
	manifest, err := e.loadManifest(manifestID)
	if err != nil {
		return nil, nil, nil, err
	}
	ops, err := store.GetOpsByManifest(e.store.DB(), manifestID)
	if err != nil {
		return nil, nil, nil, err
	}
	counts, err := store.CountOpsByStatus(e.store.DB(), manifestID)
	if err != nil {
		return nil, nil, nil, err
	}
	return manifest, ops, counts, nil
}

func statusIn(status store.OpStatus, set []store.OpStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func (e *Engine) loadManifest(id int64) (*store.OrganizeManifest, error) {
	manifest, err := store.GetManifest(e.store.DB(), id)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, fmt.Errorf("manifest %d not found", id)
	}
	return manifest, nil
}
