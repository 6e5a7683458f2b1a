package organize

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/book-janitor/internal/store"
	"github.com/franz/book-janitor/internal/util"
)

// fakeWatcher records pause and resume calls
type fakeWatcher struct {
	running bool
	stops   int
	starts  int
}

func (f *fakeWatcher) IsRunning() bool { return f.running }

func (f *fakeWatcher) Start() error {
	f.starts++
	f.running = true
	return nil
}

func (f *fakeWatcher) Stop() error {
	f.stops++
	f.running = false
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// catalogueFile writes content to disk and wires a full work/edition/file
// graph around it
func catalogueFile(t *testing.T, s *store.Store, dir, name, title, author, content string) *store.File {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	sha, err := util.ContentHash(path)
	if err != nil {
		t.Fatal(err)
	}

	file := &store.File{Path: path, Ext: "epub", SizeBytes: int64(len(content)), SHA256: sha}
	err = s.Transaction(func(tx *sql.Tx) error {
		work := &store.Work{Title: title, SortTitle: title}
		if err := store.InsertWork(tx, work); err != nil {
			return err
		}
		a := &store.Author{Name: author}
		if err := store.InsertAuthor(tx, a); err != nil {
			return err
		}
		if err := store.LinkWorkAuthor(tx, work.ID, a.ID); err != nil {
			return err
		}
		edition := &store.Edition{WorkID: work.ID, Title: title, Format: "epub"}
		if err := store.InsertEdition(tx, edition); err != nil {
			return err
		}
		file.EditionID = edition.ID
		return store.InsertFile(tx, file)
	})
	if err != nil {
		t.Fatal(err)
	}
	return file
}

func TestPreviewApplyRollbackRoundTrip(t *testing.T) {
	s := newTestStore(t)
	watcher := &fakeWatcher{running: true}
	engine := New(&Config{Store: s, Watcher: watcher})

	incoming := t.TempDir()
	library := t.TempDir()
	file := catalogueFile(t, s, incoming, "raw.epub", "Dune", "Frank Herbert", "dune bytes")

	preview, err := engine.Preview(library, "", nil)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if preview.Manifest.Status != store.ManifestPreview {
		t.Errorf("manifest status = %s", preview.Manifest.Status)
	}
	if len(preview.Ops) != 1 {
		t.Fatalf("expected 1 op, got %d", len(preview.Ops))
	}
	wantDst := filepath.Join(library, "herbert", "dune.epub")
	if preview.Ops[0].DstPath != wantDst {
		t.Errorf("dst = %q, want %q", preview.Ops[0].DstPath, wantDst)
	}

	// preview must not touch the filesystem
	if _, err := os.Stat(file.Path); err != nil {
		t.Fatal("preview moved the source file")
	}

	applied, err := engine.Apply(preview.Manifest.ID, nil)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if applied.Moved != 1 || applied.Failed != 0 {
		t.Fatalf("unexpected apply result: %+v", applied)
	}
	if _, err := os.Stat(wantDst); err != nil {
		t.Fatal("file not at destination after apply")
	}
	if _, err := os.Stat(file.Path); !os.IsNotExist(err) {
		t.Fatal("source still present after apply")
	}

	// watcher paused during apply and resumed after
	if watcher.stops != 1 || watcher.starts != 1 {
		t.Errorf("watcher pause/resume: stops=%d starts=%d", watcher.stops, watcher.starts)
	}

	manifest, _ := store.GetManifest(s.DB(), preview.Manifest.ID)
	if manifest.Status != store.ManifestApplied {
		t.Errorf("manifest status after apply = %s", manifest.Status)
	}
	if manifest.WatcherState != WatcherWasRunning {
		t.Errorf("watcher state = %q", manifest.WatcherState)
	}

	// catalog row follows the move
	moved, _ := store.GetFileByPath(s.DB(), wantDst)
	if moved == nil {
		t.Fatal("file row not updated to destination path")
	}

	// the op records the verified destination digest
	ops, _ := store.GetOpsByManifest(s.DB(), preview.Manifest.ID)
	if ops[0].DstSHA256 != file.SHA256 {
		t.Errorf("dst digest = %q, want %q", ops[0].DstSHA256, file.SHA256)
	}

	rolled, err := engine.Rollback(preview.Manifest.ID)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if rolled.Reverted != 1 || rolled.Failed != 0 {
		t.Fatalf("unexpected rollback result: %+v", rolled)
	}
	if _, err := os.Stat(file.Path); err != nil {
		t.Fatal("file not restored to source after rollback")
	}

	manifest, _ = store.GetManifest(s.DB(), preview.Manifest.ID)
	if manifest.Status != store.ManifestRolledBack {
		t.Errorf("manifest status after rollback = %s", manifest.Status)
	}

	restored, _ := store.GetFileByPath(s.DB(), file.Path)
	if restored == nil {
		t.Fatal("file row not restored to source path")
	}
}

func TestApplySkipsDuplicateDestination(t *testing.T) {
	s := newTestStore(t)
	engine := New(&Config{Store: s})

	incoming := t.TempDir()
	library := t.TempDir()
	file := catalogueFile(t, s, incoming, "raw.epub", "Dune", "Frank Herbert", "same bytes")

	// the destination is already occupied by identical content
	dst := filepath.Join(library, "herbert", "dune.epub")
	if err := util.EnsureParent(dst); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("same bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	preview, err := engine.Preview(library, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	applied, err := engine.Apply(preview.Manifest.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if applied.Skipped != 1 || applied.Moved != 0 {
		t.Fatalf("expected duplicate skip, got %+v", applied)
	}

	// the source stays untouched for the human to deal with
	if _, err := os.Stat(file.Path); err != nil {
		t.Fatal("source should remain in place on duplicate destination")
	}

	ops, _ := store.GetOpsByManifest(s.DB(), preview.Manifest.ID)
	if ops[0].Status != store.OpSkipped || ops[0].Reason != ReasonDuplicateDestination {
		t.Errorf("op state = %s (%s)", ops[0].Status, ops[0].Reason)
	}

	manifest, _ := store.GetManifest(s.DB(), preview.Manifest.ID)
	if manifest.Status != store.ManifestApplied {
		t.Errorf("skips alone should still end applied, got %s", manifest.Status)
	}
}

func TestApplyBacksAsideDifferentOccupant(t *testing.T) {
	s := newTestStore(t)
	engine := New(&Config{Store: s})

	incoming := t.TempDir()
	library := t.TempDir()
	catalogueFile(t, s, incoming, "raw.epub", "Dune", "Frank Herbert", "new bytes")

	dst := filepath.Join(library, "herbert", "dune.epub")
	if err := util.EnsureParent(dst); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("older different bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	preview, err := engine.Preview(library, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	applied, err := engine.Apply(preview.Manifest.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if applied.Moved != 1 {
		t.Fatalf("expected move over backed-aside occupant, got %+v", applied)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new bytes" {
		t.Error("destination does not hold the new content")
	}

	// the occupant survives under a keep suffix
	matches, err := filepath.Glob(dst + ".blc.keep.*")
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one backup file, got %v", matches)
	}
}

func TestRollbackRequiresTerminalManifest(t *testing.T) {
	s := newTestStore(t)
	engine := New(&Config{Store: s})

	incoming := t.TempDir()
	catalogueFile(t, s, incoming, "raw.epub", "Dune", "Frank Herbert", "bytes")

	preview, err := engine.Preview(t.TempDir(), "", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Rollback(preview.Manifest.ID); err == nil {
		t.Fatal("rollback of a preview manifest should be rejected")
	}
}

func TestPreviewRecordsFilesAlreadyInPlace(t *testing.T) {
	s := newTestStore(t)
	engine := New(&Config{Store: s})

	library := t.TempDir()
	dir := filepath.Join(library, "herbert")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	file := catalogueFile(t, s, dir, "dune.epub", "Dune", "Frank Herbert", "bytes")

	preview, err := engine.Preview(library, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(preview.Ops) != 1 {
		t.Fatalf("expected a persisted skip op, got %d ops", len(preview.Ops))
	}
	op := preview.Ops[0]
	if op.Status != store.OpSkipped || op.Reason != ReasonAlreadyInPlace {
		t.Errorf("op state = %s (%s)", op.Status, op.Reason)
	}

	// apply never touches it and the file stays put
	applied, err := engine.Apply(preview.Manifest.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if applied.Moved != 0 || applied.Failed != 0 {
		t.Fatalf("in-place file must not be applied: %+v", applied)
	}
	if _, err := os.Stat(file.Path); err != nil {
		t.Fatal("in-place file moved")
	}

	counts, err := store.CountOpsByStatus(s.DB(), preview.Manifest.ID)
	if err != nil {
		t.Fatal(err)
	}
	if counts[store.OpSkipped] != 1 {
		t.Errorf("skip not counted: %v", counts)
	}
}

func TestPreviewRecordsOrphanedFiles(t *testing.T) {
	s := newTestStore(t)
	engine := New(&Config{Store: s})

	// a file row whose edition was never attached
	dir := t.TempDir()
	path := filepath.Join(dir, "orphan.epub")
	if err := os.WriteFile(path, []byte("orphan bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	catalogueFile(t, s, dir, "dune.epub", "Dune", "Frank Herbert", "dune bytes")
	err := s.Transaction(func(tx *sql.Tx) error {
		return store.InsertFile(tx, &store.File{
			EditionID: 9999, Path: path, Ext: "epub", SizeBytes: 12, SHA256: "feed" + path,
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	preview, err := engine.Preview(t.TempDir(), "", nil)
	if err != nil {
		t.Fatalf("a broken graph entry must not abort the preview: %v", err)
	}
	if len(preview.Ops) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(preview.Ops))
	}

	skipped := 0
	for _, op := range preview.Ops {
		if op.Status == store.OpSkipped {
			skipped++
			if op.Reason != ReasonMissingWork {
				t.Errorf("skip reason = %q", op.Reason)
			}
		}
	}
	if skipped != 1 {
		t.Errorf("expected the orphan to be skipped, got %d skips", skipped)
	}
}

func TestApplyStatusFilter(t *testing.T) {
	s := newTestStore(t)
	engine := New(&Config{Store: s})

	incoming := t.TempDir()
	file := catalogueFile(t, s, incoming, "raw.epub", "Dune", "Frank Herbert", "bytes")

	preview, err := engine.Preview(t.TempDir(), "", nil)
	if err != nil {
		t.Fatal(err)
	}

	// only retrying failed ops: the planned op stays untouched
	applied, err := engine.Apply(preview.Manifest.ID, []store.OpStatus{store.OpFailed})
	if err != nil {
		t.Fatal(err)
	}
	if applied.Moved != 0 {
		t.Fatalf("planned op executed despite status filter: %+v", applied)
	}
	if _, err := os.Stat(file.Path); err != nil {
		t.Fatal("file moved despite status filter")
	}

	ops, _ := store.GetOpsByManifest(s.DB(), preview.Manifest.ID)
	if ops[0].Status != store.OpPlanned {
		t.Errorf("op status = %s, want planned", ops[0].Status)
	}
}

func TestRollbackPausesWatcher(t *testing.T) {
	s := newTestStore(t)
	watcher := &fakeWatcher{}
	engine := New(&Config{Store: s, Watcher: watcher})

	incoming := t.TempDir()
	catalogueFile(t, s, incoming, "raw.epub", "Dune", "Frank Herbert", "bytes")

	preview, err := engine.Preview(t.TempDir(), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Apply(preview.Manifest.ID, nil); err != nil {
		t.Fatal(err)
	}

	// a watcher started after apply must still be confirmed stopped
	// before rollback moves anything
	watcher.running = true
	stopsBefore := watcher.stops

	rolled, err := engine.Rollback(preview.Manifest.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rolled.Reverted != 1 {
		t.Fatalf("unexpected rollback result: %+v", rolled)
	}
	if watcher.stops != stopsBefore+1 {
		t.Errorf("watcher not paused during rollback: stops=%d", watcher.stops-stopsBefore)
	}
	if !watcher.running {
		t.Error("watcher not restarted after rollback")
	}
}

func TestRollbackFailureLeavesManifestFailed(t *testing.T) {
	s := newTestStore(t)
	engine := New(&Config{Store: s})

	// a failed manifest holding one completed move whose destination has
	// since vanished
	manifest := &store.OrganizeManifest{Template: DefaultTemplate, Root: t.TempDir()}
	op := &store.OrganizeOp{
		SrcPath: filepath.Join(t.TempDir(), "src.epub"),
		DstPath: filepath.Join(t.TempDir(), "gone.epub"),
		Status:  store.OpDone,
	}
	err := s.Transaction(func(tx *sql.Tx) error {
		if err := store.InsertManifest(tx, manifest); err != nil {
			return err
		}
		if err := store.TransitionManifest(tx, manifest, store.ManifestApplying); err != nil {
			return err
		}
		if err := store.TransitionManifest(tx, manifest, store.ManifestFailed); err != nil {
			return err
		}
		op.ManifestID = manifest.ID
		return store.InsertOp(tx, op)
	})
	if err != nil {
		t.Fatal(err)
	}

	rolled, err := engine.Rollback(manifest.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rolled.Failed != 1 {
		t.Fatalf("expected the vanished destination to fail, got %+v", rolled)
	}

	got, _ := store.GetManifest(s.DB(), manifest.ID)
	if got.Status != store.ManifestFailed {
		t.Errorf("manifest with rollback failures must end failed, got %s", got.Status)
	}
}
