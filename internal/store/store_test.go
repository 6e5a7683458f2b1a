package store

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)

	if err := s.CheckIntegrity(); err != nil {
		t.Fatalf("integrity check failed: %v", err)
	}

	version, err := s.getSchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopening migrated database failed: %v", err)
	}
	s2.Close()
}

func TestWorkAndAuthorGraph(t *testing.T) {
	s := newTestStore(t)

	err := s.Transaction(func(tx *sql.Tx) error {
		work := &Work{Title: "Dune", SortTitle: "dune", Language: "en"}
		if err := InsertWork(tx, work); err != nil {
			return err
		}
		author := &Author{Name: "Frank Herbert", SortName: "Herbert, Frank"}
		if err := InsertAuthor(tx, author); err != nil {
			return err
		}
		if err := LinkWorkAuthor(tx, work.ID, author.ID); err != nil {
			return err
		}
		// linking twice must not create a second row
		return LinkWorkAuthor(tx, work.ID, author.ID)
	})
	if err != nil {
		t.Fatal(err)
	}

	work, err := GetWorkBySortTitle(s.DB(), "dune")
	if err != nil || work == nil {
		t.Fatalf("work not found: %v", err)
	}
	authors, err := GetWorkAuthors(s.DB(), work.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(authors) != 1 || authors[0].Name != "Frank Herbert" {
		t.Errorf("unexpected authors: %+v", authors)
	}
}

func TestFileContentIdentityIsUnique(t *testing.T) {
	s := newTestStore(t)

	f1 := &File{Path: "/a/one.epub", SHA256: "abc123", SizeBytes: 10}
	if err := InsertFile(s.DB(), f1); err != nil {
		t.Fatal(err)
	}

	f2 := &File{Path: "/b/two.epub", SHA256: "abc123", SizeBytes: 10}
	if err := InsertFile(s.DB(), f2); err == nil {
		t.Fatal("duplicate sha256 should violate the unique constraint")
	}

	// the idempotent path is a touch, not an insert
	if err := TouchFile(s.DB(), f1.ID, "/b/two.epub"); err != nil {
		t.Fatal(err)
	}
	got, err := GetFileBySHA256(s.DB(), "abc123")
	if err != nil || got == nil {
		t.Fatal(err)
	}
	if got.Path != "/b/two.epub" {
		t.Errorf("path not updated: %q", got.Path)
	}
	if got.ID != f1.ID {
		t.Error("touch must keep the same row")
	}
}

func TestFileScanHandlesNullLastSeen(t *testing.T) {
	s := newTestStore(t)

	var editionID int64
	err := s.Transaction(func(tx *sql.Tx) error {
		work := &Work{Title: "W", SortTitle: "w"}
		if err := InsertWork(tx, work); err != nil {
			return err
		}
		edition := &Edition{WorkID: work.ID}
		if err := InsertEdition(tx, edition); err != nil {
			return err
		}
		editionID = edition.ID
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	f := &File{EditionID: editionID, Path: "/a/one.epub", SHA256: "abc123", SizeBytes: 10}
	if err := InsertFile(s.DB(), f); err != nil {
		t.Fatal(err)
	}

	got, err := GetFileBySHA256(s.DB(), "abc123")
	if err != nil {
		t.Fatalf("scan of a populated file row failed: %v", err)
	}
	if got.LastSeen.IsZero() || got.AddedAt.IsZero() {
		t.Errorf("timestamps not scanned: %+v", got)
	}

	// rows written before last_seen existed fall back to added_at
	if _, err := s.DB().Exec(`UPDATE file SET last_seen = NULL WHERE id = ?`, f.ID); err != nil {
		t.Fatal(err)
	}
	got, err = GetFileBySHA256(s.DB(), "abc123")
	if err != nil {
		t.Fatalf("scan with NULL last_seen failed: %v", err)
	}
	if !got.LastSeen.Equal(got.AddedAt) {
		t.Errorf("last_seen fallback wrong: %v vs %v", got.LastSeen, got.AddedAt)
	}

	files, err := GetCataloguedFiles(s.DB(), nil)
	if err != nil {
		t.Fatalf("list scan with NULL last_seen failed: %v", err)
	}
	if len(files) != 1 || !files[0].LastSeen.Equal(files[0].AddedAt) {
		t.Errorf("list fallback wrong: %+v", files)
	}
}

func TestIdentifyResultUpsertAndBandQuery(t *testing.T) {
	s := newTestStore(t)

	var e1, e2, e3 int64
	err := s.Transaction(func(tx *sql.Tx) error {
		work := &Work{Title: "W", SortTitle: "w"}
		if err := InsertWork(tx, work); err != nil {
			return err
		}
		for _, out := range []*int64{&e1, &e2, &e3} {
			edition := &Edition{WorkID: work.ID}
			if err := InsertEdition(tx, edition); err != nil {
				return err
			}
			*out = edition.ID
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	seed := []struct {
		edition  int64
		score    float64
		accepted bool
	}{
		{e1, 0.70, false},
		{e2, 0.95, true},
		{e3, 0.40, false},
	}
	for _, row := range seed {
		err := UpsertIdentifyResult(s.DB(), &IdentifyResult{
			EditionID:      row.edition,
			AutoAccepted:   row.accepted,
			TopScore:       row.score,
			CandidatesJSON: "[]",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	pending, total, err := ListPendingIdentifications(s.DB(), 0.65, 0.85, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(pending) != 1 || pending[0].EditionID != e1 {
		t.Fatalf("band query wrong: total=%d pending=%+v", total, pending)
	}

	// a second run for the same edition replaces the outcome
	err = UpsertIdentifyResult(s.DB(), &IdentifyResult{
		EditionID:      e1,
		AutoAccepted:   true,
		ChosenProvider: "openlibrary",
		TopScore:       0.99,
		CandidatesJSON: "[]",
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := GetIdentifyResult(s.DB(), e1)
	if err != nil {
		t.Fatal(err)
	}
	if !got.AutoAccepted || got.TopScore != 0.99 {
		t.Errorf("upsert did not replace: %+v", got)
	}
}

func TestManifestTransitions(t *testing.T) {
	s := newTestStore(t)

	m := &OrganizeManifest{Template: "{title}.{ext}", Root: "/library"}
	if err := InsertManifest(s.DB(), m); err != nil {
		t.Fatal(err)
	}
	if m.Status != ManifestPreview {
		t.Fatalf("new manifest should be preview, got %s", m.Status)
	}

	// preview cannot jump straight to applied
	if err := TransitionManifest(s.DB(), m, ManifestApplied); err == nil {
		t.Fatal("preview -> applied must be rejected")
	}

	for _, next := range []ManifestStatus{ManifestApplying, ManifestApplied, ManifestApplying, ManifestFailed, ManifestRolledBack} {
		if err := TransitionManifest(s.DB(), m, next); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}

	// rolled_back is terminal
	if err := TransitionManifest(s.DB(), m, ManifestApplying); err == nil {
		t.Fatal("rolled_back manifest must not transition again")
	}
}

func TestOpTransitions(t *testing.T) {
	s := newTestStore(t)

	m := &OrganizeManifest{Template: "t", Root: "/r"}
	if err := InsertManifest(s.DB(), m); err != nil {
		t.Fatal(err)
	}
	op := &OrganizeOp{ManifestID: m.ID, SrcPath: "/a", DstPath: "/b", SrcSHA256: "abc"}
	if err := InsertOp(s.DB(), op); err != nil {
		t.Fatal(err)
	}

	// planned cannot revert
	if err := TransitionOp(s.DB(), op, OpReverted, ""); err == nil {
		t.Fatal("planned -> reverted must be rejected")
	}

	if err := TransitionOp(s.DB(), op, OpFailed, "disk full"); err != nil {
		t.Fatal(err)
	}
	// failed ops may be retried
	op.DstSHA256 = "abc"
	if err := TransitionOp(s.DB(), op, OpDone, ""); err != nil {
		t.Fatal(err)
	}
	if err := TransitionOp(s.DB(), op, OpReverted, ""); err != nil {
		t.Fatal(err)
	}

	ops, err := GetOpsByManifest(s.DB(), m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ops[0].Status != OpReverted || ops[0].DstSHA256 != "abc" {
		t.Errorf("persisted op state wrong: %+v", ops[0])
	}

	counts, err := CountOpsByStatus(s.DB(), m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if counts[OpReverted] != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestManifestFailedAdmitsFailedRollback(t *testing.T) {
	s := newTestStore(t)

	m := &OrganizeManifest{Template: "t", Root: "/r"}
	if err := InsertManifest(s.DB(), m); err != nil {
		t.Fatal(err)
	}
	for _, next := range []ManifestStatus{ManifestApplying, ManifestFailed} {
		if err := TransitionManifest(s.DB(), m, next); err != nil {
			t.Fatal(err)
		}
	}

	// a rollback pass that itself fails keeps the manifest failed
	if err := TransitionManifest(s.DB(), m, ManifestFailed); err != nil {
		t.Fatalf("failed -> failed must be legal: %v", err)
	}
	// and a later clean rollback still closes it out
	if err := TransitionManifest(s.DB(), m, ManifestRolledBack); err != nil {
		t.Fatal(err)
	}
}

func TestOpTransitionLosesRace(t *testing.T) {
	s := newTestStore(t)

	m := &OrganizeManifest{Template: "t", Root: "/r"}
	if err := InsertManifest(s.DB(), m); err != nil {
		t.Fatal(err)
	}
	if err := InsertOp(s.DB(), &OrganizeOp{ManifestID: m.ID, SrcPath: "/a", DstPath: "/b"}); err != nil {
		t.Fatal(err)
	}

	// two workers load the same planned op
	first, _ := GetOpsByManifest(s.DB(), m.ID)
	second, _ := GetOpsByManifest(s.DB(), m.ID)

	if err := TransitionOp(s.DB(), first[0], OpDone, ""); err != nil {
		t.Fatal(err)
	}
	if err := TransitionOp(s.DB(), second[0], OpDone, ""); err == nil {
		t.Fatal("second claimant of the same op must lose")
	}

	ops, err := GetOpsByManifest(s.DB(), m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ops[0].Status != OpDone {
		t.Errorf("winner's state lost: %s", ops[0].Status)
	}
}

func TestSearchIndexRoundTrip(t *testing.T) {
	s := newTestStore(t)

	var editionID int64
	err := s.Transaction(func(tx *sql.Tx) error {
		work := &Work{Title: "The Left Hand of Darkness", SortTitle: "the left hand of darkness"}
		if err := InsertWork(tx, work); err != nil {
			return err
		}
		author := &Author{Name: "Ursula K. Le Guin"}
		if err := InsertAuthor(tx, author); err != nil {
			return err
		}
		if err := LinkWorkAuthor(tx, work.ID, author.ID); err != nil {
			return err
		}
		edition := &Edition{WorkID: work.ID, Title: "The Left Hand of Darkness", Publisher: "Ace Books"}
		if err := InsertEdition(tx, edition); err != nil {
			return err
		}
		editionID = edition.ID
		return ReindexEdition(tx, edition.ID)
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, query := range []string{"darkness", "guin", "ace"} {
		ids, err := SearchEditions(s.DB(), query, 10)
		if err != nil {
			t.Fatalf("search %q failed: %v", query, err)
		}
		if len(ids) != 1 || ids[0] != editionID {
			t.Errorf("search %q = %v, want [%d]", query, ids, editionID)
		}
	}

	// reindex replaces the row instead of duplicating it
	if err := ReindexEdition(s.DB(), editionID); err != nil {
		t.Fatal(err)
	}
	ids, err := SearchEditions(s.DB(), "darkness", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("reindex duplicated the search row: %v", ids)
	}
}

func TestProviderHitUpsert(t *testing.T) {
	s := newTestStore(t)

	hit := &ProviderHit{Provider: "openlibrary", RemoteID: "OL1M", PayloadJSON: `{"v":1}`, Score: 0.8}
	if err := UpsertProviderHit(s.DB(), hit); err != nil {
		t.Fatal(err)
	}
	hit.PayloadJSON = `{"v":2}`
	hit.Score = 0.9
	if err := UpsertProviderHit(s.DB(), hit); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM provider_hit`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("upsert created %d rows, want 1", count)
	}
	var payload string
	if err := s.DB().QueryRow(`SELECT payload_json FROM provider_hit`).Scan(&payload); err != nil {
		t.Fatal(err)
	}
	if payload != `{"v":2}` {
		t.Errorf("payload not refreshed: %s", payload)
	}
}
