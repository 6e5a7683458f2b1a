// Package ingest drives the discovery pipeline: hash, extract, identify
// against remote catalogs, and persist the resulting catalog graph.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/franz/book-janitor/internal/match"
	"github.com/franz/book-janitor/internal/meta"
	"github.com/franz/book-janitor/internal/provider"
	"github.com/franz/book-janitor/internal/report"
	"github.com/franz/book-janitor/internal/store"
	"github.com/franz/book-janitor/internal/util"
)

// Lookup stages recorded on match events
const (
	StageByISBN = "by_isbn"
	StageSearch = "search"
)

// FileStatus is the per-file outcome of one ingestion
type FileStatus string

const (
	StatusDeduped   FileStatus = "deduped"
	StatusAccepted  FileStatus = "accepted"
	StatusReview    FileStatus = "review"
	StatusUnmatched FileStatus = "unmatched"
)

// Coordinator runs the ingestion pipeline
type Coordinator struct {
	store       *store.Store
	providers   []provider.Client
	concurrency int
	logger      *report.EventLogger
}

// Config holds coordinator configuration
type Config struct {
	Store       *store.Store
	Providers   []provider.Client
	Concurrency int
	Logger      *report.EventLogger
}

// New creates a new Coordinator
func New(cfg *Config) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Coordinator{
		store:       cfg.Store,
		providers:   cfg.Providers,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Result represents ingestion results
type Result struct {
	FilesProcessed int
	FilesDeduped   int
	AutoAccepted   int
	NeedsReview    int
	Unmatched      int
	BytesSeen      int64
	Errors         []error
}

// ScanDirectory walks a directory tree and ingests every supported ebook
func (c *Coordinator) ScanDirectory(ctx context.Context, root string) (*Result, error) {
	util.InfoLog("Starting scan of: %s", root)

	result := &Result{Errors: make([]error, 0)}

	filePaths := make(chan string, 100)

	var processed atomic.Int64
	var deduped atomic.Int64
	var accepted atomic.Int64
	var review atomic.Int64
	var unmatched atomic.Int64
	var bytesSeen atomic.Int64

	var errMu sync.Mutex
	recordErr := func(err error) {
		errMu.Lock()
		result.Errors = append(result.Errors, err)
		errMu.Unlock()
	}

	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Ingesting"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range filePaths {
				select {
				case <-ctx.Done():
					return
				default:
				}

				status, size, err := c.IngestFile(path)
				processed.Add(1)
				if bar != nil {
					bar.Add(1)
				}

				if err != nil {
					util.ErrorLog("Failed to ingest %s: %v", path, err)
					c.logger.LogError(report.EventIngest, path, err)
					recordErr(fmt.Errorf("%s: %w", path, err))
					continue
				}

				bytesSeen.Add(size)
				switch status {
				case StatusDeduped:
					deduped.Add(1)
				case StatusAccepted:
					accepted.Add(1)
				case StatusReview:
					review.Add(1)
				case StatusUnmatched:
					unmatched.Add(1)
				}
			}
		}()
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			util.WarnLog("Error accessing path %s: %v", path, err)
			recordErr(fmt.Errorf("access error: %s: %w", path, err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !meta.IsSupported(path) {
			return nil
		}

		select {
		case filePaths <- path:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	close(filePaths)
	wg.Wait()

	if bar != nil {
		bar.Finish()
	}

	result.FilesProcessed = int(processed.Load())
	result.FilesDeduped = int(deduped.Load())
	result.AutoAccepted = int(accepted.Load())
	result.NeedsReview = int(review.Load())
	result.Unmatched = int(unmatched.Load())
	result.BytesSeen = bytesSeen.Load()

	if walkErr != nil && walkErr != context.Canceled {
		return result, fmt.Errorf("walk error: %w", walkErr)
	}

	util.SuccessLog("Ingest complete: %d files (%s), %d deduped, %d accepted, %d for review, %d unmatched, %d errors",
		result.FilesProcessed, humanize.Bytes(uint64(result.BytesSeen)),
		result.FilesDeduped, result.AutoAccepted, result.NeedsReview,
		result.Unmatched, len(result.Errors))

	return result, nil
}

// IngestFile runs the full pipeline for one file. Hashing, extraction and
// provider lookups happen outside the transaction; the catalog graph is
// then persisted as a single committed-or-rolled-back unit.
func (c *Coordinator) IngestFile(path string) (FileStatus, int64, error) {
	sha, err := util.ContentHash(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash file: %w", err)
	}
	size, _, err := util.GetFileMetadata(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat file: %w", err)
	}

	// Re-discovering known bytes just refreshes the row. The check is
	// repeated inside the transaction, so concurrent workers on the same
	// content cannot insert twice.
	existing, err := store.GetFileBySHA256(c.store.DB(), sha)
	if err != nil {
		return "", 0, err
	}
	if existing != nil {
		err := c.store.Transaction(func(tx *sql.Tx) error {
			return store.TouchFile(tx, existing.ID, path)
		})
		if err != nil {
			return "", 0, err
		}
		util.DebugLog("Already catalogued: %s (%s)", path, sha[:8])
		c.logger.LogDedup(sha, path)
		return StatusDeduped, size, nil
	}

	local, err := c.extract(path)
	if err != nil {
		return "", 0, err
	}

	hits := c.lookup(local)
	ranked := match.Rank(local, hits)
	outcome := match.Reconcile(ranked)

	status := StatusUnmatched
	switch {
	case outcome.AutoAccepted:
		status = StatusAccepted
	case outcome.NeedsReview:
		status = StatusReview
	}

	var editionID int64
	err = c.store.Transaction(func(tx *sql.Tx) error {
		inTx, err := store.GetFileBySHA256(tx, sha)
		if err != nil {
			return err
		}
		if inTx != nil {
			status = StatusDeduped
			return store.TouchFile(tx, inTx.ID, path)
		}
		editionID, err = c.persist(tx, path, sha, size, local, outcome)
		return err
	})
	if err != nil {
		return "", 0, err
	}

	util.DebugLog("Ingested %s: %s (top score %.2f)", path, status, outcome.TopScore)
	c.logger.LogIngest(sha, path, string(status), editionID, outcome.TopScore)
	if outcome.Chosen != nil {
		c.logger.LogIdentify(editionID, outcome.Chosen.Candidate.Source, outcome.TopScore, outcome.AutoAccepted)
	}
	return status, size, nil
}

// extract reads local metadata, falling back to the filename stem when the
// file carries none
func (c *Coordinator) extract(path string) (*match.Local, error) {
	m, err := meta.Extract(path)
	if err != nil {
		return nil, err
	}
	if m.Title == "" {
		m.Title = meta.Stem(path)
	}
	// filenames often carry a bare ISBN; offer the stem to the identifier
	// normalizer alongside whatever the file declares
	identifiers := append(m.Identifiers, meta.Stem(path))
	return match.NewLocal(m.Title, m.Authors, identifiers, m.Language, m.Year), nil
}

// lookup queries the provider chain. ISBN lookups come first; free-text
// search is the fallback when no provider recognizes any local ISBN.
// Provider failures degrade the candidate set instead of failing the file.
func (c *Coordinator) lookup(local *match.Local) []*match.Hit {
	var hits []*match.Hit

	for _, isbn := range local.ISBN13s {
		for _, p := range c.providers {
			candidate, err := p.GetByISBN(isbn)
			if err != nil {
				util.WarnLog("%s ISBN lookup failed: %v", p.Slug(), err)
				continue
			}
			if candidate != nil {
				hits = append(hits, &match.Hit{Stage: StageByISBN, Candidate: candidate})
			}
		}
	}
	if len(hits) > 0 {
		return hits
	}

	query := strings.TrimSpace(local.Title + " " + strings.Join(local.Authors, " "))
	if query == "" {
		return nil
	}
	for _, p := range c.providers {
		candidates, err := p.Search(query)
		if err != nil {
			util.WarnLog("%s search failed: %v", p.Slug(), err)
			continue
		}
		for _, candidate := range candidates {
			hits = append(hits, &match.Hit{Stage: StageSearch, Candidate: candidate})
		}
	}
	return hits
}

// persist writes the catalog graph for one newly ingested file and returns
// the new edition's ID
func (c *Coordinator) persist(tx *sql.Tx, path, sha string, size int64, local *match.Local, outcome *match.Outcome) (int64, error) {
	title := local.Title
	authors := local.Authors
	publisher := ""
	year := local.Year
	language := local.Language
	coverURL := ""

	var chosen *provider.Candidate
	if outcome.Chosen != nil {
		chosen = outcome.Chosen.Candidate
		if chosen.Title != "" {
			title = chosen.Title
		}
		if len(chosen.Authors) > 0 {
			authors = chosen.Authors
		}
		publisher = chosen.Publisher
		if chosen.Year != 0 {
			year = chosen.Year
		}
		if chosen.Language != "" {
			language = chosen.Language
		}
		coverURL = chosen.CoverURL
	}
	if title == "" {
		title = meta.Stem(path)
	}

	sortTitle := match.Normalize(title)
	work, err := store.GetWorkBySortTitle(tx, sortTitle)
	if err != nil {
		return 0, err
	}
	if work == nil {
		work = &store.Work{Title: title, SortTitle: sortTitle, Language: language}
		if err := store.InsertWork(tx, work); err != nil {
			return 0, err
		}
	}

	for _, name := range authors {
		if name == "" {
			continue
		}
		author, err := store.GetAuthorByName(tx, name)
		if err != nil {
			return 0, err
		}
		if author == nil {
			author = &store.Author{Name: name, SortName: sortName(name)}
			if err := store.InsertAuthor(tx, author); err != nil {
				return 0, err
			}
		}
		if err := store.LinkWorkAuthor(tx, work.ID, author.ID); err != nil {
			return 0, err
		}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	edition := &store.Edition{
		WorkID:    work.ID,
		Title:     title,
		Publisher: publisher,
		PubYear:   year,
		Format:    ext,
		Language:  language,
		CoverURL:  coverURL,
	}
	if err := store.InsertEdition(tx, edition); err != nil {
		return 0, err
	}

	isbns := local.ISBN13s
	if chosen != nil {
		if isbn := match.CanonicalISBN13(chosen.IDs["ISBN13"]); isbn != "" {
			isbns = append(isbns, isbn)
		}
	}
	seen := make(map[string]bool)
	for _, isbn := range isbns {
		if seen[isbn] {
			continue
		}
		seen[isbn] = true
		if err := store.InsertIdentifier(tx, edition.ID, "ISBN13", isbn); err != nil {
			return 0, err
		}
	}
	if chosen != nil {
		for _, scheme := range []string{"OLID", "GBID", "BBID"} {
			if value := chosen.IDs[scheme]; value != "" {
				if err := store.InsertIdentifier(tx, edition.ID, scheme, value); err != nil {
					return 0, err
				}
			}
		}
	}

	file := &store.File{
		EditionID: edition.ID,
		Path:      path,
		Ext:       ext,
		SizeBytes: size,
		SHA256:    sha,
	}
	if err := store.InsertFile(tx, file); err != nil {
		return 0, err
	}

	if chosen != nil {
		hit := &store.ProviderHit{
			Provider:    chosen.Source,
			RemoteID:    chosen.RemoteID(),
			EditionID:   edition.ID,
			PayloadJSON: string(chosen.Payload),
			Score:       outcome.Chosen.Score,
		}
		if err := store.UpsertProviderHit(tx, hit); err != nil {
			return 0, err
		}
	}

	identifyResult := &store.IdentifyResult{
		EditionID:      edition.ID,
		AutoAccepted:   outcome.AutoAccepted,
		TopScore:       outcome.TopScore,
		CandidatesJSON: match.EncodeRanked(outcome.Ranked),
	}
	if chosen != nil {
		identifyResult.ChosenProvider = chosen.Source
	}
	if err := store.UpsertIdentifyResult(tx, identifyResult); err != nil {
		return 0, err
	}

	events := make([]*store.MatchEvent, 0, len(outcome.Ranked))
	for rank, sc := range outcome.Ranked {
		events = append(events, &store.MatchEvent{
			EditionID:     edition.ID,
			Stage:         sc.Stage,
			Provider:      sc.Candidate.Source,
			CandidateRank: rank,
			Score:         sc.Score,
			Accepted:      outcome.Chosen == sc,
		})
	}
	if err := store.ReplaceMatchEvents(tx, edition.ID, events); err != nil {
		return 0, err
	}

	if err := store.ReindexEdition(tx, edition.ID); err != nil {
		return 0, err
	}
	return edition.ID, nil
}

// sortName turns "First Last" into "Last, First" for shelf ordering
func sortName(name string) string {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return name
	}
	last := fields[len(fields)-1]
	return last + ", " + strings.Join(fields[:len(fields)-1], " ")
}
