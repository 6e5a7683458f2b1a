// Package review manages the human decision queue for identifications that
// scored too low to auto-accept but too high to discard.
package review

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/franz/book-janitor/internal/match"
	"github.com/franz/book-janitor/internal/store"
	"github.com/franz/book-janitor/internal/util"
)

// ErrNotFound marks a review item that does not exist
var ErrNotFound = errors.New("review item not found")

// ErrInvalidCandidate marks a resolve request whose candidate index does not
// exist in the ranked list
var ErrInvalidCandidate = errors.New("candidate index out of range")

// Queue serves and resolves pending identifications
type Queue struct {
	store *store.Store
}

// New creates a new Queue
func New(s *store.Store) *Queue {
	return &Queue{store: s}
}

// Item is one pending identification with its ranked candidates decoded
type Item struct {
	EditionID  int64
	Edition    *store.Edition
	TopScore   float64
	Candidates []*match.ScoredCandidate
}

// Band is a half-open score interval [Min, Max)
type Band struct {
	Min float64
	Max float64
}

// DefaultBand is the review band between the decision thresholds
var DefaultBand = Band{Min: match.ReviewThreshold, Max: match.AcceptThreshold}

// List returns pending identifications inside a score band, oldest first,
// with the total count for pagination. A zero band means the default, and a
// zero upper bound alone takes the default upper bound, so a lower-only
// override never yields an empty interval. Explicit bands widen or narrow
// what is visible, which is also how sub-threshold audit entries can be
// inspected.
func (q *Queue) List(band Band, limit, offset int) ([]*Item, int, error) {
	if band == (Band{}) {
		band = DefaultBand
	} else if band.Max == 0 {
		band.Max = DefaultBand.Max
	}
	if limit <= 0 {
		limit = 20
	}

	results, total, err := store.ListPendingIdentifications(q.store.DB(), band.Min, band.Max, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*Item, 0, len(results))
	for _, r := range results {
		edition, err := store.GetEdition(q.store.DB(), r.EditionID)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, &Item{
			EditionID:  r.EditionID,
			Edition:    edition,
			TopScore:   r.TopScore,
			Candidates: match.DecodeRanked(r.CandidatesJSON),
		})
	}
	return items, total, nil
}

// Get returns one pending identification by edition ID
func (q *Queue) Get(editionID int64) (*Item, error) {
	result, err := store.GetIdentifyResult(q.store.DB(), editionID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrNotFound
	}
	edition, err := store.GetEdition(q.store.DB(), editionID)
	if err != nil {
		return nil, err
	}
	return &Item{
		EditionID:  editionID,
		Edition:    edition,
		TopScore:   result.TopScore,
		Candidates: match.DecodeRanked(result.CandidatesJSON),
	}, nil
}

// Resolve adopts the candidate at the given rank for an edition. The
// edition takes the candidate's metadata, the identification is re-recorded
// as accepted, and the search index is refreshed. Resolving an already
// resolved edition with the same candidate is a no-op in effect, so retries
// are safe.
func (q *Queue) Resolve(editionID int64, candidateIndex int) error {
	result, err := store.GetIdentifyResult(q.store.DB(), editionID)
	if err != nil {
		return err
	}
	if result == nil {
		return ErrNotFound
	}

	candidates := match.DecodeRanked(result.CandidatesJSON)
	if candidateIndex < 0 || candidateIndex >= len(candidates) {
		return fmt.Errorf("%w: %d (have %d)", ErrInvalidCandidate, candidateIndex, len(candidates))
	}
	chosen := candidates[candidateIndex]

	err = q.store.Transaction(func(tx *sql.Tx) error {
		edition, err := store.GetEdition(tx, editionID)
		if err != nil {
			return err
		}
		if edition == nil {
			return ErrNotFound
		}

		candidate := chosen.Candidate
		if candidate.Title != "" {
			edition.Title = candidate.Title
		}
		if candidate.Publisher != "" {
			edition.Publisher = candidate.Publisher
		}
		if candidate.Year != 0 {
			edition.PubYear = candidate.Year
		}
		if candidate.Language != "" {
			edition.Language = candidate.Language
		}
		if candidate.CoverURL != "" {
			edition.CoverURL = candidate.CoverURL
		}
		if err := store.UpdateEdition(tx, edition); err != nil {
			return err
		}

		if isbn := match.CanonicalISBN13(candidate.IDs["ISBN13"]); isbn != "" {
			if err := store.InsertIdentifier(tx, editionID, "ISBN13", isbn); err != nil {
				return err
			}
		}

		hit := &store.ProviderHit{
			Provider:    candidate.Source,
			RemoteID:    candidate.RemoteID(),
			EditionID:   editionID,
			PayloadJSON: string(candidate.Payload),
			Score:       chosen.Score,
		}
		if err := store.UpsertProviderHit(tx, hit); err != nil {
			return err
		}

		result.AutoAccepted = true
		result.ChosenProvider = candidate.Source
		result.TopScore = chosen.Score
		if err := store.UpsertIdentifyResult(tx, result); err != nil {
			return err
		}

		// same audit trail an auto-accept writes: the full ranked list,
		// accepted flag on the adopted candidate
		events := make([]*store.MatchEvent, 0, len(candidates))
		for rank, sc := range candidates {
			events = append(events, &store.MatchEvent{
				EditionID:     editionID,
				Stage:         sc.Stage,
				Provider:      sc.Candidate.Source,
				CandidateRank: rank,
				Score:         sc.Score,
				Accepted:      rank == candidateIndex,
			})
		}
		if err := store.ReplaceMatchEvents(tx, editionID, events); err != nil {
			return err
		}

		return store.ReindexEdition(tx, editionID)
	})
	if err != nil {
		return err
	}

	util.SuccessLog("Edition %d resolved to %s candidate %d", editionID, chosen.Candidate.Source, candidateIndex)
	return nil
}

// Reject freezes an identification without adopting any candidate. The
// record drops out of the pending queue and keeps its ranked list for
// audit.
func (q *Queue) Reject(editionID int64) error {
	result, err := store.GetIdentifyResult(q.store.DB(), editionID)
	if err != nil {
		return err
	}
	if result == nil {
		return ErrNotFound
	}

	err = q.store.Transaction(func(tx *sql.Tx) error {
		result.AutoAccepted = true
		result.ChosenProvider = ""
		return store.UpsertIdentifyResult(tx, result)
	})
	if err != nil {
		return err
	}

	util.InfoLog("Edition %d left as extracted", editionID)
	return nil
}
