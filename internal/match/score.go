package match

import (
	"encoding/json"
	"sort"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/franz/book-janitor/internal/provider"
	"github.com/franz/book-janitor/internal/util"
)

// Decision thresholds on the composite score
const (
	AcceptThreshold = 0.85
	ReviewThreshold = 0.65
)

// Component weights of the composite score
const (
	titleWeight     = 0.35
	authorWeight    = 0.35
	yearWeight      = 0.10
	languageWeight  = 0.05
	publisherWeight = 0.05
)

// Hit is one candidate together with the lookup stage that produced it
type Hit struct {
	Stage     string
	Candidate *provider.Candidate
}

// ScoredCandidate pairs a candidate with its composite score
type ScoredCandidate struct {
	Candidate *provider.Candidate `json:"candidate"`
	Score     float64             `json:"score"`
	Stage     string              `json:"stage"`
}

// Local is the normalized view of one file's extracted metadata that
// candidates are scored against
type Local struct {
	Title    string
	Authors  []string
	ISBN13s  []string
	Language string
	Year     int
}

// NewLocal builds the comparison view from raw extracted fields
func NewLocal(title string, authors, identifiers []string, language string, year int) *Local {
	return &Local{
		Title:    title,
		Authors:  authors,
		ISBN13s:  ExtractISBN13s(identifiers),
		Language: language,
		Year:     year,
	}
}

// ScoreCandidate computes the composite score of one candidate. An exact
// ISBN-13 match short-circuits to a perfect score; otherwise title and
// author similarity dominate, with year, language and publisher presence
// as minor signals.
func ScoreCandidate(local *Local, candidate *provider.Candidate) float64 {
	if remoteISBN := CanonicalISBN13(candidate.IDs["ISBN13"]); remoteISBN != "" {
		for _, localISBN := range local.ISBN13s {
			if localISBN == remoteISBN {
				return 1.0
			}
		}
	}

	score := 0.0

	localTitle := Normalize(local.Title)
	remoteTitle := Normalize(candidate.Title)
	if localTitle != "" && remoteTitle != "" {
		score += titleWeight * float64(fuzzy.WRatio(localTitle, remoteTitle)) / 100.0
	}

	localAuthors := NormalizeAuthors(local.Authors)
	remoteAuthors := NormalizeAuthors(candidate.Authors)
	if localAuthors != "" && remoteAuthors != "" {
		score += authorWeight * float64(fuzzy.TokenSetRatio(localAuthors, remoteAuthors)) / 100.0
	}

	if local.Year != 0 && candidate.Year != 0 {
		diff := local.Year - candidate.Year
		if diff < 0 {
			diff = -diff
		}
		if diff <= 1 {
			score += yearWeight
		}
	}

	if local.Language != "" && candidate.Language != "" &&
		NormalizeLanguage(local.Language) == NormalizeLanguage(candidate.Language) {
		score += languageWeight
	}

	if candidate.Publisher != "" {
		score += publisherWeight
	}

	return score
}

// Rank scores every hit and sorts descending. Ties keep encounter order,
// so the provider chain's priority decides between equal candidates.
func Rank(local *Local, hits []*Hit) []*ScoredCandidate {
	ranked := make([]*ScoredCandidate, 0, len(hits))
	for _, hit := range hits {
		ranked = append(ranked, &ScoredCandidate{
			Candidate: hit.Candidate,
			Score:     ScoreCandidate(local, hit.Candidate),
			Stage:     hit.Stage,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Outcome of reconciling a ranked candidate list
type Outcome struct {
	Ranked       []*ScoredCandidate
	Chosen       *ScoredCandidate
	TopScore     float64
	AutoAccepted bool
	NeedsReview  bool
}

// Reconcile applies the decision thresholds to a ranked list. At or above
// the accept threshold the top candidate is adopted outright; inside the
// review band it is held for a human; below that the scores are recorded
// for audit and nothing is adopted.
func Reconcile(ranked []*ScoredCandidate) *Outcome {
	outcome := &Outcome{Ranked: ranked}
	if len(ranked) == 0 {
		return outcome
	}

	top := ranked[0]
	outcome.TopScore = top.Score
	switch {
	case top.Score >= AcceptThreshold:
		outcome.Chosen = top
		outcome.AutoAccepted = true
	case top.Score >= ReviewThreshold:
		outcome.NeedsReview = true
	}
	return outcome
}

// EncodeRanked serializes a ranked candidate list for persistence
func EncodeRanked(ranked []*ScoredCandidate) string {
	data, err := json.Marshal(ranked)
	if err != nil {
		util.WarnLog("Failed to encode candidate list: %v", err)
		return "[]"
	}
	return string(data)
}

// DecodeRanked deserializes a persisted candidate list. Corrupt JSON
// decodes to an empty list rather than failing the caller.
func DecodeRanked(data string) []*ScoredCandidate {
	if data == "" {
		return nil
	}
	var ranked []*ScoredCandidate
	if err := json.Unmarshal([]byte(data), &ranked); err != nil {
		util.WarnLog("Corrupt candidate list, treating as empty: %v", err)
		return nil
	}
	return ranked
}
