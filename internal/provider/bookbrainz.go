package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/franz/book-janitor/internal/util"
)

// BookBrainzBaseURL is the BookBrainz web service base URL
const BookBrainzBaseURL = "https://bookbrainz.org/ws/1"

// BookBrainz queries the BookBrainz edition search endpoint
type BookBrainz struct {
	BaseURL    string
	httpClient *http.Client
}

// NewBookBrainz creates a new BookBrainz client
func NewBookBrainz() *BookBrainz {
	return &BookBrainz{
		BaseURL:    BookBrainzBaseURL,
		httpClient: newHTTPClient(),
	}
}

// Slug identifies this provider in persisted records
func (p *BookBrainz) Slug() string { return "bookbrainz" }

// bbEntity mirrors the subset of the BookBrainz edition schema we consume.
// The remote nests the entity under different keys depending on endpoint
// version, so search results are probed key by key.
type bbEntity struct {
	BBID         string          `json:"bbid"`
	Title        string          `json:"title"`
	DefaultAlias json.RawMessage `json:"defaultAlias"`
	AuthorCredits []struct {
		Name  string `json:"name"`
		Alias struct {
			Name string `json:"name"`
		} `json:"alias"`
	} `json:"authorCredits"`
	IdentifierSet struct {
		Identifiers []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"identifiers"`
	} `json:"identifierSet"`
	PublisherSet struct {
		Publishers []struct {
			Name string `json:"name"`
		} `json:"publishers"`
	} `json:"publisherSet"`
	PublicationDate      string `json:"publicationDate"`
	FirstPublicationDate string `json:"firstPublicationDate"`
}

type bbAlias struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

type bbSearchResult struct {
	Results []struct {
		Entity  json.RawMessage `json:"entity"`
		Edition json.RawMessage `json:"edition"`
	} `json:"results"`
}

// GetByISBN looks up a single edition by ISBN-13
func (p *BookBrainz) GetByISBN(isbn13 string) (*Candidate, error) {
	hits, err := p.search(isbn13, 1)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		util.DebugLog("BookBrainz: no record for ISBN %s", isbn13)
		return nil, nil
	}
	return hits[0], nil
}

// Search performs a free-text query
func (p *BookBrainz) Search(query string) ([]*Candidate, error) {
	return p.search(query, SearchLimit)
}

func (p *BookBrainz) search(query string, limit int) ([]*Candidate, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("fmt", "json")
	urlStr := fmt.Sprintf("%s/search/edition?%s", p.BaseURL, params.Encode())

	util.DebugLog("BookBrainz API: query '%s'", query)

	req, err := http.NewRequest("GET", urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var result bbSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	hits := make([]*Candidate, 0, len(result.Results))
	for _, item := range result.Results {
		raw := item.Entity
		if len(raw) == 0 {
			raw = item.Edition
		}
		if len(raw) == 0 {
			continue
		}
		candidate := p.buildCandidate(raw)
		if candidate != nil {
			hits = append(hits, candidate)
		}
	}
	return hits, nil
}

func (p *BookBrainz) buildCandidate(raw json.RawMessage) *Candidate {
	var entity bbEntity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil
	}

	alias := decodeAlias(entity.DefaultAlias)
	title := entity.Title
	if title == "" {
		title = alias.Name
	}
	if title == "" {
		return nil
	}

	var authors []string
	for _, credit := range entity.AuthorCredits {
		name := credit.Name
		if name == "" {
			name = credit.Alias.Name
		}
		if name != "" {
			authors = append(authors, name)
		}
	}

	ids := map[string]string{"BBID": entity.BBID}
	for _, identifier := range entity.IdentifierSet.Identifiers {
		scheme := strings.ToUpper(identifier.Type)
		if identifier.Value == "" {
			continue
		}
		if strings.Contains(scheme, "ISBN") && len(identifier.Value) >= 10 {
			ids["ISBN13"] = strings.ReplaceAll(identifier.Value, "-", "")
		}
	}

	publisher := ""
	if len(entity.PublisherSet.Publishers) > 0 {
		publisher = entity.PublisherSet.Publishers[0].Name
	}

	date := entity.PublicationDate
	if date == "" {
		date = entity.FirstPublicationDate
	}

	return &Candidate{
		Source:    p.Slug(),
		Title:     title,
		Authors:   authors,
		Year:      yearFromDate(date),
		Publisher: publisher,
		Language:  alias.Language,
		IDs:       ids,
		Payload:   raw,
	}
}

// decodeAlias handles defaultAlias arriving as either an object or a list
func decodeAlias(raw json.RawMessage) bbAlias {
	var alias bbAlias
	if len(raw) == 0 {
		return alias
	}
	if raw[0] == '[' {
		var aliases []bbAlias
		if err := json.Unmarshal(raw, &aliases); err == nil && len(aliases) > 0 {
			return aliases[0]
		}
		return alias
	}
	json.Unmarshal(raw, &alias)
	return alias
}
