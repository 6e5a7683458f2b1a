package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/franz/book-janitor/internal/util"
)

// OpenLibraryBaseURL is the Open Library API base URL
const OpenLibraryBaseURL = "https://openlibrary.org"

// UserAgent identifies this application to the remote catalogs
const UserAgent = "BLC-BookLibraryCataloguer/1.0 (https://github.com/franz/book-janitor)"

// OpenLibrary queries the Open Library search API
type OpenLibrary struct {
	BaseURL    string
	httpClient *http.Client
}

// NewOpenLibrary creates a new Open Library client
func NewOpenLibrary() *OpenLibrary {
	return &OpenLibrary{
		BaseURL:    OpenLibraryBaseURL,
		httpClient: newHTTPClient(),
	}
}

// Slug identifies this provider in persisted records
func (p *OpenLibrary) Slug() string { return "openlibrary" }

// olDoc is one document in an Open Library search response
type olDoc struct {
	Title            string   `json:"title"`
	AuthorName       []string `json:"author_name"`
	FirstPublishYear int      `json:"first_publish_year"`
	Publisher        []string `json:"publisher"`
	Language         []string `json:"language"`
	EditionKey       []string `json:"edition_key"`
	ISBN             []string `json:"isbn"`
}

type olSearchResult struct {
	Docs []json.RawMessage `json:"docs"`
}

// GetByISBN looks up a single record by ISBN-13
func (p *OpenLibrary) GetByISBN(isbn13 string) (*Candidate, error) {
	docs, err := p.search(fmt.Sprintf("isbn:%s", isbn13), 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		util.DebugLog("OpenLibrary: no record for ISBN %s", isbn13)
		return nil, nil
	}

	candidate, err := p.buildCandidate(docs[0])
	if err != nil {
		return nil, err
	}
	candidate.IDs["ISBN13"] = isbn13
	candidate.CoverURL = fmt.Sprintf("https://covers.openlibrary.org/b/isbn/%s-L.jpg", isbn13)
	return candidate, nil
}

// Search performs a free-text query
func (p *OpenLibrary) Search(query string) ([]*Candidate, error) {
	docs, err := p.search(query, SearchLimit)
	if err != nil {
		return nil, err
	}

	hits := make([]*Candidate, 0, len(docs))
	for _, doc := range docs {
		candidate, err := p.buildCandidate(doc)
		if err != nil {
			continue
		}
		hits = append(hits, candidate)
	}
	return hits, nil
}

func (p *OpenLibrary) search(query string, limit int) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprintf("%d", limit))
	urlStr := fmt.Sprintf("%s/search.json?%s", p.BaseURL, params.Encode())

	util.DebugLog("OpenLibrary API: query '%s'", query)

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

	var result olSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Docs) > limit {
		result.Docs = result.Docs[:limit]
	}
	return result.Docs, nil
}

func (p *OpenLibrary) buildCandidate(raw json.RawMessage) (*Candidate, error) {
	var doc olDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	ids := map[string]string{}
	if len(doc.EditionKey) > 0 {
		ids["OLID"] = doc.EditionKey[0]
	}
	if len(doc.ISBN) > 0 {
		ids["ISBN13"] = doc.ISBN[0]
	}

	candidate := &Candidate{
		Source:  p.Slug(),
		Title:   doc.Title,
		Authors: doc.AuthorName,
		Year:    doc.FirstPublishYear,
		IDs:     ids,
		Payload: raw,
	}
	if len(doc.Publisher) > 0 {
		candidate.Publisher = doc.Publisher[0]
	}
	if len(doc.Language) > 0 {
		candidate.Language = doc.Language[0]
	}
	return candidate, nil
}
