package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/franz/book-janitor/internal/util"
)

// GoogleBooksBaseURL is the Google Books volumes API endpoint
const GoogleBooksBaseURL = "https://www.googleapis.com/books/v1/volumes"

// GoogleBooks queries the Google Books volumes API
type GoogleBooks struct {
	BaseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGoogleBooks creates a new Google Books client.
// The API key is optional; anonymous requests are rate-limited harder.
func NewGoogleBooks(apiKey string) *GoogleBooks {
	return &GoogleBooks{
		BaseURL:    GoogleBooksBaseURL,
		apiKey:     apiKey,
		httpClient: newHTTPClient(),
	}
}

// Slug identifies this provider in persisted records
func (p *GoogleBooks) Slug() string { return "google_books" }

type gbVolume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title         string   `json:"title"`
		Authors       []string `json:"authors"`
		Publisher     string   `json:"publisher"`
		PublishedDate string   `json:"publishedDate"`
		Language      string   `json:"language"`
		ImageLinks    struct {
			Thumbnail string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

type gbResult struct {
	Items []json.RawMessage `json:"items"`
}

// GetByISBN looks up a single volume by ISBN-13
func (p *GoogleBooks) GetByISBN(isbn13 string) (*Candidate, error) {
	items, err := p.request(fmt.Sprintf("isbn:%s", isbn13), 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		util.DebugLog("Google Books: no record for ISBN %s", isbn13)
		return nil, nil
	}

	candidate, err := p.buildCandidate(items[0])
	if err != nil {
		return nil, err
	}
	candidate.IDs["ISBN13"] = isbn13
	return candidate, nil
}

// Search performs a free-text query
func (p *GoogleBooks) Search(query string) ([]*Candidate, error) {
	items, err := p.request(query, SearchLimit)
	if err != nil {
		return nil, err
	}

	hits := make([]*Candidate, 0, len(items))
	for _, item := range items {
		candidate, err := p.buildCandidate(item)
		if err != nil {
			continue
		}
		hits = append(hits, candidate)
	}
	return hits, nil
}

func (p *GoogleBooks) request(query string, maxResults int) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", fmt.Sprintf("%d", maxResults))
	if p.apiKey != "" {
		params.Set("key", p.apiKey)
	}
	urlStr := fmt.Sprintf("%s?%s", p.BaseURL, params.Encode())

	util.DebugLog("Google Books API: query '%s'", query)

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

	var result gbResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Items) > maxResults {
		result.Items = result.Items[:maxResults]
	}
	return result.Items, nil
}

func (p *GoogleBooks) buildCandidate(raw json.RawMessage) (*Candidate, error) {
	var item gbVolume
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to decode volume: %w", err)
	}

	info := item.VolumeInfo
	return &Candidate{
		Source:    p.Slug(),
		Title:     info.Title,
		Authors:   info.Authors,
		Year:      yearFromDate(info.PublishedDate),
		Publisher: info.Publisher,
		Language:  info.Language,
		IDs:       map[string]string{"GBID": item.ID},
		CoverURL:  info.ImageLinks.Thumbnail,
		Payload:   raw,
	}, nil
}
