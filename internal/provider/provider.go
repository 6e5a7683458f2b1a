// Package provider implements clients for the remote bibliographic catalogs
// used to identify books. Each remote maps its own schema into the common
// Candidate shape; callers treat all providers uniformly.
package provider

import (
	"encoding/json"
	"net/http"
	"time"
)

// RequestTimeout bounds every provider HTTP request
const RequestTimeout = 15 * time.Second

// SearchLimit caps free-text search results per provider.
// The remote's own ranking is preserved; we never re-rank here.
const SearchLimit = 5

// Candidate is a bibliographic record fetched from one external catalog.
// Payload preserves the raw remote document verbatim for audit.
type Candidate struct {
	Source    string            `json:"provider"`
	Title     string            `json:"title"`
	Authors   []string          `json:"authors"`
	Year      int               `json:"year,omitempty"`
	Publisher string            `json:"publisher,omitempty"`
	Language  string            `json:"language,omitempty"`
	IDs       map[string]string `json:"ids"`
	CoverURL  string            `json:"cover_url,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
}

// RemoteID returns the most specific identifier the candidate carries,
// used as the provider-hit cache key
func (c *Candidate) RemoteID() string {
	for _, key := range []string{"OLID", "GBID", "BBID", "ISBN13"} {
		if v := c.IDs[key]; v != "" {
			return v
		}
	}
	for _, v := range c.IDs {
		if v != "" {
			return v
		}
	}
	return ""
}

// Client is the two-operation contract every remote catalog satisfies
type Client interface {
	// Slug identifies the provider in persisted records
	Slug() string

	// GetByISBN performs a high-confidence direct lookup.
	// Returns (nil, nil) when the catalog has no record for the ISBN.
	GetByISBN(isbn13 string) (*Candidate, error)

	// Search performs a free-text query and returns up to SearchLimit
	// candidates in the remote's own ranking order
	Search(query string) ([]*Candidate, error)
}

// newHTTPClient returns the shared per-provider HTTP client
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: RequestTimeout,
	}
}

// yearFromDate extracts a year from a free-form date string
// ("2001-05-17", "May 2001", "2001")
func yearFromDate(value string) int {
	digits := make([]byte, 0, 4)
	for i := 0; i < len(value); i++ {
		if value[i] >= '0' && value[i] <= '9' {
			digits = append(digits, value[i])
			if len(digits) == 4 {
				break
			}
		}
	}
	if len(digits) < 4 {
		return 0
	}
	year := 0
	for _, d := range digits {
		year = year*10 + int(d-'0')
	}
	return year
}
