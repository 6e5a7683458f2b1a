// Package organize plans and executes library layout changes as persisted,
// reversible manifests.
package organize

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/franz/book-janitor/internal/match"
	"github.com/franz/book-janitor/internal/store"
)

// DefaultTemplate is the destination layout used when none is configured
const DefaultTemplate = "{author_last}/{title}.{ext}"

// fallbackToken substitutes for any path segment that renders empty, so a
// book with no usable metadata still gets a stable destination
const fallbackToken = "untitled"

// NameContext holds the slugified fields a destination template can reference
type NameContext struct {
	Title      string
	Author     string
	AuthorLast string
	Year       string
	ISBN13     string
	Format     string
	Ext        string
}

// BuildContext assembles the template fields for one catalogued file
func BuildContext(work *store.Work, authors []*store.Author, edition *store.Edition, isbns []string, file *store.File) *NameContext {
	ctx := &NameContext{
		Ext:    strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Path)), "."),
		Format: edition.Format,
	}

	title := edition.Title
	if title == "" && work != nil {
		title = work.Title
	}
	ctx.Title = Slugify(title)

	if len(authors) > 0 {
		ctx.Author = Slugify(authors[0].Name)
		fields := strings.Fields(authors[0].Name)
		if len(fields) > 0 {
			ctx.AuthorLast = Slugify(fields[len(fields)-1])
		}
	}

	if edition.PubYear != 0 {
		ctx.Year = strconv.Itoa(edition.PubYear)
	}
	if len(isbns) > 0 {
		ctx.ISBN13 = isbns[0]
	}
	return ctx
}

// Slugify folds a metadata field into a filesystem-safe token: diacritics
// stripped, lowercased, word-separated by underscores
func Slugify(s string) string {
	return strings.ReplaceAll(match.Normalize(s), " ", "_")
}

// Render expands a destination template under a root directory. Every path
// segment that comes out empty is replaced by the fallback token.
func Render(root, template string, ctx *NameContext) string {
	replacer := strings.NewReplacer(
		"{title}", ctx.Title,
		"{author}", ctx.Author,
		"{author_last}", ctx.AuthorLast,
		"{year}", ctx.Year,
		"{isbn13}", ctx.ISBN13,
		"{format}", ctx.Format,
		"{ext}", ctx.Ext,
	)
	rendered := replacer.Replace(template)

	segments := strings.Split(rendered, "/")
	for i, segment := range segments {
		cleaned := strings.Trim(segment, " .")
		if i == len(segments)-1 {
			// keep the extension out of the emptiness check
			stem := strings.TrimSuffix(cleaned, filepath.Ext(cleaned))
			if strings.Trim(stem, " .") == "" {
				cleaned = fallbackToken + filepath.Ext(cleaned)
			}
		} else if cleaned == "" {
			cleaned = fallbackToken
		}
		segments[i] = cleaned
	}

	return filepath.Join(append([]string{root}, segments...)...)
}
