// Package match scores remote catalog candidates against locally extracted
// metadata and decides which, if any, identifies a file.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.M)),
)

// Normalize folds a title or author string for comparison: compatibility
// decomposition with diacritics removed, everything but letters, digits
// and spaces dropped, lowercased, whitespace collapsed.
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeAuthors normalizes and joins author names into one comparable
// string, preserving order
func NormalizeAuthors(authors []string) string {
	parts := make([]string, 0, len(authors))
	for _, a := range authors {
		if n := Normalize(a); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, " ")
}

// NormalizeLanguage reduces a language tag or name to a comparable token,
// so "en", "eng" and "English" all land on "en"
func NormalizeLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	switch l {
	case "eng", "english", "en-us", "en-gb":
		return "en"
	case "ger", "deu", "german":
		return "de"
	case "fre", "fra", "french":
		return "fr"
	case "spa", "spanish", "es-es":
		return "es"
	case "por", "portuguese", "pt-br", "pt-pt":
		return "pt"
	case "ita", "italian":
		return "it"
	}
	if len(l) > 2 && l[2] == '-' {
		return l[:2]
	}
	return l
}
