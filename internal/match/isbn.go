package match

import "strings"

// NormalizeISBN strips separators and noise from an identifier string,
// returning a bare digit sequence (final X allowed for ISBN-10)
func NormalizeISBN(raw string) string {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"urn:isbn:", "isbn:", "isbn-13:", "isbn-10:", "isbn13:", "isbn10:"} {
		if strings.HasPrefix(strings.ToLower(s), prefix) {
			s = s[len(prefix):]
			break
		}
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		}
	}
	return b.String()
}

// ValidateISBN13 checks the weighted checksum of a 13-digit ISBN
func ValidateISBN13(isbn string) bool {
	if len(isbn) != 13 {
		return false
	}
	sum := 0
	for i, r := range isbn {
		if r < '0' || r > '9' {
			return false
		}
		digit := int(r - '0')
		if i%2 == 0 {
			sum += digit
		} else {
			sum += digit * 3
		}
	}
	return sum%10 == 0
}

// ISBN10To13 converts a valid ISBN-10 to its ISBN-13 form by prefixing
// 978 and recomputing the check digit. Returns "" for input that is not
// ten characters.
func ISBN10To13(isbn10 string) string {
	if len(isbn10) != 10 {
		return ""
	}
	core := "978" + isbn10[:9]
	sum := 0
	for i, r := range core {
		if r < '0' || r > '9' {
			return ""
		}
		digit := int(r - '0')
		if i%2 == 0 {
			sum += digit
		} else {
			sum += digit * 3
		}
	}
	check := (10 - sum%10) % 10
	return core + string(rune('0'+check))
}

// CanonicalISBN13 normalizes an identifier of either length to a validated
// ISBN-13, or "" when it is not an ISBN at all
func CanonicalISBN13(raw string) string {
	isbn := NormalizeISBN(raw)
	switch len(isbn) {
	case 13:
		if ValidateISBN13(isbn) {
			return isbn
		}
	case 10:
		if converted := ISBN10To13(isbn); converted != "" && ValidateISBN13(converted) {
			return converted
		}
	}
	return ""
}

// ExtractISBN13s pulls every valid ISBN-13 out of a list of raw
// identifier strings, deduplicated and in encounter order
func ExtractISBN13s(identifiers []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range identifiers {
		isbn := CanonicalISBN13(raw)
		if isbn == "" || seen[isbn] {
			continue
		}
		seen[isbn] = true
		out = append(out, isbn)
	}
	return out
}
