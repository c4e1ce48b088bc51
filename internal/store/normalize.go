package store

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// removeDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func removeDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName normalizes a name for forgiving comparison (lowercase, no
// diacritics, spaces for dashes). Used only for read-only lookups such as
// list filtering and identify output; writes always use the exact name.
func NormalizeName(name string) string {
	name = removeDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}

// MatchesName reports whether a stored username matches a query under
// normalization.
func MatchesName(username, query string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(NormalizeName(username), NormalizeName(query))
}
