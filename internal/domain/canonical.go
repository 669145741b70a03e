package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// okina matches the ʻokina and the apostrophes commonly typed in its place.
var okina = runes.Predicate(func(r rune) bool {
	switch r {
	case 'ʻ', 'ʼ', '’', '‘', '\'', '`':
		return true
	}
	return false
})

// fold strips diacritics and ʻokina, lower-cases, and collapses whitespace.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(okina), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.Join(strings.Fields(out), " "))
}

// Canonicalize normalizes a place name for matching across datasets:
// "Kauaʻi", "KAUAI", and "kauai’i" all canonicalize to "kauai".
// Runs of the same vowel collapse to one because ASCII spellings either drop
// the ʻokina between two vowels or double the vowel around it.
// Canonicalize is idempotent.
func Canonicalize(s string) string {
	folded := fold(s)

	var b strings.Builder
	b.Grow(len(folded))
	var prev rune
	for _, r := range folded {
		if r == prev && isVowel(r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// SameName reports whether two names canonicalize to the same string.
func SameName(a, b string) bool {
	return Canonicalize(a) == Canonicalize(b)
}

// Slug returns a UI-safe identifier: folded, with runs of anything other than
// letters and digits replaced by a single '-'.
func Slug(s string) string {
	folded := fold(s)

	var b strings.Builder
	b.Grow(len(folded))
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
