// Package normalize folds free-text names and flag values so that values
// typed by people compare equal regardless of case, spacing or diacritics.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Fold lowercases s, strips combining marks and collapses whitespace.
// "  Ёлкина   Анна " and "елкина анна" fold to the same key.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = folder.String(out)
	return strings.Join(strings.Fields(out), " ")
}

// Name is Fold for person names. Letters ё and е are treated as equal.
func Name(s string) string {
	return strings.ReplaceAll(Fold(s), "ё", "е")
}

var truthy = map[string]bool{
	"true": true,
	"1":    true,
	"yes":  true,
	"да":   true,
	"on":   true,
}

// Truthy reports whether s belongs to the accepted truthy set.
// Anything else, including the empty string, is false.
func Truthy(s string) bool {
	return truthy[Fold(s)]
}

// Header folds a CSV column header and drops spaces, underscores and dashes.
func Header(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, Fold(s))
}
