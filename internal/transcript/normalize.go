// Package transcript turns raw speech-to-text output and authored script lines
// into a canonical form that can be compared character by character.
//
// Two transformations are provided:
//
//  1. [Normalize] canonicalises casing, punctuation, whitespace and spoken
//     Hebrew cardinal numbers. Both sides of a comparison go through it.
//
//  2. [RemoveFillers] drops disfluency tokens ("um", "אה", ...) from already
//     normalised spoken text. It is a secondary adjustment and is never applied
//     to the authored side.
//
// Both functions are pure and safe for concurrent use; the word tables are
// built once at package initialisation and never mutated.
package transcript

import (
	"strings"
)

// punctuation is the set of runes deleted by [Normalize]. Deletion, not
// replacement: "don't" becomes "dont" and "well-known" becomes "wellknown".
var punctuation = map[rune]struct{}{
	'.': {}, ',': {}, '!': {}, '?': {}, ';': {}, ':': {},
	'\'': {}, '"': {}, '(': {}, ')': {},
	'-': {}, '–': {}, '—': {},
}

// Normalize returns the canonical comparison form of text. The steps run in
// this order:
//
//  1. lowercase (Hebrew has no case, only Latin script is affected)
//  2. delete punctuation
//  3. collapse whitespace runs to a single space and trim
//  4. replace Hebrew number words (1-10, both genders) with digits
//
// The empty string normalises to the empty string. Normalize is idempotent.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := strings.ToLower(text)
	s = stripPunctuation(s)
	s = collapseSpaces(s)
	return hebrewNumerals.Replace(s)
}

// stripPunctuation deletes every rune in [punctuation].
func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if _, ok := punctuation[r]; ok {
			return -1
		}
		return r
	}, s)
}

// collapseSpaces replaces every run of Unicode whitespace with one ASCII space
// and trims both ends.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
