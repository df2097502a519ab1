// Package similarity scores how close two normalised strings are using
// character-level Levenshtein distance.
//
// The score is 1 - distance/max(len(a), len(b)) where lengths are counted in
// runes, so Hebrew and Latin text are treated alike. Insertions, deletions and
// substitutions each cost one. The result is symmetric and bounded in [0, 1].
package similarity

import (
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Score returns the normalised Levenshtein similarity of a and b.
//
// Two empty strings are identical (1.0). When exactly one side is empty the
// score is 0.0 and no distance is computed.
func Score(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	switch {
	case la == 0 && lb == 0:
		return 1
	case la == 0 || lb == 0:
		return 0
	}
	if a == b {
		return 1
	}
	return 1 - float64(Distance(a, b))/float64(max(la, lb))
}

// Distance returns the rune-level Levenshtein edit distance between a and b.
func Distance(a, b string) int {
	return matchr.Levenshtein(a, b)
}
