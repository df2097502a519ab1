package transcript

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"
)

// numeral maps one spoken Hebrew cardinal to its digit string.
type numeral struct {
	word  string
	digit string
}

// hebrewNumeralTable lists the cardinal number words 1-10 in masculine and
// feminine forms. Several forms are prefixes of others (שלוש/שלושה); the
// replacer below is built longest-first so the longer form always wins.
var hebrewNumeralTable = []numeral{
	{"אחת", "1"},
	{"אחד", "1"},
	{"שתיים", "2"},
	{"שניים", "2"},
	{"שלוש", "3"},
	{"שלושה", "3"},
	{"ארבע", "4"},
	{"ארבעה", "4"},
	{"חמש", "5"},
	{"חמישה", "5"},
	{"שש", "6"},
	{"שישה", "6"},
	{"שבע", "7"},
	{"שבעה", "7"},
	{"שמונה", "8"},
	{"תשע", "9"},
	{"תשעה", "9"},
	{"עשר", "10"},
	{"עשרה", "10"},
}

// hebrewNumerals performs the substitution in a single left-to-right pass.
// strings.Replacer prefers the earliest argument pair when several keys match at
// the same position, so the pairs are ordered by descending rune length.
var hebrewNumerals = newLongestMatchReplacer(hebrewNumeralTable)

func newLongestMatchReplacer(table []numeral) *strings.Replacer {
	sorted := slices.Clone(table)
	slices.SortStableFunc(sorted, func(a, b numeral) int {
		return cmp.Compare(utf8.RuneCountInString(b.word), utf8.RuneCountInString(a.word))
	})
	pairs := make([]string, 0, len(sorted)*2)
	for _, n := range sorted {
		pairs = append(pairs, n.word, n.digit)
	}
	return strings.NewReplacer(pairs...)
}
