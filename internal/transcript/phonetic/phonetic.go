// Package phonetic estimates how much of an expected line a transcript
// covers by sound rather than by spelling.
//
// Speech-to-text output frequently misspells words it heard correctly
// ("wispers" for "whispers", "their" for "there"). The character-level score
// used for verification penalises those as hard as a wrong word. [Coverage]
// reports the share of expected words that have a sound-alike counterpart in
// the spoken line, which helps tell transcription noise from a missed line
// when calibrating thresholds.
//
// A spoken word sounds like an expected word when their Double Metaphone
// codes overlap and their Jaro-Winkler similarity reaches the phonetic
// threshold, or, without a code overlap, when the Jaro-Winkler similarity
// alone reaches the higher fuzzy threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for words whose
// phonetic codes overlap. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for words without
// a phonetic code overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher compares words by sound. It is read-only after construction and
// safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with the default thresholds unless overridden.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Alike reports whether spoken sounds like expected, and the Jaro-Winkler
// similarity behind the decision. Comparison is case-insensitive.
func (m *Matcher) Alike(spoken, expected string) (score float64, alike bool) {
	a := strings.ToLower(strings.TrimSpace(spoken))
	b := strings.ToLower(strings.TrimSpace(expected))
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 1, true
	}
	score = matchr.JaroWinkler(a, b, false)
	if codesOverlap(codes(a), codes(b)) {
		return score, score >= m.phoneticThreshold
	}
	return score, score >= m.fuzzyThreshold
}

// Coverage returns the fraction of words in expected that sound like some
// word in spoken, in [0, 1]. Each spoken word is used at most once, scanning
// forward so word order is respected. An empty expected line is fully
// covered by an empty spoken line and not at all otherwise.
func (m *Matcher) Coverage(spoken, expected string) float64 {
	s, e := strings.Fields(spoken), strings.Fields(expected)
	if len(e) == 0 {
		if len(s) == 0 {
			return 1
		}
		return 0
	}

	matched, next := 0, 0
	for _, want := range e {
		for i := next; i < len(s); i++ {
			if _, ok := m.Alike(s[i], want); ok {
				matched++
				next = i + 1
				break
			}
		}
	}
	return float64(matched) / float64(len(e))
}

// codes returns the Double Metaphone codes of word. Empty codes, produced for
// words without consonants, are excluded.
func codes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func codesOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
