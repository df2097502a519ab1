package transcript

import (
	"slices"
	"strings"
)

// fillerWords are the disfluency tokens dropped by [RemoveFillers]. The Hebrew
// entries are hesitation sounds and discourse markers; the English ones are the
// usual hesitation set.
var fillerWords = []string{
	"אה",
	"אמ",
	"כאילו",
	"נו",
	"אז",
	"um",
	"uh",
	"like",
	"so",
	"well",
}

var fillerSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(fillerWords))
	for _, w := range fillerWords {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}()

// FillerWords returns a copy of the filler token list.
func FillerWords() []string {
	return slices.Clone(fillerWords)
}

// IsFiller reports whether token, compared case-insensitively, is a filler word.
func IsFiller(token string) bool {
	_, ok := fillerSet[strings.ToLower(token)]
	return ok
}

// RemoveFillers drops whole filler tokens from normalised text. A filler only
// matches when it is delimited by the start or end of the string or by
// whitespace, so "umhello" is left alone while "hello um world" becomes
// "hello world". The result has its whitespace collapsed and trimmed.
//
// Matching is case-insensitive even though callers pass lowercased input.
func RemoveFillers(text string) string {
	tokens := strings.Fields(text)
	kept := tokens[:0]
	for _, tok := range tokens {
		if IsFiller(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}
