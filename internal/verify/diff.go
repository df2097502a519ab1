package verify

import (
	"slices"
	"strings"
)

// DiffKind names one word-level edit.
type DiffKind string

const (
	// DiffAdd marks an expected word that was not spoken.
	DiffAdd DiffKind = "add"
	// DiffRemove marks a spoken word that is not in the expected line.
	DiffRemove DiffKind = "remove"
	// DiffReplace marks an expected word that was spoken differently.
	DiffReplace DiffKind = "replace"
)

// DiffOp is one edit in the alignment of a spoken line against its script
// line. Value is the expected word for add and replace, and the spoken word
// for remove.
type DiffOp struct {
	Op    DiffKind `json:"op"`
	Value string   `json:"value"`
}

// Diff aligns two normalised lines word by word and returns the edits that
// turn spoken into expected, in expected-line order. Matching words produce no
// entry, so identical lines yield an empty slice.
//
// Among equally short edit scripts, insertions and deletions are preferred
// over substitutions so that shared words stay aligned.
func Diff(spoken, expected string) []DiffOp {
	s, e := strings.Fields(spoken), strings.Fields(expected)
	n, m := len(s), len(e)

	// dist[i][j] is the word edit distance between s[:i] and e[:j].
	dist := make([][]int, n+1)
	for i := range dist {
		dist[i] = make([]int, m+1)
		dist[i][0] = i
	}
	for j := 0; j <= m; j++ {
		dist[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			sub := dist[i-1][j-1]
			if s[i-1] != e[j-1] {
				sub++
			}
			dist[i][j] = min(sub, dist[i-1][j]+1, dist[i][j-1]+1)
		}
	}

	ops := []DiffOp{}
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && s[i-1] == e[j-1] && dist[i][j] == dist[i-1][j-1]:
			i, j = i-1, j-1
		case j > 0 && dist[i][j] == dist[i][j-1]+1:
			ops = append(ops, DiffOp{Op: DiffAdd, Value: e[j-1]})
			j--
		case i > 0 && dist[i][j] == dist[i-1][j]+1:
			ops = append(ops, DiffOp{Op: DiffRemove, Value: s[i-1]})
			i--
		default:
			ops = append(ops, DiffOp{Op: DiffReplace, Value: e[j-1]})
			i, j = i-1, j-1
		}
	}
	slices.Reverse(ops)
	return ops
}
