package similarity_test

import (
	"math"
	"testing"

	"github.com/MrWong99/rehearse/internal/transcript/similarity"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"both empty", "", "", 1},
		{"left empty", "", "hello", 0},
		{"right empty", "hello", "", 0},
		{"identical", "hello world", "hello world", 1},
		{"one deletion", "hello worl", "hello world", 1 - 1.0/11},
		{"two substitutions", "hallo wrld", "hello world", 1 - 2.0/11},
		{"completely different", "abc", "xyz", 0},
		{"hebrew one substitution", "שלום", "שלוס", 0.75},
		{"filler insertion", "hello um world", "hello world", 1 - 3.0/14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := similarity.Score(tt.a, tt.b)
			if !approx(got, tt.want) {
				t.Errorf("Score(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestScore_Symmetric(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"hello world", "hallo wrld"},
		{"i think we should go now", "i think um we should go now"},
		{"אני רוצה ללכת", "אני אה רוצה ללכת"},
		{"", "abc"},
		{"a", "abcdef"},
	}
	for _, p := range pairs {
		ab := similarity.Score(p[0], p[1])
		ba := similarity.Score(p[1], p[0])
		if ab != ba {
			t.Errorf("Score not symmetric for %q/%q: %v vs %v", p[0], p[1], ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Errorf("Score(%q, %q) = %v, out of [0,1]", p[0], p[1], ab)
		}
	}
}

func TestDistance_CountsRunes(t *testing.T) {
	t.Parallel()

	// Every Hebrew letter is two bytes in UTF-8; a byte-level distance would
	// report 2 here.
	if got := similarity.Distance("שלום", "שלוס"); got != 1 {
		t.Errorf("Distance = %d, want 1", got)
	}
}
