package transcript_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/rehearse/internal/transcript"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"case and punctuation", "Hello, world!", "hello world"},
		{"apostrophe deleted", "Don't stop", "dont stop"},
		{"hyphen deleted not split", "well-known fact", "wellknown fact"},
		{"dashes", "wait – now — go", "wait now go"},
		{"quotes and parens", `"To be" (or not)`, "to be or not"},
		{"whitespace collapsed", "  to \t be\n\nor   not  ", "to be or not"},
		{"punctuation only", "?!...", ""},
		{"hebrew three", "שלוש אנשים", "3 אנשים"},
		{"hebrew five years", "חמש שנים", "5 שנים"},
		{"hebrew longest form wins", "שלושה ילדים", "3 ילדים"},
		{"hebrew feminine and masculine", "אחת ואחד", "1 ו1"},
		{"hebrew ten", "עשרה אנשים", "10 אנשים"},
		{"hebrew punctuation", "שלום, עולם!", "שלום עולם"},
		{"mixed script", "Hello שלום", "hello שלום"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := transcript.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"Hello, world!",
		"  The quick - brown fox  ",
		"שלושה אנשים, חמש שנים.",
		"Um, I think... we should go?",
		"' leading quote",
	}
	for _, in := range inputs {
		once := transcript.Normalize(in)
		twice := transcript.Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestRemoveFillers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"middle", "hello um world", "hello world"},
		{"leading", "um hello", "hello"},
		{"trailing", "hello uh", "hello"},
		{"only fillers", "um uh like", ""},
		{"attached prefix kept", "umhello world", "umhello world"},
		{"attached suffix kept", "hello worldum", "hello worldum"},
		{"case insensitive", "Um hello UH", "hello"},
		{"consecutive", "so well like i know", "i know"},
		{"hebrew", "אני אה רוצה ללכת", "אני רוצה ללכת"},
		{"hebrew inside word kept", "אזור נו", "אזור"},
		{"no fillers", "to be or not to be", "to be or not to be"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := transcript.RemoveFillers(tt.in); got != tt.want {
				t.Errorf("RemoveFillers(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFillerWords_ReturnsCopy(t *testing.T) {
	t.Parallel()

	words := transcript.FillerWords()
	if !slices.Contains(words, "um") || !slices.Contains(words, "אה") {
		t.Fatalf("FillerWords() = %v, missing expected entries", words)
	}
	words[0] = "mutated"
	if slices.Contains(transcript.FillerWords(), "mutated") {
		t.Error("mutating the returned slice changed the package list")
	}
}
