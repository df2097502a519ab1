package verify_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/rehearse/internal/verify"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		spoken   string
		expected string
		want     []verify.DiffOp
	}{
		{"identical", "to be or not to be", "to be or not to be", []verify.DiffOp{}},
		{"both empty", "", "", []verify.DiffOp{}},
		{"extra spoken word", "hello um world", "hello world", []verify.DiffOp{
			{Op: verify.DiffRemove, Value: "um"},
		}},
		{"missing word", "to be or to be", "to be or not to be", []verify.DiffOp{
			{Op: verify.DiffAdd, Value: "not"},
		}},
		{"misspoken word", "hello worl", "hello world", []verify.DiffOp{
			{Op: verify.DiffReplace, Value: "world"},
		}},
		{"nothing spoken", "", "hello world", []verify.DiffOp{
			{Op: verify.DiffAdd, Value: "hello"},
			{Op: verify.DiffAdd, Value: "world"},
		}},
		{"nothing expected", "hello", "", []verify.DiffOp{
			{Op: verify.DiffRemove, Value: "hello"},
		}},
		{"mixed", "i think we go now", "i think we should go", []verify.DiffOp{
			{Op: verify.DiffAdd, Value: "should"},
			{Op: verify.DiffRemove, Value: "now"},
		}},
		{"hebrew", "אני אה רוצה ללכת", "אני רוצה ללכת", []verify.DiffOp{
			{Op: verify.DiffRemove, Value: "אה"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := verify.Diff(tt.spoken, tt.expected)
			if got == nil {
				t.Fatal("Diff returned nil, want non-nil slice")
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Diff(%q, %q) = %v, want %v", tt.spoken, tt.expected, got, tt.want)
			}
		})
	}
}
