package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/rehearse/internal/verify"
)

func TestRun_Table(t *testing.T) {
	in := strings.NewReader("# calibration set\nTo be, or not to be.\tto be or not to be\n\nhello world\tgoodbye moon\n")
	var out, errOut bytes.Buffer

	code := run(nil, in, &out, &errOut)
	if code != 3 {
		t.Fatalf("exit code: got %d, want 3 (one failed pair); stderr=%s", code, errOut.String())
	}
	text := out.String()
	for _, want := range []string{"LINE", "perfect", "failed", "~goodbye", "~moon"} {
		if !strings.Contains(text, want) {
			t.Errorf("output misses %q:\n%s", want, text)
		}
	}
}

func TestRun_JSON(t *testing.T) {
	in := strings.NewReader("the quick fox\tthe quick brown fox\n")
	var out, errOut bytes.Buffer

	code := run([]string{"-json"}, in, &out, &errOut)
	if code != 3 {
		t.Fatalf("exit code: got %d, want 3; stderr=%s", code, errOut.String())
	}
	var r pairResult
	if err := json.Unmarshal(out.Bytes(), &r); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if r.Line != 1 || r.Expected != "the quick brown fox" || r.Phonetic != 0.75 {
		t.Errorf("unexpected record: %+v", r)
	}
	if len(r.Diff) != 1 || r.Diff[0] != (verify.DiffOp{Op: verify.DiffAdd, Value: "brown"}) {
		t.Errorf("diff: got %+v", r.Diff)
	}
}

func TestRun_Fillers(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"-fillers"}, strings.NewReader("ignored\tinput\n"), &out, &errOut); code != 0 {
		t.Fatalf("exit code: got %d, want 0; stderr=%s", code, errOut.String())
	}
	got := strings.Fields(out.String())
	for _, want := range []string{"um", "uh", "like", "so", "well", "אה", "כאילו"} {
		if !slices.Contains(got, want) {
			t.Errorf("-fillers output misses %q: %v", want, got)
		}
	}
}

func TestRun_AllApproved(t *testing.T) {
	in := strings.NewReader("hello world\thello world\n")
	var out, errOut bytes.Buffer
	if code := run(nil, in, &out, &errOut); code != 0 {
		t.Fatalf("exit code: got %d, want 0; stderr=%s", code, errOut.String())
	}
}

func TestRun_FileArgument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.tsv")
	if err := os.WriteFile(path, []byte("one two three\tone two three\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	if code := run([]string{path}, strings.NewReader(""), &out, &errOut); code != 0 {
		t.Fatalf("exit code: got %d, want 0; stderr=%s", code, errOut.String())
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		input string
		code  int
	}{
		{name: "missing tab", input: "no separator here\n", code: 1},
		{name: "empty input", input: "\n# only a comment\n", code: 1},
		{name: "missing file", args: []string{filepath.Join(t.TempDir(), "nope.tsv")}, code: 1},
		{name: "bad flag", args: []string{"-nope"}, code: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			if code := run(tt.args, strings.NewReader(tt.input), &out, &errOut); code != tt.code {
				t.Errorf("exit code: got %d, want %d; stderr=%s", code, tt.code, errOut.String())
			}
		})
	}
}

func TestRun_ConfigThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rehearse.yaml")
	yaml := "verification:\n  perfect: 0.5\n  passable: 0.4\n  filler_rescue: 0.45\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	in := strings.NewReader("the quick fox\tthe quick brown fox\n")
	var out, errOut bytes.Buffer
	if code := run([]string{"-config", path}, in, &out, &errOut); code != 0 {
		t.Fatalf("exit code: got %d, want 0 under relaxed thresholds; stderr=%s\n%s", code, errOut.String(), out.String())
	}
}
