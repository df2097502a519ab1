package script_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/rehearse/internal/script"
)

func TestScript_Lines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "empty", content: "", want: nil},
		{name: "single", content: "To be", want: []string{"To be"}},
		{name: "blank lines skipped", content: "one\n\n  \ntwo\n", want: []string{"one", "two"}},
		{name: "crlf", content: "one\r\ntwo\r\n", want: []string{"one", "two"}},
		{name: "trimmed", content: "  שלוש שנים  \n\tעברו", want: []string{"שלוש שנים", "עברו"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lines := script.Script{Content: tt.content}.Lines()
			if len(lines) != len(tt.want) {
				t.Fatalf("Lines() = %+v, want %d lines", lines, len(tt.want))
			}
			for i, l := range lines {
				if l.Index != i || l.Text != tt.want[i] {
					t.Errorf("line %d = %+v, want {%d %q}", i, l, i, tt.want[i])
				}
			}
		})
	}
}

func TestMemStore(t *testing.T) {
	t.Parallel()

	store, err := script.NewMemStore(
		script.Script{ID: 1, Title: "a", Content: "first\nsecond"},
		script.Script{ID: 3, Title: "b", Content: "only"},
	)
	if err != nil {
		t.Fatalf("NewMemStore: %v", err)
	}
	ctx := context.Background()

	sc, err := store.Get(ctx, 1)
	if err != nil || sc.Title != "a" {
		t.Fatalf("Get(1) = %+v, %v", sc, err)
	}
	if _, err := store.Get(ctx, 2); !errors.Is(err, script.ErrNotFound) {
		t.Errorf("Get(2) err = %v, want ErrNotFound", err)
	}

	line, err := store.Line(ctx, 1, 1)
	if err != nil || line.Text != "second" {
		t.Errorf("Line(1, 1) = %+v, %v", line, err)
	}
	for _, idx := range []int{-1, 2} {
		if _, err := store.Line(ctx, 1, idx); !errors.Is(err, script.ErrLineOutOfRange) {
			t.Errorf("Line(1, %d) err = %v, want ErrLineOutOfRange", idx, err)
		}
	}
	if _, err := store.Line(ctx, 9, 0); !errors.Is(err, script.ErrNotFound) {
		t.Errorf("Line(9, 0) err = %v, want ErrNotFound", err)
	}

	if err := store.Add(script.Script{ID: 3}); !errors.Is(err, script.ErrDuplicateID) {
		t.Errorf("Add duplicate err = %v, want ErrDuplicateID", err)
	}
	if err := store.Add(script.Script{ID: 0}); err == nil {
		t.Error("Add with zero id: want error")
	}
	if got := store.IDs(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("IDs() = %v", got)
	}
}

func TestMemStore_ZeroValue(t *testing.T) {
	t.Parallel()

	var store script.MemStore
	if _, err := store.Get(context.Background(), 1); !errors.Is(err, script.ErrNotFound) {
		t.Fatalf("Get on zero store err = %v", err)
	}
	if err := store.Add(script.Script{ID: 1, Content: "x"}); err != nil {
		t.Fatalf("Add on zero store: %v", err)
	}
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, int64) (script.Script, error) { return script.Script{}, f.err }
func (f failingStore) Line(context.Context, int64, int) (script.Line, error) {
	return script.Line{}, f.err
}
func (f failingStore) Ping(context.Context) error { return f.err }

func TestChain(t *testing.T) {
	t.Parallel()

	first, _ := script.NewMemStore(script.Script{ID: 1, Content: "from first"})
	second, _ := script.NewMemStore(
		script.Script{ID: 1, Content: "shadowed"},
		script.Script{ID: 2, Content: "from second"},
	)
	chain := script.Chain{first, second}
	ctx := context.Background()

	if l, err := chain.Line(ctx, 1, 0); err != nil || l.Text != "from first" {
		t.Errorf("Line(1) = %+v, %v", l, err)
	}
	if l, err := chain.Line(ctx, 2, 0); err != nil || l.Text != "from second" {
		t.Errorf("Line(2) = %+v, %v", l, err)
	}
	if _, err := chain.Get(ctx, 3); !errors.Is(err, script.ErrNotFound) {
		t.Errorf("Get(3) err = %v, want ErrNotFound", err)
	}

	boom := errors.New("connection refused")
	broken := script.Chain{failingStore{err: boom}, second}
	if _, err := broken.Get(ctx, 2); !errors.Is(err, boom) {
		t.Errorf("Get through broken member err = %v, want %v", err, boom)
	}
	if err := broken.Ping(ctx); !errors.Is(err, boom) {
		t.Errorf("Ping err = %v, want %v", err, boom)
	}
}

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	const doc = `
scripts:
  - id: 1
    title: "Hamlet"
    lines:
      - "To be, or not to be"
      - "that is the question"
  - id: 2
    user_id: 5
    title: "שלוש אחיות"
    content: |
      אני רוצה ללכת למוסקבה
      שלוש שנים עברו
`
	scripts, err := script.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("got %d scripts, want 2", len(scripts))
	}
	if got := scripts[0].Lines(); len(got) != 2 || got[1].Text != "that is the question" {
		t.Errorf("script 1 lines = %+v", got)
	}
	if scripts[1].UserID != 5 || len(scripts[1].Lines()) != 2 {
		t.Errorf("script 2 = %+v", scripts[1])
	}
}

func TestLoadFromReader_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "unknown field", doc: "scripts:\n  - id: 1\n    text: x\n", want: "text"},
		{name: "zero id", doc: "scripts:\n  - title: x\n    content: line\n", want: "id must be positive"},
		{name: "no lines", doc: "scripts:\n  - id: 4\n    content: \"  \\n\"\n", want: "no lines"},
		{name: "both forms", doc: "scripts:\n  - id: 4\n    content: a\n    lines: [b]\n", want: "not both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := script.LoadFromReader(strings.NewReader(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("scripts:\n  - id: 1\n    content: one\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("scripts:\n  - id: 2\n    content: two\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := script.LoadFiles(a, b)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if got := store.IDs(); len(got) != 2 {
		t.Fatalf("IDs() = %v", got)
	}

	if _, err := script.LoadFiles(a, a); !errors.Is(err, script.ErrDuplicateID) {
		t.Errorf("duplicate across files err = %v, want ErrDuplicateID", err)
	}
	if _, err := script.LoadFiles(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: want error")
	}
}

func TestLoadFile_Example(t *testing.T) {
	t.Parallel()

	scripts, err := script.LoadFile("../../configs/scripts.example.yaml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("got %d scripts, want 2", len(scripts))
	}
	for _, sc := range scripts {
		if n := len(sc.Lines()); n != 3 {
			t.Errorf("script %d: got %d lines, want 3", sc.ID, n)
		}
	}
}
