package script

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a script YAML file.
//
// Example:
//
//	scripts:
//	  - id: 1
//	    title: "Hamlet, Act III"
//	    lines:
//	      - "To be, or not to be, that is the question:"
//	      - "Whether 'tis nobler in the mind to suffer"
//	  - id: 2
//	    title: "שלוש אחיות"
//	    content: |
//	      אני רוצה ללכת למוסקבה
//	      שלוש שנים עברו
type File struct {
	Scripts []FileScript `yaml:"scripts"`
}

// FileScript is one script entry. Either Content or Lines must be set; Lines
// are joined with newlines.
type FileScript struct {
	ID      int64    `yaml:"id"`
	UserID  int64    `yaml:"user_id"`
	Title   string   `yaml:"title"`
	Content string   `yaml:"content"`
	Lines   []string `yaml:"lines"`
}

// Script converts the entry into a [Script].
func (f FileScript) Script() Script {
	content := f.Content
	if content == "" {
		content = strings.Join(f.Lines, "\n")
	}
	return Script{ID: f.ID, UserID: f.UserID, Title: f.Title, Content: content}
}

// LoadFile reads and parses a script YAML file from disk.
func LoadFile(path string) ([]Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("script: open %q: %w", path, err)
	}
	defer f.Close()

	scripts, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("script: parse %q: %w", path, err)
	}
	return scripts, nil
}

// LoadFromReader parses script YAML from r and validates every entry.
func LoadFromReader(r io.Reader) ([]Script, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("script: decode yaml: %w", err)
	}

	var (
		errs    []error
		scripts = make([]Script, 0, len(file.Scripts))
	)
	for i, fs := range file.Scripts {
		if fs.ID <= 0 {
			errs = append(errs, fmt.Errorf("scripts[%d]: id must be positive", i))
		}
		if fs.Content != "" && len(fs.Lines) > 0 {
			errs = append(errs, fmt.Errorf("scripts[%d]: set either content or lines, not both", i))
		}
		sc := fs.Script()
		if len(sc.Lines()) == 0 {
			errs = append(errs, fmt.Errorf("scripts[%d]: no lines", i))
		}
		scripts = append(scripts, sc)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return scripts, nil
}

// LoadFiles loads every path into a single [MemStore].
func LoadFiles(paths ...string) (*MemStore, error) {
	store := &MemStore{}
	for _, p := range paths {
		scripts, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		for _, sc := range scripts {
			if err := store.Add(sc); err != nil {
				return nil, fmt.Errorf("script: %q: %w", p, err)
			}
		}
	}
	return store, nil
}
