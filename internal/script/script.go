// Package script holds rehearsal scripts and the stores that resolve them.
//
// A [Script] is authored text; its rehearsable units are the non-blank lines
// of its content, exposed by [Script.Lines]. Scripts are immutable once
// loaded, so a session may keep the slice returned by Lines without locking.
//
// Three [Store] implementations exist: [MemStore] (files and tests), [Chain]
// (several stores consulted in order) and the PostgreSQL store in the
// postgres sub-package.
package script

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no script has the requested ID.
	ErrNotFound = errors.New("script: not found")

	// ErrLineOutOfRange is returned when a line index falls outside the script.
	ErrLineOutOfRange = errors.New("script: line index out of range")

	// ErrDuplicateID is returned by [MemStore.Add] for an ID that is already
	// present.
	ErrDuplicateID = errors.New("script: duplicate id")
)

// Script is one rehearsable text.
type Script struct {
	ID        int64     `yaml:"id"`
	UserID    int64     `yaml:"user_id"`
	Title     string    `yaml:"title"`
	Content   string    `yaml:"content"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Line is a single line of a script, addressed by its zero-based position
// among the non-blank lines.
type Line struct {
	Index int
	Text  string
}

// Lines splits Content into trimmed, non-blank lines. CRLF endings are
// accepted.
func (s Script) Lines() []Line {
	var out []Line
	for raw := range strings.SplitSeq(s.Content, "\n") {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		out = append(out, Line{Index: len(out), Text: text})
	}
	return out
}

// Line returns the line at index or [ErrLineOutOfRange].
func (s Script) Line(index int) (Line, error) {
	lines := s.Lines()
	if index < 0 || index >= len(lines) {
		return Line{}, ErrLineOutOfRange
	}
	return lines[index], nil
}

// Store resolves scripts by ID. Implementations must be safe for concurrent
// use.
type Store interface {
	// Get returns the script with the given ID, or [ErrNotFound].
	Get(ctx context.Context, id int64) (Script, error)

	// Line returns one line of a script. It fails with [ErrNotFound] for an
	// unknown script and [ErrLineOutOfRange] for a bad index.
	Line(ctx context.Context, id int64, index int) (Line, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
