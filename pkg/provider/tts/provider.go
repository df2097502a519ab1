// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Rehearsal prompts are whole script lines, so the interface is a single
// request/response call: one line of text in, one encoded audio blob out. The
// blob is forwarded to the client as-is and must be in a format a browser can
// play (MP3 by default).
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured is returned when a provider is missing a credential or
	// voice it needs.
	ErrNotConfigured = errors.New("tts: provider not configured")

	// ErrProvider wraps failures reported by the upstream service.
	ErrProvider = errors.New("tts: provider request failed")
)

// Voice selects the speaker used for synthesis.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name. Informational only.
	Name string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns the encoded audio. An
	// empty voice.ID selects the provider's configured default voice.
	//
	// Returns an error if synthesis fails or ctx ends first; partial audio is
	// never returned.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}
