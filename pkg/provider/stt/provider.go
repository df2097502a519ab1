// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A rehearsal submits one recorded utterance at a time: the client captures a
// spoken line, encodes it (typically WebM/Opus from a browser MediaRecorder)
// and the server hands the whole blob to a Provider. Providers are therefore
// batch transcribers: one call, one complete transcript.
//
// Implementations must be safe for concurrent use; sessions on different
// connections transcribe in parallel through the same Provider value.
package stt

import (
	"context"
	"errors"
)

// DefaultMIMEType is assumed when a caller does not specify the audio format.
const DefaultMIMEType = "audio/webm"

var (
	// ErrNotConfigured is returned when a provider is missing a credential or
	// endpoint it needs. Callers report it as "transcription unavailable".
	ErrNotConfigured = errors.New("stt: provider not configured")

	// ErrProvider wraps failures reported by the upstream service.
	ErrProvider = errors.New("stt: provider request failed")
)

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in audio. mimeType describes the
	// container/codec of audio (e.g. "audio/webm", "audio/wav"); an empty
	// string means [DefaultMIMEType].
	//
	// A blank transcript with a nil error means no speech was recognised.
	// Implementations must honour ctx cancellation.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// MIMEOrDefault returns mimeType, or [DefaultMIMEType] when it is empty.
func MIMEOrDefault(mimeType string) string {
	if mimeType == "" {
		return DefaultMIMEType
	}
	return mimeType
}

// FileName returns a file name whose extension matches mimeType. Upload-style
// APIs use the extension to pick a decoder.
func FileName(mimeType string) string {
	switch MIMEOrDefault(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio.wav"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/ogg", "audio/ogg;codecs=opus":
		return "audio.ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	case "audio/flac":
		return "audio.flac"
	default:
		return "audio.webm"
	}
}
