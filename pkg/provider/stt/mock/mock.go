// Package mock provides a test double for the stt.Provider interface.
//
// Provider replays scripted transcripts in call order and records every audio
// blob it was given. When Block is set, Transcribe waits for a value on it (or
// for ctx to end) before answering, which lets tests hold a transcription
// in flight.
//
// Example:
//
//	p := &mock.Provider{Transcripts: []string{"hello world", "goodbye"}}
//	text, _ := p.Transcribe(ctx, audio, "audio/webm")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rehearse/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the bytes passed to Transcribe.
	Audio []byte
	// MIMEType is the mimeType argument.
	MIMEType string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcripts are returned in order, one per call. Once exhausted the
	// last entry is repeated; an empty list yields "".
	Transcripts []string

	// Err, if non-nil, is returned by every call instead of a transcript.
	Err error

	// Errs, if set, overrides Err per call index. A nil entry means success.
	Errs []error

	// Block, if non-nil, makes Transcribe wait for a receive on it before
	// answering. ctx cancellation unblocks it with ctx.Err().
	Block chan struct{}

	// Started, if non-nil, receives one value when a call begins (before
	// blocking). Sends are non-blocking.
	Started chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	p.mu.Lock()
	idx := len(p.Calls)
	cp := make([]byte, len(audio))
	copy(cp, audio)
	p.Calls = append(p.Calls, TranscribeCall{Audio: cp, MIMEType: mimeType})
	block, started := p.Block, p.Started
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < len(p.Errs) && p.Errs[idx] != nil {
		return "", p.Errs[idx]
	}
	if p.Err != nil {
		return "", p.Err
	}
	switch {
	case len(p.Transcripts) == 0:
		return "", nil
	case idx < len(p.Transcripts):
		return p.Transcripts[idx], nil
	default:
		return p.Transcripts[len(p.Transcripts)-1], nil
	}
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
