// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Audio: []byte("mp3")}
//	audio, _ := p.Synthesize(ctx, "To be or not to be", tts.Voice{})
//	_ = p.Texts() // ["To be or not to be"]
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the Voice passed to Synthesize.
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by every successful call. When nil, the text itself
	// prefixed with "audio:" is returned so tests can tell lines apart.
	Audio []byte

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records every call to Synthesize.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Audio or Err.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Audio != nil {
		out := make([]byte, len(p.Audio))
		copy(out, p.Audio)
		return out, nil
	}
	return []byte("audio:" + text), nil
}

// Texts returns the text of every call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// CallCount returns the number of Synthesize calls. Thread-safe.
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

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
