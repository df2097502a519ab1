package resilience

import (
	"context"

	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that fails over across synthesis backends.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a [TTSFallback] preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Synthesize renders text with the first backend that accepts and answers.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p tts.Provider) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return p.Synthesize(ctx, text, voice)
	})
}
