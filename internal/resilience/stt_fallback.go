package resilience

import (
	"context"

	"github.com/MrWong99/rehearse/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across transcription
// backends.
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an [STTFallback] preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Transcribe sends audio to the first backend that accepts and answers.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p stt.Provider) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return p.Transcribe(ctx, audio, mimeType)
	})
}
