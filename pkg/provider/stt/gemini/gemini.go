// Package gemini provides an STT provider backed by Google Gemini.
//
// Gemini has no dedicated transcription endpoint; the provider sends the
// recorded audio as an inline part next to a fixed instruction and reads back
// the model's text. The instruction asks for plain text in the spoken
// language (Hebrew or English) without punctuation, which keeps the output
// close to what the verifier compares against.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/rehearse/pkg/provider/stt"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

const transcribePrompt = "Transcribe this audio to plain text. Preserve the language (Hebrew or English). " +
	"Output only the transcribed text, no punctuation or commentary."

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// contentGenerator is the subset of [genai.Models] used by the provider.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel overrides [DefaultModel]. Model names must not carry the
// "models/" prefix.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// Provider implements stt.Provider using the Gemini GenerateContent API.
// It is safe for concurrent use.
type Provider struct {
	models  contentGenerator
	model   string
	baseURL string
}

// New creates a Gemini transcription provider. An empty apiKey yields
// [stt.ErrNotConfigured].
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: GEMINI_API_KEY (or GOOGLE_GENERATIVE_AI_API_KEY) is not set: %w", stt.ErrNotConfigured)
	}
	p := &Provider{model: DefaultModel}
	for _, o := range opts {
		o(p)
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	p.models = client.Models
	return p, nil
}

// Model returns the model identifier in use.
func (p *Provider) Model() string { return p.model }

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("gemini: empty audio")
	}
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromBytes(audio, stt.MIMEOrDefault(mimeType)),
		genai.NewPartFromText(transcribePrompt),
	}, genai.RoleUser)}

	resp, err := p.models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("gemini: %w", ctxErr)
		}
		return "", fmt.Errorf("gemini: STT failed: %w: %w", stt.ErrProvider, err)
	}
	return responseText(resp), nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
