// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (whisper-1, gpt-4o-transcribe).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/rehearse/pkg/provider/stt"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "whisper-1"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
	retries  int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets an ISO-639-1 hint. Empty lets the API detect the
// language.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the SDK retries failed requests. Default 2.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.retries = n
	}
}

// New constructs a new OpenAI transcription Provider. An empty apiKey yields
// [stt.ErrNotConfigured].
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY is not set: %w", stt.ErrNotConfigured)
	}

	cfg := &config{model: DefaultModel, retries: -1}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.model == "" {
		cfg.model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.retries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.retries))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("openai: empty audio")
	}
	mimeType = stt.MIMEOrDefault(mimeType)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio), stt.FileName(mimeType), mimeType),
		Model: oai.AudioModel(p.model),
	}
	if p.language != "" {
		params.Language = param.NewOpt(p.language)
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("openai: %w", ctxErr)
		}
		return "", fmt.Errorf("openai: transcription: %w: %w", stt.ErrProvider, err)
	}
	return strings.TrimSpace(res.Text), nil
}
