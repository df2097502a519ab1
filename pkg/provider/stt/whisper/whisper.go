// Package whisper provides an STT provider for self-hosted whisper servers.
//
// It uploads each utterance as multipart/form-data. By default it targets the
// whisper.cpp server's POST /inference endpoint; [WithEndpointPath] switches it
// to an OpenAI-compatible server such as faster-whisper-server
// ("/v1/audio/transcriptions"). Both reply with {"text": "..."}.
//
// whisper.cpp only decodes WAV unless the server runs with --convert, so
// browsers recording WebM need a converting server.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("he"),
//	)
//	text, err := p.Transcribe(ctx, audio, "audio/webm")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MrWong99/rehearse/pkg/provider/stt"
)

const (
	defaultEndpointPath = "/inference"
	defaultTimeout      = 30 * time.Second

	// maxErrorBody bounds how much of a failed response is echoed into the
	// returned error.
	maxErrorBody = 512
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g.,
// "base", "large-v3"). When empty the server uses whichever model it was
// started with; this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the ISO-639-1 language code sent to the server (e.g.,
// "he", "en"). Empty lets the server auto-detect, which is the default since
// rehearsals mix Hebrew and English.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithEndpointPath overrides the request path. Defaults to "/inference".
func WithEndpointPath(path string) Option {
	return func(p *Provider) {
		p.endpointPath = path
	}
}

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider against a whisper HTTP server. It holds no
// per-request state and is safe for concurrent use.
type Provider struct {
	serverURL    string
	endpointPath string
	model        string
	language     string
	httpClient   *http.Client
}

// New creates a new Provider that talks to the server at serverURL (e.g.,
// "http://localhost:8080"). An empty serverURL yields [stt.ErrNotConfigured].
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("whisper: server URL must not be empty: %w", stt.ErrNotConfigured)
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		endpointPath: defaultEndpointPath,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("whisper: empty audio")
	}
	mimeType = stt.MIMEOrDefault(mimeType)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// The file part carries the real content type so converting servers can
	// pick a decoder without sniffing.
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, stt.FileName(mimeType)))
	hdr.Set("Content-Type", mimeType)
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := []struct{ name, value string }{
		{"language", p.language},
		{"model", p.model},
		{"response_format", "json"},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", f.name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+p.endpointPath, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w: %w", stt.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(msg)), stt.ErrProvider)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w: %w", stt.ErrProvider, err)
	}

	return strings.TrimSpace(result.Text), nil
}
