// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs stream-input WebSocket API. It implements the tts.Provider
// interface by sending one script line per connection and collecting the
// streamed audio chunks into a single buffer.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "mp3_44100_128"

	// maxMessageBytes bounds a single server frame; audio chunks for one
	// line are far smaller.
	maxMessageBytes = 4 << 20
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2",
// which covers Hebrew).
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128",
// "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.outputFormat = format
		}
	}
}

// WithVoiceID sets the voice used when a request does not name one.
func WithVoiceID(id string) Option {
	return func(p *Provider) {
		p.voiceID = id
	}
}

// WithBaseURL overrides the WebSocket origin ("wss://api.elevenlabs.io").
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	voiceID      string
}

// New creates a new ElevenLabs Provider. An empty apiKey yields
// [tts.ErrNotConfigured].
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: ELEVENLABS_API_KEY is not set: %w", tts.ErrNotConfigured)
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey             string         `json:"xi_api_key,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize implements tts.Provider. It opens one WebSocket per call, sends
// the begin-of-stream message, the line and the end-of-stream marker, and
// reads audio until the server reports isFinal or closes normally.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.voiceID
	}
	if voiceID == "" {
		return nil, fmt.Errorf("elevenlabs: no voice ID configured: %w", tts.ErrNotConfigured)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: empty text")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voiceID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w: %w", tts.ErrProvider, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageBytes)

	msgs := []textMessage{
		// ElevenLabs requires a single space as the first text value.
		{Text: " ", VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}, XiAPIKey: p.apiKey},
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: encode message: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w: %w", tts.ErrProvider, err)
		}
	}

	var audio bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && audio.Len() > 0 {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("elevenlabs: %w", ctxErr)
			}
			return nil, fmt.Errorf("elevenlabs: read: %w: %w", tts.ErrProvider, err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s: %s: %w", resp.Error, resp.Message, tts.ErrProvider)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w: %w", tts.ErrProvider, err)
			}
			audio.Write(chunk)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if audio.Len() == 0 {
		return nil, fmt.Errorf("elevenlabs: no audio received: %w", tts.ErrProvider)
	}
	return audio.Bytes(), nil
}

// streamURL builds the stream-input WebSocket URL for voiceID.
func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.baseURL, url.PathEscape(voiceID), q.Encode())
}
