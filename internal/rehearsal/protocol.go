package rehearsal

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	"github.com/MrWong99/rehearse/internal/verify"
)

// Message type discriminants. Every frame is a JSON object whose "type" field
// holds one of these values.
const (
	TypeStartSession       = "start_session"
	TypeAudio              = "audio"
	TypeConnected          = "connected"
	TypeSessionStarted     = "session_started"
	TypeLinePrompt         = "line_prompt"
	TypeVerificationResult = "verification_result"
	TypeTTSAudio           = "tts_audio"
	TypeSessionComplete    = "session_complete"
	TypeError              = "error"
)

// ---- inbound ----

// Inbound is a decoded client frame: either [StartSession] or [Audio].
type Inbound interface {
	// MessageType returns the frame's "type" discriminant.
	MessageType() string
}

// StartSession binds the session to a script, optionally starting at a line
// other than the first.
type StartSession struct {
	ScriptID int64
	// SceneIndex is the zero-based starting line; nil means 0.
	SceneIndex *int
}

// MessageType implements [Inbound].
func (StartSession) MessageType() string { return TypeStartSession }

// Audio carries one recording of the performer speaking the current line.
type Audio struct {
	// Payload is the decoded audio.
	Payload []byte
	// MIMEType is the optional container type announced by the client.
	MIMEType string
}

// MessageType implements [Inbound].
func (Audio) MessageType() string { return TypeAudio }

// wireInbound is the union of all inbound fields. Numeric fields are kept raw
// so that strings, fractions and nulls can be rejected.
type wireInbound struct {
	Type       string          `json:"type"`
	ScriptID   json.RawMessage `json:"scriptId"`
	SceneIndex json.RawMessage `json:"sceneIndex"`
	Payload    *string         `json:"payload"`
	MIMEType   string          `json:"mimeType"`
}

// DecodeInbound parses and validates one client frame. Unknown fields are
// ignored. Every failure wraps [ErrMalformedMessage].
func DecodeInbound(data []byte) (Inbound, error) {
	var w wireInbound
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch w.Type {
	case TypeStartSession:
		id, err := parseInt(w.ScriptID)
		if err != nil {
			return nil, fmt.Errorf("%w: scriptId: %v", ErrMalformedMessage, err)
		}
		if id <= 0 {
			return nil, fmt.Errorf("%w: scriptId must be positive", ErrMalformedMessage)
		}
		msg := StartSession{ScriptID: id}
		if len(w.SceneIndex) > 0 {
			idx, err := parseInt(w.SceneIndex)
			if err != nil {
				return nil, fmt.Errorf("%w: sceneIndex: %v", ErrMalformedMessage, err)
			}
			if idx < 0 {
				return nil, fmt.Errorf("%w: sceneIndex must not be negative", ErrMalformedMessage)
			}
			i := int(idx)
			msg.SceneIndex = &i
		}
		return msg, nil

	case TypeAudio:
		if w.Payload == nil {
			return nil, fmt.Errorf("%w: payload is required", ErrMalformedMessage)
		}
		audio, err := base64.StdEncoding.DecodeString(*w.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload is not base64: %v", ErrMalformedMessage, err)
		}
		if len(audio) == 0 {
			return nil, fmt.Errorf("%w: payload is empty", ErrMalformedMessage)
		}
		return Audio{Payload: audio, MIMEType: w.MIMEType}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, w.Type)
	}
}

// parseInt accepts a JSON number with no fractional part, so 3, 3.0 and
// 3e0 are all 3. Strings and null are rejected.
func parseInt(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, fmt.Errorf("required")
	}
	if bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("not an integer: null")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("not an integer: %s", raw)
	}
	return int64(f), nil
}

// ---- outbound ----

// Outbound is a server frame. Each implementation marshals itself with its
// "type" discriminant.
type Outbound interface {
	MessageType() string
}

// Connected is sent once when the socket is accepted.
type Connected struct{}

// SessionStarted acknowledges a start_session.
type SessionStarted struct {
	SessionID string `json:"sessionId"`
	ScriptID  int64  `json:"scriptId"`
	LineIndex int    `json:"lineIndex"`
	LineCount int    `json:"lineCount"`
}

// LinePrompt carries the synthesized audio of the line the performer should
// say next.
type LinePrompt struct {
	Payload   []byte `json:"payload"`
	LineIndex int    `json:"lineIndex"`
}

// VerificationResult reports the outcome of one audio message.
type VerificationResult struct {
	Passed     bool            `json:"passed"`
	Score      *float64        `json:"score,omitempty"`
	Category   verify.Category `json:"category,omitempty"`
	LineIndex  int             `json:"lineIndex"`
	TargetLine string          `json:"targetLine,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Diff       []verify.DiffOp `json:"diff,omitempty"`
}

// TTSAudio replays a line after a rejected attempt.
type TTSAudio struct {
	Payload   []byte `json:"payload"`
	LineIndex *int   `json:"lineIndex,omitempty"`
}

// SessionComplete is sent after the last line was approved.
type SessionComplete struct {
	SessionID string `json:"sessionId"`
	LineCount int    `json:"lineCount"`
}

// ErrorMessage reports a recoverable or fatal problem to the client.
type ErrorMessage struct {
	Message string `json:"message"`
}

func (Connected) MessageType() string          { return TypeConnected }
func (SessionStarted) MessageType() string     { return TypeSessionStarted }
func (LinePrompt) MessageType() string         { return TypeLinePrompt }
func (VerificationResult) MessageType() string { return TypeVerificationResult }
func (TTSAudio) MessageType() string           { return TypeTTSAudio }
func (SessionComplete) MessageType() string    { return TypeSessionComplete }
func (ErrorMessage) MessageType() string       { return TypeError }

// The MarshalJSON methods below prepend the discriminant. The local alias
// types drop the method set so json.Marshal does not recurse.

func (m Connected) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{TypeConnected})
}

func (m SessionStarted) MarshalJSON() ([]byte, error) {
	type alias SessionStarted
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeSessionStarted, alias(m)})
}

func (m LinePrompt) MarshalJSON() ([]byte, error) {
	type alias LinePrompt
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeLinePrompt, alias(m)})
}

func (m VerificationResult) MarshalJSON() ([]byte, error) {
	type alias VerificationResult
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeVerificationResult, alias(m)})
}

func (m TTSAudio) MarshalJSON() ([]byte, error) {
	type alias TTSAudio
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeTTSAudio, alias(m)})
}

func (m SessionComplete) MarshalJSON() ([]byte, error) {
	type alias SessionComplete
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeSessionComplete, alias(m)})
}

func (m ErrorMessage) MarshalJSON() ([]byte, error) {
	type alias ErrorMessage
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeError, alias(m)})
}

// Encode marshals an outbound frame.
func Encode(m Outbound) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("rehearsal: encode %s: %w", m.MessageType(), err)
	}
	return data, nil
}
