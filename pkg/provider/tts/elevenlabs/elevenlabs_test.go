package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

// fakeServer emulates the stream-input endpoint. It records the request URL
// and the text messages, then replies with replies (raw JSON frames).
type fakeServer struct {
	srv      *httptest.Server
	requests chan *http.Request
	messages chan []textMessage
}

func newFakeServer(t *testing.T, replies ...string) *fakeServer {
	t.Helper()
	f := &fakeServer{
		requests: make(chan *http.Request, 1),
		messages: make(chan []textMessage, 1),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests <- r
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		var got []textMessage
		for len(got) < 3 {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			if err := json.Unmarshal(data, &m); err != nil {
				return
			}
			got = append(got, m)
		}
		f.messages <- got

		for _, rep := range replies {
			if err := c.Write(ctx, websocket.MessageText, []byte(rep)); err != nil {
				return
			}
		}
		// Drain until the client closes.
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func audioFrame(data string) string {
	b, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString([]byte(data))})
	return string(b)
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); !errors.Is(err, tts.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSynthesize_CollectsChunks(t *testing.T) {
	t.Parallel()

	f := newFakeServer(t, audioFrame("ID3-"), audioFrame("frames"), `{"isFinal":true}`)
	p, err := New("xi-test", WithBaseURL(f.wsURL()), WithVoiceID("voice-1"), WithOutputFormat("mp3_22050_32"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audio, err := p.Synthesize(ctx, "To be or not to be", tts.Voice{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "ID3-frames" {
		t.Errorf("audio = %q, want %q", audio, "ID3-frames")
	}

	req := <-f.requests
	if req.URL.Path != "/v1/text-to-speech/voice-1/stream-input" {
		t.Errorf("path = %q", req.URL.Path)
	}
	if got := req.URL.Query().Get("model_id"); got != defaultModel {
		t.Errorf("model_id = %q, want %q", got, defaultModel)
	}
	if got := req.URL.Query().Get("output_format"); got != "mp3_22050_32" {
		t.Errorf("output_format = %q", got)
	}

	msgs := <-f.messages
	if msgs[0].Text != " " || msgs[0].XiAPIKey != "xi-test" || msgs[0].VoiceSettings == nil {
		t.Errorf("begin message = %+v", msgs[0])
	}
	if msgs[1].Text != "To be or not to be " || !msgs[1].TryTriggerGeneration {
		t.Errorf("text message = %+v", msgs[1])
	}
	if msgs[2].Text != "" || msgs[2].XiAPIKey != "" {
		t.Errorf("end message = %+v", msgs[2])
	}
}

func TestSynthesize_RequestVoiceOverridesDefault(t *testing.T) {
	t.Parallel()

	f := newFakeServer(t, audioFrame("x"), `{"isFinal":true}`)
	p, _ := New("xi-test", WithBaseURL(f.wsURL()), WithVoiceID("default-voice"))

	if _, err := p.Synthesize(context.Background(), "line", tts.Voice{ID: "other"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if req := <-f.requests; !strings.Contains(req.URL.Path, "/other/") {
		t.Errorf("path = %q, want voice other", req.URL.Path)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	f := newFakeServer(t, `{"error":"quota_exceeded","message":"character limit reached"}`)
	p, _ := New("xi-test", WithBaseURL(f.wsURL()), WithVoiceID("v"))

	_, err := p.Synthesize(context.Background(), "line", tts.Voice{})
	if !errors.Is(err, tts.ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
	if !strings.Contains(err.Error(), "quota_exceeded") {
		t.Errorf("err = %v, want upstream code", err)
	}
}

func TestSynthesize_NoVoice(t *testing.T) {
	t.Parallel()

	p, _ := New("xi-test")
	_, err := p.Synthesize(context.Background(), "line", tts.Voice{})
	if !errors.Is(err, tts.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestStreamURL_EscapesVoice(t *testing.T) {
	t.Parallel()

	p, _ := New("k", WithModel("eleven_flash_v2_5"))
	got := p.streamURL("a/b")
	if !strings.HasPrefix(got, "wss://api.elevenlabs.io/v1/text-to-speech/a%2Fb/stream-input?") {
		t.Errorf("streamURL = %q", got)
	}
	if !strings.Contains(got, "model_id=eleven_flash_v2_5") {
		t.Errorf("streamURL = %q, missing model", got)
	}
}
