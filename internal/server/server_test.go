package server_test

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

	"github.com/MrWong99/rehearse/internal/health"
	"github.com/MrWong99/rehearse/internal/rehearsal"
	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/internal/server"
	sttmock "github.com/MrWong99/rehearse/pkg/provider/stt/mock"
)

type frame map[string]any

func (f frame) typ() string { s, _ := f["type"].(string); return s }

type fixture struct {
	srv *server.Server
	ts  *httptest.Server
	stt *sttmock.Provider
}

func newFixture(t *testing.T, mutate func(*server.Config)) *fixture {
	t.Helper()
	store, err := script.NewMemStore(script.Script{
		ID:      1,
		Title:   "Two lines",
		Content: "To be or not to be\nthat is the question",
	})
	if err != nil {
		t.Fatal(err)
	}
	fx := &fixture{stt: &sttmock.Provider{}}
	cfg := server.Config{
		NewSession: func(emitter rehearsal.Emitter) (*rehearsal.Session, error) {
			return rehearsal.New(rehearsal.Deps{
				Scripts:      store,
				STT:          fx.stt,
				STTName:      "mock",
				Emitter:      emitter,
				PendingAudio: 1,
			})
		},
		Health: health.New(health.ConfiguredChecker("stt", true, "")),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := server.New(cfg)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	fx.srv = srv
	fx.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		fx.ts.Close()
	})
	return fx
}

func (fx *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(fx.ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	if f := read(t, conn); f.typ() != rehearsal.TypeConnected {
		t.Fatalf("first frame: got %v, want connected", f)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return f
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func audio() map[string]any {
	return map[string]any{"type": "audio", "payload": base64.StdEncoding.EncodeToString([]byte("webm"))}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_FullRehearsal(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)
	fx.stt.Transcripts = []string{"to be or not to be", "that is the question"}
	conn := fx.dial(t)

	send(t, conn, map[string]any{"type": "start_session", "scriptId": 1})
	started := read(t, conn)
	if started.typ() != rehearsal.TypeSessionStarted {
		t.Fatalf("got %v, want session_started", started)
	}
	if started["lineCount"] != float64(2) {
		t.Errorf("lineCount: got %v", started["lineCount"])
	}

	send(t, conn, audio())
	res := read(t, conn)
	if res.typ() != rehearsal.TypeVerificationResult || res["passed"] != true {
		t.Fatalf("first result: got %v", res)
	}

	send(t, conn, audio())
	res = read(t, conn)
	if res.typ() != rehearsal.TypeVerificationResult || res["passed"] != true {
		t.Fatalf("second result: got %v", res)
	}
	if f := read(t, conn); f.typ() != rehearsal.TypeSessionComplete {
		t.Fatalf("got %v, want session_complete", f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
		t.Errorf("close status: got %v (err %v), want normal closure", got, err)
	}
	waitFor(t, func() bool { return fx.srv.Manager().Len() == 0 })
}

func TestServer_InvalidSessionClosesWithPolicyViolation(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)
	conn := fx.dial(t)

	send(t, conn, map[string]any{"type": "start_session", "scriptId": 404})
	f := read(t, conn)
	if f.typ() != rehearsal.TypeError || !strings.HasPrefix(f["message"].(string), "invalid session") {
		t.Fatalf("got %v, want invalid session error", f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Errorf("close status: got %v (err %v), want policy violation", got, err)
	}
}

func TestServer_MalformedFrameKeepsConnection(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)
	conn := fx.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if f := read(t, conn); f.typ() != rehearsal.TypeError {
		t.Fatalf("got %v, want error", f)
	}

	send(t, conn, map[string]any{"type": "start_session", "scriptId": 1})
	if f := read(t, conn); f.typ() != rehearsal.TypeSessionStarted {
		t.Fatalf("got %v, want session_started after malformed frame", f)
	}
}

func TestServer_ClientDisconnectCancelsSession(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)
	fx.stt.Block = make(chan struct{})
	fx.stt.Started = make(chan struct{}, 1)
	conn := fx.dial(t)

	send(t, conn, map[string]any{"type": "start_session", "scriptId": 1})
	read(t, conn)
	send(t, conn, audio())
	select {
	case <-fx.stt.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("transcription did not start")
	}
	if fx.srv.Manager().Len() != 1 {
		t.Fatalf("Len: got %d, want 1", fx.srv.Manager().Len())
	}

	conn.Close(websocket.StatusGoingAway, "bye")
	waitFor(t, func() bool { return fx.srv.Manager().Len() == 0 })
}

func TestServer_IdleTimeout(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, func(c *server.Config) { c.IdleTimeout = 100 * time.Millisecond })
	conn := fx.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected the idle connection to be closed")
	}
	waitFor(t, func() bool { return fx.srv.Manager().Len() == 0 })
}

func TestServer_ReadLimit(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, func(c *server.Config) { c.ReadLimit = 64 })
	conn := fx.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"audio","payload":"`+strings.Repeat("A", 256)+`"}`))
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusMessageTooBig {
		t.Errorf("close status: got %v (err %v), want message too big", got, err)
	}
}

func TestServer_ListSessions(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)
	conn := fx.dial(t)
	send(t, conn, map[string]any{"type": "start_session", "scriptId": 1})
	read(t, conn)
	waitFor(t, func() bool {
		snaps := fx.srv.Manager().Snapshots()
		return len(snaps) == 1 && snaps[0].State == rehearsal.StateAwaitingAudio
	})

	resp, err := http.Get(fx.ts.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Count    int `json:"count"`
		Sessions []struct {
			ScriptID  int64  `json:"scriptId"`
			State     string `json:"state"`
			LineCount int    `json:"lineCount"`
		} `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Sessions[0].ScriptID != 1 || body.Sessions[0].State != "AWAITING_AUDIO" || body.Sessions[0].LineCount != 2 {
		t.Errorf("got %+v", body)
	}
}

func TestServer_HealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	fx := newFixture(t, func(c *server.Config) {
		c.MetricsPath = "/metrics"
		c.MetricsHandler = metrics
	})

	for _, path := range []string{"/healthz", "/readyz", "/api/health", "/metrics"} {
		resp, err := http.Get(fx.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestServer_PlainHTTPOnWSPathIsRejected(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)
	resp, err := http.Get(fx.ts.URL + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode < 400 {
		t.Errorf("status: got %d, want a client error", resp.StatusCode)
	}
	if fx.srv.Manager().Len() != 0 {
		t.Errorf("Len: got %d, want 0", fx.srv.Manager().Len())
	}
}

func TestServer_ShutdownEndsSessions(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil)
	conn := fx.dial(t)
	waitFor(t, func() bool { return fx.srv.Manager().Len() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if fx.srv.Manager().Len() != 0 {
		t.Errorf("Len after shutdown: got %d", fx.srv.Manager().Len())
	}
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("expected the socket to be closed after shutdown")
	}
}

func TestNew_RequiresFactory(t *testing.T) {
	t.Parallel()
	if _, err := server.New(server.Config{}); err == nil {
		t.Fatal("expected error without session factory")
	}
}

func TestServer_FactoryErrorClosesSocket(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, func(c *server.Config) {
		c.NewSession = func(rehearsal.Emitter) (*rehearsal.Session, error) {
			return nil, errors.New("no store")
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(fx.ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusInternalError {
		t.Errorf("close status: got %v (err %v), want internal error", got, err)
	}
}
