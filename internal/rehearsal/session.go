// Package rehearsal runs one line-rehearsal session per client connection.
//
// A [Session] is a state machine driven by inbound protocol frames. The
// transport hands every raw frame to [Session.Submit]; a single worker
// goroutine started with [Session.Run] processes them strictly in arrival
// order, so at most one audio message is transcribed and verified at a time.
// While a verification is in flight, up to [Deps.PendingAudio] further audio
// frames wait in the queue; beyond that Submit rejects audio with [ErrBusy].
// Other frames, and audio arriving while nothing is being verified, are
// always queued.
//
// Outbound frames go to an [Emitter]. Sessions share nothing mutable with
// each other; the scripts they read are immutable once loaded.
package rehearsal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/internal/verify"
	"github.com/MrWong99/rehearse/pkg/provider/stt"
	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

// Emitter delivers outbound frames to the client. Implementations must be
// safe for concurrent use: [Session.Submit] and the worker may emit at the
// same time.
type Emitter interface {
	Emit(ctx context.Context, msg Outbound) error
}

// EmitterFunc adapts a function to [Emitter].
type EmitterFunc func(ctx context.Context, msg Outbound) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, msg Outbound) error { return f(ctx, msg) }

// Deps are the collaborators of a [Session].
type Deps struct {
	// Scripts resolves start_session requests. Required.
	Scripts script.Store

	// STT transcribes audio messages. When nil every audio message is
	// answered with a transcription-unavailable error.
	STT stt.Provider

	// STTName labels transcription metrics.
	STTName string

	// TTS renders line prompts and retry cues. Optional.
	TTS tts.Provider

	// TTSName labels synthesis metrics.
	TTSName string

	// Voice is passed to every TTS call.
	Voice tts.Voice

	// Verifier checks transcripts. Nil uses verify.New().
	Verifier *verify.Verifier

	// Emitter receives outbound frames. Required.
	Emitter Emitter

	// Metrics is optional.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// AudioMIMEType is used when an audio message does not name one.
	AudioMIMEType string

	// PendingAudio is how many audio frames may wait while one is being
	// verified. Zero rejects all audio that arrives during a verification.
	PendingAudio int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Snapshot is a point-in-time copy of a session's public state.
type Snapshot struct {
	ID       string
	ScriptID int64
	// CurrentLine is the line being rehearsed. It equals LineCount once the
	// session is COMPLETE.
	CurrentLine int
	LineCount   int
	State       State
	CreatedAt   time.Time
}

// Session is one rehearsal. Create it with [New], start the worker with
// [Session.Run] and feed it with [Session.Submit].
type Session struct {
	deps Deps
	log  *slog.Logger

	id        string
	createdAt time.Time

	jobs    chan Inbound
	done    chan struct{}
	running atomic.Bool

	// Owned by the worker goroutine.
	state    State
	scriptID int64
	lines    []script.Line
	cursor   int

	// mu guards snap and the audio accounting: queuedAudio frames sit in
	// jobs, and inFlight is set from the moment the worker takes one until
	// its verification ends.
	mu          sync.Mutex
	snap        Snapshot
	queuedAudio int
	inFlight    bool
}

// queueSlack is the room jobs has beyond the audio frames that may wait.
// Submit blocks, rather than fails, when a client floods other frames.
const queueSlack = 4

// New creates an IDLE session.
func New(deps Deps) (*Session, error) {
	if deps.Scripts == nil {
		return nil, errors.New("rehearsal: script store is required")
	}
	if deps.Emitter == nil {
		return nil, errors.New("rehearsal: emitter is required")
	}
	if deps.PendingAudio < 0 {
		return nil, fmt.Errorf("rehearsal: pending audio must not be negative, got %d", deps.PendingAudio)
	}
	if deps.Verifier == nil {
		deps.Verifier = verify.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.AudioMIMEType == "" {
		deps.AudioMIMEType = stt.DefaultMIMEType
	}

	id := uuid.NewString()
	s := &Session{
		deps:      deps,
		log:       deps.Logger.With("session_id", id),
		id:        id,
		createdAt: deps.Now().UTC(),
		jobs:      make(chan Inbound, deps.PendingAudio+queueSlack),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	s.publish()
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Done is closed when [Session.Run] returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns a copy of the session's public state. Safe for concurrent
// use.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Submit decodes one raw client frame and queues it for the worker.
//
// A malformed frame is answered with an error frame and [ErrMalformedMessage]
// is returned. Audio arriving while a verification is in flight and
// [Deps.PendingAudio] audio frames already wait is answered likewise with
// [ErrBusy]. Neither changes the session state. After the session ended,
// Submit returns [ErrSessionClosed] without emitting anything. Submit may
// block briefly while the worker catches up; it gives up when ctx is done.
func (s *Session) Submit(ctx context.Context, raw []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	msg, err := DecodeInbound(raw)
	if err != nil {
		s.recordInbound(ctx, "invalid")
		s.log.Debug("rehearsal: rejected frame", "err", err)
		s.emit(ctx, ErrorMessage{Message: err.Error()})
		return err
	}
	s.recordInbound(ctx, msg.MessageType())

	_, isAudio := msg.(Audio)
	if isAudio && !s.reserveAudio() {
		s.emit(ctx, ErrorMessage{Message: "busy: previous audio is still being verified"})
		return ErrBusy
	}

	select {
	case s.jobs <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		if isAudio {
			s.releaseAudio()
		}
		return ctx.Err()
	}
}

// reserveAudio counts one more queued audio frame unless a verification is
// in flight and the queue already holds PendingAudio of them.
func (s *Session) reserveAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight && s.queuedAudio >= s.deps.PendingAudio {
		return false
	}
	s.queuedAudio++
	return true
}

func (s *Session) releaseAudio() {
	s.mu.Lock()
	s.queuedAudio--
	s.mu.Unlock()
}

// takeAudio moves one audio frame from the queue into flight.
func (s *Session) takeAudio() {
	s.mu.Lock()
	s.queuedAudio--
	s.inFlight = true
	s.mu.Unlock()
}

func (s *Session) landAudio() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Run processes queued frames until the session reaches a terminal state or
// ctx is cancelled. It returns nil after COMPLETE, the cause after ERROR, and
// ctx.Err() on cancellation (after which nothing more is emitted).
//
// Run may be called only once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("rehearsal: session already running")
	}
	defer close(s.done)

	if m := s.deps.Metrics; m != nil {
		m.ActiveSessions.Add(ctx, 1)
		defer m.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}

	for {
		select {
		case <-ctx.Done():
			s.fail()
			return ctx.Err()
		case msg := <-s.jobs:
			_, isAudio := msg.(Audio)
			if isAudio {
				s.takeAudio()
			}
			err := s.handle(ctx, msg)
			if isAudio {
				s.landAudio()
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.fail()
				return ctxErr
			}
			if s.state == StateComplete {
				return nil
			}
			if s.state == StateError {
				return err
			}
		}
	}
}

// handle dispatches one frame. A panic is recovered, reported to the client
// and moves the session to ERROR.
func (s *Session) handle(ctx context.Context, msg Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("rehearsal: panic while handling frame",
				"type", msg.MessageType(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			s.emit(ctx, ErrorMessage{Message: "internal error"})
			s.fail()
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	switch m := msg.(type) {
	case StartSession:
		return s.start(ctx, m)
	case Audio:
		return s.audio(ctx, m)
	default:
		return fmt.Errorf("rehearsal: unhandled frame %T", msg)
	}
}

// start binds the session to a script and prompts the first line.
func (s *Session) start(ctx context.Context, m StartSession) error {
	if s.state != StateIdle {
		s.emit(ctx, ErrorMessage{Message: "session already started"})
		return nil
	}

	sc, err := s.deps.Scripts.Get(ctx, m.ScriptID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, script.ErrNotFound) {
			s.log.Warn("rehearsal: script lookup failed", "script_id", m.ScriptID, "err", err)
		}
		return s.invalid(ctx, fmt.Sprintf("script %d not found", m.ScriptID))
	}

	lines := sc.Lines()
	if len(lines) == 0 {
		return s.invalid(ctx, fmt.Sprintf("script %d has no lines", m.ScriptID))
	}
	start := 0
	if m.SceneIndex != nil {
		start = *m.SceneIndex
		_, err := s.deps.Scripts.Line(ctx, m.ScriptID, start)
		// The script may have been reloaded between the two lookups.
		if err == nil && start >= len(lines) {
			err = script.ErrLineOutOfRange
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, script.ErrLineOutOfRange) {
				return s.invalid(ctx, fmt.Sprintf("line %d out of range for script %d (%d lines)", start, m.ScriptID, len(lines)))
			}
			s.log.Warn("rehearsal: line lookup failed", "script_id", m.ScriptID, "line_index", start, "err", err)
			return s.invalid(ctx, fmt.Sprintf("line %d of script %d unavailable", start, m.ScriptID))
		}
	}

	s.scriptID = m.ScriptID
	s.lines = lines
	s.cursor = start
	s.setState(StateActive)

	s.log.Info("rehearsal: session started",
		"script_id", m.ScriptID,
		"line_index", start,
		"line_count", len(lines),
	)
	s.emit(ctx, SessionStarted{
		SessionID: s.id,
		ScriptID:  m.ScriptID,
		LineIndex: start,
		LineCount: len(lines),
	})
	return s.prompt(ctx)
}

// invalid reports an unresolvable session and ends it.
func (s *Session) invalid(ctx context.Context, reason string) error {
	s.emit(ctx, ErrorMessage{Message: "invalid session: " + reason})
	s.fail()
	return fmt.Errorf("%w: %s", ErrInvalidSession, reason)
}

// prompt synthesizes the current line and waits for audio. A missing or
// failing TTS provider skips the cue but not the transition.
func (s *Session) prompt(ctx context.Context) error {
	line := s.lines[s.cursor]
	if s.deps.TTS != nil {
		audio, err := s.synthesize(ctx, line.Text)
		switch {
		case err == nil:
			s.emit(ctx, LinePrompt{Payload: audio, LineIndex: line.Index})
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.log.Warn("rehearsal: line prompt skipped", "line_index", line.Index, "err", err)
		}
	}
	s.setState(StateAwaitingAudio)
	return nil
}

// audio transcribes and verifies one attempt at the current line.
func (s *Session) audio(ctx context.Context, m Audio) error {
	if s.state != StateAwaitingAudio {
		s.emit(ctx, ErrorMessage{Message: fmt.Sprintf("unexpected audio in state %s", s.state)})
		return nil
	}
	s.setState(StateVerifying)

	spoken, err := s.transcribe(ctx, m)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("rehearsal: transcription failed", "line_index", s.cursor, "err", err)
		s.emit(ctx, ErrorMessage{Message: ErrTranscriptionUnavailable.Error()})
		s.setState(StateAwaitingAudio)
		return nil
	}

	target := s.lines[s.cursor]
	res := s.deps.Verifier.Verify(ctx, spoken, target.Text)
	score := res.Score
	s.emit(ctx, VerificationResult{
		Passed:     res.Approved,
		Score:      &score,
		Category:   res.Category,
		LineIndex:  target.Index,
		TargetLine: target.Text,
		Transcript: spoken,
		Diff:       verify.Diff(res.NormalizedSpoken, res.NormalizedExpected),
	})
	s.log.Debug("rehearsal: line verified",
		"line_index", target.Index,
		"score", res.Score,
		"category", res.Category,
	)

	if !res.Approved {
		s.setState(StateAwaitingAudio)
		s.replay(ctx, target)
		return nil
	}

	s.cursor++
	if s.cursor >= len(s.lines) {
		s.setState(StateComplete)
		s.log.Info("rehearsal: session complete", "script_id", s.scriptID, "line_count", len(s.lines))
		s.emit(ctx, SessionComplete{SessionID: s.id, LineCount: len(s.lines)})
		return nil
	}
	s.setState(StateActive)
	return s.prompt(ctx)
}

// replay sends the rejected line again as a cue for the retry.
func (s *Session) replay(ctx context.Context, line script.Line) {
	if s.deps.TTS == nil {
		return
	}
	audio, err := s.synthesize(ctx, line.Text)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("rehearsal: retry cue skipped", "line_index", line.Index, "err", err)
		}
		return
	}
	idx := line.Index
	s.emit(ctx, TTSAudio{Payload: audio, LineIndex: &idx})
}

func (s *Session) transcribe(ctx context.Context, m Audio) (string, error) {
	if s.deps.STT == nil {
		return "", fmt.Errorf("%w: %w", ErrTranscriptionUnavailable, stt.ErrNotConfigured)
	}
	ctx, span := observe.StartSpan(ctx, "rehearsal.transcribe")
	defer span.End()

	mime := m.MIMEType
	if mime == "" {
		mime = s.deps.AudioMIMEType
	}
	span.SetAttributes(
		attribute.String("stt.provider", s.deps.STTName),
		attribute.String("stt.mime_type", mime),
		attribute.Int("stt.audio_bytes", len(m.Payload)),
	)

	start := time.Now()
	text, err := s.deps.STT.Transcribe(ctx, m.Payload, mime)
	s.recordProvider(ctx, "stt", s.deps.STTName, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: %w", ErrTranscriptionUnavailable, err)
	}
	return text, nil
}

func (s *Session) synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "rehearsal.synthesize")
	defer span.End()
	span.SetAttributes(attribute.String("tts.provider", s.deps.TTSName))

	start := time.Now()
	audio, err := s.deps.TTS.Synthesize(ctx, text, s.deps.Voice)
	s.recordProvider(ctx, "tts", s.deps.TTSName, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return audio, nil
}

func (s *Session) recordProvider(ctx context.Context, kind, name string, d time.Duration, err error) {
	m := s.deps.Metrics
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("provider", name))
	switch kind {
	case "stt":
		m.STTDuration.Record(ctx, d.Seconds(), attrs)
	case "tts":
		m.TTSDuration.Record(ctx, d.Seconds(), attrs)
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, name, kind)
	}
	m.RecordProviderRequest(ctx, name, kind, status)
}

func (s *Session) recordInbound(ctx context.Context, msgType string) {
	if m := s.deps.Metrics; m != nil {
		m.RecordMessage(ctx, "in", msgType)
	}
}

// emit sends msg unless ctx is already done.
func (s *Session) emit(ctx context.Context, msg Outbound) {
	if ctx.Err() != nil {
		return
	}
	if err := s.deps.Emitter.Emit(ctx, msg); err != nil {
		s.log.Debug("rehearsal: emit failed", "type", msg.MessageType(), "err", err)
		return
	}
	if m := s.deps.Metrics; m != nil {
		m.RecordMessage(ctx, "out", msg.MessageType())
	}
}

func (s *Session) fail() {
	if !s.state.Terminal() {
		s.setState(StateError)
	}
}

// setState moves the worker-owned state and publishes a snapshot.
func (s *Session) setState(st State) {
	s.state = st
	s.publish()
}

func (s *Session) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateVerifying {
		// The verification is over even if its handler still prompts.
		s.inFlight = false
	}
	s.snap = Snapshot{
		ID:          s.id,
		ScriptID:    s.scriptID,
		CurrentLine: s.cursor,
		LineCount:   len(s.lines),
		State:       s.state,
		CreatedAt:   s.createdAt,
	}
}
