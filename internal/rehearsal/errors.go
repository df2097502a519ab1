package rehearsal

import "errors"

var (
	// ErrInvalidSession is returned when the requested script or line cannot
	// be resolved. It ends the session.
	ErrInvalidSession = errors.New("rehearsal: invalid session")

	// ErrTranscriptionUnavailable is reported when no transcript could be
	// obtained for an audio message. The session stays on the same line.
	ErrTranscriptionUnavailable = errors.New("rehearsal: transcription unavailable")

	// ErrMalformedMessage wraps every protocol decoding or validation
	// failure. It never changes the session state.
	ErrMalformedMessage = errors.New("rehearsal: malformed message")

	// ErrBusy is returned by [Session.Submit] for audio that arrives while a
	// verification is in flight and the pending audio queue is full.
	// It is transient; the client may resend.
	ErrBusy = errors.New("rehearsal: busy")

	// ErrSessionClosed is returned by [Session.Submit] once the session has
	// reached a terminal state.
	ErrSessionClosed = errors.New("rehearsal: session closed")

	// ErrInternal is returned by [Session.Run] when message handling panicked.
	ErrInternal = errors.New("rehearsal: internal error")
)
