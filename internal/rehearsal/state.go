package rehearsal

// State is the position of a [Session] in its lifecycle.
//
//	IDLE ─start_session─▶ ACTIVE ─prompt─▶ AWAITING_AUDIO ─audio─▶ VERIFYING
//	                        ▲                     ▲                    │
//	                        └──── approved ───────┼──── rejected ──────┤
//	                                              │                    ▼
//	                                              └──────────── COMPLETE / ERROR
type State int

const (
	// StateIdle is the initial state; no script is bound.
	StateIdle State = iota

	// StateActive means a line is about to be prompted.
	StateActive

	// StateAwaitingAudio means the session waits for the performer to speak
	// the current line.
	StateAwaitingAudio

	// StateVerifying means one audio message is being transcribed and
	// checked.
	StateVerifying

	// StateComplete is terminal: every line was approved.
	StateComplete

	// StateError is terminal: the session was invalid, the transport went
	// away or processing failed irrecoverably.
	StateError
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateAwaitingAudio:
		return "AWAITING_AUDIO"
	case StateVerifying:
		return "VERIFYING"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}
