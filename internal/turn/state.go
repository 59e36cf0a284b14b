// Package turn implements the per-participant turn-taking state machine: it
// consumes ordered audio frames, detects utterance boundaries, drives the
// STT → LLM → TTS stages, and cancels agent playback when the participant
// barges in.
//
// One [Session] exists per remote participant, owned by a single goroutine
// started by the [Registry]. All mutable session state is confined to that
// goroutine; the stage goroutines it spawns communicate results back over a
// channel rather than sharing memory.
package turn

// State is the position of a session in the turn cycle. Exactly one state
// holds at a time.
type State int

const (
	// StateIdle is the initial state before any audio has arrived, and the
	// terminal state after an invariant violation forces a session reset.
	StateIdle State = iota

	// StateListening means the session is watching frames for speech onset.
	StateListening

	// StateRecording means speech is in progress and frames are being
	// accumulated into the recording buffer.
	StateRecording

	// StateProcessing means a finished utterance is in the STT → LLM stage.
	// Frames arriving now are dropped.
	StateProcessing

	// StateSpeaking means agent audio is playing. Frames are fed to the
	// interrupt detector and the capture ring instead of being dropped.
	StateSpeaking
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
