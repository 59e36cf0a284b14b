// Package types defines the shared types used across all voxloop packages.
//
// These types form the lingua franca between providers, the turn engine, the
// memory layer, and the event bus. They are intentionally minimal — each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports.
package types

import "time"

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// VoiceProfile describes a TTS voice configuration for the agent.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g., "alloy", "nova").
	ID string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// TurnEntry is a complete exchange record written to the session log.
// One entry is recorded per speaker utterance — the participant's transcript
// and, separately, the agent's spoken reply — forming the atomic unit of
// session history.
type TurnEntry struct {
	// SessionID identifies the voice session this entry belongs to.
	SessionID string

	// SpeakerID identifies who spoke (participant identity or "agent").
	SpeakerID string

	// Text is the transcript or reply text.
	Text string

	// IsAgent indicates whether this entry was spoken by the agent.
	IsAgent bool

	// Interrupted is true for agent entries whose playback was cut short by
	// barge-in. For those entries Text holds only what was actually spoken
	// aloud; the full intended reply lives in the interrupt tracker until the
	// next generation consumes it.
	Interrupted bool

	// Timestamp is when this entry was recorded.
	Timestamp time.Time

	// Duration is the length of the utterance, when known.
	Duration time.Duration
}
