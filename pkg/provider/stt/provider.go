// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// Transcription is utterance-oriented: the turn engine buffers a complete
// utterance (speech start to end-of-turn silence) and submits it as one batch
// request. This keeps the provider surface small and lets any HTTP
// transcription API serve as a backend without streaming plumbing.
//
// Implementations must be safe for concurrent use; one Transcriber typically
// serves every session in the process.
package stt

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned when the provider processed the audio successfully
// but found nothing to transcribe. Callers should treat it as an empty
// transcript rather than a failure.
var ErrNoSpeech = errors.New("stt: no speech detected")

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe converts one utterance of mono PCM audio to text. pcm holds
	// signed 16-bit samples at sampleRate Hz. language is a BCP-47 tag (e.g.
	// "en", "de-DE"); an empty string lets the provider auto-detect.
	//
	// Returns the transcribed text with surrounding whitespace trimmed, or
	// [ErrNoSpeech] if the audio contained nothing recognizable. Any other
	// error indicates a provider failure and the utterance may be retried.
	Transcribe(ctx context.Context, pcm []int16, sampleRate int, language string) (string, error)
}
