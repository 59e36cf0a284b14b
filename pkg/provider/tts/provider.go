// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// Synthesis is chunk-oriented: the playback pipeline splits a reply into
// sentence-sized chunks and synthesizes them one at a time, checking for
// cancellation between chunks. This bounds how much speech is ever committed
// ahead of an interruption, at the cost of one provider round trip per chunk.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/voxloop/voxloop/pkg/types"
)

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize converts one text chunk to mono signed 16-bit little-endian
	// PCM at the rate reported by SampleRate. voice selects the voice profile;
	// implementations should fall back to a default voice when voice.ID is
	// empty rather than fail.
	//
	// Synthesize must honour ctx cancellation: when playback is interrupted
	// mid-reply the pipeline abandons the remaining chunks, and an in-flight
	// request should be aborted, not completed and discarded.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

	// SampleRate returns the sample rate in Hz of the PCM that Synthesize
	// produces. It is constant for the lifetime of the synthesizer.
	SampleRate() int
}
