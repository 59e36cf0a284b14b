package resilience

import (
	"context"

	"github.com/voxloop/voxloop/pkg/provider/tts"
	"github.com/voxloop/voxloop/pkg/types"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
//
// All registered backends must produce PCM at the same sample rate; the
// playback pipeline is configured once from [TTSFallback.SampleRate] and does
// not re-negotiate per chunk.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *TTSFallback) AddFallback(name string, synth tts.Synthesizer) {
	f.group.AddFallback(name, synth)
}

// Synthesize converts the chunk using the first healthy backend. Context
// cancellation (playback was interrupted) aborts the chain immediately.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(s tts.Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text, voice)
	})
}

// SampleRate returns the primary backend's output rate.
func (f *TTSFallback) SampleRate() int {
	return f.group.backends[0].value.SampleRate()
}
