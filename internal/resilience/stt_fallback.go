package resilience

import (
	"context"
	"errors"

	"github.com/voxloop/voxloop/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple transcription backends. Each backend has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback is
// tried.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, transcriber stt.Transcriber) {
	f.group.AddFallback(name, transcriber)
}

// Transcribe submits the utterance to the first healthy backend. A clean
// [stt.ErrNoSpeech] result does not count as a failure and is returned
// directly rather than triggering failover — the audio really was silent.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []int16, sampleRate int, language string) (string, error) {
	var noSpeech bool
	text, err := ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (string, error) {
		out, err := t.Transcribe(ctx, pcm, sampleRate, language)
		if errors.Is(err, stt.ErrNoSpeech) {
			noSpeech = true
			return "", nil
		}
		return out, err
	})
	if err != nil {
		return "", err
	}
	if noSpeech && text == "" {
		return "", stt.ErrNoSpeech
	}
	return text, nil
}
