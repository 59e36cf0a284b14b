// Package mock provides test doubles for the tts package interfaces.
//
// Use Synthesizer to return deterministic PCM and inspect which chunks the
// playback pipeline synthesized:
//
//	m := &mock.Synthesizer{PCMPerChunk: 480} // 20ms at 24kHz
//	pipeline := playback.New(m, sink, ...)
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/tts"
	"github.com/voxloop/voxloop/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesizer.Synthesize.
type SynthesizeCall struct {
	// Text is the chunk passed to Synthesize.
	Text string
	// Voice is the voice profile passed to Synthesize.
	Voice types.VoiceProfile
}

// Synthesizer is a mock implementation of tts.Synthesizer. It returns
// PCMPerChunk samples of non-zero PCM per call so that durations and
// sub-frame counts are predictable in tests.
type Synthesizer struct {
	mu sync.Mutex

	// PCMPerChunk is the number of int16 samples returned per Synthesize call.
	// Zero defaults to 2400 (100ms at the default 24kHz rate).
	PCMPerChunk int

	// Rate is the value returned by SampleRate. Zero defaults to 24000.
	Rate int

	// Err, if non-nil, is returned as the error from every Synthesize call.
	Err error

	// Delay, if non-nil, is waited on before returning; pass a channel that the
	// test closes to release a blocked Synthesize call. Synthesize also returns
	// early with ctx.Err() if the context is cancelled while waiting.
	Delay chan struct{}

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns PCMPerChunk samples of constant
// amplitude 1000.
func (m *Synthesizer) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	m.mu.Lock()
	m.SynthesizeCalls = append(m.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	n := m.PCMPerChunk
	if n == 0 {
		n = 2400
	}
	err := m.Err
	delay := m.Delay
	m.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		pcm[i*2] = 0xE8 // 1000 little-endian
		pcm[i*2+1] = 0x03
	}
	return pcm, nil
}

// SampleRate returns Rate, defaulting to 24000.
func (m *Synthesizer) SampleRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Rate == 0 {
		return 24000
	}
	return m.Rate
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (m *Synthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SynthesizeCalls)
}

// Texts returns the chunk texts in call order. Thread-safe.
func (m *Synthesizer) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.SynthesizeCalls))
	for i, c := range m.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Synthesizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SynthesizeCalls = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
