// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber to return scripted transcripts and inspect what audio the
// turn engine submitted:
//
//	m := &mock.Transcriber{Text: "hello there"}
//	engine := turn.NewEngine(..., m, ...)
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the samples passed to Transcribe.
	PCM []int16
	// SampleRate is the sample rate passed to Transcribe.
	SampleRate int
	// Language is the language tag passed to Transcribe.
	Language string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is the transcript returned by Transcribe when Texts is empty.
	Text string

	// Texts, if non-empty, is consumed one element per Transcribe call; after
	// the slice is exhausted, Text is returned.
	Texts []string

	// Err, if non-nil, is returned as the error from every Transcribe call.
	Err error

	// Delay, if non-nil, is waited on before returning; pass a channel that the
	// test closes to release a blocked Transcribe call. Transcribe also returns
	// early with ctx.Err() if the context is cancelled while waiting.
	Delay chan struct{}

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the scripted transcript.
func (m *Transcriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int, language string) (string, error) {
	m.mu.Lock()
	cp := make([]int16, len(pcm))
	copy(cp, pcm)
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{PCM: cp, SampleRate: sampleRate, Language: language})
	text := m.Text
	if len(m.Texts) > 0 {
		text = m.Texts[0]
		m.Texts = m.Texts[1:]
	}
	err := m.Err
	delay := m.Delay
	m.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscribeCalls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
