// Package audio defines the frame type, buffering primitives, and transport
// interfaces for audio flowing through the voxloop pipeline.
//
// The two primary abstractions are:
//
//   - [Platform] — connects to a room and returns a [Connection].
//   - [Connection] — an active session on that room, giving callers
//     per-participant input streams, a per-participant output [Sink], and
//     participant lifecycle events.
//
// Implementations of these interfaces are provided by transport-specific
// adapter packages (e.g., audio/wsbridge). The interfaces are intentionally
// narrow to keep the turn engine decoupled from transport details.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — delivered by the
// transport layer, classified by VAD, buffered while recording, and emitted
// through output sinks. A frame is immutable once delivered.
type AudioFrame struct {
	// Data is raw little-endian int16 PCM. Sample rate and channel count are
	// carried alongside so downstream stages never have to guess.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Opus decode output, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono (the engine's working format), 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of int16 samples in the frame across all channels.
func (f AudioFrame) Samples() int {
	return len(f.Data) / 2
}

// Duration returns the playback duration of the frame, or zero if the frame
// carries no rate information.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samplesPerChannel := f.Samples() / f.Channels
	return time.Duration(samplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// BytesToInt16 converts little-endian PCM bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Int16ToBytes converts int16 samples to little-endian PCM bytes.
func Int16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
