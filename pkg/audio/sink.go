package audio

// Sink is the outbound audio path for one session. The playback pipeline
// emits synthesized speech in small sub-frames so that cancellation can be
// observed between emissions.
//
// Implementations must not block for longer than a few milliseconds per call;
// the worst-case barge-in latency is bounded by the sub-frame duration plus
// whatever time Emit takes.
type Sink interface {
	// Emit sends one sub-frame of audio to the participant. The frame's
	// format is whatever the pipeline was configured to produce.
	Emit(frame AudioFrame) error

	// FlushSilence sends n consecutive silence sub-frames. The pipeline calls
	// this after a cancelled playback to clear any downstream jitter buffer so
	// the agent falls silent immediately rather than draining queued speech.
	FlushSilence(n int) error
}

// SilenceFrame returns an all-zero mono frame of the given sample count and
// rate, for sinks and tests that need to fabricate silence.
func SilenceFrame(samples, sampleRate int) AudioFrame {
	return AudioFrame{
		Data:       make([]byte, samples*2),
		SampleRate: sampleRate,
		Channels:   1,
	}
}
