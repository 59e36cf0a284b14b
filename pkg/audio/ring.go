package audio

import "time"

// Ring is a bounded circular buffer of int16 PCM samples. When full, the
// oldest samples are overwritten. The turn engine uses one Ring per session to
// continuously capture incoming audio while the agent is speaking, so that a
// confirmed barge-in can seed the next recording with the audio the
// participant spoke during the interruption.
//
// A Ring is owned by a single session goroutine and is not safe for concurrent
// use.
type Ring struct {
	buf      []int16
	writePos int
	length   int
	rate     int
}

// NewRing creates a Ring holding at most capacity samples of PCM at the given
// sample rate. capacity must be > 0.
func NewRing(capacity, sampleRate int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]int16, capacity), rate: sampleRate}
}

// NewRingDuration creates a Ring sized to hold d worth of mono samples at
// sampleRate.
func NewRingDuration(d time.Duration, sampleRate int) *Ring {
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return NewRing(samples, sampleRate)
}

// Write appends samples, overwriting the oldest data once the ring is full.
func (r *Ring) Write(samples []int16) {
	for _, s := range samples {
		r.buf[r.writePos] = s
		r.writePos = (r.writePos + 1) % len(r.buf)
		if r.length < len(r.buf) {
			r.length++
		}
	}
}

// Len returns the number of samples currently held.
func (r *Ring) Len() int { return r.length }

// Duration returns the audio duration currently held.
func (r *Ring) Duration() time.Duration {
	if r.rate <= 0 {
		return 0
	}
	return time.Duration(r.length) * time.Second / time.Duration(r.rate)
}

// Snapshot returns the buffered samples in chronological order (oldest first).
// The returned slice is freshly allocated; the ring is left unchanged.
func (r *Ring) Snapshot() []int16 {
	out := make([]int16, r.length)
	start := (r.writePos - r.length + len(r.buf)) % len(r.buf)
	for i := 0; i < r.length; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Reset discards all buffered samples without releasing the backing array.
func (r *Ring) Reset() {
	r.writePos = 0
	r.length = 0
}

// PCMBuffer accumulates int16 PCM samples with amortized growth. The turn
// engine uses one per session as the recording buffer for the current
// utterance; it is cleared on every turn boundary rather than reallocated.
//
// A PCMBuffer is owned by a single session goroutine and is not safe for
// concurrent use.
type PCMBuffer struct {
	samples []int16
	rate    int
}

// NewPCMBuffer creates a PCMBuffer with an initial capacity hint of d worth of
// mono samples at sampleRate.
func NewPCMBuffer(d time.Duration, sampleRate int) *PCMBuffer {
	hint := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if hint < 0 {
		hint = 0
	}
	return &PCMBuffer{samples: make([]int16, 0, hint), rate: sampleRate}
}

// Append adds samples to the end of the buffer.
func (b *PCMBuffer) Append(samples []int16) {
	b.samples = append(b.samples, samples...)
}

// Len returns the number of buffered samples.
func (b *PCMBuffer) Len() int { return len(b.samples) }

// Duration returns the audio duration currently buffered.
func (b *PCMBuffer) Duration() time.Duration {
	if b.rate <= 0 {
		return 0
	}
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.rate)
}

// Take returns the buffered samples and resets the buffer. The returned slice
// is owned by the caller; subsequent appends do not affect it.
func (b *PCMBuffer) Take() []int16 {
	out := b.samples
	b.samples = make([]int16, 0, cap(out))
	return out
}

// Reset discards all buffered samples, retaining capacity.
func (b *PCMBuffer) Reset() {
	b.samples = b.samples[:0]
}
