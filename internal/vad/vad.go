// Package vad implements frame-level voice activity detection based on RMS
// energy with hysteresis.
//
// Two detection profiles exist side by side: the turn profile is conservative
// (high threshold, sustained silence before a turn is considered finished) and
// drives the recording state machine, while the interrupt profile is eager
// (low threshold, one or two frames to trigger) and drives barge-in detection
// during agent speech. Both run over the same frames; they only differ in
// configuration.
//
// Detection is synchronous by design: Feed returns immediately with a
// detection result, making it suitable for the per-session frame loop that
// gates STT input. A Detector holds per-stream state and must not be shared
// across goroutines.
package vad

import "math"

// Level computes the RMS energy of a PCM frame, normalized to [0.0, 1.0]
// against full-scale int16. Silence is 0; a full-scale square wave is 1.
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum/float64(len(samples))) / 32768.0
}

// EventType enumerates the detection states reported by [Detector.Feed].
type EventType int

const (
	// Silence indicates no speech detected.
	Silence EventType = iota

	// SpeechStart indicates speech has just begun (the trigger-frame
	// requirement was met on this frame).
	SpeechStart

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended (the hang-frame requirement
	// was met on this frame).
	SpeechEnd
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case Silence:
		return "silence"
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Event is the detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Level is the normalized RMS energy of the frame (0.0–1.0).
	Level float64
}

// Profile holds the tuning parameters for one detector. All thresholds are
// normalized RMS levels in [0.0, 1.0].
type Profile struct {
	// SpeechThreshold is the level at or above which a frame counts toward
	// starting speech. Higher values reduce false positives at the cost of
	// increased speech-start latency.
	SpeechThreshold float64

	// SilenceThreshold is the level below which a frame counts toward ending
	// speech. Must be ≤ SpeechThreshold; the gap between the two provides
	// hysteresis so that levels hovering near the boundary do not flicker.
	SilenceThreshold float64

	// TriggerFrames is the number of consecutive speech frames required before
	// the detector reports SpeechStart.
	TriggerFrames int

	// HangFrames is the number of consecutive silence frames required before
	// the detector reports SpeechEnd.
	HangFrames int
}

// TurnProfile returns the default conservative profile used for turn
// detection on 20ms frames: ~60ms of speech to start, ~700ms of silence to
// end. The long hang time is what lets a speaker pause mid-sentence without
// losing the floor.
func TurnProfile() Profile {
	return Profile{
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		TriggerFrames:    3,
		HangFrames:       35,
	}
}

// InterruptProfile returns the default eager profile used for barge-in
// detection while the agent is speaking: a lower threshold and a two-frame
// (~40ms) trigger so that an interjection registers before the agent has
// emitted more than a few sub-frames of audio.
func InterruptProfile() Profile {
	return Profile{
		SpeechThreshold:  0.010,
		SilenceThreshold: 0.006,
		TriggerFrames:    2,
		HangFrames:       10,
	}
}

// Detector is a stateful frame-level speech detector for a single audio
// stream. It applies the hysteresis described by its [Profile]: speech starts
// only after TriggerFrames consecutive frames above SpeechThreshold and ends
// only after HangFrames consecutive frames below SilenceThreshold.
//
// A Detector must not be shared across goroutines.
type Detector struct {
	profile Profile

	inSpeech     bool
	speechCount  int
	silenceCount int
}

// NewDetector creates a detector with the given profile.
func NewDetector(profile Profile) *Detector {
	return &Detector{profile: profile}
}

// Feed analyses a single PCM frame and returns the detection result. It must
// be called with frames in stream order.
func (d *Detector) Feed(samples []int16) Event {
	level := Level(samples)

	if d.inSpeech {
		if level < d.profile.SilenceThreshold {
			d.silenceCount++
			if d.silenceCount >= d.profile.HangFrames {
				d.inSpeech = false
				d.silenceCount = 0
				d.speechCount = 0
				return Event{Type: SpeechEnd, Level: level}
			}
		} else {
			d.silenceCount = 0
		}
		return Event{Type: SpeechContinue, Level: level}
	}

	if level >= d.profile.SpeechThreshold {
		d.speechCount++
		if d.speechCount >= d.profile.TriggerFrames {
			d.inSpeech = true
			d.speechCount = 0
			d.silenceCount = 0
			return Event{Type: SpeechStart, Level: level}
		}
	} else {
		d.speechCount = 0
	}
	return Event{Type: Silence, Level: level}
}

// Speaking reports whether the detector is currently inside a speech segment.
func (d *Detector) Speaking() bool {
	return d.inSpeech
}

// Reset clears all accumulated detection state. Use this when the stream is
// interrupted or the session changes state so that stale counters from the
// previous segment do not affect subsequent frames.
func (d *Detector) Reset() {
	d.inSpeech = false
	d.speechCount = 0
	d.silenceCount = 0
}

// Prime puts the detector directly into its in-speech state with fresh
// counters. Use this when the stream is known to be mid-speech already, such
// as a recording seeded from captured barge-in audio: SpeechEnd can then fire
// on sustained silence without the stream having to cross this profile's
// onset trigger first.
func (d *Detector) Prime() {
	d.inSpeech = true
	d.speechCount = 0
	d.silenceCount = 0
}
