package playback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/provider/tts"
	"github.com/voxloop/voxloop/pkg/types"
)

// Config holds the tuning knobs for a [Pipeline].
type Config struct {
	// SubFrame is the duration of each emitted audio slice. Smaller values
	// react to cancellation faster at the cost of more sink writes.
	// Default: 5ms.
	SubFrame time.Duration

	// SilenceFlushFrames is how many silence sub-frames are pushed after a
	// cancelled playback to clear any downstream jitter buffer. Default: 8.
	SilenceFlushFrames int

	// MinChunkRunes is the minimum chunk length passed to [Chunks]. Default: 4.
	MinChunkRunes int
}

// withDefaults fills zero-value fields.
func (c Config) withDefaults() Config {
	if c.SubFrame <= 0 {
		c.SubFrame = 5 * time.Millisecond
	}
	if c.SilenceFlushFrames <= 0 {
		c.SilenceFlushFrames = 8
	}
	if c.MinChunkRunes <= 0 {
		c.MinChunkRunes = 4
	}
	return c
}

// Result describes how a playback ended.
type Result struct {
	// Spoken is the reply text that was actually played aloud: every fully
	// emitted chunk, plus the chunk that was being emitted when playback was
	// cancelled. This is what the interrupt tracker records.
	Spoken string

	// Completed is true when the whole reply played without interruption.
	Completed bool

	// AudioDuration is the total duration of emitted audio.
	AudioDuration time.Duration
}

// Pipeline synthesizes reply text chunk by chunk and streams it to a sink.
// One Pipeline is shared by all sessions; per-playback state lives on the
// stack of [Pipeline.Speak].
type Pipeline struct {
	synth   tts.Synthesizer
	metrics *observe.Metrics
	cfg     Config
}

// New creates a Pipeline. metrics may be nil in tests.
func New(synth tts.Synthesizer, metrics *observe.Metrics, cfg Config) *Pipeline {
	return &Pipeline{
		synth:   synth,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
	}
}

// Speak plays reply through sink until the reply ends or ctx is cancelled.
//
// Cancellation is observed at three checkpoints: before a chunk is sent for
// synthesis, after synthesis returns (the audio is discarded unplayed), and
// before each sub-frame emission. On cancellation the sink is flushed with
// silence so queued audio does not keep talking over the user.
//
// Speak never returns ctx.Err for a cancellation — an interrupted playback is
// a normal outcome, reported via Result.Completed.
func (p *Pipeline) Speak(ctx context.Context, reply string, voice types.VoiceProfile, sink audio.Sink) (Result, error) {
	rate := p.synth.SampleRate()
	subSamples := int(p.cfg.SubFrame.Seconds() * float64(rate))
	if subSamples == 0 {
		subSamples = 1
	}

	var (
		spoken  []string
		emitted time.Duration
	)

	cancelResult := func() Result {
		// Best effort: a failed flush can't make the cancel any worse.
		_ = sink.FlushSilence(p.cfg.SilenceFlushFrames)
		return Result{Spoken: strings.Join(spoken, " "), Completed: false, AudioDuration: emitted}
	}

	for _, chunk := range Chunks(reply, p.cfg.MinChunkRunes) {
		// Checkpoint: don't start synthesis for an abandoned reply.
		if ctx.Err() != nil {
			return cancelResult(), nil
		}

		synthStart := time.Now()
		pcm, err := p.synth.Synthesize(ctx, chunk, voice)
		if err != nil {
			if ctx.Err() != nil {
				return cancelResult(), nil
			}
			// One bad chunk does not kill the reply; skip it and keep going.
			slog.Warn("playback: chunk synthesis failed, skipping",
				"chunk_runes", utf8.RuneCountInString(chunk), "error", err)
			continue
		}
		if p.metrics != nil {
			p.metrics.TTSDuration.Record(ctx, time.Since(synthStart).Seconds())
		}

		// Checkpoint: the user may have barged in while the provider was
		// rendering. The synthesized audio is dropped before a single
		// sub-frame reaches the sink.
		if ctx.Err() != nil {
			return cancelResult(), nil
		}

		chunkSpoken := false
		for off := 0; off < len(pcm); off += subSamples * 2 {
			// Checkpoint: between sub-frames. This bounds barge-in reaction
			// time to one sub-frame duration plus one sink write.
			if ctx.Err() != nil {
				if chunkSpoken {
					spoken = append(spoken, chunk)
				}
				return cancelResult(), nil
			}

			end := off + subSamples*2
			if end > len(pcm) {
				end = len(pcm)
			}
			frame := audio.AudioFrame{
				Data:       pcm[off:end],
				SampleRate: rate,
				Channels:   1,
				Timestamp:  emitted,
			}
			if err := sink.Emit(frame); err != nil {
				if chunkSpoken {
					spoken = append(spoken, chunk)
				}
				return Result{Spoken: strings.Join(spoken, " "), AudioDuration: emitted},
					fmt.Errorf("playback: emit: %w", err)
			}
			chunkSpoken = true
			emitted += frame.Duration()
		}
		spoken = append(spoken, chunk)
	}

	return Result{Spoken: strings.Join(spoken, " "), Completed: true, AudioDuration: emitted}, nil
}
