package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxloop/voxloop/pkg/provider/llm"
	llmmock "github.com/voxloop/voxloop/pkg/provider/llm/mock"
	"github.com/voxloop/voxloop/pkg/provider/stt"
	sttmock "github.com/voxloop/voxloop/pkg/provider/stt/mock"
	ttsmock "github.com/voxloop/voxloop/pkg/provider/tts/mock"
	"github.com/voxloop/voxloop/pkg/types"
)

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Transcriber{Text: "from primary"}
	secondary := &sttmock.Transcriber{Text: "from secondary"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	text, err := fb.Transcribe(context.Background(), []int16{1, 2, 3}, 16000, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "from primary" {
		t.Fatalf("text = %q, want 'from primary'", text)
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{Text: "from secondary"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	text, err := fb.Transcribe(context.Background(), []int16{1}, 16000, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "from secondary" {
		t.Fatalf("text = %q, want 'from secondary'", text)
	}
}

func TestSTTFallback_NoSpeechIsNotAFailure(t *testing.T) {
	primary := &sttmock.Transcriber{Err: stt.ErrNoSpeech}
	secondary := &sttmock.Transcriber{Text: "should not be reached"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), []int16{1}, 16000, "")
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if secondary.CallCount() != 0 {
		t.Fatal("silence must not trigger failover")
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), []int16{1}, 16000, "")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Failover(t *testing.T) {
	primary := &llmmock.Replier{Err: errors.New("primary down")}
	secondary := &llmmock.Replier{Reply: "from secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	reply, err := fb.Generate(context.Background(), llm.TurnContext{UserText: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "from secondary" {
		t.Fatalf("reply = %q, want 'from secondary'", reply)
	}
}

func TestLLMFallback_CancelledContextAbortsChain(t *testing.T) {
	primary := &llmmock.Replier{Err: errors.New("primary down")}
	secondary := &llmmock.Replier{Reply: "from secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fb.Generate(ctx, llm.TurnContext{UserText: "hi"})
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
	if secondary.CallCount() != 0 {
		t.Fatal("fallbacks must not run with a dead context")
	}
}

func TestLLMFallback_CircuitOpenSkipsPrimary(t *testing.T) {
	primary := &llmmock.Replier{Err: errors.New("primary down")}
	secondary := &llmmock.Replier{Reply: "from secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 2},
	})
	fb.AddFallback("secondary", secondary)

	// Trip the primary's breaker.
	for range 3 {
		if _, err := fb.Generate(context.Background(), llm.TurnContext{UserText: "x"}); err != nil {
			t.Fatalf("failover should still succeed: %v", err)
		}
	}
	callsBeforeTrip := primary.CallCount()

	if _, err := fb.Generate(context.Background(), llm.TurnContext{UserText: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.CallCount() != callsBeforeTrip {
		t.Fatal("open breaker must skip the primary entirely")
	}
}

func TestTTSFallback_Failover(t *testing.T) {
	primary := &ttsmock.Synthesizer{Err: errors.New("primary down")}
	secondary := &ttsmock.Synthesizer{PCMPerChunk: 10}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	pcm, err := fb.Synthesize(context.Background(), "hello", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pcm) != 20 {
		t.Fatalf("got %d bytes, want 20", len(pcm))
	}
}

func TestTTSFallback_SampleRateFromPrimary(t *testing.T) {
	primary := &ttsmock.Synthesizer{Rate: 48000}
	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	if got := fb.SampleRate(); got != 48000 {
		t.Fatalf("SampleRate() = %d, want 48000", got)
	}
}
