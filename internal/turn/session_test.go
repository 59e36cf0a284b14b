package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/playback"
	"github.com/voxloop/voxloop/internal/vad"
	"github.com/voxloop/voxloop/pkg/audio"
	memmock "github.com/voxloop/voxloop/pkg/memory/mock"
	"github.com/voxloop/voxloop/pkg/types"
	llmmock "github.com/voxloop/voxloop/pkg/provider/llm/mock"
	sttmock "github.com/voxloop/voxloop/pkg/provider/stt/mock"
	ttsmock "github.com/voxloop/voxloop/pkg/provider/tts/mock"
)

const (
	testRate     = 48000
	testFrameDur = 20 * time.Millisecond
)

// testSink counts emissions; an optional per-emit delay keeps playback alive
// long enough for a test to interrupt it.
type testSink struct {
	mu        sync.Mutex
	frames    int
	flushes   int
	emitDelay time.Duration
}

func (s *testSink) Emit(audio.AudioFrame) error {
	if s.emitDelay > 0 {
		time.Sleep(s.emitDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return nil
}

func (s *testSink) FlushSilence(int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *testSink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// pcmFrame builds one 20ms mono frame of constant amplitude.
func pcmFrame(amp int16) audio.AudioFrame {
	samples := make([]int16, testRate/50)
	for i := range samples {
		samples[i] = amp
	}
	return audio.AudioFrame{Data: audio.Int16ToBytes(samples), SampleRate: testRate, Channels: 1}
}

func loudFrame() audio.AudioFrame  { return pcmFrame(3000) }
func quietFrame() audio.AudioFrame { return pcmFrame(0) }

// testConfig uses fast VAD profiles so tests need only a handful of frames
// per state transition.
func testConfig() Config {
	return Config{
		SampleRate: testRate,
		TurnProfile: vad.Profile{
			SpeechThreshold:  0.015,
			SilenceThreshold: 0.008,
			TriggerFrames:    2,
			HangFrames:       3,
		},
		InterruptProfile: vad.Profile{
			SpeechThreshold:  0.010,
			SilenceThreshold: 0.006,
			TriggerFrames:    2,
			HangFrames:       3,
		},
		MinUtterance: 40 * time.Millisecond,
		Cooldown:     50 * time.Millisecond,
	}
}

// testDeps wires all-mock collaborators around a shared sink.
func testDeps(stt *sttmock.Transcriber, llm *llmmock.Replier, tts *ttsmock.Synthesizer, store *memmock.Store) Deps {
	deps := Deps{
		STT:      stt,
		LLM:      llm,
		Playback: playback.New(tts, nil, playback.Config{}),
	}
	if store != nil {
		deps.Memory = store
	}
	return deps
}

// feed pushes frames through the state machine synchronously.
func feed(s *Session, n int, frame func() audio.AudioFrame) {
	for i := 0; i < n; i++ {
		s.onFrame(context.Background(), frame())
	}
}

// feedLive delivers frames to a running session without overrunning the
// inbound buffer, so the full ordered sequence reaches the loop. A live
// transport paces frames at the frame duration; tests do not, and Feed drops
// on a full channel by design.
func feedLive(t *testing.T, s *Session, n int, frame func() audio.AudioFrame) {
	t.Helper()
	for i := 0; i < n; i++ {
		waitFor(t, "space in the frame buffer", func() bool {
			return len(s.frames) < cap(s.frames)
		})
		s.Feed(frame())
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionWakesAndRecords(t *testing.T) {
	t.Parallel()

	s := NewSession("p1", "Ada", &testSink{}, testConfig(),
		testDeps(&sttmock.Transcriber{}, &llmmock.Replier{}, &ttsmock.Synthesizer{}, nil))

	feed(s, 2, loudFrame)
	if s.State() != StateRecording {
		t.Fatalf("state = %v, want recording", s.State())
	}
	if s.rec.Len() == 0 {
		t.Fatal("recording buffer must hold the onset frame")
	}
}

func TestSessionBelowFloorDiscards(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MinUtterance = 200 * time.Millisecond
	stt := &sttmock.Transcriber{Text: "should never be heard"}
	s := NewSession("p1", "Ada", &testSink{}, cfg,
		testDeps(stt, &llmmock.Replier{}, &ttsmock.Synthesizer{}, nil))

	// 2 loud frames to start, 3 quiet for the hang: ~100ms of audio, below
	// the 200ms floor.
	feed(s, 2, loudFrame)
	feed(s, 3, quietFrame)

	if s.State() != StateListening {
		t.Fatalf("state = %v, want listening", s.State())
	}
	if s.rec.Len() != 0 {
		t.Fatal("noise must be discarded, not kept")
	}
	if stt.CallCount() != 0 {
		t.Fatal("below-floor audio must never reach the transcriber")
	}
}

func TestSessionDropsFramesWhileProcessing(t *testing.T) {
	t.Parallel()

	stt := &sttmock.Transcriber{Delay: make(chan struct{})}
	s := NewSession("p1", "Ada", &testSink{}, testConfig(),
		testDeps(stt, &llmmock.Replier{}, &ttsmock.Synthesizer{}, nil))

	feed(s, 4, loudFrame)
	feed(s, 3, quietFrame)
	if s.State() != StateProcessing {
		t.Fatalf("state = %v, want processing", s.State())
	}

	feed(s, 5, loudFrame)
	if s.rec.Len() != 0 {
		t.Fatal("frames arriving during processing must be dropped")
	}
	if s.State() != StateProcessing {
		t.Fatalf("state = %v, want processing unchanged", s.State())
	}
	close(stt.Delay)
}

func TestSessionFullTurnCycle(t *testing.T) {
	t.Parallel()

	sttm := &sttmock.Transcriber{Text: "what is the weather"}
	llmm := &llmmock.Replier{Reply: "Sunny all day."}
	ttsm := &ttsmock.Synthesizer{PCMPerChunk: 240}
	store := &memmock.Store{}
	sink := &testSink{}
	s := NewSession("p1", "Ada", sink, testConfig(), testDeps(sttm, llmm, ttsm, store))

	ctx := context.Background()
	feed(s, 4, loudFrame)
	feed(s, 3, quietFrame)

	// Drive the stage results through the loop by hand.
	s.onProcessed(ctx, <-s.procCh)
	if s.State() != StateSpeaking {
		t.Fatalf("state = %v, want speaking", s.State())
	}
	s.onPlayed(ctx, <-s.playCh)
	if s.State() != StateListening {
		t.Fatalf("state = %v, want listening after completed playback", s.State())
	}
	if s.handle != nil {
		t.Fatal("handle must be cleared after completion")
	}
	if s.capture.Len() != 0 {
		t.Fatal("capture ring must be cleared after completed playback")
	}

	if got := llmm.LastCall().UserText; got != "what is the weather" {
		t.Fatalf("generate got %q", got)
	}
	if got := llmm.LastCall().InterruptedReply; got != "" {
		t.Fatalf("no barge-in happened but InterruptedReply = %q", got)
	}

	// Both turns land in the session log asynchronously.
	waitFor(t, "two logged turns", func() bool { return len(store.Appended()) == 2 })
	entries := store.Appended()
	if entries[0].IsAgent || entries[0].Text != "what is the weather" {
		t.Fatalf("first entry = %+v, want the user turn", entries[0])
	}
	if !entries[1].IsAgent || entries[1].Interrupted {
		t.Fatalf("second entry = %+v, want an uninterrupted agent turn", entries[1])
	}
}

func TestSessionDuplicateTranscriptShortCircuits(t *testing.T) {
	t.Parallel()

	sttm := &sttmock.Transcriber{Text: "turn on the lights"}
	llmm := &llmmock.Replier{Reply: "Done."}
	s := NewSession("p1", "Ada", &testSink{}, testConfig(),
		testDeps(sttm, llmm, &ttsmock.Synthesizer{}, nil))

	ctx := context.Background()
	pcm := make([]int16, testRate) // 1s

	s.setState(StateProcessing)
	s.process(ctx, pcm, time.Second)
	if r := <-s.procCh; r.discard {
		t.Fatalf("first transcript discarded: %+v", r)
	}

	s.setState(StateProcessing)
	s.process(ctx, pcm, time.Second)
	r := <-s.procCh
	if !r.discard || r.reason != "duplicate" {
		t.Fatalf("repeat transcript not suppressed: %+v", r)
	}
	if llmm.CallCount() != 1 {
		t.Fatalf("generate called %d times, want exactly 1", llmm.CallCount())
	}
}

func TestSessionLLMFailureYieldsFallbackUtterance(t *testing.T) {
	t.Parallel()

	sttm := &sttmock.Transcriber{Text: "tell me a story"}
	llmm := &llmmock.Replier{Err: errors.New("model overloaded")}
	s := NewSession("p1", "Ada", &testSink{}, testConfig(),
		testDeps(sttm, llmm, &ttsmock.Synthesizer{}, nil))

	s.setState(StateProcessing)
	s.process(context.Background(), make([]int16, testRate), time.Second)
	r := <-s.procCh
	if r.discard {
		t.Fatalf("generation failure must still produce a spoken turn: %+v", r)
	}
	if !r.llmFailed || r.reply != s.cfg.FallbackUtterance {
		t.Fatalf("reply = %q, want fallback utterance", r.reply)
	}
}

func TestSessionBargeIn(t *testing.T) {
	t.Parallel()

	ttsm := &ttsmock.Synthesizer{PCMPerChunk: 24000} // 1s of audio per chunk
	store := &memmock.Store{}
	sink := &testSink{emitDelay: time.Millisecond}
	s := NewSession("p1", "Ada", sink, testConfig(),
		testDeps(&sttmock.Transcriber{}, &llmmock.Replier{}, ttsm, store))

	ctx := context.Background()
	reply := "Let me explain this at great length. It all began long ago."
	s.beginSpeaking(ctx, reply)
	if s.State() != StateSpeaking {
		t.Fatalf("state = %v, want speaking", s.State())
	}

	// Two interrupt-qualifying frames confirm the barge-in.
	feed(s, 2, loudFrame)

	if s.State() != StateRecording {
		t.Fatalf("state = %v, want recording after barge-in", s.State())
	}
	if s.handle != nil {
		t.Fatal("cancelled handle must be released")
	}
	if got := s.interrupted.TakeAndClear(); got != reply {
		t.Fatalf("interrupted context = %q, want the full reply", got)
	}
	// The audio spoken over the agent seeds the new recording.
	if want := 2 * testRate / 50; s.rec.Len() != want {
		t.Fatalf("recording buffer = %d samples, want %d from the capture ring", s.rec.Len(), want)
	}

	// The cancelled playback reports back; bookkeeping logs the agent turn.
	s.onPlayed(ctx, <-s.playCh)
	waitFor(t, "interrupted agent turn logged", func() bool {
		entries := store.Appended()
		return len(entries) == 1 && entries[0].Interrupted
	})
	if sink.flushCount() == 0 {
		t.Fatal("cancelled playback must flush silence")
	}
}

func TestSessionBargeInTurnEndsOnSilence(t *testing.T) {
	t.Parallel()

	// A barge-in interjection may never cross the turn profile's own onset
	// trigger (the interrupt profile is deliberately more eager), so the
	// turn detector must already be in speech when the seeded recording
	// starts; the interrupter simply going quiet has to close the turn.
	ttsm := &ttsmock.Synthesizer{PCMPerChunk: 24000}
	sink := &testSink{emitDelay: time.Millisecond}
	s := NewSession("p1", "Ada", sink, testConfig(),
		testDeps(&sttmock.Transcriber{Text: "wait"}, &llmmock.Replier{}, ttsm, nil))

	s.beginSpeaking(context.Background(), "A very long explanation begins here.")
	feed(s, 2, loudFrame)
	if s.State() != StateRecording {
		t.Fatalf("state = %v, want recording after barge-in", s.State())
	}

	// Sustained silence alone must flush the seeded recording into a turn.
	feed(s, 3, quietFrame)
	if s.State() != StateProcessing {
		t.Fatalf("state = %v, want processing after sustained silence", s.State())
	}
}

// blockingStore parks every Append until released, exposing what teardown
// does with writes still in flight.
type blockingStore struct {
	memmock.Store
	release chan struct{}
}

func (b *blockingStore) Append(ctx context.Context, entry types.TurnEntry) error {
	<-b.release
	return b.Store.Append(ctx, entry)
}

func TestSessionShutdownDrainsPendingAppends(t *testing.T) {
	t.Parallel()

	store := &blockingStore{release: make(chan struct{})}
	s := NewSession("p1", "Ada", &testSink{}, testConfig(),
		Deps{
			STT:      &sttmock.Transcriber{},
			LLM:      &llmmock.Replier{},
			Playback: playback.New(&ttsmock.Synthesizer{}, nil, playback.Config{}),
			Memory:   store,
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.appendTurn(types.TurnEntry{SessionID: "p1", SpeakerID: "p1", Text: "hello"})
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a log write was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after pending writes drained")
	}
	if got := store.Appended(); len(got) != 1 || got[0].Text != "hello" {
		t.Fatalf("appended = %+v, want the drained write", got)
	}
}

func TestSessionInterruptedReplyReachesNextGenerate(t *testing.T) {
	t.Parallel()

	sttm := &sttmock.Transcriber{Text: "wait, stop"}
	llmm := &llmmock.Replier{Reply: "Sorry, go ahead."}
	s := NewSession("p1", "Ada", &testSink{}, testConfig(),
		testDeps(sttm, llmm, &ttsmock.Synthesizer{}, nil))

	s.interrupted.Set("the rest of my interrupted reply")
	s.setState(StateProcessing)
	s.process(context.Background(), make([]int16, testRate), time.Second)
	<-s.procCh

	if got := llmm.LastCall().InterruptedReply; got != "the rest of my interrupted reply" {
		t.Fatalf("InterruptedReply = %q", got)
	}
	// Consumed exactly once.
	if got := s.interrupted.TakeAndClear(); got != "" {
		t.Fatalf("tracker still holds %q after generation", got)
	}
}

func TestSessionInvariantViolationResetsToIdle(t *testing.T) {
	t.Parallel()

	s := NewSession("p1", "Ada", &testSink{}, testConfig(),
		testDeps(&sttmock.Transcriber{}, &llmmock.Replier{}, &ttsmock.Synthesizer{}, nil))

	cancelled := false
	s.handle = &synthHandle{cancel: func() { cancelled = true }, reply: "live reply"}
	s.setState(StateSpeaking)

	s.beginSpeaking(context.Background(), "a second reply")

	if s.State() != StateIdle {
		t.Fatalf("state = %v, want idle after invariant violation", s.State())
	}
	if s.handle != nil {
		t.Fatal("both handles must be torn down")
	}
	if !cancelled {
		t.Fatal("the live handle must be cancelled during reset")
	}
}

func TestSessionCooldownSuppressesOnset(t *testing.T) {
	t.Parallel()

	s := NewSession("p1", "Ada", &testSink{}, testConfig(),
		testDeps(&sttmock.Transcriber{}, &llmmock.Replier{}, &ttsmock.Synthesizer{}, nil))
	now, advance := fixedClock(time.Unix(1000, 0))
	s.now = now

	h := &synthHandle{cancel: func() {}, reply: "done now"}
	s.handle = h
	s.setState(StateSpeaking)
	s.onPlayed(context.Background(), playResult{
		handle: h,
		res:    playback.Result{Spoken: "done now", Completed: true},
	})
	if s.State() != StateListening {
		t.Fatalf("state = %v, want listening", s.State())
	}

	// Onset during the cooldown is swallowed (agent audio tail echo).
	feed(s, 2, loudFrame)
	if s.State() != StateListening {
		t.Fatalf("state = %v, cooldown must suppress the onset", s.State())
	}

	advance(s.cfg.Cooldown + time.Millisecond)
	feed(s, 2, loudFrame)
	if s.State() != StateRecording {
		t.Fatalf("state = %v, want recording after cooldown expires", s.State())
	}
}

// TestSessionScenario runs the whole loop: sustained speech, silence,
// generated reply playing, then a barge-in mid-playback.
func TestSessionScenario(t *testing.T) {
	t.Parallel()

	sttm := &sttmock.Transcriber{Text: "tell me everything about whales"}
	llmm := &llmmock.Replier{Reply: "Whales are mammals. They sing across oceans. Some dive very deep."}
	ttsm := &ttsmock.Synthesizer{PCMPerChunk: 24000}
	store := &memmock.Store{}
	sink := &testSink{emitDelay: time.Millisecond}
	s := NewSession("p1", "Ada", sink, testConfig(), testDeps(sttm, llmm, ttsm, store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// ~2s of speech, then enough silence to confirm the turn.
	feedLive(t, s, 100, loudFrame)
	feedLive(t, s, 5, quietFrame)

	waitFor(t, "agent speaking", func() bool { return s.State() == StateSpeaking })

	// Three interrupt-qualifying frames mid-playback.
	feedLive(t, s, 3, loudFrame)

	waitFor(t, "barge-in to recording", func() bool { return s.State() == StateRecording })
	waitFor(t, "interrupted turn in log", func() bool {
		for _, e := range store.Appended() {
			if e.IsAgent && e.Interrupted {
				return true
			}
		}
		return false
	})
	if sink.flushCount() == 0 {
		t.Fatal("barge-in must flush silence on the sink")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	want := map[State]string{
		StateIdle:       "idle",
		StateListening:  "listening",
		StateRecording:  "recording",
		StateProcessing: "processing",
		StateSpeaking:   "speaking",
		State(99):       "unknown",
	}
	for st, name := range want {
		if st.String() != name {
			t.Errorf("State(%d).String() = %q, want %q", st, st.String(), name)
		}
	}
}
