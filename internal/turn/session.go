package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxloop/voxloop/internal/events"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/playback"
	"github.com/voxloop/voxloop/internal/vad"
	"github.com/voxloop/voxloop/pkg/audio"
	"github.com/voxloop/voxloop/pkg/memory"
	"github.com/voxloop/voxloop/pkg/provider/llm"
	"github.com/voxloop/voxloop/pkg/provider/stt"
	"github.com/voxloop/voxloop/pkg/types"
)

// Config holds the per-session tuning knobs. Every threshold in here is a
// tuning parameter, not a design constant; the YAML config exposes all of
// them.
type Config struct {
	// SampleRate of inbound mono PCM frames in Hz. The transport adapter is
	// responsible for converting to this rate before feeding the session.
	// Default: 48000.
	SampleRate int

	// Language hint passed to the transcriber (ISO-639-1), empty for
	// auto-detect.
	Language string

	// SystemPrompt describes the agent persona for reply generation.
	SystemPrompt string

	// Voice is the TTS voice for agent replies.
	Voice types.VoiceProfile

	// FallbackUtterance is spoken when reply generation fails.
	// Default: "Sorry, could you repeat that?".
	FallbackUtterance string

	// TurnProfile is the VAD profile for utterance boundary detection.
	// Zero value: [vad.TurnProfile].
	TurnProfile vad.Profile

	// InterruptProfile is the VAD profile for barge-in detection while the
	// agent is speaking. Zero value: [vad.InterruptProfile].
	InterruptProfile vad.Profile

	// MinUtterance is the floor below which a recorded utterance is discarded
	// as noise instead of being transcribed. Default: 300ms.
	MinUtterance time.Duration

	// CaptureWindow sizes the ring that records participant audio while the
	// agent speaks, so a barge-in can seed the next recording with what the
	// participant said over the agent. Default: 5s.
	CaptureWindow time.Duration

	// DedupWindow and DedupThreshold control near-duplicate transcript
	// suppression. A transcript within DedupWindow of the last accepted one
	// and with Jaro-Winkler similarity ≥ DedupThreshold is dropped.
	// Defaults: 2s, 0.92.
	DedupWindow    time.Duration
	DedupThreshold float64

	// Cooldown suppresses speech-onset detection for this long after the
	// agent finishes a reply, so the tail of agent audio leaking into the
	// microphone does not start a phantom turn. Default: 300ms.
	Cooldown time.Duration

	// HistoryWindow and HistoryLimit bound the recent-turn window injected
	// into generation. Defaults: 10m, 12 turns.
	HistoryWindow time.Duration
	HistoryLimit  int

	// RecallTopK is how many long-term memory snippets are retrieved per
	// generation. Default: 3.
	RecallTopK int

	// FrameBuffer is the depth of the inbound frame channel. Default: 64.
	FrameBuffer int
}

// withDefaults fills zero-value fields.
func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.FallbackUtterance == "" {
		c.FallbackUtterance = "Sorry, could you repeat that?"
	}
	if c.TurnProfile == (vad.Profile{}) {
		c.TurnProfile = vad.TurnProfile()
	}
	if c.InterruptProfile == (vad.Profile{}) {
		c.InterruptProfile = vad.InterruptProfile()
	}
	if c.MinUtterance <= 0 {
		c.MinUtterance = 300 * time.Millisecond
	}
	if c.CaptureWindow <= 0 {
		c.CaptureWindow = 5 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 2 * time.Second
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = 0.92
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 300 * time.Millisecond
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10 * time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 12
	}
	if c.RecallTopK <= 0 {
		c.RecallTopK = 3
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = 64
	}
	return c
}

// Deps are the session's collaborators. STT, LLM, and Playback are required;
// Memory, Bus, and Metrics may be nil.
type Deps struct {
	STT      stt.Transcriber
	LLM      llm.Replier
	Playback *playback.Pipeline
	Memory   memory.Store
	Bus      *events.Bus
	Metrics  *observe.Metrics
}

// synthHandle tracks one in-flight playback. At most one exists per session;
// its fields are written only by the session goroutine.
type synthHandle struct {
	cancel    context.CancelFunc
	reply     string
	startedAt time.Time

	// set by the session goroutine when a barge-in cancels this playback,
	// read again when the playback result comes back.
	interrupted bool
	bargeInAt   time.Time
}

// procResult is what the STT → LLM stage goroutine reports back to the loop.
type procResult struct {
	transcript string
	utterance  time.Duration
	reply      string
	llmFailed  bool

	// discard means the utterance produced no turn (silence, duplicate,
	// transcription failure); reason says which for logging and metrics.
	discard bool
	reason  string
}

// playResult is what the playback goroutine reports back to the loop.
type playResult struct {
	handle *synthHandle
	res    playback.Result
	err    error
}

// Session is the turn-taking state machine for one remote participant.
//
// A Session is driven by its own goroutine ([Session.Run]); external callers
// interact only through [Session.Feed] and [Session.State].
type Session struct {
	id          string
	speakerName string
	cfg         Config
	deps        Deps
	sink        audio.Sink

	frames chan audio.AudioFrame
	procCh chan procResult
	playCh chan playResult

	state atomic.Int32

	rec     *audio.PCMBuffer
	capture *audio.Ring
	turnDet *vad.Detector
	intDet  *vad.Detector
	dedup   *deduper

	interrupted InterruptTracker

	handle        *synthHandle
	cooldownUntil time.Time
	silenceAt     time.Time

	// appends tracks in-flight session log writes so teardown can drain
	// them instead of abandoning a write mid-turn.
	appends sync.WaitGroup

	now func() time.Time
}

// NewSession creates a session for the participant identified by id. sink is
// where agent audio for this participant goes. The session does nothing until
// [Session.Run] is called.
func NewSession(id, speakerName string, sink audio.Sink, cfg Config, deps Deps) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		id:          id,
		speakerName: speakerName,
		cfg:         cfg,
		deps:        deps,
		sink:        sink,
		frames:      make(chan audio.AudioFrame, cfg.FrameBuffer),
		procCh:      make(chan procResult, 1),
		playCh:      make(chan playResult, 1),
		rec:         audio.NewPCMBuffer(10*time.Second, cfg.SampleRate),
		capture:     audio.NewRingDuration(cfg.CaptureWindow, cfg.SampleRate),
		turnDet:     vad.NewDetector(cfg.TurnProfile),
		intDet:      vad.NewDetector(cfg.InterruptProfile),
		dedup:       newDeduper(cfg.DedupThreshold, cfg.DedupWindow),
		now:         time.Now,
	}
}

// ID returns the participant identity this session belongs to.
func (s *Session) ID() string { return s.id }

// State returns the current turn state. Safe to call from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(next State) {
	prev := s.State()
	if prev == next {
		return
	}
	s.state.Store(int32(next))
	slog.Debug("turn: state transition",
		"session", s.id, "from", prev.String(), "to", next.String())
}

// Feed hands one inbound audio frame to the session. Frames must arrive in
// stream order and be mono PCM at the configured sample rate. Feed never
// blocks; when the session goroutine falls behind, the frame is dropped.
func (s *Session) Feed(frame audio.AudioFrame) {
	select {
	case s.frames <- frame:
	default:
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordFramesDropped(context.Background(), "backlog", 1)
		}
	}
}

// Run executes the session loop until ctx is cancelled. It must be called
// exactly once, on its own goroutine.
func (s *Session) Run(ctx context.Context) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveSessions.Add(ctx, 1)
		defer s.deps.Metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}
	s.publish(events.Event{Type: events.TypeSessionStarted, SessionID: s.id, SpeakerName: s.speakerName})
	defer s.publish(events.Event{Type: events.TypeSessionEnded, SessionID: s.id, SpeakerName: s.speakerName})

	for {
		select {
		case <-ctx.Done():
			if s.handle != nil {
				s.handle.cancel()
				s.handle = nil
			}
			if s.State() == StateSpeaking && s.deps.Metrics != nil {
				s.deps.Metrics.SessionsSpeaking.Add(context.WithoutCancel(ctx), -1)
			}
			// Let in-flight log writes finish; each is bounded by its own
			// timeout.
			s.appends.Wait()
			return
		case frame := <-s.frames:
			s.onFrame(ctx, frame)
		case r := <-s.procCh:
			s.onProcessed(ctx, r)
		case r := <-s.playCh:
			s.onPlayed(ctx, r)
		}
	}
}

// onFrame routes one frame according to the current state.
func (s *Session) onFrame(ctx context.Context, frame audio.AudioFrame) {
	samples := audio.BytesToInt16(frame.Data)

	switch s.State() {
	case StateIdle:
		// First audio wakes the session up; classify the frame normally.
		s.setState(StateListening)
		s.listenFrame(samples)

	case StateListening:
		s.listenFrame(samples)

	case StateRecording:
		s.rec.Append(samples)
		if ev := s.turnDet.Feed(samples); ev.Type == vad.SpeechEnd {
			s.endOfUtterance(ctx)
		}

	case StateProcessing:
		// A turn is in flight; late audio belongs to nobody.
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordFramesDropped(ctx, StateProcessing.String(), 1)
		}

	case StateSpeaking:
		s.capture.Write(samples)
		if ev := s.intDet.Feed(samples); ev.Type == vad.SpeechStart {
			s.bargeIn()
		}
	}
}

// listenFrame watches for speech onset while no turn is active.
func (s *Session) listenFrame(samples []int16) {
	ev := s.turnDet.Feed(samples)
	if ev.Type != vad.SpeechStart {
		return
	}
	if s.now().Before(s.cooldownUntil) {
		// Usually the tail of the agent's own audio echoing back.
		s.turnDet.Reset()
		return
	}
	s.rec.Reset()
	s.rec.Append(samples)
	s.setState(StateRecording)
}

// endOfUtterance fires when sustained silence confirms the turn is over.
// Below the minimum floor the buffer is treated as noise, not a turn.
func (s *Session) endOfUtterance(ctx context.Context) {
	if s.rec.Duration() < s.cfg.MinUtterance {
		slog.Debug("turn: utterance below floor, discarding",
			"session", s.id, "duration", s.rec.Duration())
		s.rec.Reset()
		s.setState(StateListening)
		return
	}

	pcm := s.rec.Take()
	utterance := time.Duration(len(pcm)) * time.Second / time.Duration(s.cfg.SampleRate)
	s.silenceAt = s.now()
	s.turnDet.Reset()
	s.setState(StateProcessing)
	go s.process(ctx, pcm, utterance)
}

// process runs the STT → context assembly → LLM stage off the session
// goroutine and posts the outcome to procCh. Provider failures are converted
// into results here; they never escape the stage.
func (s *Session) process(ctx context.Context, pcm []int16, utterance time.Duration) {
	ctx, span := observe.StartSpan(ctx, "turn.process")
	defer span.End()

	post := func(r procResult) {
		select {
		case s.procCh <- r:
		case <-ctx.Done():
		}
	}

	sttStart := s.now()
	text, err := s.deps.STT.Transcribe(ctx, pcm, s.cfg.SampleRate, s.cfg.Language)
	if s.deps.Metrics != nil {
		s.deps.Metrics.STTDuration.Record(ctx, s.now().Sub(sttStart).Seconds())
	}
	if err != nil {
		if errors.Is(err, stt.ErrNoSpeech) {
			post(procResult{discard: true, reason: "no_speech"})
			return
		}
		slog.Warn("turn: transcription failed", "session", s.id, "error", err)
		post(procResult{discard: true, reason: "stt_error"})
		return
	}
	if strings.TrimSpace(text) == "" {
		post(procResult{discard: true, reason: "no_speech"})
		return
	}
	if s.dedup.isDuplicate(text) {
		slog.Debug("turn: duplicate transcript suppressed", "session", s.id, "text", text)
		post(procResult{discard: true, reason: "duplicate"})
		return
	}

	tc := llm.TurnContext{
		SystemPrompt:     s.cfg.SystemPrompt,
		UserText:         text,
		SpeakerName:      s.speakerName,
		InterruptedReply: s.interrupted.TakeAndClear(),
	}
	tc.History, tc.Recalled = s.assembleContext(ctx, text)

	llmStart := s.now()
	reply, err := s.deps.LLM.Generate(ctx, tc)
	if s.deps.Metrics != nil {
		s.deps.Metrics.LLMDuration.Record(ctx, s.now().Sub(llmStart).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("turn: reply generation failed, using fallback utterance",
			"session", s.id, "error", err)
		post(procResult{transcript: text, utterance: utterance, reply: s.cfg.FallbackUtterance, llmFailed: true})
		return
	}

	post(procResult{transcript: text, utterance: utterance, reply: reply})
}

// assembleContext fetches the recent-turn window and long-term recall
// concurrently. Memory failures degrade to an empty context rather than
// failing the turn.
func (s *Session) assembleContext(ctx context.Context, query string) ([]types.Message, []string) {
	if s.deps.Memory == nil {
		return nil, nil
	}

	var (
		history  []types.Message
		recalled []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recent, err := s.deps.Memory.Recent(gctx, s.id, s.cfg.HistoryWindow, s.cfg.HistoryLimit)
		if err != nil {
			return err
		}
		history = historyMessages(recent)
		return nil
	})
	g.Go(func() error {
		recs, err := s.deps.Memory.Recall(gctx, s.id, query, s.cfg.RecallTopK)
		if err != nil {
			return err
		}
		for _, r := range recs {
			recalled = append(recalled, r.Entry.Text)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Warn("turn: context assembly degraded", "session", s.id, "error", err)
	}
	return history, recalled
}

// historyMessages converts logged turns into chat messages, oldest first.
func historyMessages(entries []types.TurnEntry) []types.Message {
	msgs := make([]types.Message, 0, len(entries))
	for _, e := range entries {
		role := "user"
		name := e.SpeakerID
		if e.IsAgent {
			role = "assistant"
			name = ""
		}
		msgs = append(msgs, types.Message{Role: role, Content: e.Text, Name: name})
	}
	return msgs
}

// onProcessed applies the outcome of the STT → LLM stage.
func (s *Session) onProcessed(ctx context.Context, r procResult) {
	if s.State() != StateProcessing {
		slog.Debug("turn: stale processing result ignored", "session", s.id, "state", s.State().String())
		return
	}

	if r.discard {
		if r.reason == "duplicate" && s.deps.Metrics != nil {
			s.deps.Metrics.TranscriptsDeduped.Add(ctx, 1)
		}
		s.setState(StateListening)
		return
	}

	// The participant's turn is now accepted: log and announce it.
	s.appendTurn(types.TurnEntry{
		SessionID: s.id,
		SpeakerID: s.id,
		Text:      r.transcript,
		Timestamp: s.now(),
		Duration:  r.utterance,
	})
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTurn(ctx, "user", false)
	}
	s.publish(events.Event{
		Type:        events.TypeUserSaid,
		SessionID:   s.id,
		SpeakerName: s.speakerName,
		Text:        r.transcript,
	})

	s.beginSpeaking(ctx, r.reply)
}

// beginSpeaking starts playback of reply on a fresh cancellable handle.
func (s *Session) beginSpeaking(ctx context.Context, reply string) {
	if s.handle != nil {
		s.invariantViolation("second synthesis handle requested while one is live")
		return
	}

	pctx, cancel := context.WithCancel(ctx)
	h := &synthHandle{cancel: cancel, reply: reply, startedAt: s.now()}
	s.handle = h
	s.intDet.Reset()
	s.capture.Reset()
	s.setState(StateSpeaking)

	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsSpeaking.Add(ctx, 1)
		if !s.silenceAt.IsZero() {
			s.deps.Metrics.ResponseDuration.Record(ctx, s.now().Sub(s.silenceAt).Seconds())
		}
	}

	go func() {
		sctx, span := observe.StartSpan(pctx, "turn.speak")
		res, err := s.deps.Playback.Speak(sctx, reply, s.cfg.Voice, s.sink)
		span.End()
		select {
		case s.playCh <- playResult{handle: h, res: res, err: err}:
		case <-ctx.Done():
		}
	}()
}

// bargeIn handles a confirmed interruption: cancel playback, remember the
// full reply for the next generation, and seed the new recording with the
// audio the participant spoke over the agent. The Speaking → Recording
// transition happens here, atomically within the session goroutine; playback
// bookkeeping completes when the cancelled playback reports back.
func (s *Session) bargeIn() {
	h := s.handle
	if h == nil {
		s.invariantViolation("speaking without a live synthesis handle")
		return
	}

	h.interrupted = true
	h.bargeInAt = s.now()
	h.cancel()
	s.handle = nil

	s.interrupted.Set(h.reply)

	s.rec.Reset()
	s.rec.Append(s.capture.Snapshot())
	s.capture.Reset()
	// The interrupter is already mid-speech (the interrupt detector just
	// confirmed it), so the turn detector must start in its speech state:
	// the interjection may never cross the turn profile's own onset trigger,
	// and sustained silence still has to close this turn.
	s.turnDet.Prime()
	s.setState(StateRecording)

	slog.Info("turn: barge-in", "session", s.id, "reply_interrupted", true)
	s.publish(events.Event{Type: events.TypeBargeIn, SessionID: s.id, SpeakerName: s.speakerName})
}

// onPlayed applies the outcome of a finished (or cancelled) playback.
func (s *Session) onPlayed(ctx context.Context, r playResult) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsSpeaking.Add(ctx, -1)
	}

	if r.err != nil {
		// Sink failure, not synthesis: the transport for this participant is
		// broken. Give up on the turn.
		slog.Error("turn: playback failed", "session", s.id, "error", r.err)
		if s.handle == r.handle {
			s.handle = nil
			s.setState(StateListening)
		}
		return
	}

	if r.handle.interrupted {
		// State already moved to Recording in bargeIn; this is bookkeeping.
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordTurn(ctx, "agent", true)
			s.deps.Metrics.RecordBargeIn(ctx, s.now().Sub(r.handle.bargeInAt).Seconds())
		}
		s.appendTurn(types.TurnEntry{
			SessionID:   s.id,
			SpeakerID:   "agent",
			Text:        r.res.Spoken,
			IsAgent:     true,
			Interrupted: true,
			Timestamp:   s.now(),
			Duration:    r.res.AudioDuration,
		})
		s.publish(events.Event{
			Type:        events.TypeAgentSaid,
			SessionID:   s.id,
			Text:        r.res.Spoken,
			Interrupted: true,
		})
		return
	}

	if s.handle != r.handle {
		// Session was reset while this playback was in flight.
		return
	}
	s.handle = nil

	if !r.res.Completed {
		// Cancelled without a barge-in: the session context is going away.
		s.setState(StateListening)
		return
	}

	s.capture.Reset()
	s.cooldownUntil = s.now().Add(s.cfg.Cooldown)
	s.turnDet.Reset()
	s.setState(StateListening)

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTurn(ctx, "agent", false)
	}
	s.appendTurn(types.TurnEntry{
		SessionID: s.id,
		SpeakerID: "agent",
		Text:      r.res.Spoken,
		IsAgent:   true,
		Timestamp: s.now(),
		Duration:  r.res.AudioDuration,
	})
	s.publish(events.Event{
		Type:      events.TypeAgentSaid,
		SessionID: s.id,
		Text:      r.res.Spoken,
	})
}

// invariantViolation resets the session to Idle after a broken mutual-
// exclusion invariant. Everything accumulated for the current turn is
// discarded; the session can be woken again by new audio.
func (s *Session) invariantViolation(detail string) {
	slog.Error("turn: invariant violation, resetting session to idle",
		"session", s.id, "state", s.State().String(), "detail", detail)

	if s.handle != nil {
		s.handle.cancel()
		s.handle = nil
	}
	s.rec.Reset()
	s.capture.Reset()
	s.turnDet.Reset()
	s.intDet.Reset()
	s.dedup.reset()
	s.interrupted.TakeAndClear()
	s.setState(StateIdle)
}

// appendTurn writes one finished turn to the session log off the hot path.
func (s *Session) appendTurn(entry types.TurnEntry) {
	if s.deps.Memory == nil {
		return
	}
	s.appends.Add(1)
	go func() {
		defer s.appends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.deps.Memory.Append(ctx, entry); err != nil {
			slog.Warn("turn: session log append failed", "session", s.id, "error", err)
		}
	}()
}

func (s *Session) publish(ev events.Event) {
	if s.deps.Bus == nil {
		return
	}
	ev.Timestamp = s.now()
	s.deps.Bus.Publish(ev)
}
