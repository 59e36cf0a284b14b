package turn

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voxloop/voxloop/pkg/audio"
)

// Registry owns the session map for one room: one [Session] per remote
// participant identity, each running on its own goroutine. Participant join
// and leave events from the transport drive creation and teardown.
//
// All methods are safe for concurrent use.
type Registry struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*registered
}

// registered pairs a running session with its lifetime cancel.
type registered struct {
	sess   *Session
	cancel context.CancelFunc
}

// NewRegistry creates an empty registry. cfg and deps are shared by all
// sessions it creates.
func NewRegistry(cfg Config, deps Deps) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		sessions: make(map[string]*registered),
	}
}

// GetOrCreate returns the session for id, creating and starting it if none
// exists. ctx bounds the new session's lifetime; sink is where its agent
// audio goes.
func (r *Registry) GetOrCreate(ctx context.Context, id, speakerName string, sink audio.Sink) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.sessions[id]; ok {
		return reg.sess
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := NewSession(id, speakerName, sink, r.cfg, r.deps)
	r.sessions[id] = &registered{sess: sess, cancel: cancel}
	go sess.Run(sctx)

	slog.Info("turn: session created", "session", id, "speaker", speakerName)
	return sess
}

// Get returns the session for id, if one exists.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return reg.sess, true
}

// Remove stops and forgets the session for id. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	reg, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		reg.cancel()
		slog.Info("turn: session removed", "session", id)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown stops all sessions.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	regs := make([]*registered, 0, len(r.sessions))
	for id, reg := range r.sessions {
		regs = append(regs, reg)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, reg := range regs {
		reg.cancel()
	}
}

// Attach wires the registry to a transport connection: every current and
// future participant gets a session fed from their input stream, and leave
// events tear the session down again. Attach returns immediately; feeding
// happens on per-participant goroutines that exit when the transport closes
// the stream.
func (r *Registry) Attach(ctx context.Context, conn audio.Connection) {
	conn.OnParticipantChange(func(ev audio.Event) {
		switch ev.Type {
		case audio.EventJoin:
			if r.deps.Metrics != nil {
				r.deps.Metrics.ActiveParticipants.Add(ctx, 1)
			}
			r.startFeeding(ctx, conn, ev.ParticipantID, ev.DisplayName)
		case audio.EventLeave:
			if r.deps.Metrics != nil {
				r.deps.Metrics.ActiveParticipants.Add(ctx, -1)
			}
			r.Remove(ev.ParticipantID)
		}
	})

	// Participants already in the room when we attach.
	for id := range conn.InputStreams() {
		if r.deps.Metrics != nil {
			r.deps.Metrics.ActiveParticipants.Add(ctx, 1)
		}
		r.startFeeding(ctx, conn, id, "")
	}
}

// startFeeding creates (or finds) the participant's session and pumps their
// input stream into it.
func (r *Registry) startFeeding(ctx context.Context, conn audio.Connection, id, displayName string) {
	sink := conn.Sink(id)
	if sink == nil {
		slog.Warn("turn: participant has no outbound sink, skipping", "participant", id)
		return
	}
	stream, ok := conn.InputStreams()[id]
	if !ok {
		slog.Warn("turn: participant has no input stream, skipping", "participant", id)
		return
	}

	sess := r.GetOrCreate(ctx, id, displayName, sink)
	go feedFrames(sess, stream, audio.Format{SampleRate: r.cfg.SampleRate, Channels: 1})
}

// feedFrames pumps one participant's stream into their session, converting
// each frame to the engine's working format first. Clients may declare any
// PCM rate and mono or stereo in their hello; the session's VAD, utterance
// floor, and transcription all assume mono at the configured rate.
func feedFrames(sess *Session, stream <-chan audio.AudioFrame, target audio.Format) {
	conv := &audio.FormatConverter{Target: target}
	for frame := range stream {
		f := conv.Convert(frame)
		if len(f.Data) == 0 {
			continue
		}
		sess.Feed(f)
	}
}
