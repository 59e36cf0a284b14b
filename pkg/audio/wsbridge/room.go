package wsbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/voxloop/voxloop/pkg/audio"
)

var _ audio.Connection = (*Room)(nil)

const (
	inputChannelBuffer = 64
	writeTimeout       = 5 * time.Second

	// Opus packets carry 20 ms of audio; frame size in samples per channel
	// depends on the negotiated rate.
	opusFrameMs = 20
)

// Room is one bridge room adapted to the [audio.Connection] interface. Each
// connected WebSocket client is a participant with its own input stream and
// output sink.
//
// Room is safe for concurrent use.
type Room struct {
	id string

	mu     sync.RWMutex
	peers  map[string]*peer
	closed bool

	changeMu sync.Mutex
	changeCb func(audio.Event)
}

func newRoom(id string) *Room {
	return &Room{
		id:    id,
		peers: make(map[string]*peer),
	}
}

// InputStreams returns a snapshot of the per-participant audio channels.
func (r *Room) InputStreams() map[string]<-chan audio.AudioFrame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(r.peers))
	for id, p := range r.peers {
		snap[id] = p.input
	}
	return snap
}

// Sink returns the outbound audio sink for the given participant, or nil if
// the participant is not connected.
func (r *Room) Sink(participantID string) audio.Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[participantID]
	if !ok {
		return nil
	}
	return p.sink
}

// OnParticipantChange registers cb for join and leave events. Subsequent
// calls replace the previous registration.
func (r *Room) OnParticipantChange(cb func(audio.Event)) {
	r.changeMu.Lock()
	defer r.changeMu.Unlock()
	r.changeCb = cb
}

// Disconnect closes every participant socket and input channel. Safe to call
// more than once.
func (r *Room) Disconnect() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	peers := make([]*peer, 0, len(r.peers))
	for id, p := range r.peers {
		peers = append(peers, p)
		delete(r.peers, id)
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.close(websocket.StatusGoingAway, "room closed")
	}
	return nil
}

// addPeer registers p and emits a join event. Returns an error when the room
// has been disconnected.
func (r *Room) addPeer(p *peer) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("wsbridge: room %q is closed", r.id)
	}
	r.peers[p.id] = p
	r.mu.Unlock()

	r.emitEvent(audio.Event{
		Type:          audio.EventJoin,
		ParticipantID: p.id,
		DisplayName:   p.name,
	})
	return nil
}

// removePeer unregisters p, closes its input channel, and emits a leave
// event. A no-op when the peer was already removed (e.g. by Disconnect).
func (r *Room) removePeer(p *peer) {
	r.mu.Lock()
	_, present := r.peers[p.id]
	delete(r.peers, p.id)
	r.mu.Unlock()

	p.close(websocket.StatusNormalClosure, "")
	if present {
		r.emitEvent(audio.Event{
			Type:          audio.EventLeave,
			ParticipantID: p.id,
			DisplayName:   p.name,
		})
	}
}

// emitEvent invokes the registered callback on its own goroutine so slow
// consumers cannot stall the read loop.
func (r *Room) emitEvent(ev audio.Event) {
	r.changeMu.Lock()
	cb := r.changeCb
	r.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}

// peer is one WebSocket client inside a room.
type peer struct {
	id    string
	name  string
	conn  *websocket.Conn
	input chan audio.AudioFrame
	sink  *wsSink

	hello ClientHello

	// dec is non-nil for Opus clients. Decoder state must persist across
	// packets, so each peer owns its own.
	dec *gopus.Decoder

	elapsed time.Duration

	closeOnce sync.Once
}

func newPeer(id string, conn *websocket.Conn, hello ClientHello) (*peer, error) {
	p := &peer{
		id:    id,
		name:  hello.Name,
		conn:  conn,
		input: make(chan audio.AudioFrame, inputChannelBuffer),
		hello: hello,
	}

	if hello.Codec == CodecOpus {
		dec, err := gopus.NewDecoder(hello.SampleRate, hello.Channels)
		if err != nil {
			return nil, fmt.Errorf("wsbridge: create opus decoder: %w", err)
		}
		p.dec = dec
	}

	sink, err := newSink(conn, hello)
	if err != nil {
		return nil, err
	}
	p.sink = sink
	return p, nil
}

// deliver decodes one binary message and pushes the resulting frame onto the
// peer's input channel. A full channel drops the frame rather than blocking
// the socket read loop.
func (p *peer) deliver(msg []byte) {
	var pcm []byte
	switch p.hello.Codec {
	case CodecOpus:
		frameSize := p.hello.SampleRate * opusFrameMs / 1000
		samples, err := p.dec.Decode(msg, frameSize, false)
		if err != nil {
			slog.Warn("wsbridge: opus decode error", "participant", p.id, "error", err)
			return
		}
		pcm = audio.Int16ToBytes(samples)
	default:
		pcm = msg
	}

	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: p.hello.SampleRate,
		Channels:   p.hello.Channels,
		Timestamp:  p.elapsed,
	}
	p.elapsed += frame.Duration()

	select {
	case p.input <- frame:
	default:
		// Socket is outpacing the session; drop rather than block.
	}
}

func (p *peer) close(code websocket.StatusCode, reason string) {
	p.closeOnce.Do(func() {
		close(p.input)
		_ = p.conn.Close(code, reason)
	})
}

var _ audio.Sink = (*wsSink)(nil)

// wsSink sends synthesized audio back to one client. For PCM clients each
// Emit becomes one binary message. For Opus clients frames are converted to
// the client's format, cut into exact 20 ms packets, and encoded; a trailing
// partial packet is held until more audio arrives.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn

	codec      string
	sampleRate int
	channels   int

	enc  *gopus.Encoder
	conv audio.FormatConverter
	buf  []byte
}

func newSink(conn *websocket.Conn, hello ClientHello) (*wsSink, error) {
	s := &wsSink{
		conn:       conn,
		codec:      hello.Codec,
		sampleRate: hello.SampleRate,
		channels:   hello.Channels,
		conv:       audio.FormatConverter{Target: audio.Format{SampleRate: hello.SampleRate, Channels: hello.Channels}},
	}
	if hello.Codec == CodecOpus {
		enc, err := gopus.NewEncoder(hello.SampleRate, hello.Channels, gopus.Audio)
		if err != nil {
			return nil, fmt.Errorf("wsbridge: create opus encoder: %w", err)
		}
		s.enc = enc
	}
	return s, nil
}

// Emit sends one sub-frame of audio to the client.
func (s *wsSink) Emit(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame = s.conv.Convert(frame)
	if s.codec != CodecOpus {
		return s.write(frame.Data)
	}

	s.buf = append(s.buf, frame.Data...)
	return s.flushOpus()
}

// FlushSilence sends n silence packets so client jitter buffers drain
// immediately after a cancelled playback.
func (s *wsSink) FlushSilence(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	packet := make([]byte, s.packetBytes())
	for range n {
		if s.codec == CodecOpus {
			s.buf = append(s.buf, packet...)
			if err := s.flushOpus(); err != nil {
				return err
			}
			continue
		}
		if err := s.write(packet); err != nil {
			return err
		}
	}
	return nil
}

// flushOpus encodes and sends every complete packet buffered so far.
// Callers must hold s.mu.
func (s *wsSink) flushOpus() error {
	frameSize := s.sampleRate * opusFrameMs / 1000
	packetBytes := s.packetBytes()

	for len(s.buf) >= packetBytes {
		opusData, err := s.enc.Encode(audio.BytesToInt16(s.buf[:packetBytes]), frameSize, packetBytes)
		if err != nil {
			return fmt.Errorf("wsbridge: opus encode: %w", err)
		}
		s.buf = s.buf[packetBytes:]
		if err := s.write(opusData); err != nil {
			return err
		}
	}
	return nil
}

// packetBytes is the PCM byte count of one 20 ms packet in the client format.
func (s *wsSink) packetBytes() int {
	return s.sampleRate * opusFrameMs / 1000 * s.channels * 2
}

func (s *wsSink) write(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("wsbridge: write audio: %w", err)
	}
	return nil
}
