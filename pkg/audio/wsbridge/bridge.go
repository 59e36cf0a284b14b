// Package wsbridge implements the audio transport over WebSockets.
//
// The bridge is the Accept side of the protocol: voxloop serves a WebSocket
// endpoint, and each connecting client becomes one participant in a room.
// A client opens the socket, sends a JSON [ClientHello] declaring its room
// and audio format, receives a [ServerHello] with its assigned participant
// ID, and then exchanges binary audio messages — raw PCM or Opus packets,
// per its hello.
//
// On the engine side the bridge implements [audio.Platform]: Connect returns
// the room's [audio.Connection], from which the session registry consumes
// per-participant input streams and obtains output sinks.
package wsbridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voxloop/voxloop/pkg/audio"
)

var (
	_ audio.Platform = (*Bridge)(nil)
	_ http.Handler   = (*Bridge)(nil)
)

// helloTimeout bounds how long a client may take to send its hello after the
// WebSocket handshake.
const helloTimeout = 10 * time.Second

// opusRates are the sample rates the Opus codec supports.
var opusRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

// Bridge accepts WebSocket clients and groups them into rooms. It implements
// both [http.Handler] (the client-facing endpoint) and [audio.Platform] (the
// engine-facing transport).
//
// Bridge is safe for concurrent use.
type Bridge struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	nextPeer atomic.Int64

	// InsecureSkipVerify disables the WebSocket origin check. Useful for
	// local development with browser clients on a different port.
	InsecureSkipVerify bool
}

// New creates an empty Bridge. Rooms are created lazily, either by the first
// client hello naming them or by [Bridge.Connect].
func New() *Bridge {
	return &Bridge{rooms: make(map[string]*Room)}
}

// Connect returns the [audio.Connection] for roomID, creating the room if it
// does not exist yet. The context governs nothing beyond the call itself;
// rooms live until their Connection is disconnected.
func (b *Bridge) Connect(_ context.Context, roomID string) (audio.Connection, error) {
	if roomID == "" {
		return nil, fmt.Errorf("wsbridge: room ID must not be empty")
	}
	return b.room(roomID), nil
}

func (b *Bridge) room(id string) *Room {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[id]
	if !ok {
		r = newRoom(id)
		b.rooms[id] = r
	}
	return r
}

// ServeHTTP upgrades the request to a WebSocket, performs the hello exchange,
// and then relays binary audio messages into the participant's input stream
// until the socket closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: b.InsecureSkipVerify,
	})
	if err != nil {
		slog.Warn("wsbridge: websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	hello, err := readHello(r.Context(), conn)
	if err != nil {
		slog.Warn("wsbridge: bad hello", "remote", r.RemoteAddr, "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	id := fmt.Sprintf("peer-%d", b.nextPeer.Add(1))
	p, err := newPeer(id, conn, hello)
	if err != nil {
		slog.Error("wsbridge: peer setup failed", "participant", id, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "peer setup failed")
		return
	}

	room := b.room(hello.Room)
	if err := room.addPeer(p); err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "room closed")
		return
	}
	defer room.removePeer(p)

	ack := ServerHello{
		ParticipantID: id,
		Codec:         hello.Codec,
		SampleRate:    hello.SampleRate,
		Channels:      hello.Channels,
	}
	if err := wsjson.Write(r.Context(), conn, ack); err != nil {
		slog.Warn("wsbridge: hello ack failed", "participant", id, "error", err)
		return
	}

	slog.Info("wsbridge: participant connected",
		"participant", id, "name", hello.Name, "room", hello.Room,
		"codec", hello.Codec, "rate", hello.SampleRate, "channels", hello.Channels)

	b.readLoop(r.Context(), p)
	slog.Info("wsbridge: participant disconnected", "participant", id, "room", hello.Room)
}

// readLoop relays binary messages into the peer's input stream until the
// socket closes or the request context ends.
func (b *Bridge) readLoop(ctx context.Context, p *peer) {
	for {
		typ, msg, err := p.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			// Text after the hello is a protocol violation; ignore it.
			continue
		}
		p.deliver(msg)
	}
}

// readHello reads and validates the client hello.
func readHello(ctx context.Context, conn *websocket.Conn) (ClientHello, error) {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var hello ClientHello
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}

	if hello.Room == "" {
		return hello, fmt.Errorf("hello: room must not be empty")
	}
	if hello.Channels != 1 && hello.Channels != 2 {
		return hello, fmt.Errorf("hello: channels must be 1 or 2, got %d", hello.Channels)
	}
	switch hello.Codec {
	case CodecPCM:
		if hello.SampleRate <= 0 {
			return hello, fmt.Errorf("hello: sample_rate must be positive, got %d", hello.SampleRate)
		}
	case CodecOpus:
		if !opusRates[hello.SampleRate] {
			return hello, fmt.Errorf("hello: opus sample_rate must be 8000, 12000, 16000, 24000, or 48000, got %d", hello.SampleRate)
		}
	default:
		return hello, fmt.Errorf("hello: unknown codec %q", hello.Codec)
	}
	return hello, nil
}
