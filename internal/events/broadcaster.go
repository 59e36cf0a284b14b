package events

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// writeTimeout bounds how long one event write to a client may take before
// the client is considered dead.
const writeTimeout = 5 * time.Second

// Broadcaster exposes the event bus over WebSocket. Each connected client
// receives every event published after it connected, JSON-encoded, one
// message per event.
type Broadcaster struct {
	bus *Bus

	// InsecureSkipVerify disables origin checking on the WebSocket upgrade.
	// Leave false unless the UI is served from a different origin during
	// development.
	InsecureSkipVerify bool
}

// NewBroadcaster creates a Broadcaster reading from bus.
func NewBroadcaster(bus *Bus) *Broadcaster {
	return &Broadcaster{bus: bus}
}

// ServeHTTP upgrades the request to a WebSocket and streams events until the
// client disconnects or the bus closes.
func (br *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: br.InsecureSkipVerify,
	})
	if err != nil {
		slog.Warn("events: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "broadcast loop exited")

	// The client never sends application data; CloseRead gives us a context
	// that fires when it goes away.
	ctx := conn.CloseRead(r.Context())

	sub, cancel := br.bus.Subscribe()
	defer cancel()

	slog.Debug("events: client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "bus closed")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				slog.Debug("events: client write failed, dropping",
					"remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
