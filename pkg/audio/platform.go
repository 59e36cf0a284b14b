package audio

import "context"

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the room.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a room.
// Callbacks registered via [Connection.OnParticipantChange] receive values of
// this type. The session registry uses these events to create and destroy
// per-participant voice sessions.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// ParticipantID is the transport-specific unique identifier.
	ParticipantID string

	// DisplayName is the human-readable name of the participant, if known.
	DisplayName string
}

// Connection represents an active session on a room.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called. Input channels are closed
// automatically when the owning participant leaves or the connection
// terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the current per-participant audio
	// channels. The map key is the participant ID; the value is a read-only
	// channel that delivers [AudioFrame] values in arrival order. A new entry
	// appears for each joining participant and is removed (channel closed)
	// when that participant leaves.
	//
	// Callers should call InputStreams again after receiving an [EventJoin]
	// event to pick up newly added channels.
	InputStreams() map[string]<-chan AudioFrame

	// Sink returns the outbound audio sink for the given participant, or nil
	// if the participant is not connected. The returned Sink remains valid
	// until the participant leaves.
	Sink(participantID string) Sink

	// OnParticipantChange registers cb as the callback to invoke whenever a
	// participant joins or leaves. Only one callback may be registered at a
	// time; subsequent calls replace the previous registration. The callback
	// is invoked on an internal goroutine — callers must not block.
	OnParticipantChange(cb func(Event))

	// Disconnect cleanly tears down the connection and closes all input
	// channels. It is safe to call Disconnect more than once; subsequent
	// calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for an audio transport provider.
// Implementations wrap transport-specific machinery (WebSocket bridges,
// WebRTC adapters, …) and expose a uniform [Connection] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the room identified by roomID and returns an active
	// [Connection]. The supplied ctx governs the lifetime of the connection
	// attempt only; once connected, the Connection remains alive until
	// [Connection.Disconnect] is called explicitly.
	Connect(ctx context.Context, roomID string) (Connection, error)
}
