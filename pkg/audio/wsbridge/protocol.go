package wsbridge

// Codec names accepted in a client hello.
const (
	// CodecPCM is raw little-endian int16 PCM at the declared rate and
	// channel count. Each binary message carries one frame.
	CodecPCM = "pcm"

	// CodecOpus is one Opus packet per binary message. Decoded output is
	// PCM at the declared rate and channel count.
	CodecOpus = "opus"
)

// ClientHello is the first message a client sends after the WebSocket
// handshake, as JSON text. It declares which room to join and the format of
// the binary audio messages that follow.
type ClientHello struct {
	// Room identifies the room to join. Created on first use.
	Room string `json:"room"`

	// Name is the participant's display name. Optional.
	Name string `json:"name,omitempty"`

	// Codec is either "pcm" or "opus".
	Codec string `json:"codec"`

	// SampleRate of the client's audio in Hz. For Opus this must be one of
	// 8000, 12000, 16000, 24000, or 48000.
	SampleRate int `json:"sample_rate"`

	// Channels is 1 or 2.
	Channels int `json:"channels"`
}

// ServerHello acknowledges a [ClientHello]. It carries the participant ID the
// server assigned and the format of the binary audio the server will send
// back on this socket.
type ServerHello struct {
	ParticipantID string `json:"participant_id"`
	Codec         string `json:"codec"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
}
