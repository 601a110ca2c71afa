package gemini

import "errors"

// Upstream client errors
var (
	ErrConfigMissing       = errors.New("session config must be set before connecting")
	ErrAlreadyConnected    = errors.New("upstream already connected")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrHandshakeRejected   = errors.New("upstream handshake rejected")
	ErrConnectionLost      = errors.New("upstream connection lost")
	ErrMalformedMessage    = errors.New("malformed upstream message")
)

// DefaultVoice is used when a session config leaves the voice empty.
// Available voices: Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
const DefaultVoice = "Puck"

// Media MIME types accepted by realtime_input
const (
	MIMETypeAudio = "audio/pcm"
	MIMETypeImage = "image/jpeg"
)

// SessionConfig selects the upstream output voice and the system instruction.
// It is immutable once handed to Connect.
type SessionConfig struct {
	Voice        string `json:"voice"`
	SystemPrompt string `json:"systemPrompt"`
}

// ChunkKind identifies what a model turn part carries
type ChunkKind int

const (
	ChunkAudio ChunkKind = iota // model_audio_chunk
	ChunkText                   // model_text_chunk
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkAudio:
		return "model_audio_chunk"
	case ChunkText:
		return "model_text_chunk"
	default:
		return "unknown"
	}
}

// Chunk is one part of a model turn, in the order the upstream sent it
type Chunk struct {
	Kind     ChunkKind
	Data     []byte // decoded inline data for ChunkAudio
	MIMEType string
	Text     string
}

// Event is a single decoded upstream message.
// A message may carry several chunks and a turn-complete marker at once.
type Event struct {
	SetupAck     bool
	Chunks       []Chunk
	TurnComplete bool
}

// Empty reports whether the event carries nothing a client would see
func (e Event) Empty() bool {
	return len(e.Chunks) == 0 && !e.TurnComplete
}
