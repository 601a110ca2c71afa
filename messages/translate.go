package messages

import (
	"encoding/base64"

	"github.com/room4-2/liverelay/gemini"
)

// FromUpstream maps one upstream event to the client messages it produces.
// Chunks keep their array order and turn_complete, when present, comes last.
func FromUpstream(ev gemini.Event) []Outbound {
	if ev.Empty() {
		return nil
	}

	out := make([]Outbound, 0, len(ev.Chunks)+1)
	for _, chunk := range ev.Chunks {
		switch chunk.Kind {
		case gemini.ChunkAudio:
			out = append(out, NewAudioMessage(base64.StdEncoding.EncodeToString(chunk.Data)))
		case gemini.ChunkText:
			out = append(out, NewTextMessage(chunk.Text))
		}
	}
	if ev.TurnComplete {
		out = append(out, NewTurnCompleteMessage())
	}
	return out
}
