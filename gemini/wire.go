package gemini

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Outgoing frames of the BidiGenerateContent protocol

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generation_config"`
	SystemInstruction content          `json:"system_instruction"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"response_modalities"`
	SpeechConfig       speechConfig `json:"speech_config"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voice_config"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"media_chunks"`
}

type mediaChunk struct {
	Data     []byte `json:"data"` // base64 on the wire
	MIMEType string `json:"mime_type"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"client_content"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turn_complete"`
}

// Incoming frames

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
}

type modelTurn struct {
	Parts []serverPart `json:"parts"`
}

// Text is a pointer so that an empty text part still counts as text
type serverPart struct {
	Text       *string     `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func encodeSetup(model string, cfg *SessionConfig) ([]byte, error) {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	return sonic.Marshal(setupMessage{Setup: setup{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
			}},
		},
		SystemInstruction: content{Parts: []part{{Text: cfg.SystemPrompt}}},
	}})
}

func encodeMedia(data []byte, mimeType string) ([]byte, error) {
	return sonic.Marshal(realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []mediaChunk{{Data: data, MIMEType: mimeType}},
	}})
}

func encodeText(text string) ([]byte, error) {
	return sonic.Marshal(clientContentMessage{ClientContent: clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}})
}

// decodeEvent turns one upstream frame into an Event.
// Parts keep their array order; unknown message kinds decode to an empty Event.
func decodeEvent(raw []byte) (Event, error) {
	var msg serverMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var ev Event
	if msg.SetupComplete != nil {
		ev.SetupAck = true
	}
	if msg.ServerContent == nil {
		return ev, nil
	}

	if turn := msg.ServerContent.ModelTurn; turn != nil {
		for _, p := range turn.Parts {
			switch {
			case p.InlineData != nil:
				ev.Chunks = append(ev.Chunks, Chunk{
					Kind:     ChunkAudio,
					Data:     p.InlineData.Data,
					MIMEType: p.InlineData.MIMEType,
				})
			case p.Text != nil:
				ev.Chunks = append(ev.Chunks, Chunk{Kind: ChunkText, Text: *p.Text})
			}
		}
	}
	ev.TurnComplete = msg.ServerContent.TurnComplete
	return ev, nil
}
