package messages

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/room4-2/liverelay/gemini"
)

// Decode errors. Both are recoverable: the offending message is skipped.
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedPayload   = errors.New("malformed payload")
)

// ErrConfigPayload marks a config envelope whose payload did not decode.
// The tag was still config, so callers can apply the config sequencing rule.
var ErrConfigPayload = fmt.Errorf("%w: config", ErrMalformedPayload)

// Client message types
const (
	TypeConfig = "config"
	TypeImage  = "image"
)

// envelope is the wire shape of every client message
type envelope struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Inbound is a decoded client message: one of Audio, Image, Text or Config.
type Inbound interface {
	inbound()
	Kind() string
}

// Audio carries raw PCM bytes
type Audio struct{ Data []byte }

// Image carries raw JPEG bytes
type Image struct{ Data []byte }

// Text carries a user utterance
type Text struct{ Text string }

// Config carries the session configuration; only valid as the first message
type Config struct{ Config gemini.SessionConfig }

func (Audio) inbound()  {}
func (Image) inbound()  {}
func (Text) inbound()   {}
func (Config) inbound() {}

func (Audio) Kind() string  { return TypeAudio }
func (Image) Kind() string  { return TypeImage }
func (Text) Kind() string   { return TypeText }
func (Config) Kind() string { return TypeConfig }

// DecodeInbound parses one client text frame
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch env.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedPayload)

	case TypeAudio:
		data, err := decodeBase64(env.Data)
		if err != nil {
			return nil, err
		}
		return Audio{Data: data}, nil

	case TypeImage:
		data, err := decodeBase64(env.Data)
		if err != nil {
			return nil, err
		}
		return Image{Data: data}, nil

	case TypeText:
		text, err := decodeString(env.Data)
		if err != nil {
			return nil, err
		}
		return Text{Text: text}, nil

	case TypeConfig:
		if len(env.Config) == 0 || string(env.Config) == "null" {
			return nil, fmt.Errorf("%w: missing", ErrConfigPayload)
		}
		var cfg gemini.SessionConfig
		if err := sonic.Unmarshal(env.Config, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigPayload, err)
		}
		return Config{Config: cfg}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

func decodeString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	var s string
	if err := sonic.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: data must be a string", ErrMalformedPayload)
	}
	return s, nil
}

func decodeBase64(raw json.RawMessage) ([]byte, error) {
	s, err := decodeString(raw)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedPayload, err)
	}
	return data, nil
}

// EncodeInbound is the inverse of DecodeInbound
func EncodeInbound(msg Inbound) ([]byte, error) {
	switch m := msg.(type) {
	case Audio:
		return marshalEnvelope(TypeAudio, base64.StdEncoding.EncodeToString(m.Data))
	case Image:
		return marshalEnvelope(TypeImage, base64.StdEncoding.EncodeToString(m.Data))
	case Text:
		return marshalEnvelope(TypeText, m.Text)
	case Config:
		return sonic.Marshal(struct {
			Type   string               `json:"type"`
			Config gemini.SessionConfig `json:"config"`
		}{TypeConfig, m.Config})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, msg)
	}
}

func marshalEnvelope(msgType, data string) ([]byte, error) {
	return sonic.Marshal(struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}{msgType, data})
}
