package messages

import "github.com/bytedance/sonic"

// Error codes
const (
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeProtocolViolation = "PROTOCOL_VIOLATION"
	ErrCodeGeminiError       = "GEMINI_ERROR"
	ErrCodeSessionFailed     = "SESSION_FAILED"
	ErrCodeDuplicateSession  = "DUPLICATE_SESSION"
)

// Message types
const (
	TypeAudio        = "audio"
	TypeText         = "text"
	TypeTurnComplete = "turn_complete"
	TypeError        = "error"
)

// Outbound is a message sent to the client: {"type":..., "data":...}
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Marshal encodes the message for a websocket text frame
func (m Outbound) Marshal() ([]byte, error) {
	return sonic.Marshal(m)
}

// NewAudioMessage creates an audio message from base64-encoded PCM
func NewAudioMessage(data string) Outbound {
	return Outbound{Type: TypeAudio, Data: data}
}

// NewTextMessage creates a text message
func NewTextMessage(text string) Outbound {
	return Outbound{Type: TypeText, Data: text}
}

// NewTurnCompleteMessage marks the end of a model turn
func NewTurnCompleteMessage() Outbound {
	return Outbound{Type: TypeTurnComplete, Data: true}
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string) Outbound {
	return Outbound{
		Type: TypeError,
		Data: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
