// Package transcribe turns uploaded audio clips into text.
//
// A GeminiTranscriber is the primary recognizer. An HTTPTranscriber pointed at
// a Whisper-compatible endpoint can back it up through a Chain.
package transcribe

import (
	"context"
	"errors"
)

// Transcription errors
var (
	// ErrUnsupportedFormat means the clip is not a 16-bit PCM WAV file
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrNoSpeech means the recognizer understood nothing in the clip
	ErrNoSpeech = errors.New("no speech detected")
	// ErrServiceUnavailable means the recognizer could not be reached
	ErrServiceUnavailable = errors.New("transcription service unavailable")
)

// Transcriber converts a WAV clip to text
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
