// Package sentiment scores the polarity of transcribed speech.
package sentiment

import (
	"context"
	"fmt"

	"github.com/room4-2/liverelay/transcribe"
)

// Category is the coarse sentiment label reported to clients
type Category string

const (
	Positive Category = "Positive"
	Negative Category = "Negative"
	Neutral  Category = "Neutral"
)

// Polarity thresholds; values on the boundary are Neutral
const (
	PositiveThreshold = 0.05
	NegativeThreshold = -0.05
)

// Classify maps a polarity in [-1, 1] to a category
func Classify(polarity float64) Category {
	switch {
	case polarity > PositiveThreshold:
		return Positive
	case polarity < NegativeThreshold:
		return Negative
	default:
		return Neutral
	}
}

// Scorer returns the polarity of a text in [-1, 1]
type Scorer interface {
	Polarity(text string) float64
}

// Result is the outcome of analyzing one clip
type Result struct {
	Transcription string   `json:"transcription"`
	Sentiment     Category `json:"sentiment"`
	Polarity      float64  `json:"polarity"`
}

// Analyzer transcribes a clip and scores what was said
type Analyzer struct {
	Transcriber transcribe.Transcriber
	Scorer      Scorer
}

// Analyze transcribes wav and classifies the transcript.
// Transcription errors are returned wrapped; see the transcribe package sentinels.
func (a *Analyzer) Analyze(ctx context.Context, wav []byte) (*Result, error) {
	text, err := a.Transcriber.Transcribe(ctx, wav)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if text == "" {
		return nil, fmt.Errorf("transcribe: %w", transcribe.ErrNoSpeech)
	}

	polarity := a.Scorer.Polarity(text)
	return &Result{
		Transcription: text,
		Sentiment:     Classify(polarity),
		Polarity:      polarity,
	}, nil
}
