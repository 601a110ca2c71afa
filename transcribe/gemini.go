package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

const transcribePrompt = "Transcribe the speech in this audio clip verbatim. " +
	"Reply with the transcript only. If there is no intelligible speech, reply with an empty message."

// contentGenerator is the part of genai.Models used here
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiTranscriber transcribes clips with a Gemini model
type GeminiTranscriber struct {
	models contentGenerator
	model  string
	logger *slog.Logger
}

// NewGeminiTranscriber creates a transcriber backed by the Gemini API
func NewGeminiTranscriber(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiTranscriber, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return newGeminiTranscriber(client.Models, model, logger), nil
}

func newGeminiTranscriber(models contentGenerator, model string, logger *slog.Logger) *GeminiTranscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiTranscriber{
		models: models,
		model:  model,
		logger: logger.With("transcriber", "gemini"),
	}
}

// Transcribe sends the clip inline and returns the model's transcript
func (g *GeminiTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if _, err := ValidateWAV(wav); err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: transcribePrompt},
			genai.NewPartFromBytes(wav, "audio/wav"),
		},
	}}
	temperature := float32(0)
	cfg := &genai.GenerateContentConfig{Temperature: &temperature}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		g.logger.Warn("Gemini transcription request failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
