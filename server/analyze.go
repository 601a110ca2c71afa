package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/room4-2/liverelay/transcribe"
)

// minUploadSize rejects clips too short to hold a WAV header and any speech
const minUploadSize = 100

type errorResponse struct {
	Detail string `json:"detail"`
}

func setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "*")
	h.Set("Access-Control-Allow-Headers", "*")
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleAnalyzeSentiment transcribes an uploaded clip and scores its sentiment
func (s *Server) handleAnalyzeSentiment(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	if s.analyzer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{"Sentiment analysis is not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{"Audio file is too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{"Missing audio file"})
		return
	}
	defer file.Close()

	logger := s.logger.With("filename", header.Filename)
	logger.Info("🎙️ Received audio file")

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"Could not read audio file"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{"Empty audio file"})
		return
	}
	if len(data) < minUploadSize {
		writeJSON(w, http.StatusBadRequest, errorResponse{"Audio file is too small or empty"})
		return
	}

	info, err := transcribe.ValidateWAV(data)
	if err != nil {
		writeFormatError(w, logger, err)
		return
	}
	logger.Debug("Audio file accepted",
		"bytes", len(data),
		"duration_s", info.Duration(),
		"sample_rate", info.SampleRate,
		"channels", info.Channels,
	)

	result, err := s.analyzer.Analyze(r.Context(), data)
	switch {
	case err == nil:
	case errors.Is(err, transcribe.ErrUnsupportedFormat):
		writeFormatError(w, logger, err)
		return
	case errors.Is(err, transcribe.ErrNoSpeech):
		writeJSON(w, http.StatusBadRequest, errorResponse{"Could not transcribe audio - no speech detected"})
		return
	case errors.Is(err, transcribe.ErrServiceUnavailable):
		logger.Error("Transcription unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{"Unable to transcribe audio with any available service. Please try again later."})
		return
	default:
		logger.Error("Sentiment analysis failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{"Internal error while analyzing audio"})
		return
	}

	s.metrics.SentimentAnalyzed(string(result.Sentiment))
	logger.Info("📊 Sentiment analyzed", "sentiment", result.Sentiment, "polarity", result.Polarity)
	writeJSON(w, http.StatusOK, result)
}

func writeFormatError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Warn("Unsupported audio format", "error", err)
	writeJSON(w, http.StatusBadRequest, errorResponse{
		"Audio format error: the file appears to be in an unsupported format. Please ensure it's a PCM WAV file.",
	})
}
