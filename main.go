package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/room4-2/liverelay/config"
	"github.com/room4-2/liverelay/gemini"
	"github.com/room4-2/liverelay/metrics"
	"github.com/room4-2/liverelay/sentiment"
	"github.com/room4-2/liverelay/server"
	"github.com/room4-2/liverelay/session"
	"github.com/room4-2/liverelay/transcribe"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	logger.Info("Starting live relay",
		slog.Int("port", cfg.Port),
		slog.String("model", cfg.GeminiModel),
		slog.String("upstream_driver", cfg.UpstreamDriver),
		slog.Int("max_sessions", cfg.MaxSessions),
		slog.Duration("session_timeout", cfg.SessionTimeout),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	registry := session.NewRegistry(session.RegistryOptions{
		MaxSessions: cfg.MaxSessions,
		SessionTTL:  cfg.SessionTimeout,
		Redis:       session.NewRedisMirror(ctx, cfg.RedisURL, cfg.RedisPassword, logger),
		Metrics:     m,
		Logger:      logger,
	})

	// Start cleanup routine
	go registry.StartCleanupRoutine(ctx, cfg.SessionTimeout)

	srv := server.NewServer(server.Options{
		Config:      cfg,
		Registry:    registry,
		NewUpstream: newUpstreamFactory(cfg, logger),
		Analyzer:    newAnalyzer(ctx, cfg, logger),
		Metrics:     m,
		Logger:      logger,
	})

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}

	logger.Info("Server stopped")
}

// newUpstreamFactory picks the upstream driver for new sessions
func newUpstreamFactory(cfg *config.Config, logger *slog.Logger) session.UpstreamFactory {
	opts := gemini.ClientOptions{
		Endpoint:         cfg.GeminiWSURL,
		APIKey:           cfg.GeminiAPIKey,
		Model:            cfg.GeminiModel,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           logger.With("upstream", cfg.UpstreamDriver),
	}

	if cfg.UpstreamDriver == config.DriverSDK {
		return func() session.Upstream { return gemini.NewLiveClient(opts) }
	}
	return func() session.Upstream { return gemini.NewClient(opts) }
}

// newAnalyzer builds the transcriber chain behind /analyze_sentiment.
// It returns nil when no transcriber can be created.
func newAnalyzer(ctx context.Context, cfg *config.Config, logger *slog.Logger) *sentiment.Analyzer {
	var fallback transcribe.Transcriber
	if cfg.STTFallbackURL != "" {
		httpTranscriber, err := transcribe.NewHTTPTranscriber(transcribe.HTTPConfig{
			Endpoint:   cfg.STTFallbackURL,
			APIKey:     cfg.STTFallbackKey,
			MaxRetries: 2,
		}, logger)
		if err != nil {
			logger.Warn("Fallback transcriber disabled", "error", err)
		} else {
			fallback = httpTranscriber
		}
	}

	primary, err := transcribe.NewGeminiTranscriber(ctx, cfg.GeminiAPIKey, cfg.TranscribeModel, logger)
	if err != nil {
		logger.Warn("Gemini transcriber unavailable", "error", err)
		if fallback == nil {
			return nil
		}
		return &sentiment.Analyzer{Transcriber: fallback, Scorer: sentiment.NewLexiconScorer()}
	}

	return &sentiment.Analyzer{
		Transcriber: &transcribe.Chain{Primary: primary, Fallback: fallback, Logger: logger},
		Scorer:      sentiment.NewLexiconScorer(),
	}
}
