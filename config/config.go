package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Upstream drivers
const (
	DriverWebsocket = "websocket" // raw JSON frames over gorilla/websocket
	DriverSDK       = "sdk"       // google.golang.org/genai Live API
)

// DefaultGeminiWSURL is the Gemini Live bidirectional streaming endpoint
const DefaultGeminiWSURL = "wss://generativelanguage.googleapis.com/ws/" +
	"google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"

// Config holds all server configuration
type Config struct {
	Port             int
	GeminiAPIKey     string
	GeminiModel      string
	GeminiWSURL      string
	UpstreamDriver   string // "websocket" or "sdk"
	HandshakeTimeout time.Duration
	MaxSessions      int
	SessionTimeout   time.Duration
	AllowedOrigins   []string
	RedisURL         string // empty disables the session mirror
	RedisPassword    string
	TranscribeModel  string
	STTFallbackURL   string // Whisper-compatible endpoint, empty disables the fallback
	STTFallbackKey   string
	MaxUploadSize    int64 // Maximum /analyze_sentiment upload in bytes
	LogLevel         slog.Level
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:             8000,
		GeminiModel:      "models/gemini-2.0-flash-exp",
		GeminiWSURL:      DefaultGeminiWSURL,
		UpstreamDriver:   DriverWebsocket,
		HandshakeTimeout: 10 * time.Second,
		MaxSessions:      100,
		SessionTimeout:   30 * time.Minute,
		AllowedOrigins:   []string{"*"},
		TranscribeModel:  "gemini-2.0-flash",
		MaxUploadSize:    10 * 1024 * 1024, // 10MB default
		LogLevel:         slog.LevelInfo,
	}

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: GEMINI_MODEL, always addressed as "models/<name>" upstream
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		if !strings.HasPrefix(model, "models/") {
			model = "models/" + model
		}
		config.GeminiModel = model
	}

	if wsURL := os.Getenv("GEMINI_WS_URL"); wsURL != "" {
		config.GeminiWSURL = wsURL
	}

	// Optional: UPSTREAM_DRIVER ("websocket" or "sdk")
	if driver := os.Getenv("UPSTREAM_DRIVER"); driver != "" {
		switch driver {
		case DriverWebsocket, DriverSDK:
			config.UpstreamDriver = driver
		default:
			return nil, fmt.Errorf("invalid UPSTREAM_DRIVER: must be '%s' or '%s'", DriverWebsocket, DriverSDK)
		}
	}

	// Optional: HANDSHAKE_TIMEOUT (in seconds)
	if timeout := os.Getenv("HANDSHAKE_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid HANDSHAKE_TIMEOUT: %w", err)
		}
		if t <= 0 {
			return nil, fmt.Errorf("invalid HANDSHAKE_TIMEOUT: must be positive")
		}
		config.HandshakeTimeout = time.Duration(t) * time.Second
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	if model := os.Getenv("TRANSCRIBE_MODEL"); model != "" {
		config.TranscribeModel = model
	}
	config.STTFallbackURL = os.Getenv("STT_FALLBACK_URL")
	config.STTFallbackKey = os.Getenv("STT_FALLBACK_KEY")

	// Optional: MAX_UPLOAD_SIZE (in bytes)
	if size := os.Getenv("MAX_UPLOAD_SIZE"); size != "" {
		s, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_UPLOAD_SIZE: %w", err)
		}
		config.MaxUploadSize = s
	}

	// Optional: LOG_LEVEL (debug, info, warn, error)
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		if err := config.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	return config, nil
}
