package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/room4-2/liverelay/config"
	"github.com/room4-2/liverelay/messages"
	"github.com/room4-2/liverelay/metrics"
	"github.com/room4-2/liverelay/sentiment"
	"github.com/room4-2/liverelay/session"
)

// maxClientMessageSize bounds a single client frame (base64 image frames are the largest)
const maxClientMessageSize = 8 * 1024 * 1024

// Options wires the server to its collaborators
type Options struct {
	Config      *config.Config
	Registry    *session.Registry
	NewUpstream session.UpstreamFactory
	Analyzer    *sentiment.Analyzer // nil makes /analyze_sentiment answer 503
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // served on /metrics, defaults to prometheus.DefaultGatherer
	Logger      *slog.Logger
}

// Server accepts relay websocket clients and serves the HTTP endpoints
type Server struct {
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	registry    *session.Registry
	newUpstream session.UpstreamFactory
	analyzer    *sentiment.Analyzer
	metrics     *metrics.Metrics
	config      *config.Config
	logger      *slog.Logger

	// sessions run under baseCtx so Shutdown can stop them
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer creates the relay server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	cfg := opts.Config

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		registry:    opts.Registry,
		newUpstream: opts.NewUpstream,
		analyzer:    opts.Analyzer,
		metrics:     opts.Metrics,
		config:      cfg,
		logger:      opts.Logger,
		baseCtx:     baseCtx,
		cancelBase:  cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024, // 64KB for audio chunks
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{client_id}", s.handleWebSocket)
	mux.HandleFunc("POST /analyze_sentiment", s.handleAnalyzeSentiment)
	mux.HandleFunc("OPTIONS /analyze_sentiment", s.handlePreflight)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", s.handleRoot)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
		// No ReadTimeout/WriteTimeout: they would cut long-lived websocket sessions.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Info("🚀 Relay server starting", "port", s.config.Port)
	s.logger.Info("📡 WebSocket endpoint", "url", fmt.Sprintf("ws://localhost:%d/ws/{client_id}", s.config.Port))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections, ends every session and waits for them
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("🛑 Shutting down server...")

	httpErr := s.httpServer.Shutdown(ctx)
	s.cancelBase()
	regErr := s.registry.Shutdown(ctx)

	return errors.Join(httpErr, regErr)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if clientID == "" {
		http.Error(w, "missing client id", http.StatusBadRequest)
		return
	}

	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "client_id", clientID, "error", err)
		return
	}
	conn.SetReadLimit(maxClientMessageSize)

	sess := session.New(clientID, conn, s.newUpstream(), session.Options{
		Registry:         s.registry,
		Metrics:          s.metrics,
		Logger:           s.logger,
		HandshakeTimeout: s.config.HandshakeTimeout,
	})

	if err := s.registry.Register(clientID, sess); err != nil {
		s.logger.Warn("Rejecting connection", "client_id", clientID, "error", err)
		code := messages.ErrCodeSessionFailed
		if errors.Is(err, session.ErrDuplicateSession) {
			code = messages.ErrCodeDuplicateSession
		}
		sess.Close()
		s.reject(conn, code, err.Error())
		return
	}

	s.logger.Info("✅ New session", "client_id", clientID, "conn_id", sess.ConnID)

	if err := sess.Run(s.baseCtx); err != nil {
		s.logger.Debug("Session ended with error", "client_id", clientID, "error", err)
	}
}

// reject tells the client why it was refused, then closes the connection
func (s *Server) reject(conn *websocket.Conn, code, message string) {
	if data, err := messages.NewErrorMessage(code, message).Marshal(); err == nil {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(time.Second))
	conn.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Count(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Live relay server is running",
		"endpoints": map[string]string{
			"websocket":         "/ws/{client_id}",
			"analyze_sentiment": "/analyze_sentiment",
			"health":            "/health",
			"metrics":           "/metrics",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
