package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/room4-2/liverelay/gemini"
	"github.com/room4-2/liverelay/messages"
	"github.com/room4-2/liverelay/metrics"
)

const (
	writeTimeout            = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

var (
	// ErrProtocolViolation is fatal: the first message was not a config, or a
	// second config arrived.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrClientGone means the client connection closed or failed
	ErrClientGone = errors.New("client disconnected")

	// errPumpStopped ends a pump without a failure. Pumps never return nil so
	// that the first one to finish always cancels its sibling.
	errPumpStopped = errors.New("pump stopped")
)

// Conn is the client side of a session. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Upstream is the outbound connection to the streaming service.
// gemini.Client and gemini.LiveClient implement it.
type Upstream interface {
	Connect(ctx context.Context, cfg *gemini.SessionConfig) error
	SendAudio(data []byte) error
	SendImage(data []byte) error
	SendText(text string) error
	Receive() (gemini.Event, error)
	Close() error
}

// UpstreamFactory creates a fresh, unconnected Upstream for each session
type UpstreamFactory func() Upstream

// Options configures a Session
type Options struct {
	Registry         *Registry
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	HandshakeTimeout time.Duration
}

// Session relays one client connection to one upstream connection
type Session struct {
	ID        string // client identifier
	ConnID    string // unique per accepted connection
	CreatedAt time.Time

	conn             Conn
	upstream         Upstream
	registry         *Registry
	metrics          *metrics.Metrics
	logger           *slog.Logger
	handshakeTimeout time.Duration

	config       atomic.Pointer[gemini.SessionConfig] // set once, before CONNECTED
	state        atomic.Int32
	lastActivity atomic.Int64
	clientClosed atomic.Bool

	writeMu       sync.Mutex
	interruptOnce sync.Once
	teardownOnce  sync.Once
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
}

// New creates a session in the CONFIGURING state
func New(id string, conn Conn, upstream Upstream, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	connID := uuid.New().String()

	s := &Session{
		ID:               id,
		ConnID:           connID,
		CreatedAt:        time.Now(),
		conn:             conn,
		upstream:         upstream,
		registry:         opts.Registry,
		metrics:          opts.Metrics,
		logger:           opts.Logger.With("client_id", id, "conn_id", connID[:8]),
		handshakeTimeout: opts.HandshakeTimeout,
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}
	s.state.Store(int32(StateConfiguring))
	s.touch()
	return s
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Config returns the session configuration, or nil while still CONFIGURING
func (s *Session) Config() *gemini.SessionConfig {
	cfg := s.config.Load()
	if cfg == nil {
		return nil
	}
	c := *cfg
	return &c
}

// LastActivity returns when a message last crossed the session in either direction
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Done is closed once the session reaches CLOSED
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close asks a running session to tear down. It does not wait; use Done.
func (s *Session) Close() {
	s.cancel()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Run drives the session until either side ends it, then tears it down.
// Clean endings (client hang-up, cooperative stop) return nil.
func (s *Session) Run(ctx context.Context) error {
	stopParent := context.AfterFunc(ctx, s.cancel)
	defer stopParent()
	stopInterrupt := context.AfterFunc(s.ctx, s.interrupt)
	defer stopInterrupt()

	err := s.run()
	s.teardown(err)

	if err == nil || errors.Is(err, errPumpStopped) || errors.Is(err, ErrClientGone) {
		return nil
	}
	return err
}

func (s *Session) run() error {
	cfg, err := s.awaitConfig()
	if err != nil {
		return err
	}
	if !s.config.CompareAndSwap(nil, cfg) {
		return s.violation("config may only be sent once")
	}

	hctx, cancel := context.WithTimeout(s.ctx, s.handshakeTimeout)
	err = s.upstream.Connect(hctx, cfg)
	cancel()
	if err != nil {
		s.metrics.HandshakeFailed()
		s.sendError(messages.ErrCodeGeminiError, "failed to connect to upstream")
		return fmt.Errorf("connect upstream: %w", err)
	}

	if !s.state.CompareAndSwap(int32(StateConfiguring), int32(StateConnected)) {
		return errPumpStopped
	}
	s.logger.Info("🔗 Session connected", "voice", cfg.Voice)

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.inboundPump(gctx) })
	g.Go(func() error { return s.outboundPump(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.interrupt()
		return nil
	})
	return g.Wait()
}

// awaitConfig reads the first client message, which must be a config
func (s *Session) awaitConfig() (*gemini.SessionConfig, error) {
	msgType, raw, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	s.touch()

	if msgType != websocket.TextMessage {
		return nil, s.violation("first message must be a config envelope")
	}

	msg, err := messages.DecodeInbound(raw)
	if err != nil {
		return nil, s.violation(fmt.Sprintf("first message must be a config envelope: %v", err))
	}

	cfgMsg, ok := msg.(messages.Config)
	if !ok {
		return nil, s.violation(fmt.Sprintf("first message must be a config envelope, got %q", msg.Kind()))
	}

	cfg := cfgMsg.Config
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &cfg, nil
}

func (s *Session) violation(reason string) error {
	s.sendError(messages.ErrCodeProtocolViolation, reason)
	return fmt.Errorf("%w: %s", ErrProtocolViolation, reason)
}

// inboundPump forwards client messages upstream in arrival order
func (s *Session) inboundPump(ctx context.Context) error {
	for {
		msgType, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return errPumpStopped
			}
			s.clientClosed.Store(true)
			return fmt.Errorf("%w: %v", ErrClientGone, err)
		}
		s.touch()

		var msg messages.Inbound
		switch msgType {
		case websocket.BinaryMessage:
			// Raw PCM frames skip the JSON envelope
			msg = messages.Audio{Data: raw}
		case websocket.TextMessage:
			msg, err = messages.DecodeInbound(raw)
			if errors.Is(err, messages.ErrConfigPayload) {
				return s.violation("config may only be sent once")
			}
			if err != nil {
				s.metrics.DecodeFailed(metrics.DirectionInbound)
				s.logger.Warn("⚠️ Skipping client message", "error", err)
				s.sendError(messages.ErrCodeInvalidMessage, err.Error())
				continue
			}
		default:
			continue
		}

		if err := s.dispatch(msg); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(msg messages.Inbound) error {
	var err error
	switch m := msg.(type) {
	case messages.Config:
		return s.violation("config may only be sent once")
	case messages.Audio:
		err = s.upstream.SendAudio(m.Data)
	case messages.Image:
		err = s.upstream.SendImage(m.Data)
	case messages.Text:
		err = s.upstream.SendText(m.Text)
	}
	if err != nil {
		return fmt.Errorf("send %s upstream: %w", msg.Kind(), err)
	}
	s.metrics.MessageRelayed(metrics.DirectionInbound, msg.Kind())
	return nil
}

// outboundPump forwards upstream events to the client in arrival order
func (s *Session) outboundPump(ctx context.Context) error {
	for {
		ev, err := s.upstream.Receive()
		if err != nil {
			if errors.Is(err, gemini.ErrMalformedMessage) {
				s.metrics.DecodeFailed(metrics.DirectionOutbound)
				s.logger.Warn("⚠️ Skipping upstream message", "error", err)
				continue
			}
			if ctx.Err() != nil {
				return errPumpStopped
			}
			s.sendError(messages.ErrCodeGeminiError, "upstream connection lost")
			return fmt.Errorf("receive upstream: %w", err)
		}
		s.touch()

		for _, out := range messages.FromUpstream(ev) {
			if s.clientClosed.Load() {
				return errPumpStopped
			}
			if err := s.write(out); err != nil {
				if ctx.Err() != nil || s.clientClosed.Load() {
					return errPumpStopped
				}
				return fmt.Errorf("%w: %v", ErrClientGone, err)
			}
			s.metrics.MessageRelayed(metrics.DirectionOutbound, out.Type)
		}
	}
}

func (s *Session) write(msg messages.Outbound) error {
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.clientClosed.Load() {
		return fmt.Errorf("%w: connection closed", ErrClientGone)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// sendError reports a skipped message or the reason for closing, best effort
func (s *Session) sendError(code, message string) {
	if err := s.write(messages.NewErrorMessage(code, message)); err != nil {
		s.logger.Debug("Could not deliver error to client", "code", code, "error", err)
	}
}

// interrupt unblocks both pumps by closing both connections
func (s *Session) interrupt() {
	s.interruptOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateConfiguring), int32(StateClosing))
		s.state.CompareAndSwap(int32(StateConnected), int32(StateClosing))

		s.clientClosed.Store(true)

		if err := s.upstream.Close(); err != nil {
			s.logger.Debug("Upstream close error", "error", err)
		}

		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("Client close error", "error", err)
		}
	})
}

// teardown releases both connections, leaves the registry and enters CLOSED
func (s *Session) teardown(cause error) {
	s.teardownOnce.Do(func() {
		s.cancel()
		s.interrupt()

		if s.registry != nil {
			if err := s.registry.remove(s); err != nil {
				s.logger.Debug("Session was not registered", "error", err)
			}
		}

		s.state.Store(int32(StateClosed))
		outcome := outcomeOf(cause)
		s.metrics.SessionFinished(outcome, time.Since(s.CreatedAt).Seconds())
		close(s.done)

		if outcome == "protocol_violation" || outcome == "handshake_failed" || outcome == "error" {
			s.logger.Warn("🔌 Session closed", "outcome", outcome, "error", cause)
		} else {
			s.logger.Info("🔌 Session closed", "outcome", outcome)
		}
	})
}

func outcomeOf(err error) string {
	switch {
	case err == nil, errors.Is(err, errPumpStopped):
		return "closed"
	case errors.Is(err, ErrClientGone):
		return "client_disconnected"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, gemini.ErrConnectionLost):
		return "upstream_lost"
	case errors.Is(err, gemini.ErrUpstreamUnreachable),
		errors.Is(err, gemini.ErrHandshakeRejected),
		errors.Is(err, gemini.ErrConfigMissing):
		return "handshake_failed"
	default:
		return "error"
	}
}
