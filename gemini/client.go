package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
	maxMessageSize          = 4 * 1024 * 1024
)

// Client speaks the Gemini Live BidiGenerateContent protocol as JSON frames
// over a single websocket connection.
type Client struct {
	endpoint         string
	apiKey           string
	model            string
	handshakeTimeout time.Duration
	dialer           *websocket.Dialer
	logger           *slog.Logger

	conn       *websocket.Conn
	writeMu    sync.Mutex
	mu         sync.RWMutex
	connecting bool // set on the first Connect; a client connects at most once
	connected  bool
	closed     bool
	closeOnce  sync.Once
}

// ClientOptions configures a Client
type ClientOptions struct {
	Endpoint         string // ws(s) URL without the key parameter
	APIKey           string
	Model            string // "models/<name>"
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// NewClient creates an unconnected upstream client
func NewClient(opts ClientOptions) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		endpoint:         opts.Endpoint,
		apiKey:           opts.APIKey,
		model:            opts.Model,
		handshakeTimeout: opts.HandshakeTimeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		},
		logger: opts.Logger,
	}
}

func (c *Client) endpointURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("key", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect dials the upstream, sends the setup message built from cfg and
// waits for the setupComplete acknowledgment.
func (c *Client) Connect(ctx context.Context, cfg *SessionConfig) error {
	if cfg == nil {
		return ErrConfigMissing
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return fmt.Errorf("%w: client is closed", ErrConnectionLost)
	case c.connected || c.connecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.mu.Unlock()

	endpoint, err := c.endpointURL()
	if err != nil {
		return fmt.Errorf("%w: invalid endpoint: %v", ErrUpstreamUnreachable, err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: %v (status %d)", ErrUpstreamUnreachable, err, resp.StatusCode)
		}
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	conn.SetReadLimit(maxMessageSize)

	if err := c.handshake(ctx, conn, cfg); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: closed during handshake", ErrConnectionLost)
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("✅ Connected to Gemini Live", "model", c.model, "voice", cfg.Voice)
	return nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, cfg *SessionConfig) error {
	setupMsg, err := encodeSetup(c.model, cfg)
	if err != nil {
		return fmt.Errorf("encode setup: %w", err)
	}

	deadline := time.Now().Add(c.handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, setupMsg); err != nil {
		return fmt.Errorf("%w: send setup: %v", ErrHandshakeRejected, err)
	}

	// Abort the read below if the caller gives up first
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	conn.SetReadDeadline(deadline)
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeRejected, err)
	}

	if err := checkSetupReply(reply); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	return nil
}

func checkSetupReply(raw []byte) error {
	var msg serverMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: undecodable reply: %v", ErrHandshakeRejected, err)
	}
	if msg.Error != nil {
		return fmt.Errorf("%w: %d %s", ErrHandshakeRejected, msg.Error.Code, msg.Error.Message)
	}
	if msg.SetupComplete == nil {
		return fmt.Errorf("%w: expected setupComplete", ErrHandshakeRejected)
	}
	return nil
}

// SendAudio forwards a PCM chunk
func (c *Client) SendAudio(data []byte) error {
	frame, err := encodeMedia(data, MIMETypeAudio)
	if err != nil {
		return fmt.Errorf("encode audio: %w", err)
	}
	return c.write(frame)
}

// SendImage forwards a JPEG frame
func (c *Client) SendImage(data []byte) error {
	frame, err := encodeMedia(data, MIMETypeImage)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	return c.write(frame)
}

// SendText sends a complete user turn
func (c *Client) SendText(text string) error {
	frame, err := encodeText(text)
	if err != nil {
		return fmt.Errorf("encode text: %w", err)
	}
	return c.write(frame)
}

func (c *Client) activeConn() (*websocket.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed || c.conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnectionLost)
	}
	return c.conn, nil
}

func (c *Client) write(frame []byte) error {
	conn, err := c.activeConn()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// Receive blocks until the next upstream message arrives.
// Close unblocks a pending Receive with ErrConnectionLost.
func (c *Client) Receive() (Event, error) {
	conn, err := c.activeConn()
	if err != nil {
		return Event{}, err
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Event{}, fmt.Errorf("%w: closed by upstream", ErrConnectionLost)
		}
		return Event{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	ev, err := decodeEvent(raw)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Close releases the connection. Safe to call repeatedly and from any state.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))

		err = conn.Close()
	})
	return err
}
