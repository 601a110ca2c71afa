package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/genai"
)

// liveSession is the part of *genai.Session the client uses
type liveSession interface {
	Receive() (*genai.LiveServerMessage, error)
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	Close() error
}

type liveDialer func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

// LiveClient reaches the same upstream through the official genai SDK.
// It is interchangeable with Client.
type LiveClient struct {
	model            string
	handshakeTimeout time.Duration
	logger           *slog.Logger
	dial             liveDialer

	session liveSession

	mu         sync.RWMutex
	connecting bool
	closed     bool
	closeOnce  sync.Once
}

// NewLiveClient creates an unconnected SDK-backed upstream client
func NewLiveClient(opts ClientOptions) *LiveClient {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LiveClient{
		model:            opts.Model,
		handshakeTimeout: opts.HandshakeTimeout,
		logger:           opts.Logger,
		dial:             sdkDialer(opts.APIKey),
	}
}

func sdkDialer(apiKey string) liveDialer {
	return func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create GenAI client: %w", err)
		}
		session, err := client.Live.Connect(ctx, model, cfg)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// liveConnectConfig maps a session config onto the SDK's Live configuration
func liveConnectConfig(cfg *SessionConfig) *genai.LiveConnectConfig {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	return &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: cfg.SystemPrompt},
			},
		},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: voice,
				},
			},
		},
	}
}

// Connect opens the Live session and waits for setupComplete
func (lc *LiveClient) Connect(ctx context.Context, cfg *SessionConfig) error {
	if cfg == nil {
		return ErrConfigMissing
	}

	lc.mu.Lock()
	switch {
	case lc.closed:
		lc.mu.Unlock()
		return fmt.Errorf("%w: client is closed", ErrConnectionLost)
	case lc.connecting:
		lc.mu.Unlock()
		return ErrAlreadyConnected
	}
	lc.connecting = true
	lc.mu.Unlock()

	session, err := lc.dial(ctx, lc.model, liveConnectConfig(cfg))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}

	if err := lc.awaitSetup(ctx, session); err != nil {
		session.Close()
		return err
	}

	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		session.Close()
		return fmt.Errorf("%w: closed during handshake", ErrConnectionLost)
	}
	lc.session = session
	lc.mu.Unlock()

	lc.logger.Info("✅ Connected to Gemini Live via SDK", "model", lc.model, "voice", cfg.Voice)
	return nil
}

func (lc *LiveClient) awaitSetup(ctx context.Context, session liveSession) error {
	type reply struct {
		msg *genai.LiveServerMessage
		err error
	}
	replies := make(chan reply, 1)
	go func() {
		msg, err := session.Receive()
		replies <- reply{msg, err}
	}()

	timer := time.NewTimer(lc.handshakeTimeout)
	defer timer.Stop()

	select {
	case r := <-replies:
		if r.err != nil {
			return fmt.Errorf("%w: %v", ErrHandshakeRejected, r.err)
		}
		if r.msg == nil || r.msg.SetupComplete == nil {
			return fmt.Errorf("%w: expected setupComplete", ErrHandshakeRejected)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no reply within %v", ErrHandshakeRejected, lc.handshakeTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrHandshakeRejected, ctx.Err())
	}
}

func (lc *LiveClient) activeSession() (liveSession, error) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	if lc.closed || lc.session == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnectionLost)
	}
	return lc.session, nil
}

// SendAudio forwards a PCM chunk
func (lc *LiveClient) SendAudio(data []byte) error {
	return lc.sendRealtimeInput(data, MIMETypeAudio)
}

// SendImage forwards a JPEG frame
func (lc *LiveClient) SendImage(data []byte) error {
	return lc.sendRealtimeInput(data, MIMETypeImage)
}

func (lc *LiveClient) sendRealtimeInput(data []byte, mimeType string) error {
	session, err := lc.activeSession()
	if err != nil {
		return err
	}

	err = session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: mimeType,
			Data:     data,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// SendText sends a complete user turn
func (lc *LiveClient) SendText(text string) error {
	session, err := lc.activeSession()
	if err != nil {
		return err
	}

	turnComplete := true
	err = session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{
			{
				Role:  "user",
				Parts: []*genai.Part{{Text: text}},
			},
		},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// Receive blocks until the next upstream message arrives.
// The SDK does not separate decode failures from transport failures, so every
// receive error is reported as ErrConnectionLost.
func (lc *LiveClient) Receive() (Event, error) {
	session, err := lc.activeSession()
	if err != nil {
		return Event{}, err
	}

	msg, err := session.Receive()
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return eventFromLive(msg), nil
}

func eventFromLive(msg *genai.LiveServerMessage) Event {
	var ev Event
	if msg == nil {
		return ev
	}
	ev.SetupAck = msg.SetupComplete != nil

	if msg.ServerContent == nil {
		return ev
	}
	if msg.ServerContent.ModelTurn != nil {
		for _, p := range msg.ServerContent.ModelTurn.Parts {
			if p == nil {
				continue
			}
			switch {
			case p.InlineData != nil:
				ev.Chunks = append(ev.Chunks, Chunk{
					Kind:     ChunkAudio,
					Data:     p.InlineData.Data,
					MIMEType: p.InlineData.MIMEType,
				})
			case p.Text != "":
				ev.Chunks = append(ev.Chunks, Chunk{Kind: ChunkText, Text: p.Text})
			}
		}
	}
	ev.TurnComplete = msg.ServerContent.TurnComplete
	return ev
}

// Close terminates the Live session
func (lc *LiveClient) Close() error {
	var err error
	lc.closeOnce.Do(func() {
		lc.mu.Lock()
		lc.closed = true
		session := lc.session
		lc.mu.Unlock()

		if session != nil {
			err = session.Close()
		}
	})
	return err
}
