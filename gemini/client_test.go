package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newUpstreamServer starts a websocket server that hands each connection to handle
func newUpstreamServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(srv *httptest.Server, timeout time.Duration) *Client {
	return NewClient(ClientOptions{
		Endpoint:         wsURL(srv),
		APIKey:           "secret",
		Model:            "models/test-model",
		HandshakeTimeout: timeout,
		Logger:           testLogger(),
	})
}

func ackSetup(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var setup map[string]any
	if err := conn.ReadJSON(&setup); err != nil {
		t.Errorf("read setup: %v", err)
		return nil
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)); err != nil {
		t.Errorf("write ack: %v", err)
	}
	return setup
}

func TestConnectSendsSetup(t *testing.T) {
	setups := make(chan map[string]any, 1)
	keys := make(chan string, 1)
	srv := newUpstreamServer(t, func(conn *websocket.Conn, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		setups <- ackSetup(t, conn)
		conn.ReadMessage()
	})

	client := newTestClient(srv, time.Second)
	defer client.Close()

	cfg := &SessionConfig{Voice: "Kore", SystemPrompt: "be brief"}
	if err := client.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if key := <-keys; key != "secret" {
		t.Errorf("Expected api key in query, got %q", key)
	}

	setup, ok := (<-setups)["setup"].(map[string]any)
	if !ok {
		t.Fatal("setup message missing 'setup' object")
	}
	if setup["model"] != "models/test-model" {
		t.Errorf("Unexpected model %v", setup["model"])
	}
	voice := setup["generation_config"].(map[string]any)["speech_config"].(map[string]any)["voice_config"].(map[string]any)["prebuilt_voice_config"].(map[string]any)["voice_name"]
	if voice != "Kore" {
		t.Errorf("Expected voice Kore, got %v", voice)
	}
	prompt := setup["system_instruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"]
	if prompt != "be brief" {
		t.Errorf("Expected system prompt, got %v", prompt)
	}
}

func TestConnectRequiresConfig(t *testing.T) {
	client := NewClient(ClientOptions{Endpoint: "ws://127.0.0.1:1", Logger: testLogger()})
	if err := client.Connect(context.Background(), nil); !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("Expected ErrConfigMissing, got %v", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := wsURL(srv)
	srv.Close()

	client := NewClient(ClientOptions{Endpoint: endpoint, HandshakeTimeout: time.Second, Logger: testLogger()})
	err := client.Connect(context.Background(), &SessionConfig{})
	if !errors.Is(err, ErrUpstreamUnreachable) {
		t.Fatalf("Expected ErrUpstreamUnreachable, got %v", err)
	}
}

func TestConnectRejected(t *testing.T) {
	srv := newUpstreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"error":{"code":403,"message":"bad key"}}`))
	})

	client := newTestClient(srv, time.Second)
	err := client.Connect(context.Background(), &SessionConfig{})
	if !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("Expected ErrHandshakeRejected, got %v", err)
	}
}

func TestConnectHandshakeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newUpstreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.ReadMessage()
		<-release
	})
	defer close(release)

	client := newTestClient(srv, 100*time.Millisecond)
	start := time.Now()
	err := client.Connect(context.Background(), &SessionConfig{})
	if !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("Expected ErrHandshakeRejected, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Handshake timeout took too long: %v", elapsed)
	}
}

func TestConnectTwice(t *testing.T) {
	srv := newUpstreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ackSetup(t, conn)
		conn.ReadMessage()
	})

	client := newTestClient(srv, time.Second)
	defer client.Close()

	if err := client.Connect(context.Background(), &SessionConfig{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Connect(context.Background(), &SessionConfig{}); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("Expected ErrAlreadyConnected, got %v", err)
	}
}

func TestSendFrames(t *testing.T) {
	frames := make(chan map[string]any, 3)
	srv := newUpstreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ackSetup(t, conn)
		for i := 0; i < 3; i++ {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			frames <- frame
		}
	})

	client := newTestClient(srv, time.Second)
	defer client.Close()
	if err := client.Connect(context.Background(), &SessionConfig{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if err := client.SendImage([]byte{0xff, 0xd8}); err != nil {
		t.Fatalf("SendImage failed: %v", err)
	}
	if err := client.SendText("hello"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	checkMedia := func(frame map[string]any, wantData []byte, wantMIME string) {
		t.Helper()
		chunk := frame["realtime_input"].(map[string]any)["media_chunks"].([]any)[0].(map[string]any)
		if chunk["mime_type"] != wantMIME {
			t.Errorf("Expected mime %s, got %v", wantMIME, chunk["mime_type"])
		}
		if chunk["data"] != base64.StdEncoding.EncodeToString(wantData) {
			t.Errorf("Unexpected data %v", chunk["data"])
		}
	}
	checkMedia(<-frames, []byte{1, 2, 3}, MIMETypeAudio)
	checkMedia(<-frames, []byte{0xff, 0xd8}, MIMETypeImage)

	text := <-frames
	cc := text["client_content"].(map[string]any)
	if cc["turn_complete"] != true {
		t.Errorf("Expected turn_complete true, got %v", cc["turn_complete"])
	}
	turn := cc["turns"].([]any)[0].(map[string]any)
	if turn["role"] != "user" {
		t.Errorf("Expected user role, got %v", turn["role"])
	}
	if turn["parts"].([]any)[0].(map[string]any)["text"] != "hello" {
		t.Errorf("Unexpected text part %v", turn["parts"])
	}
}

func TestReceiveEvents(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{9, 8, 7})
	srv := newUpstreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ackSetup(t, conn)
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"modelTurn":{"parts":[`+
			`{"text":"one"},{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"`+audio+`"}},{"text":"two"}]},`+
			`"turnComplete":true}}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	})

	client := newTestClient(srv, time.Second)
	defer client.Close()
	if err := client.Connect(context.Background(), &SessionConfig{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := client.Receive(); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("Expected ErrMalformedMessage, got %v", err)
	}

	ev, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(ev.Chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(ev.Chunks))
	}
	if ev.Chunks[0].Kind != ChunkText || ev.Chunks[0].Text != "one" {
		t.Errorf("Unexpected first chunk %+v", ev.Chunks[0])
	}
	if ev.Chunks[1].Kind != ChunkAudio || string(ev.Chunks[1].Data) != string([]byte{9, 8, 7}) {
		t.Errorf("Unexpected second chunk %+v", ev.Chunks[1])
	}
	if ev.Chunks[2].Text != "two" {
		t.Errorf("Unexpected third chunk %+v", ev.Chunks[2])
	}
	if !ev.TurnComplete {
		t.Error("Expected turn complete")
	}

	if _, err := client.Receive(); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Expected ErrConnectionLost after upstream close, got %v", err)
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	srv := newUpstreamServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ackSetup(t, conn)
		conn.ReadMessage()
	})

	client := newTestClient(srv, time.Second)
	if err := client.Connect(context.Background(), &SessionConfig{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := client.Receive()
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	client.Close()
	client.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("Expected ErrConnectionLost, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive was not unblocked by Close")
	}

	if err := client.SendText("late"); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Expected ErrConnectionLost after close, got %v", err)
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	client := NewClient(ClientOptions{Endpoint: "ws://127.0.0.1:1", Logger: testLogger()})
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := client.Connect(context.Background(), &SessionConfig{}); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Expected ErrConnectionLost on closed client, got %v", err)
	}
}

func TestEncodeSetupDefaultsVoice(t *testing.T) {
	raw, err := encodeSetup("models/m", &SessionConfig{SystemPrompt: "p"})
	if err != nil {
		t.Fatalf("encodeSetup failed: %v", err)
	}
	var msg setupMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("setup is not valid JSON: %v", err)
	}
	if got := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != DefaultVoice {
		t.Errorf("Expected default voice %s, got %s", DefaultVoice, got)
	}
	if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
		t.Errorf("Unexpected modalities %v", got)
	}
}
