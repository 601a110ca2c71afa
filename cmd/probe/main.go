// Command probe exercises a running relay from the terminal.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/room4-2/liverelay/gemini"
	"github.com/room4-2/liverelay/messages"
)

var (
	serverURL string
	clientID  string
	voice     string
	prompt    string
	outPath   string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "probe",
	Short: "Talk to a live relay server",
	Long: `probe connects to a relay as a client.

Examples:
  # Ask a question and print the reply
  probe text "What is the capital of France?"

  # Stream a raw 16kHz PCM clip and save the spoken reply
  probe audio -f question.pcm -o reply.pcm

  # Score the sentiment of a WAV clip
  probe sentiment -f clip.wav`,
	SilenceUsage: true,
}

var textCmd = &cobra.Command{
	Use:   "text <message>",
	Short: "Send one text turn and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := send(conn, messages.Text{Text: strings.Join(args, " ")}); err != nil {
			return err
		}
		return readTurn(cmd.OutOrStdout(), conn)
	},
}

var audioFile string

var audioCmd = &cobra.Command{
	Use:   "audio",
	Short: "Stream a raw PCM file (16-bit, 16kHz, mono) and collect the reply",
	RunE: func(cmd *cobra.Command, args []string) error {
		pcm, err := os.ReadFile(audioFile)
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}

		conn, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer conn.Close()

		// 100ms of 16kHz 16-bit mono per frame, paced in real time
		const chunkSize = 3200
		for off := 0; off < len(pcm); off += chunkSize {
			end := min(off+chunkSize, len(pcm))
			if err := send(conn, messages.Audio{Data: pcm[off:end]}); err != nil {
				return err
			}
			time.Sleep(100 * time.Millisecond)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🎤 Sent %d bytes of audio\n", len(pcm))

		return readTurn(cmd.OutOrStdout(), conn)
	},
}

var sentimentFile string

var sentimentCmd = &cobra.Command{
	Use:   "sentiment",
	Short: "Upload a WAV clip to /analyze_sentiment",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(sentimentFile)
		if err != nil {
			return fmt.Errorf("read clip: %w", err)
		}

		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		part, err := w.CreateFormFile("file", filepath.Base(sentimentFile))
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}

		url := strings.Replace(strings.TrimRight(serverURL, "/"), "ws", "http", 1) + "/analyze_sentiment"
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		defer resp.Body.Close()

		out, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.Status, out)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("analyze failed with status %d", resp.StatusCode)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "url", "u", "ws://localhost:8000", "relay base URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "id", "", "client id (random when empty)")
	rootCmd.PersistentFlags().StringVar(&voice, "voice", gemini.DefaultVoice, "output voice")
	rootCmd.PersistentFlags().StringVar(&prompt, "prompt", "", "system prompt (server default when empty)")
	rootCmd.PersistentFlags().StringVarP(&outPath, "out", "o", "", "write received PCM audio to this file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for a reply")

	audioCmd.Flags().StringVarP(&audioFile, "file", "f", "", "raw PCM input file")
	audioCmd.MarkFlagRequired("file")
	sentimentCmd.Flags().StringVarP(&sentimentFile, "file", "f", "", "WAV clip")
	sentimentCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(textCmd, audioCmd, sentimentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// dial connects and sends the session config
func dial(ctx context.Context) (*websocket.Conn, error) {
	if clientID == "" {
		clientID = "probe-" + uuid.NewString()[:8]
	}
	url := strings.TrimRight(serverURL, "/") + "/ws/" + clientID

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	fmt.Printf("✅ Connected as %s\n", clientID)

	cfg := messages.Config{Config: gemini.SessionConfig{Voice: voice, SystemPrompt: prompt}}
	if err := send(conn, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func send(conn *websocket.Conn, msg messages.Inbound) error {
	raw, err := messages.EncodeInbound(msg)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	return nil
}

type serverMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// readTurn prints server messages until turn_complete, an error, or the timeout
func readTurn(w io.Writer, conn *websocket.Conn) error {
	var audio bytes.Buffer
	deadline := time.Now().Add(timeout)

	for {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg serverMessage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			fmt.Fprintf(w, "⚠️ Unreadable message: %s\n", raw)
			continue
		}

		switch msg.Type {
		case messages.TypeText:
			fmt.Fprintf(w, "💬 %v\n", msg.Data)
		case messages.TypeAudio:
			s, _ := msg.Data.(string)
			chunk, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				fmt.Fprintf(w, "⚠️ Bad audio chunk: %v\n", err)
				continue
			}
			audio.Write(chunk)
		case messages.TypeTurnComplete:
			fmt.Fprintf(w, "✅ Turn complete (%d bytes of audio)\n", audio.Len())
			return saveAudio(audio.Bytes())
		case messages.TypeError:
			return fmt.Errorf("server error: %v", msg.Data)
		default:
			fmt.Fprintf(w, "❓ %s: %v\n", msg.Type, msg.Data)
		}
	}
}

func saveAudio(pcm []byte) error {
	if outPath == "" || len(pcm) == 0 {
		return nil
	}
	if err := os.WriteFile(outPath, pcm, 0o644); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	fmt.Printf("💾 Saved reply audio to %s (24kHz 16-bit mono PCM)\n", outPath)
	return nil
}
