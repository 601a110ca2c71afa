package gemini

import (
	"errors"
	"testing"

	"google.golang.org/genai"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantSetup    bool
		wantKinds    []ChunkKind
		wantComplete bool
		wantErr      error
	}{
		{name: "setup ack", raw: `{"setupComplete":{}}`, wantSetup: true},
		{name: "turn complete only", raw: `{"serverContent":{"turnComplete":true}}`, wantComplete: true},
		{
			name:      "text parts",
			raw:       `{"serverContent":{"modelTurn":{"parts":[{"text":"a"},{"text":"b"}]}}}`,
			wantKinds: []ChunkKind{ChunkText, ChunkText},
		},
		{
			name:      "empty text part kept",
			raw:       `{"serverContent":{"modelTurn":{"parts":[{"text":""},{"text":"a"}]}}}`,
			wantKinds: []ChunkKind{ChunkText, ChunkText},
		},
		{
			name:      "part without payload dropped",
			raw:       `{"serverContent":{"modelTurn":{"parts":[{},{"text":"a"}]}}}`,
			wantKinds: []ChunkKind{ChunkText},
		},
		{
			name:         "audio then complete",
			raw:          `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":"AAE="}}]},"turnComplete":true}}`,
			wantKinds:    []ChunkKind{ChunkAudio},
			wantComplete: true,
		},
		{name: "unknown kind", raw: `{"usageMetadata":{"totalTokenCount":3}}`},
		{name: "not json", raw: `{`, wantErr: ErrMalformedMessage},
		{name: "bad base64", raw: `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"data":"%%%"}}]}}}`, wantErr: ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeEvent([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEvent failed: %v", err)
			}
			if ev.SetupAck != tt.wantSetup {
				t.Errorf("SetupAck = %v, want %v", ev.SetupAck, tt.wantSetup)
			}
			if ev.TurnComplete != tt.wantComplete {
				t.Errorf("TurnComplete = %v, want %v", ev.TurnComplete, tt.wantComplete)
			}
			if len(ev.Chunks) != len(tt.wantKinds) {
				t.Fatalf("Expected %d chunks, got %d", len(tt.wantKinds), len(ev.Chunks))
			}
			for i, kind := range tt.wantKinds {
				if ev.Chunks[i].Kind != kind {
					t.Errorf("chunk %d: kind %v, want %v", i, ev.Chunks[i].Kind, kind)
				}
			}
		})
	}
}

func TestEventFromLive(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{
				Parts: []*genai.Part{
					{InlineData: &genai.Blob{MIMEType: "audio/pcm", Data: []byte{1, 2}}},
					{Text: "hi"},
				},
			},
			TurnComplete: true,
		},
	}

	ev := eventFromLive(msg)
	if len(ev.Chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(ev.Chunks))
	}
	if ev.Chunks[0].Kind != ChunkAudio || len(ev.Chunks[0].Data) != 2 {
		t.Errorf("Unexpected audio chunk %+v", ev.Chunks[0])
	}
	if ev.Chunks[1].Kind != ChunkText || ev.Chunks[1].Text != "hi" {
		t.Errorf("Unexpected text chunk %+v", ev.Chunks[1])
	}
	if !ev.TurnComplete {
		t.Error("Expected turn complete")
	}

	if ack := eventFromLive(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}); !ack.SetupAck || !ack.Empty() {
		t.Errorf("Expected empty setup ack event, got %+v", ack)
	}
}
