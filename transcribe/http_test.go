package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHTTPTranscriber(t *testing.T, url string, retries int) *HTTPTranscriber {
	t.Helper()
	tr, err := NewHTTPTranscriber(HTTPConfig{
		Endpoint:    url,
		APIKey:      "test-key",
		Timeout:     2 * time.Second,
		MaxRetries:  retries,
		BaseBackoff: time.Millisecond,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewHTTPTranscriber failed: %v", err)
	}
	return tr
}

func TestHTTPTranscriberSuccess(t *testing.T) {
	clip := makeWAV(1, 16, 1600)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing file field: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if len(data) != len(clip) {
			t.Errorf("Expected %d uploaded bytes, got %d", len(clip), len(data))
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("Expected default model, got %q", r.FormValue("model"))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"  I love this product  "}`)
	}))
	defer server.Close()

	text, err := newTestHTTPTranscriber(t, server.URL, 0).Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "I love this product" {
		t.Errorf("Expected trimmed transcript, got %q", text)
	}
}

func TestHTTPTranscriberRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"text":"hello"}`)
	}))
	defer server.Close()

	text, err := newTestHTTPTranscriber(t, server.URL, 3).Transcribe(context.Background(), makeWAV(1, 16, 100))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello" || calls.Load() != 3 {
		t.Errorf("Expected success on third call, got %q after %d calls", text, calls.Load())
	}
}

func TestHTTPTranscriberDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestHTTPTranscriber(t, server.URL, 3).Transcribe(context.Background(), makeWAV(1, 16, 100))
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Expected ErrServiceUnavailable, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
}

func TestHTTPTranscriberEmptyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":""}`)
	}))
	defer server.Close()

	_, err := newTestHTTPTranscriber(t, server.URL, 0).Transcribe(context.Background(), makeWAV(1, 16, 100))
	if !errors.Is(err, ErrNoSpeech) {
		t.Errorf("Expected ErrNoSpeech, got %v", err)
	}
}

func TestHTTPTranscriberRejectsBadFormat(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	_, err := newTestHTTPTranscriber(t, server.URL, 0).Transcribe(context.Background(), []byte("definitely not a wav file at all"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("Expected no request for an invalid clip")
	}
}

func TestNewHTTPTranscriberRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPTranscriber(HTTPConfig{}, nil); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}
