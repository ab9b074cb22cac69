package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tos-network/fastmine/internal/config"
)

func TestNewNotifier(t *testing.T) {
	cfg := &config.NotifyConfig{DiscordWebhook: "https://discord.example/webhook"}
	n := NewNotifier(cfg)
	if n == nil {
		t.Fatal("NewNotifier returned nil")
	}
	if n.cfg != cfg {
		t.Error("Notifier.cfg not set correctly")
	}
}

func TestNotifyHardSolveNoWebhooksConfigured(t *testing.T) {
	n := NewNotifier(&config.NotifyConfig{})
	// Should not panic or block when no webhook targets are configured.
	n.NotifyHardSolve([]byte("123456789"), []byte("PREFIXES"), "full8")
}

func TestSendDiscordHardSolveDeliversPayload(t *testing.T) {
	received := make(chan DiscordMessage, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg DiscordMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("failed to decode discord payload: %v", err)
		}
		received <- msg
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier(&config.NotifyConfig{DiscordWebhook: server.URL})
	n.sendDiscordHardSolve([]byte("123456789"), []byte("PREFIXES"), "full8")

	select {
	case msg := <-received:
		if len(msg.Embeds) != 1 {
			t.Fatalf("expected 1 embed, got %d", len(msg.Embeds))
		}
		if msg.Embeds[0].Title != "Hard Solve" {
			t.Errorf("embed title = %q, want %q", msg.Embeds[0].Title, "Hard Solve")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Discord webhook delivery")
	}
}

func TestSendDiscordMessageWithRetryRespectsClient(t *testing.T) {
	var got DiscordMessage
	done := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		done <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(&config.NotifyConfig{DiscordWebhook: server.URL})
	n.sendDiscordMessageWithRetry(DiscordMessage{Content: "ping"})

	select {
	case <-done:
		if got.Content != "ping" {
			t.Errorf("Content = %q, want ping", got.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Discord delivery")
	}
}

func TestTelegramMessageMarshaling(t *testing.T) {
	msg := TelegramMessage{ChatID: "chat1", Text: "hello", ParseMode: "Markdown"}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded TelegramMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded != msg {
		t.Errorf("round-tripped message = %+v, want %+v", decoded, msg)
	}
}

func TestSendDiscordMessageWithRetryHandlesServerError(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewNotifier(&config.NotifyConfig{DiscordWebhook: server.URL})
	n.client.Timeout = 500 * time.Millisecond

	start := time.Now()
	n.sendDiscordMessageWithRetry(DiscordMessage{Content: "ping"})
	if attempts != MaxRetries {
		t.Errorf("attempts = %d, want %d", attempts, MaxRetries)
	}
	if time.Since(start) < RetryBaseDelay {
		t.Error("expected retry backoff delay to elapse")
	}
}

func TestMarshalDiscordMessage(t *testing.T) {
	msg := DiscordMessage{Embeds: []DiscordEmbed{{Title: "x"}}}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Contains(data, []byte(`"title":"x"`)) {
		t.Errorf("marshaled payload missing embed title: %s", data)
	}
}

func TestTruncateText(t *testing.T) {
	short := "hello"
	if got := truncateText(short); got != short {
		t.Errorf("truncateText(%q) = %q, want unchanged", short, got)
	}

	long := "0123456789abcdefghijklmnopqrstuvwxyz"
	got := truncateText(long)
	if len(got) >= len(long) {
		t.Errorf("truncateText(%q) = %q, expected a shorter string", long, got)
	}
}
