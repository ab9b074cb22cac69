// Package notify provides Discord/Telegram webhook notifications for
// fastmine events.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tos-network/fastmine/internal/config"
	"github.com/tos-network/fastmine/internal/util"
)

// Retry configuration
const (
	MaxRetries     = 3
	RetryBaseDelay = 2 * time.Second
)

// Notifier handles sending notifications
type Notifier struct {
	cfg    *config.NotifyConfig
	client *http.Client
}

// NewNotifier creates a new notifier
func NewNotifier(cfg *config.NotifyConfig) *Notifier {
	return &Notifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyHardSolve sends notifications when a challenge is solved by a
// rare attempt tier (anything past the cheap full8/digit8 tiers), the
// equivalent of the pool's block-found alert for this domain.
func (n *Notifier) NotifyHardSolve(nonce []byte, prefix []byte, tier string) {
	if n.cfg.DiscordWebhook != "" {
		go n.sendDiscordHardSolve(nonce, prefix, tier)
	}

	if n.cfg.TelegramToken != "" && n.cfg.TelegramChatID != "" {
		go n.sendTelegramHardSolve(nonce, prefix, tier)
	}
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
}

// DiscordField represents a field in a Discord embed
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordFooter represents the footer of a Discord embed
type DiscordFooter struct {
	Text string `json:"text"`
}

// DiscordMessage represents a Discord webhook message
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

func (n *Notifier) sendDiscordHardSolve(nonce []byte, prefix []byte, tier string) {
	embed := DiscordEmbed{
		Title:       "Hard Solve",
		Description: fmt.Sprintf("fastmine recovered a nonce via the %s tier", tier),
		Color:       0x00FF00, // Green
		Fields: []DiscordField{
			{Name: "Tier", Value: tier, Inline: true},
			{Name: "Nonce", Value: string(nonce), Inline: true},
			{Name: "Prefix", Value: truncateText(string(prefix)), Inline: false},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer:    &DiscordFooter{Text: "fastmine"},
	}

	msg := DiscordMessage{Embeds: []DiscordEmbed{embed}}
	n.sendDiscordMessageWithRetry(msg)
}

// sendDiscordMessageWithRetry sends a message to Discord with exponential backoff retry
func (n *Notifier) sendDiscordMessageWithRetry(msg DiscordMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("Failed to marshal Discord message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		resp, err := n.client.Post(n.cfg.DiscordWebhook, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}

		resp.Body.Close()

		if resp.StatusCode < 400 {
			return // Success
		}

		if resp.StatusCode == 429 {
			time.Sleep(5 * time.Second)
			continue
		}

		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("Failed to send Discord notification after %d attempts: %v", MaxRetries, lastErr)
	}
}

// TelegramMessage represents a Telegram bot message
type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (n *Notifier) sendTelegramHardSolve(nonce []byte, prefix []byte, tier string) {
	text := fmt.Sprintf(
		"*Hard Solve*\n\n"+
			"Tier: `%s`\n"+
			"Nonce: `%s`\n"+
			"Prefix: `%s`",
		tier, string(nonce), truncateText(string(prefix)),
	)

	n.sendTelegramMessageWithRetry(text)
}

// sendTelegramMessageWithRetry sends a message via Telegram with exponential backoff retry
func (n *Notifier) sendTelegramMessageWithRetry(text string) {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.cfg.TelegramToken)

	msg := TelegramMessage{
		ChatID:    n.cfg.TelegramChatID,
		Text:      text,
		ParseMode: "Markdown",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("Failed to marshal Telegram message: %v", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}

		resp.Body.Close()

		if resp.StatusCode < 400 {
			return // Success
		}

		if resp.StatusCode == 429 {
			time.Sleep(5 * time.Second)
			continue
		}

		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("Failed to send Telegram notification after %d attempts: %v", MaxRetries, lastErr)
	}
}

// truncateText returns a shortened string for display in a notification field.
func truncateText(s string) string {
	if len(s) <= 20 {
		return s
	}
	return s[:10] + "..." + s[len(s)-8:]
}
