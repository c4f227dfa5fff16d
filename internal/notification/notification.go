// Package notification is C10's best-effort notification fan-out: every
// red-level signal is forwarded to all enabled providers. Grounded on the
// teacher's internal/notification/notification.go Manager/Notifier idiom and
// its Telegram/Discord providers, narrowed from trade-open/trade-close/error
// notifications to signal notifications only, per spec.md section 4.7 ("a
// notification is enqueued only for red, per section 6").
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"panicker/internal/signal"
)

// Notification is a signal alert ready for delivery to a provider.
type Notification struct {
	Instrument string
	SignalType signal.Type
	Level      signal.FinalLevel
	Price      float64
	RiskScore  float64
	Summary    string
	Timestamp  time.Time
}

// Notifier is implemented by each delivery provider.
type Notifier interface {
	Send(n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans a notification out to every enabled provider, returning the
// last provider error. Providers are called synchronously in turn, so a slow
// provider delays the caller up to that provider's HTTP client timeout.
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{notifiers: make([]Notifier, 0), enabled: true}
}

// AddNotifier registers a delivery provider.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers n to every enabled provider.
func (m *Manager) Send(n *Notification) error {
	if !m.enabled {
		return nil
	}
	var lastErr error
	for _, notifier := range m.notifiers {
		if notifier.IsEnabled() {
			if err := notifier.Send(n); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendSignal builds and delivers a Notification for a freshly emitted
// PanicSignal. Only called by the scan orchestrator for LevelRed signals.
func (m *Manager) SendSignal(sig *signal.PanicSignal) error {
	action := "panic"
	if sig.SignalType == signal.TypeGreed {
		action = "greed"
	}
	return m.Send(&Notification{
		Instrument: sig.Instrument,
		SignalType: sig.SignalType,
		Level:      sig.FinalLevel,
		Price:      sig.Price,
		RiskScore:  sig.Risk.Score,
		Summary:    fmt.Sprintf("%s: strong %s signal at %.4f (risk %.1f)", sig.Instrument, action, sig.Price, sig.Risk.Score),
		Timestamp:  sig.DetectedAt,
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier creates a new Telegram notifier.
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string     { return "telegram" }
func (t *TelegramNotifier) IsEnabled() bool  { return t.enabled }

func (t *TelegramNotifier) Send(n *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s signal: %s*\n\n%s", n.Level, n.Instrument, n.Summary)
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration.
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier creates a new Discord notifier.
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string    { return "discord" }
func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(n *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0xFF0000
	embed := map[string]interface{}{
		"title":       fmt.Sprintf("%s signal: %s", n.Level, n.Instrument),
		"description": n.Summary,
		"color":       color,
		"timestamp":   n.Timestamp.Format(time.RFC3339),
		"fields": []map[string]interface{}{
			{"name": "Price", "value": fmt.Sprintf("%.4f", n.Price), "inline": true},
			{"name": "Risk score", "value": fmt.Sprintf("%.1f", n.RiskScore), "inline": true},
		},
	}
	payload := map[string]interface{}{"embeds": []map[string]interface{}{embed}}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
