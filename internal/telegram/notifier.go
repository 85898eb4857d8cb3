// Package telegram pushes alert notifications to a Telegram chat. The
// notifier is entirely env-gated: without a bot token and chat id nothing
// is constructed and the rest of the system never notices.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"vigil/internal/events"
)

const defaultCooldown = 30 * time.Second

// ErrCooldown is returned when an alert is suppressed because the previous
// one for the same camera and stage is too recent.
var ErrCooldown = errors.New("cooldown period not yet elapsed")

// Notifier sends alert messages and photos through the Telegram bot API.
type Notifier struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client

	cooldownMu     sync.Mutex
	lastSent       map[string]time.Time
	cooldownPeriod time.Duration
}

// telegramResponse represents the response from the Telegram API.
type telegramResponse struct {
	OK          bool        `json:"ok"`
	Result      interface{} `json:"result,omitempty"`
	ErrorCode   int         `json:"error_code,omitempty"`
	Description string      `json:"description,omitempty"`
}

// New builds a notifier with explicit credentials.
func New(botToken, chatID string, cooldown time.Duration) *Notifier {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	return &Notifier{
		botToken:       botToken,
		chatID:         chatID,
		apiBase:        "https://api.telegram.org",
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		lastSent:       make(map[string]time.Time),
		cooldownPeriod: cooldown,
	}
}

// NewFromEnv builds a notifier from TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID.
// Returns nil when either is missing, which disables notifications.
func NewFromEnv() *Notifier {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatID := os.Getenv("TELEGRAM_CHAT_ID")
	if token == "" || chatID == "" {
		return nil
	}

	cooldown := defaultCooldown
	if v := os.Getenv("TELEGRAM_COOLDOWN_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cooldown = time.Duration(secs) * time.Second
		}
	}

	return New(token, chatID, cooldown)
}

// SendAlert formats and delivers one alert event. Alerts for the same
// camera and stage inside the cooldown window return ErrCooldown. A failed
// send does not rearm the window.
func (n *Notifier) SendAlert(ctx context.Context, ev events.Event, cameraName string) error {
	key := fmt.Sprintf("%d/%s", ev.CameraID, ev.Stage)
	if !n.armCooldown(key) {
		return ErrCooldown
	}

	message := formatAlert(ev, cameraName)
	if len(ev.Frame) > 0 {
		return n.SendPhoto(ctx, ev.Frame, message)
	}
	return n.SendMessage(ctx, message)
}

// SendMessage sends a text message
func (n *Notifier) SendMessage(ctx context.Context, message string) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}

	payload := map[string]interface{}{
		"chat_id":    n.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	return n.sendTelegramRequest(ctx, "sendMessage", payload)
}

// SendPhoto sends a photo with optional caption
func (n *Notifier) SendPhoto(ctx context.Context, photoData []byte, caption string) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", n.apiBase, n.botToken)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", n.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}

	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "alert_frame.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// sendTelegramRequest sends a generic request to the Telegram API.
func (n *Notifier) sendTelegramRequest(ctx context.Context, method string, payload map[string]interface{}) error {
	url := fmt.Sprintf("%s/bot%s/%s", n.apiBase, n.botToken, method)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// handleResponse processes the Telegram API response.
func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp telegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !telegramResp.OK {
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}

	return nil
}

// armCooldown claims the send window for a key. The claim happens before
// the send, so concurrent alerts for the same key collapse into one.
func (n *Notifier) armCooldown(key string) bool {
	n.cooldownMu.Lock()
	defer n.cooldownMu.Unlock()

	if last, ok := n.lastSent[key]; ok && time.Since(last) < n.cooldownPeriod {
		return false
	}
	n.lastSent[key] = time.Now()
	return true
}

func formatAlert(ev events.Event, cameraName string) string {
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	zoneName, _ := at.Zone()
	timestamp := fmt.Sprintf("%s %s", at.Format("2 Jan 2006, 15:04:05"), zoneName)

	message := fmt.Sprintf(
		"🚨 <b>Detection Alert!</b>\n\n"+
			"📹 Camera: %s\n"+
			"🔎 Stage: %s\n"+
			"🕐 Time: %s",
		cameraName,
		ev.Stage,
		timestamp,
	)

	if ev.Summary.Detail != "" {
		message += fmt.Sprintf("\n⚠️ %s", ev.Summary.Detail)
	}
	if len(ev.Summary.Weapons) > 0 {
		classes := make([]string, 0, len(ev.Summary.Weapons))
		for _, w := range ev.Summary.Weapons {
			classes = append(classes, w.Class)
		}
		message += fmt.Sprintf("\n🎯 Detected: %s", strings.Join(classes, ", "))
	}
	if ev.Summary.MatchFound && ev.Summary.Identity != "" {
		message += fmt.Sprintf("\n✅ Identified: %s", ev.Summary.Identity)
	}

	return message
}

// StartNotifier forwards alert events from the bus to Telegram. The
// returned stop function unsubscribes and waits for the pump to drain.
// cameraName resolves an id to a display name; nil falls back to the id.
func StartNotifier(bus *events.Bus, notifier *Notifier, cameraName func(id int) string) func() {
	alerts, unsubscribe := bus.SubscribeChannel(32)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range alerts {
			name := fmt.Sprintf("Camera %d", ev.CameraID)
			if cameraName != nil {
				if n := cameraName(ev.CameraID); n != "" {
					name = n
				}
			}
			err := notifier.SendAlert(context.Background(), ev, name)
			if err != nil && !errors.Is(err, ErrCooldown) {
				log.Printf("[Telegram] Failed to send alert: %v", err)
			}
		}
	}()

	return func() {
		unsubscribe()
		<-done
	}
}
