// Package notify provides the opaque notification sink used by the
// dispatcher and position watcher, grounded on the original's
// execution/signal_dispatcher.py send_notification/_send_telegram
// (best-effort, delivery failures are logged, never fatal).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Sink accepts free-form text notifications. Implementations must
// treat delivery failures as non-fatal per spec §6.4: log and return,
// never panic or propagate an error that would abort a caller's
// dispatch or watch loop.
type Sink interface {
	Send(ctx context.Context, text string)
}

// TelegramSink posts messages to a Telegram bot chat via the Bot API.
// A zero-value token disables delivery (Send becomes a no-op) so the
// engine runs without Telegram credentials configured.
type TelegramSink struct {
	token  string
	chatID string
	client *http.Client
	logger *zap.Logger
}

// NewTelegramSink builds a TelegramSink. An empty token yields a sink
// whose Send calls are silently skipped.
func NewTelegramSink(token, chatID string, logger *zap.Logger) *TelegramSink {
	return &TelegramSink{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Send posts text to the configured chat. Errors are logged, not returned.
func (t *TelegramSink) Send(ctx context.Context, text string) {
	if t.token == "" {
		return
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		t.logger.Warn("notify_marshal_failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		t.logger.Warn("notify_request_build_failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("notify_send_failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		t.logger.Warn("notify_send_non2xx", zap.Int("status", resp.StatusCode))
	}
}
