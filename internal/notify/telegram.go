// Package notify delivers messages through the Telegram Bot API and runs
// the inbound command listener that manages the keyword list.
package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// botAPI is the slice of tgbotapi.BotAPI this package needs; tests swap in
// a fake.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Telegram sends HTML-formatted messages to one chat. It fails closed:
// every failure path returns false and logs the cause, nothing escapes.
type Telegram struct {
	api    botAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegram connects to the Bot API. An empty token or chat ID yields a
// disabled notifier rather than an error, so the monitor can run (and log
// matches) before credentials are configured.
func NewTelegram(token, chatID string, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telegram{logger: logger}

	if token == "" || chatID == "" {
		logger.Warn("telegram credentials missing, notifications disabled")
		return t
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		logger.Error("telegram chat id is not numeric", zap.String("chat_id", chatID))
		return t
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("telegram bot api init failed", zap.Error(err))
		return t
	}
	t.api = api
	t.chatID = id
	return t
}

// newTelegramWithAPI wires a prebuilt API client; used by tests.
func newTelegramWithAPI(api botAPI, chatID int64, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{api: api, chatID: chatID, logger: logger}
}

// Ready reports whether the notifier has working credentials.
func (t *Telegram) Ready() bool {
	return t.api != nil && t.chatID != 0
}

// Notify sends text with HTML formatting. Returns false when credentials
// are missing or delivery fails for any reason.
func (t *Telegram) Notify(_ context.Context, text string) bool {
	if !t.Ready() {
		t.logger.Error("telegram notify skipped: incomplete configuration")
		return false
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("telegram send failed", zap.Error(err))
		return false
	}
	t.logger.Info("telegram message delivered")
	return true
}

// FormatMatch renders the notification for a matched item.
func FormatMatch(title, link string, keywords []string) string {
	var b strings.Builder
	b.WriteString("<b>Keyword match detected!</b>\n\n")
	b.WriteString(fmt.Sprintf("Keywords: %s\n", html.EscapeString(strings.Join(keywords, ", "))))
	b.WriteString(fmt.Sprintf("Title: %s\n", html.EscapeString(title)))
	b.WriteString(fmt.Sprintf("Link: %s", link))
	return b.String()
}
