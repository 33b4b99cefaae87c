package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/nodewatch/nodewatch/internal/state"
)

const (
	longPollSeconds = 30
	pollRetryDelay  = 5 * time.Second
)

const helpText = "/add <keyword>\n/del <keyword>\n/list\n/help"

// CommandListener long-polls getUpdates and applies keyword commands to
// the shared state store. It runs alongside the scheduler and blocks on
// network I/O independently of the poll cadence.
type CommandListener struct {
	sender *Telegram
	store  *state.Store
	logger *zap.Logger
}

// NewCommandListener wires the listener to the notifier's bot session and
// the durable state store.
func NewCommandListener(sender *Telegram, store *state.Store, logger *zap.Logger) *CommandListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandListener{sender: sender, store: store, logger: logger}
}

// Run polls until the context is canceled. Without working credentials it
// returns immediately.
func (l *CommandListener) Run(ctx context.Context) {
	if !l.sender.Ready() {
		l.logger.Warn("command listener disabled: telegram not configured")
		return
	}

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := l.getUpdates(offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("getUpdates failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			l.handleUpdate(ctx, update)
		}
	}
}

func (l *CommandListener) getUpdates(offset int) ([]tgbotapi.Update, error) {
	params := tgbotapi.Params{
		"offset":  strconv.Itoa(offset),
		"timeout": strconv.Itoa(longPollSeconds),
	}
	resp, err := l.sender.api.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}
	if !resp.Ok {
		return nil, fmt.Errorf("telegram response not ok: %s", resp.Description)
	}
	var updates []tgbotapi.Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (l *CommandListener) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil {
		return
	}
	// only the configured chat may manage keywords
	if update.Message.Chat.ID != l.sender.chatID {
		return
	}

	reply := l.execute(update.Message.Text)
	if reply == "" {
		return
	}
	if !l.sender.Notify(ctx, reply) {
		l.logger.Warn("command reply delivery failed")
	}
}

// execute parses one command message and returns the reply text.
func (l *CommandListener) execute(text string) string {
	switch {
	case strings.HasPrefix(text, "/add "):
		return l.addKeyword(strings.TrimSpace(text[len("/add "):]))
	case strings.HasPrefix(text, "/del "):
		return l.removeKeyword(strings.TrimSpace(text[len("/del "):]))
	case strings.HasPrefix(text, "/list"):
		return l.listKeywords()
	case strings.HasPrefix(text, "/help"):
		return helpText
	default:
		return "Unknown command, see /help"
	}
}

func (l *CommandListener) addKeyword(kw string) string {
	added, err := l.store.AddKeyword(kw)
	if err != nil {
		l.logger.Error("add keyword failed", zap.String("keyword", kw), zap.Error(err))
		return "Failed to save keyword"
	}
	if !added {
		return "Keyword already exists or is empty"
	}
	return fmt.Sprintf("Keyword %q added", kw)
}

func (l *CommandListener) removeKeyword(kw string) string {
	removed, err := l.store.RemoveKeyword(kw)
	if err != nil {
		l.logger.Error("remove keyword failed", zap.String("keyword", kw), zap.Error(err))
		return "Failed to save keyword"
	}
	if !removed {
		return "Keyword not found"
	}
	return fmt.Sprintf("Keyword %q removed", kw)
}

func (l *CommandListener) listKeywords() string {
	keywords := l.store.Keywords()
	if len(keywords) == 0 {
		return "No keywords configured"
	}
	return "Current keywords:\n" + strings.Join(keywords, "\n")
}
