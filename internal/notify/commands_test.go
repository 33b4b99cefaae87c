package notify

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nodewatch/nodewatch/internal/state"
)

func newCommandStore(t *testing.T, keywords ...string) *state.Store {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "state.json"), zap.NewNop())
	require.NoError(t, store.Load())
	for _, kw := range keywords {
		_, err := store.AddKeyword(kw)
		require.NoError(t, err)
	}
	return store
}

func updatesResponse(t *testing.T, updates ...tgbotapi.Update) *tgbotapi.APIResponse {
	t.Helper()
	raw, err := json.Marshal(updates)
	require.NoError(t, err)
	return &tgbotapi.APIResponse{Ok: true, Result: raw}
}

func commandUpdate(id int, chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		Message: &tgbotapi.Message{
			Text: text,
			Chat: &tgbotapi.Chat{ID: chatID},
		},
	}
}

func TestCommandListener_AddKeyword(t *testing.T) {
	t.Parallel()
	store := newCommandStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	bot := &fakeBot{
		responses: []*tgbotapi.APIResponse{
			updatesResponse(t, commandUpdate(10, 42, "/add vps")),
		},
	}
	// The second long poll ends the test.
	bot.onRequest = func() {
		if len(bot.requests) > 1 {
			cancel()
		}
	}

	l := NewCommandListener(newTelegramWithAPI(bot, 42, zap.NewNop()), store, zap.NewNop())
	l.Run(ctx)

	require.Equal(t, []string{"vps"}, store.Keywords())
	require.Len(t, bot.sent, 1)
	msg := bot.sent[0].(tgbotapi.MessageConfig)
	require.Contains(t, msg.Text, `"vps" added`)
}

func TestCommandListener_IgnoresForeignChat(t *testing.T) {
	t.Parallel()
	store := newCommandStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	bot := &fakeBot{
		responses: []*tgbotapi.APIResponse{
			updatesResponse(t, commandUpdate(10, 999, "/add vps")),
		},
	}
	bot.onRequest = func() {
		if len(bot.requests) > 1 {
			cancel()
		}
	}

	l := NewCommandListener(newTelegramWithAPI(bot, 42, zap.NewNop()), store, zap.NewNop())
	l.Run(ctx)

	require.Empty(t, store.Keywords())
	require.Empty(t, bot.sent)
}

func TestCommandListener_DisabledWithoutCredentials(t *testing.T) {
	t.Parallel()
	store := newCommandStore(t)
	l := NewCommandListener(NewTelegram("", "", zap.NewNop()), store, zap.NewNop())
	// Returns immediately instead of polling.
	l.Run(context.Background())
}

func TestExecuteCommands(t *testing.T) {
	t.Parallel()
	store := newCommandStore(t, "独服")
	l := NewCommandListener(newTelegramWithAPI(&fakeBot{}, 42, zap.NewNop()), store, zap.NewNop())

	require.Contains(t, l.execute("/add vps"), `"vps" added`)
	require.Equal(t, "Keyword already exists or is empty", l.execute("/add vps"))
	require.Contains(t, l.execute("/del 独服"), `removed`)
	require.Equal(t, "Keyword not found", l.execute("/del nope"))
	require.Equal(t, "Current keywords:\nvps", l.execute("/list"))
	require.Equal(t, helpText, l.execute("/help"))
	require.Equal(t, "Unknown command, see /help", l.execute("hello"))

	_, err := store.RemoveKeyword("vps")
	require.NoError(t, err)
	require.Equal(t, "No keywords configured", l.execute("/list"))
}
