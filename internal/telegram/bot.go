package telegram

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"sautai-client/internal/api"
	"sautai-client/internal/assistant"
	"sautai-client/internal/chat"
	"sautai-client/internal/notify"
	"sautai-client/internal/session"
	"sautai-client/internal/storage"
)

const (
	newChatCmd = "new_chat"
	summaryCmd = "summary"
	resumePfx  = "resume:"
)

type Options struct {
	BaseURL string
	// Storage holds every user's token pair under TokenKey:<telegram id>.
	Storage          session.Storage
	TokenKey         string
	CookieMode       bool
	RefreshThreshold time.Duration
	RefreshTimeout   time.Duration
	HTTPTimeout      time.Duration
	Recorder         storage.Recorder
	AdminUserID      int64
	IsAllowed        func(userID int64) bool
	// EditInterval throttles message edits while a reply streams.
	EditInterval time.Duration
}

// userSession is everything one Telegram user talks to the backend with.
type userSession struct {
	userID    int64
	manager   *session.Manager
	api       *api.Client
	assistant *assistant.Client
	chat      *chat.Controller
	toasts    <-chan notify.Toast
}

type Bot struct {
	api  *tgbotapi.BotAPI
	s    sender
	opts Options

	mu    sync.Mutex
	users map[int64]*userSession
}

func New(botToken string, opts Options) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	b := newBot(botAPISender{api: botAPI}, opts)
	b.api = botAPI
	return b, nil
}

func newBot(s sender, opts Options) *Bot {
	if opts.Storage == nil {
		opts.Storage = session.NewMemoryStorage()
	}
	if opts.TokenKey == "" {
		opts.TokenKey = session.DefaultKey
	}
	if opts.IsAllowed == nil {
		opts.IsAllowed = func(int64) bool { return true }
	}
	return &Bot{s: s, opts: opts, users: make(map[int64]*userSession)}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			// Handled concurrently so that /stop reaches a streaming turn.
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleIncomingMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

// Preload restores the stored sessions of the given users so that scheduled
// jobs reach them before they write to the bot again.
func (b *Bot) Preload(userIDs []int64) {
	for _, id := range userIDs {
		if _, err := b.sessionFor(id); err != nil {
			log.Printf("⚠️ failed to restore session of %d: %v", id, err)
		}
	}
}

func (b *Bot) sessionFor(userID int64) (*userSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if us, ok := b.users[userID]; ok {
		return us, nil
	}

	m, err := session.NewManager(session.Options{
		BaseURL:        b.opts.BaseURL,
		Storage:        b.opts.Storage,
		Key:            fmt.Sprintf("%s:%d", b.opts.TokenKey, userID),
		CookieMode:     b.opts.CookieMode,
		Threshold:      b.opts.RefreshThreshold,
		RefreshTimeout: b.opts.RefreshTimeout,
		OnExpired: func(err error) {
			log.Printf("🔒 session of user %d cleared: %v", userID, err)
		},
	})
	if err != nil {
		return nil, err
	}
	bus := notify.NewBus()
	toasts, _ := bus.Subscribe(16)
	ac := assistant.NewClient(b.opts.BaseURL, m.NewClient(0), nil)
	us := &userSession{
		userID:    userID,
		manager:   m,
		api:       api.NewClient(api.Options{BaseURL: b.opts.BaseURL, Session: m, Notify: bus, Timeout: b.opts.HTTPTimeout}),
		assistant: ac,
		chat: chat.New(chat.Options{
			Streamer: ac,
			Recorder: b.opts.Recorder,
			UserID:   userID,
			Guest:    !m.HasSession(),
		}),
		toasts: toasts,
	}
	b.users[userID] = us
	return us, nil
}

// loggedIn returns the sessions that currently hold tokens, by user id.
func (b *Bot) loggedIn() []*userSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*userSession, 0, len(b.users))
	for _, us := range b.users {
		if us.manager.HasSession() {
			out = append(out, us)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].userID < out[j].userID })
	return out
}

// relayToasts forwards the notifications raised by the last API calls.
func (b *Bot) relayToasts(chatID int64, us *userSession) {
	for {
		select {
		case t := <-us.toasts:
			prefix := "ℹ️ "
			switch t.Tone {
			case notify.ToneError:
				prefix = "⚠️ "
			case notify.ToneSuccess:
				prefix = "✅ "
			}
			b.sendMessage(chatID, prefix+t.Text)
		default:
			return
		}
	}
}

func (b *Bot) sendMessage(chatID int64, text string) tgbotapi.Message {
	msg := tgbotapi.NewMessage(chatID, clip(text))
	sent, err := b.s.Send(msg)
	if err != nil {
		log.Printf("failed to send message: %v", err)
	}
	return sent
}

func (b *Bot) sendWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, clip(text))
	msg.ReplyMarkup = kb
	if _, err := b.s.Send(msg); err != nil {
		log.Printf("failed to send message: %v", err)
	}
}

func (b *Bot) menuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🆕 New chat", newChatCmd),
			tgbotapi.NewInlineKeyboardButtonData("📰 Daily summary", summaryCmd),
		),
	)
}
