package telegram

import (
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageRunes is Telegram's limit for one text message.
const maxMessageRunes = 4096

// streamEditor shows a reply that is still being written by editing one
// placeholder message, at most once per interval.
type streamEditor struct {
	s         sender
	chatID    int64
	messageID int
	interval  time.Duration
	now       func() time.Time

	last  time.Time
	shown string
}

func (b *Bot) newStreamEditor(chatID int64, placeholder tgbotapi.Message) *streamEditor {
	return &streamEditor{
		s:         b.s,
		chatID:    chatID,
		messageID: placeholder.MessageID,
		interval:  b.opts.EditInterval,
		now:       time.Now,
	}
}

// Update shows text unless the previous edit is too recent.
func (e *streamEditor) Update(text string) {
	if !e.last.IsZero() && e.now().Sub(e.last) < e.interval {
		return
	}
	e.edit(text)
}

// Finish shows the final text regardless of the interval.
func (e *streamEditor) Finish(text string) {
	e.edit(text)
}

func (e *streamEditor) edit(text string) {
	text = clip(text)
	// Telegram rejects edits that do not change the message.
	if text == "" || text == e.shown {
		return
	}
	cfg := tgbotapi.NewEditMessageText(e.chatID, e.messageID, text)
	if _, err := e.s.Send(cfg); err != nil {
		log.Printf("⚠️ failed to edit streaming message: %v", err)
		return
	}
	e.shown = text
	e.last = e.now()
}

func clip(text string) string {
	r := []rune(text)
	if len(r) <= maxMessageRunes {
		return text
	}
	return string(r[:maxMessageRunes-1]) + "…"
}
