package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"sautai-client/internal/analytics"
	"sautai-client/internal/assistant"
	"sautai-client/internal/chat"
	"sautai-client/internal/history"
	"sautai-client/internal/storage"
)

const helpText = `sautAI assistant

Just write a message to talk to the assistant. Without logging in you chat as a guest.

/login <username> <password> - sign in
/logout - sign out
/whoami - show the current account
/new - start a new conversation
/stop - stop the reply that is being written
/summary [YYYY-MM-DD] - daily summary
/pantry [page] - pantry items
/plans [YYYY-MM-DD] - meal plans, optionally for one week
/history - recent conversations`

const placeholderText = "…"

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if !b.opts.IsAllowed(msg.From.ID) {
		log.Printf("Unauthorized access attempt by user ID: %d, username: @%s", msg.From.ID, msg.From.UserName)
		b.sendMessage(msg.Chat.ID, "Access to this bot is restricted. The administrator has been notified.")
		b.notifyAdminRequest(msg.From.ID, msg.From.UserName)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	b.handleChat(ctx, msg)
}

func (b *Bot) notifyAdminRequest(userID int64, username string) {
	if b.opts.AdminUserID == 0 {
		return
	}
	b.sendMessage(b.opts.AdminUserID, fmt.Sprintf("User @%s with id %d wants to use the bot. Add the id to ALLOWED_USERS to grant access.", username, userID))
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	us, err := b.sessionFor(msg.From.ID)
	if err != nil {
		log.Printf("failed to open session for %d: %v", msg.From.ID, err)
		b.sendMessage(msg.Chat.ID, chat.Apology)
		return
	}
	defer b.relayToasts(msg.Chat.ID, us)

	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		b.sendWithKeyboard(msg.Chat.ID, helpText, b.menuKeyboard())
	case "login":
		b.handleLogin(ctx, msg, us, args)
	case "logout":
		us.chat.Reset()
		if !us.manager.HasSession() {
			b.sendMessage(msg.Chat.ID, "You are not logged in.")
			return
		}
		if err := us.api.Logout(ctx); err != nil {
			log.Printf("logout of %d: %v", msg.From.ID, err)
		}
		b.sendMessage(msg.Chat.ID, "👋 Logged out.")
	case "whoami":
		if !us.manager.HasSession() {
			b.sendMessage(msg.Chat.ID, "You are chatting as a guest. Use /login <username> <password> to sign in.")
			return
		}
		u, err := us.api.UserDetails(ctx)
		if err != nil {
			return
		}
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("👤 %s (%s)", u.Username, u.Role()))
	case "new":
		us.chat.Reset()
		b.sendMessage(msg.Chat.ID, "🆕 New conversation started.")
	case "stop":
		if us.chat.Stop() {
			return
		}
		b.sendMessage(msg.Chat.ID, "Nothing to stop.")
	case "summary":
		date := ""
		if len(args) > 0 {
			date = args[0]
		}
		b.handleSummary(ctx, msg.Chat.ID, us, date)
	case "pantry":
		b.handlePantry(ctx, msg.Chat.ID, us, args)
	case "plans":
		b.handlePlans(ctx, msg.Chat.ID, us, args)
	case "history":
		b.handleHistory(ctx, msg.Chat.ID, us)
	case "stats":
		b.handleStats(msg, args)
	default:
		b.sendMessage(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleLogin(ctx context.Context, msg *tgbotapi.Message, us *userSession, args []string) {
	// The message carries a password; do not leave it in the chat.
	if _, err := b.s.Request(tgbotapi.NewDeleteMessage(msg.Chat.ID, msg.MessageID)); err != nil {
		log.Printf("⚠️ failed to delete login message: %v", err)
	}
	if len(args) != 2 {
		b.sendMessage(msg.Chat.ID, "Usage: /login <username> <password>")
		return
	}
	u, err := us.api.Login(ctx, args[0], args[1])
	if err != nil {
		log.Printf("login of %d failed: %v", msg.From.ID, err)
		return
	}
	us.chat.Reset()
	log.Printf("✅ Telegram user %d logged in as %s", msg.From.ID, u.Username)
	b.sendWithKeyboard(msg.Chat.ID, fmt.Sprintf("✅ Logged in as %s.", u.Username), b.menuKeyboard())
}

func (b *Bot) requireLogin(chatID int64, us *userSession) bool {
	if us.manager.HasSession() {
		return true
	}
	b.sendMessage(chatID, "Please /login first.")
	return false
}

// handleChat sends one message to the assistant and streams the reply into
// a single edited message.
func (b *Bot) handleChat(ctx context.Context, msg *tgbotapi.Message) {
	us, err := b.sessionFor(msg.From.ID)
	if err != nil {
		log.Printf("failed to open session for %d: %v", msg.From.ID, err)
		b.sendMessage(msg.Chat.ID, chat.Apology)
		return
	}
	if us.chat.Streaming() {
		b.sendMessage(msg.Chat.ID, "⏳ Still answering. Send /stop to cancel the current reply.")
		return
	}
	us.chat.SetGuest(!us.manager.HasSession())

	log.Printf("Incoming message from %d (@%s): %q", msg.From.ID, msg.From.UserName, msg.Text)
	placeholder := b.sendMessage(msg.Chat.ID, placeholderText)
	ed := b.newStreamEditor(msg.Chat.ID, placeholder)

	reply, err := us.chat.Send(ctx, msg.Text, func(u chat.Update) {
		ed.Update(u.Content)
	})
	switch {
	case errors.Is(err, chat.ErrBusy):
		ed.Finish("⏳ Still answering. Send /stop to cancel the current reply.")
	case errors.Is(err, assistant.ErrUnauthorized):
		ed.Finish(reply.Content + "\n\n🔒 Your session has expired. Please /login again.")
	case err != nil:
		ed.Finish(reply.Content)
	case reply.Content == "":
		ed.Finish("(no reply)")
	default:
		ed.Finish(reply.Content)
	}
}

func (b *Bot) handleSummary(ctx context.Context, chatID int64, us *userSession, date string) {
	if !b.requireLogin(chatID, us) {
		return
	}
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			b.sendMessage(chatID, "Usage: /summary [YYYY-MM-DD]")
			return
		}
	}
	placeholder := b.sendMessage(chatID, placeholderText)
	ed := b.newStreamEditor(chatID, placeholder)
	text, err := b.collectSummary(ctx, us, date, ed.Update)
	if err != nil {
		log.Printf("summary for %d: %v", us.userID, err)
		ed.Finish(chat.Apology)
		return
	}
	if text == "" {
		text = "No summary is available for this day."
	}
	ed.Finish(text)
}

// collectSummary reads the summary stream to the end. onText, if set, sees
// the text accumulated so far.
func (b *Bot) collectSummary(ctx context.Context, us *userSession, date string, onText func(string)) (string, error) {
	st := us.assistant.Summary(ctx, date)
	defer st.Close()
	var text string
	for st.Next() {
		ev := st.Event()
		if !ev.IsText() {
			continue
		}
		text = history.MergeDelta(text, ev.Text)
		if onText != nil {
			onText(text)
		}
	}
	return text, st.Err()
}

func (b *Bot) handlePantry(ctx context.Context, chatID int64, us *userSession, args []string) {
	if !b.requireLogin(chatID, us) {
		return
	}
	page := 1
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			page = n
		}
	}
	p, err := us.api.PantryItems(ctx, page)
	if err != nil {
		return
	}
	if len(p.Items) == 0 {
		b.sendMessage(chatID, "Your pantry is empty.")
		return
	}
	var bld strings.Builder
	bld.WriteString(fmt.Sprintf("🥫 Pantry (page %d of %d)\n", p.Page, p.TotalPages))
	for _, it := range p.Items {
		bld.WriteString(fmt.Sprintf("• %s ×%d", it.ItemName, it.Quantity))
		if it.ExpirationDate != "" {
			bld.WriteString(" (expires " + it.ExpirationDate + ")")
		}
		bld.WriteString("\n")
	}
	if p.HasNext() {
		bld.WriteString(fmt.Sprintf("\nMore: /pantry %d", p.Page+1))
	}
	b.sendMessage(chatID, bld.String())
}

func (b *Bot) handlePlans(ctx context.Context, chatID int64, us *userSession, args []string) {
	if !b.requireLogin(chatID, us) {
		return
	}
	week := ""
	if len(args) > 0 {
		week = args[0]
	}
	p, err := us.api.MealPlans(ctx, week, 1)
	if err != nil {
		return
	}
	if len(p.Items) == 0 {
		b.sendMessage(chatID, "No meal plans yet.")
		return
	}
	var bld strings.Builder
	bld.WriteString("🍽 Meal plans\n")
	for _, plan := range p.Items {
		status := "draft"
		if plan.IsApproved {
			status = "approved"
		}
		bld.WriteString(fmt.Sprintf("\n%s – %s (%s)\n", plan.WeekStartDate, plan.WeekEndDate, status))
		for _, m := range plan.Meals {
			bld.WriteString(fmt.Sprintf("  %s %s: %s\n", m.Day, m.MealType, m.Meal.Name))
		}
	}
	b.sendMessage(chatID, bld.String())
}

const maxHistoryButtons = 10

func (b *Bot) handleHistory(ctx context.Context, chatID int64, us *userSession) {
	if !b.requireLogin(chatID, us) {
		return
	}
	p, err := us.api.ThreadHistory(ctx, 1)
	if err != nil {
		return
	}
	if len(p.Items) == 0 {
		b.sendMessage(chatID, "No conversations yet.")
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, th := range p.Items {
		if i == maxHistoryButtons {
			break
		}
		title := th.Title
		if title == "" {
			title = th.Key()
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(clipTitle(title), resumePfx+th.Key()),
		))
	}
	b.sendWithKeyboard(chatID, "💬 Recent conversations. Pick one to continue it:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func clipTitle(s string) string {
	r := []rune(s)
	if len(r) <= 40 {
		return s
	}
	return string(r[:39]) + "…"
}

// handleStats reports today's usage, optionally for one user: /stats [user_id].
func (b *Bot) handleStats(msg *tgbotapi.Message, args []string) {
	if msg.From.ID != b.opts.AdminUserID {
		b.sendMessage(msg.Chat.ID, "This command is only available to the administrator.")
		return
	}
	if b.opts.Recorder == nil {
		b.sendMessage(msg.Chat.ID, "Interaction log is disabled.")
		return
	}
	events, err := b.opts.Recorder.LoadInteractions()
	if err != nil {
		log.Printf("load interactions: %v", err)
		b.sendMessage(msg.Chat.ID, chat.Apology)
		return
	}
	now := time.Now()
	q := storage.Query{Since: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())}
	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			b.sendMessage(msg.Chat.ID, "Usage: /stats [user_id]")
			return
		}
		q.UserID = id
	}
	stats := analytics.AnalyzeDailyLogs(storage.Filter(events, q), now)
	b.sendMessage(msg.Chat.ID, stats.GenerateReportSummary())
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.s.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("failed to answer callback: %v", err)
	}
	if cb.From == nil || cb.Message == nil || !b.opts.IsAllowed(cb.From.ID) {
		return
	}
	us, err := b.sessionFor(cb.From.ID)
	if err != nil {
		log.Printf("failed to open session for %d: %v", cb.From.ID, err)
		return
	}
	chatID := cb.Message.Chat.ID
	defer b.relayToasts(chatID, us)

	switch {
	case cb.Data == newChatCmd:
		us.chat.Reset()
		b.sendMessage(chatID, "🆕 New conversation started.")
	case cb.Data == summaryCmd:
		b.handleSummary(ctx, chatID, us, "")
	case strings.HasPrefix(cb.Data, resumePfx):
		b.resumeThread(ctx, chatID, us, strings.TrimPrefix(cb.Data, resumePfx))
	}
}

func (b *Bot) resumeThread(ctx context.Context, chatID int64, us *userSession, threadID string) {
	if !b.requireLogin(chatID, us) {
		return
	}
	msgs, err := us.api.ThreadMessages(ctx, threadID)
	if err != nil {
		return
	}
	if err := us.chat.Resume(threadID, msgs); err != nil {
		b.sendMessage(chatID, "⏳ Still answering. Send /stop first.")
		return
	}
	text := fmt.Sprintf("💬 Continuing the conversation (%d messages).", len(msgs))
	if last, ok := us.chat.Transcript().Last(); ok {
		text += "\n\nLast message:\n" + last.Content
	}
	b.sendMessage(chatID, text)
}
