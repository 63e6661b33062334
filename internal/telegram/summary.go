package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// PushSummaries sends today's summary to every logged-in user the bot
// knows. Users are served one after another; a failure for one user does
// not stop the others.
func (b *Bot) PushSummaries(ctx context.Context) error {
	users := b.loggedIn()
	log.Printf("📰 pushing daily summaries to %d users", len(users))

	var errs []error
	for _, us := range users {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		text, err := b.collectSummary(ctx, us, "", nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", us.userID, err))
			continue
		}
		if text == "" {
			continue
		}
		// Private chats share the user's id.
		b.sendMessage(us.userID, "📰 Your daily summary\n\n"+text)
	}
	return errors.Join(errs...)
}
