package telegram

import (
	"context"

	"github.com/mymmrac/telego"
)

// Updates fetches update batches with getUpdates long polling.
type Updates struct {
	bot *telego.Bot
}

func NewUpdates(bot *telego.Bot) *Updates {
	return &Updates{bot: bot}
}

func (u *Updates) GetUpdates(ctx context.Context, offset, limit, timeout int) ([]telego.Update, error) {
	return u.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:         offset,
		Limit:          limit,
		Timeout:        timeout,
		AllowedUpdates: []string{"message", "channel_post"},
	})
}

// DeleteWebhook is required before polling: the provider refuses getUpdates
// while a webhook is set.
func (u *Updates) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return RemoveWebhook(ctx, u.bot, dropPending)
}
