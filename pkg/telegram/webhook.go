package telegram

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/tinyland-inc/picorelay/pkg/logger"
)

// RegisterWebhook points the provider at url. secret, when set, is echoed
// back by the provider in the X-Telegram-Bot-Api-Secret-Token header.
func RegisterWebhook(ctx context.Context, bot *telego.Bot, url, secret string, dropPending bool) error {
	err := bot.SetWebhook(ctx, &telego.SetWebhookParams{
		URL:                url,
		SecretToken:        secret,
		DropPendingUpdates: dropPending,
		AllowedUpdates:     []string{"message", "channel_post"},
	})
	if err != nil {
		return fmt.Errorf("telegram: set webhook: %w", err)
	}
	logger.InfoCF("telegram", "Webhook registered", map[string]any{
		"url":          url,
		"secret":       secret != "",
		"drop_pending": dropPending,
	})
	return nil
}

// RemoveWebhook switches the provider back to getUpdates delivery.
func RemoveWebhook(ctx context.Context, bot *telego.Bot, dropPending bool) error {
	if err := bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{DropPendingUpdates: dropPending}); err != nil {
		return fmt.Errorf("telegram: delete webhook: %w", err)
	}
	logger.InfoCF("telegram", "Webhook removed", map[string]any{"drop_pending": dropPending})
	return nil
}
