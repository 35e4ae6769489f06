package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal"
	"github.com/tinyland-inc/picorelay/pkg/config"
	"github.com/tinyland-inc/picorelay/pkg/telegram"
)

func newBot() (*config.Config, *telego.Bot, error) {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return nil, nil, config.ErrMissingToken
	}
	bot, err := telegram.NewBot(cfg.Telegram)
	if err != nil {
		return nil, nil, err
	}
	return cfg, bot, nil
}

func setCmd(ctx context.Context, dropPending bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, bot, err := newBot()
	if err != nil {
		return err
	}
	if cfg.Ingest.PublicURL == "" {
		return errors.New("ingest.public_url is not set")
	}
	if err := telegram.RegisterWebhook(ctx, bot, cfg.WebhookURL(), cfg.Ingest.SecretToken, dropPending); err != nil {
		return err
	}
	fmt.Printf("✓ Webhook set to %s\n", cfg.WebhookURL())
	return nil
}

func deleteCmd(ctx context.Context, dropPending bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, bot, err := newBot()
	if err != nil {
		return err
	}
	if err := telegram.RemoveWebhook(ctx, bot, dropPending); err != nil {
		return err
	}
	fmt.Println("✓ Webhook removed")
	return nil
}
