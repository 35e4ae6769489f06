// Package telegram adapts the Bot API client to the relay: message delivery,
// operator notices, webhook registration and update polling.
package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/picorelay/pkg/config"
	"github.com/tinyland-inc/picorelay/pkg/logger"
)

// NewBot builds a Bot API client. Client logs go through the process logger
// with the token redacted.
func NewBot(cfg config.TelegramConfig) (*telego.Bot, error) {
	opts := []telego.BotOption{
		telego.WithLogger(logger.NewBotLogger("telegram", cfg.Token)),
	}
	if cfg.APIURL != "" {
		opts = append(opts, telego.WithAPIServer(strings.TrimRight(cfg.APIURL, "/")))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: creating bot: %w", err)
	}
	return bot, nil
}

// ChatID converts a stored chat id, numeric or @handle, to the Bot API form.
func ChatID(id string) telego.ChatID {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return tu.ID(n)
	}
	return tu.Username(id)
}
