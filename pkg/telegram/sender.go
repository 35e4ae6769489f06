package telegram

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/picorelay/pkg/config"
	"github.com/tinyland-inc/picorelay/pkg/delivery"
	"github.com/tinyland-inc/picorelay/pkg/events"
)

// maxCaptionLen is the Bot API limit for media captions.
const maxCaptionLen = 1024

// CaptionData is what a caption template can reference.
type CaptionData struct {
	SourceID    string
	SourceTitle string
	Sender      string
	Caption     string
	Kind        string
}

// Sender relays events either by forwarding (the destination shows the
// original author) or by copying, which can annotate media captions.
type Sender struct {
	bot     *telego.Bot
	copy    bool
	caption *template.Template
}

func NewSender(bot *telego.Bot, cfg config.RelayConfig) (*Sender, error) {
	s := &Sender{bot: bot, copy: cfg.Mode == config.RelayModeCopy}
	if cfg.CaptionTemplate != "" {
		tmpl, err := template.New("caption").Option("missingkey=zero").Parse(cfg.CaptionTemplate)
		if err != nil {
			return nil, fmt.Errorf("telegram: parsing caption template: %w", err)
		}
		s.caption = tmpl
	}
	return s, nil
}

var _ delivery.Sender = (*Sender)(nil)

func (s *Sender) Deliver(ctx context.Context, destinationID string, ev events.Event) error {
	from, err := numericChat(ev.ChatID)
	if err != nil {
		return delivery.WrapPermanent(err)
	}

	if !s.copy {
		_, err = s.bot.ForwardMessage(ctx, &telego.ForwardMessageParams{
			ChatID:     ChatID(destinationID),
			FromChatID: from,
			MessageID:  ev.MessageID,
		})
		return err
	}

	params := tu.CopyMessage(ChatID(destinationID), from, ev.MessageID)
	if s.caption != nil && ev.AcceptsCaption() {
		caption, err := s.renderCaption(ev)
		if err != nil {
			return delivery.WrapPermanent(err)
		}
		params.Caption = caption
	}
	_, err = s.bot.CopyMessage(ctx, params)
	return err
}

func (s *Sender) SendText(ctx context.Context, chatID string, text string) error {
	_, err := s.bot.SendMessage(ctx, tu.Message(ChatID(chatID), text))
	return err
}

func (s *Sender) renderCaption(ev events.Event) (string, error) {
	var buf bytes.Buffer
	err := s.caption.Execute(&buf, CaptionData{
		SourceID:    ev.ChatID,
		SourceTitle: ev.ChatTitle,
		Sender:      ev.SenderName,
		Caption:     ev.Caption,
		Kind:        string(ev.ContentKind),
	})
	if err != nil {
		return "", fmt.Errorf("rendering caption: %w", err)
	}
	out := strings.TrimSpace(buf.String())
	if r := []rune(out); len(r) > maxCaptionLen {
		out = string(r[:maxCaptionLen])
	}
	return out, nil
}

func numericChat(id string) (telego.ChatID, error) {
	cid := ChatID(id)
	if cid.ID == 0 {
		return cid, fmt.Errorf("source chat %q is not numeric", id)
	}
	return cid, nil
}
