package telegram

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tinyland-inc/picorelay/pkg/bus"
	"github.com/tinyland-inc/picorelay/pkg/logger"
	"github.com/tinyland-inc/picorelay/pkg/store"
)

// TextSender sends a plain text message to a chat.
type TextSender interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// ActorSource provides the operators that receive notices.
type ActorSource interface {
	Actors() store.Actors
}

// NoticeWorker drains the notice bus and messages every operator privately.
type NoticeWorker struct {
	bus    *bus.NoticeBus
	sender TextSender
	actors ActorSource
}

func NewNoticeWorker(nb *bus.NoticeBus, sender TextSender, actors ActorSource) *NoticeWorker {
	return &NoticeWorker{bus: nb, sender: sender, actors: actors}
}

// Run returns when ctx is done or the bus is closed and drained.
func (w *NoticeWorker) Run(ctx context.Context) {
	for {
		n, ok := w.bus.Consume(ctx)
		if !ok {
			return
		}
		w.deliver(ctx, n)
	}
}

func (w *NoticeWorker) deliver(ctx context.Context, n bus.Notice) {
	text := FormatNotice(n)
	for _, id := range Recipients(w.actors.Actors()) {
		chat := strconv.FormatInt(id, 10)
		if err := w.sender.SendText(ctx, chat, text); err != nil {
			logger.WarnCF("telegram", "Failed to send operator notice", map[string]any{
				"recipient": id,
				"notice_id": n.ID,
				"error":     err.Error(),
			})
		}
	}
}

// Recipients is the owner followed by the admins, without duplicates.
func Recipients(a store.Actors) []int64 {
	out := make([]int64, 0, len(a.Admins)+1)
	if a.Owner != 0 {
		out = append(out, a.Owner)
	}
	for _, id := range a.Admins {
		if id != 0 && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func FormatNotice(n bus.Notice) string {
	prefix := "ℹ️"
	switch n.Severity {
	case bus.SeverityWarning:
		prefix = "⚠️"
	case bus.SeverityError:
		prefix = "❌"
	}
	return fmt.Sprintf("%s %s", prefix, strings.TrimSpace(n.Text))
}
