// Package relay runs one update through normalization, routing and delivery.
package relay

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/mymmrac/telego"

	"github.com/tinyland-inc/picorelay/pkg/commands"
	"github.com/tinyland-inc/picorelay/pkg/delivery"
	"github.com/tinyland-inc/picorelay/pkg/events"
	"github.com/tinyland-inc/picorelay/pkg/logger"
	"github.com/tinyland-inc/picorelay/pkg/router"
	"github.com/tinyland-inc/picorelay/pkg/store"
)

// Stage is where processing of an update ended.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageCommand   Stage = "command"
	StageRoute     Stage = "route"
	StageDeliver   Stage = "deliver"
	StagePanic     Stage = "panic"
)

type Result struct {
	Stage      Stage
	Normalized events.Result
	Decision   router.Decision
	Attempts   []delivery.Attempt
	Reply      *commands.Reply
	Err        error
}

// Replier sends command replies back to the invoking chat.
type Replier interface {
	SendText(ctx context.Context, chatID string, text string) error
}

type Deliverer interface {
	Deliver(ctx context.Context, ev events.Event, rule store.Rule) []delivery.Attempt
}

type Pipeline struct {
	normalizer *events.Normalizer
	router     *router.Router
	engine     Deliverer
	commands   *commands.Dispatcher
	replier    Replier
}

// New builds a pipeline. cmds and replier may be nil, in which case command
// messages are dropped without a reply.
func New(n *events.Normalizer, r *router.Router, engine Deliverer, cmds *commands.Dispatcher, replier Replier) *Pipeline {
	return &Pipeline{
		normalizer: n,
		router:     r,
		engine:     engine,
		commands:   cmds,
		replier:    replier,
	}
}

// Handle never panics and never returns an error that should stop
// ingestion; failures are reported in the Result.
func (p *Pipeline) Handle(ctx context.Context, update telego.Update) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("relay", "Recovered from panic while handling update", map[string]any{
				"update_id": update.UpdateID,
				"panic":     fmt.Sprint(r),
				"stack":     string(debug.Stack()),
			})
			res.Stage = StagePanic
			res.Err = fmt.Errorf("panic handling update %d: %v", update.UpdateID, r)
		}
	}()

	res.Stage = StageNormalize
	res.Normalized = p.normalizer.Normalize(update)
	if res.Normalized.Status != events.StatusEvent {
		return res
	}
	ev := res.Normalized.Event

	if ev.IsCommand {
		res.Stage = StageCommand
		res.Reply = p.dispatch(ctx, ev)
		return res
	}

	res.Stage = StageRoute
	res.Decision = p.router.Route(ev)
	if !res.Decision.Forward {
		return res
	}

	res.Stage = StageDeliver
	res.Attempts = p.engine.Deliver(ctx, ev, res.Decision.Rule)
	return res
}

func (p *Pipeline) dispatch(ctx context.Context, ev events.Event) *commands.Reply {
	if p.commands == nil || ev.SenderID == 0 {
		return nil
	}
	reply := p.commands.Execute(ctx, commands.Request{
		ActorID:  ev.SenderID,
		ChatID:   ev.ChatID,
		ChatKind: ev.ChatKind,
		Text:     ev.Text,
	})
	if reply.Text != "" && p.replier != nil {
		if err := p.replier.SendText(ctx, ev.ChatID, reply.Text); err != nil {
			logger.WarnCF("relay", "Failed to send command reply", map[string]any{
				"chat_id": ev.ChatID,
				"error":   err.Error(),
			})
		}
	}
	return &reply
}
