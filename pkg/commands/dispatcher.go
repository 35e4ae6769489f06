// Package commands implements the operator command surface shared by chat
// commands, the local console and the CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tinyland-inc/picorelay/pkg/access"
	"github.com/tinyland-inc/picorelay/pkg/delivery"
	"github.com/tinyland-inc/picorelay/pkg/events"
	"github.com/tinyland-inc/picorelay/pkg/logger"
	"github.com/tinyland-inc/picorelay/pkg/store"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoSource       = errors.New("no source selected")
	ErrUsage          = errors.New("invalid usage")
)

// Request is one command invocation.
type Request struct {
	ActorID  int64
	ChatID   string
	ChatKind events.ChatKind
	Text     string
}

// Reply is the text to send back to the invoking chat. An empty Text means
// nothing should be sent. Err is the failure, if any, for callers that need
// more than the text.
type Reply struct {
	Text string
	Err  error
}

// Prober sends a test message to every destination of a rule.
type Prober interface {
	Probe(ctx context.Context, rule store.Rule, text string) []delivery.Attempt
}

type handler struct {
	run       func(ctx context.Context, req Request, args []string) Reply
	mutates   bool
	ownerOnly bool
	// hidden commands are accepted but left out of /help.
	hidden bool
	usage  string
	help   string
}

type Dispatcher struct {
	store    *store.Store
	access   *access.Checker
	prober   Prober
	handlers map[string]handler
	order    []string

	mu       sync.Mutex
	sessions map[int64]string
}

func NewDispatcher(s *store.Store, checker *access.Checker, prober Prober) *Dispatcher {
	d := &Dispatcher{
		store:    s,
		access:   checker,
		prober:   prober,
		handlers: make(map[string]handler),
		sessions: make(map[int64]string),
	}
	d.register()
	return d
}

func (d *Dispatcher) add(name string, h handler) {
	d.handlers[name] = h
	d.order = append(d.order, name)
}

// Execute runs a command. Every mutating command checks authorization
// before it reads arguments or touches state.
func (d *Dispatcher) Execute(ctx context.Context, req Request) Reply {
	name, args := events.ParseCommand(req.Text)
	h, ok := d.handlers[name]
	if !ok {
		if req.ChatKind.IsGroup() {
			return Reply{Err: ErrUnknownCommand}
		}
		return Reply{Text: "Unknown command. Send /help for the list.", Err: ErrUnknownCommand}
	}

	if h.ownerOnly || h.mutates {
		check := d.access.Require
		if h.ownerOnly {
			check = d.access.RequireOwner
		}
		if err := check(req.ActorID); err != nil {
			logger.InfoCF("commands", "Unauthorized command", map[string]any{
				"command":  name,
				"actor_id": req.ActorID,
				"chat_id":  req.ChatID,
			})
			return Reply{Text: "⛔ You are not allowed to use /" + name + ".", Err: err}
		}
	}

	reply := h.run(ctx, req, args)
	var perr *store.PersistenceError
	if errors.As(reply.Err, &perr) {
		reply.Text += "\n⚠️ The change is active but could not be saved: " + perr.Err.Error() + "\nSend /save to retry."
	}
	logger.DebugCF("commands", "Command executed", map[string]any{
		"command":  name,
		"actor_id": req.ActorID,
		"ok":       reply.Err == nil,
	})
	return reply
}

// Source returns the source the actor selected with /set_source.
func (d *Dispatcher) Source(actor int64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	src, ok := d.sessions[actor]
	return src, ok
}

func (d *Dispatcher) setSession(actor int64, source string) {
	d.mu.Lock()
	d.sessions[actor] = source
	d.mu.Unlock()
}

// resolveSource picks the explicit argument, then the actor's selected
// source, then the invoking chat when it is a group.
func (d *Dispatcher) resolveSource(req Request, explicit string) (string, error) {
	if explicit != "" {
		return store.CanonicalSourceID(explicit)
	}
	if src, ok := d.Source(req.ActorID); ok {
		return src, nil
	}
	if req.ChatKind.IsGroup() {
		return req.ChatID, nil
	}
	return "", ErrNoSource
}

func arg(args []string, i int) string {
	if i < len(args) {
		return strings.TrimSpace(args[i])
	}
	return ""
}

func failure(err error, format string, a ...any) Reply {
	return Reply{Text: "❌ " + fmt.Sprintf(format, a...), Err: err}
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not a user id", ErrUsage, s)
	}
	return id, nil
}
