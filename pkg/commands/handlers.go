package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinyland-inc/picorelay/pkg/delivery"
	"github.com/tinyland-inc/picorelay/pkg/store"
)

func (d *Dispatcher) register() {
	d.add("start", handler{run: d.help, help: "show this help"})
	d.add("help", handler{run: d.help, help: "show this help"})
	d.add("set_source", handler{run: d.setSource, mutates: true, usage: "[chat]",
		help: "select the source group (this chat if omitted)"})
	d.add("set_destination", handler{run: d.setDestination, mutates: true, usage: "<chat>",
		help: "relay the selected source to this destination only"})
	d.add("add_destination", handler{run: d.addDestination, mutates: true, usage: "<chat>",
		help: "add a destination to the selected source"})
	d.add("remove_destination", handler{run: d.removeDestination, mutates: true, usage: "<chat> [source]",
		help: "remove one destination"})
	d.add("remove_rule", handler{run: d.removeRule, mutates: true, usage: "[source]",
		help: "delete the rule of a source"})
	d.add("activate", handler{run: d.setActive(true), mutates: true, usage: "[source]",
		help: "resume a paused rule"})
	d.add("deactivate", handler{run: d.setActive(false), mutates: true, usage: "[source]",
		help: "pause a rule without deleting it"})
	d.add("enable", handler{run: d.setEnabled(true), mutates: true, help: "turn relaying on"})
	d.add("disable", handler{run: d.setEnabled(false), mutates: true, help: "turn relaying off for every rule"})
	d.add("list", handler{run: d.list, help: "show all rules"})
	d.add("stats", handler{run: d.stats, help: "show delivery counters"})
	d.add("show", handler{run: d.list, hidden: true})
	d.add("status", handler{run: d.stats, hidden: true})
	d.add("test", handler{run: d.test, mutates: true, usage: "[source]",
		help: "send a test message to every destination"})
	d.add("add_admin", handler{run: d.addAdmin, ownerOnly: true, usage: "<user id>", help: "grant admin rights"})
	d.add("remove_admin", handler{run: d.removeAdmin, ownerOnly: true, usage: "<user id>", help: "revoke admin rights"})
	d.add("save", handler{run: d.save, mutates: true, help: "write the configuration to storage"})
}

func (d *Dispatcher) help(_ context.Context, req Request, _ []string) Reply {
	var b strings.Builder
	b.WriteString("PicoRelay relays group messages to channels.\n\n")
	for _, name := range d.order {
		h := d.handlers[name]
		if name == "start" || h.hidden {
			continue
		}
		if h.ownerOnly && !d.access.IsOwner(req.ActorID) {
			continue
		}
		b.WriteString("/" + name)
		if h.usage != "" {
			b.WriteString(" " + h.usage)
		}
		b.WriteString(" - " + h.help + "\n")
	}
	if !d.access.CanMutateRules(req.ActorID) {
		b.WriteString("\nOnly the owner and admins can change rules.")
	}
	return Reply{Text: strings.TrimRight(b.String(), "\n")}
}

func (d *Dispatcher) setSource(_ context.Context, req Request, args []string) Reply {
	src := arg(args, 0)
	if src == "" {
		if !req.ChatKind.IsGroup() {
			return failure(ErrUsage, "Send /set_source inside the group, or pass its id: /set_source -100…")
		}
		src = req.ChatID
	}
	src, err := store.CanonicalSourceID(src)
	if err != nil {
		return failure(err, "%v", err)
	}

	d.setSession(req.ActorID, src)
	text := fmt.Sprintf("✅ Source selected: %s\nNow send /set_destination <channel id or @handle>.", src)
	if r, ok := d.store.GetRule(src); ok {
		text += fmt.Sprintf("\nCurrent destinations: %s", strings.Join(r.DestinationIDs, ", "))
	}
	return Reply{Text: text}
}

func (d *Dispatcher) setDestination(ctx context.Context, req Request, args []string) Reply {
	src, err := d.resolveSource(req, "")
	if err != nil {
		return failure(err, "Select a source first with /set_source.")
	}
	dest, err := destinationArg(args)
	if err != nil {
		return failure(err, "%v", err)
	}

	rule, err := d.store.UpsertRule(ctx, src, []string{dest}, true, req.ActorID)
	if rule.SourceID == "" {
		return failure(err, "%v", err)
	}
	return Reply{Text: fmt.Sprintf("✅ Relay set:\n%s ➜ %s", src, dest), Err: err}
}

func (d *Dispatcher) addDestination(ctx context.Context, req Request, args []string) Reply {
	src, err := d.resolveSource(req, "")
	if err != nil {
		return failure(err, "Select a source first with /set_source.")
	}
	dest, err := destinationArg(args)
	if err != nil {
		return failure(err, "%v", err)
	}

	rule, err := d.store.AddDestination(ctx, src, dest, req.ActorID)
	if rule.SourceID == "" {
		return failure(err, "%v", err)
	}
	return Reply{Text: fmt.Sprintf("✅ %s now relays to: %s", src, strings.Join(rule.DestinationIDs, ", ")), Err: err}
}

func (d *Dispatcher) removeDestination(ctx context.Context, req Request, args []string) Reply {
	dest := arg(args, 0)
	if dest == "" {
		return failure(ErrUsage, "Usage: /remove_destination <chat> [source]")
	}
	src, err := d.resolveSource(req, arg(args, 1))
	if err != nil {
		return failure(err, "%v", err)
	}

	rule, err := d.store.RemoveDestination(ctx, src, dest)
	switch {
	case errors.Is(err, store.ErrRuleNotFound):
		return failure(err, "No rule for %s.", src)
	case errors.Is(err, store.ErrNoDestinations):
		return failure(err, "%s is the last destination of %s. Use /remove_rule %s instead.", dest, src, src)
	case rule.SourceID == "":
		return failure(err, "%v", err)
	}
	return Reply{Text: fmt.Sprintf("✅ %s now relays to: %s", src, strings.Join(rule.DestinationIDs, ", ")), Err: err}
}

func (d *Dispatcher) removeRule(ctx context.Context, req Request, args []string) Reply {
	src, err := d.resolveSource(req, arg(args, 0))
	if err != nil {
		return failure(err, "%v", err)
	}
	removed, err := d.store.DeleteRule(ctx, src)
	if !removed {
		return failure(store.ErrRuleNotFound, "No rule for %s.", src)
	}
	return Reply{Text: fmt.Sprintf("🗑 Rule for %s removed.", src), Err: err}
}

func (d *Dispatcher) setActive(active bool) func(context.Context, Request, []string) Reply {
	return func(ctx context.Context, req Request, args []string) Reply {
		src, err := d.resolveSource(req, arg(args, 0))
		if err != nil {
			return failure(err, "%v", err)
		}
		rule, err := d.store.SetActive(ctx, src, active)
		if errors.Is(err, store.ErrRuleNotFound) {
			return failure(err, "No rule for %s.", src)
		}
		state := "paused"
		if rule.Active {
			state = "active"
		}
		return Reply{Text: fmt.Sprintf("✅ Rule for %s is %s.", src, state), Err: err}
	}
}

func (d *Dispatcher) setEnabled(enabled bool) func(context.Context, Request, []string) Reply {
	return func(ctx context.Context, _ Request, _ []string) Reply {
		err := d.store.SetEnabled(ctx, enabled)
		if enabled {
			return Reply{Text: "▶️ Relaying enabled.", Err: err}
		}
		return Reply{Text: "⏸ Relaying disabled. Rules are kept.", Err: err}
	}
}

func (d *Dispatcher) list(_ context.Context, _ Request, _ []string) Reply {
	rules := d.store.ListRules()
	if len(rules) == 0 {
		return Reply{Text: "No relay rules yet. Start with /set_source."}
	}
	var b strings.Builder
	b.WriteString("📋 Relay rules\n")
	if !d.store.Enabled() {
		b.WriteString("(relaying is disabled)\n")
	}
	for _, r := range rules {
		mark := "🟢"
		if !r.Active {
			mark = "⏸"
		}
		fmt.Fprintf(&b, "\n%s %s ➜ %s", mark, r.SourceID, strings.Join(r.DestinationIDs, ", "))
	}
	return Reply{Text: b.String()}
}

func (d *Dispatcher) stats(_ context.Context, _ Request, _ []string) Reply {
	s := d.store.Stats()
	actors := d.store.Actors()

	active := 0
	rules := d.store.ListRules()
	for _, r := range rules {
		if r.Active {
			active++
		}
	}

	var b strings.Builder
	b.WriteString("📊 Relay status\n\n")
	fmt.Fprintf(&b, "• Delivered: %d\n", s.TotalDelivered)
	fmt.Fprintf(&b, "• Errors: %d\n", s.TotalErrors)
	fmt.Fprintf(&b, "• Rules: %d (%d active)\n", len(rules), active)
	fmt.Fprintf(&b, "• Admins: %d\n", len(actors.Admins))
	fmt.Fprintf(&b, "• Relaying: %s\n", onOff(d.store.Enabled()))
	if s.LastDeliveryAt != nil {
		fmt.Fprintf(&b, "• Last delivery: %s\n", s.LastDeliveryAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "• Running since: %s", s.StartedAt.UTC().Format(time.RFC3339))
	return Reply{Text: b.String()}
}

func (d *Dispatcher) test(ctx context.Context, req Request, args []string) Reply {
	src, err := d.resolveSource(req, arg(args, 0))
	if err != nil {
		return failure(err, "%v", err)
	}
	rule, ok := d.store.GetRule(src)
	if !ok {
		return failure(store.ErrRuleNotFound, "No rule for %s.", src)
	}

	attempts := d.prober.Probe(ctx, rule, fmt.Sprintf("✅ PicoRelay test message for source %s", src))
	var (
		b      strings.Builder
		failed int
	)
	fmt.Fprintf(&b, "🧪 Test for %s\n", src)
	for _, a := range attempts {
		if a.Outcome == delivery.Delivered {
			fmt.Fprintf(&b, "\n✅ %s", a.DestinationID)
			continue
		}
		failed++
		fmt.Fprintf(&b, "\n❌ %s (%s): %s", a.DestinationID, a.Outcome, a.Detail())
	}
	reply := Reply{Text: b.String()}
	if failed > 0 {
		reply.Err = fmt.Errorf("%d of %d destinations failed", failed, len(attempts))
	}
	return reply
}

func (d *Dispatcher) addAdmin(ctx context.Context, _ Request, args []string) Reply {
	id, err := parseUserID(arg(args, 0))
	if err != nil {
		return failure(err, "Usage: /add_admin <user id>")
	}
	err = d.store.AddAdmin(ctx, id)
	return Reply{Text: fmt.Sprintf("✅ %d is now an admin.", id), Err: err}
}

func (d *Dispatcher) removeAdmin(ctx context.Context, _ Request, args []string) Reply {
	id, err := parseUserID(arg(args, 0))
	if err != nil {
		return failure(err, "Usage: /remove_admin <user id>")
	}
	removed, err := d.store.RemoveAdmin(ctx, id)
	switch {
	case errors.Is(err, store.ErrOwnerImmutable):
		return failure(err, "The owner cannot be removed.")
	case !removed && err == nil:
		return Reply{Text: fmt.Sprintf("%d is not an admin.", id)}
	}
	return Reply{Text: fmt.Sprintf("✅ %d is no longer an admin.", id), Err: err}
}

func (d *Dispatcher) save(ctx context.Context, _ Request, _ []string) Reply {
	if err := d.store.Save(ctx); err != nil {
		var perr *store.PersistenceError
		if errors.As(err, &perr) {
			err = perr.Err
		}
		return failure(err, "Save failed: %v", err)
	}
	return Reply{Text: "💾 Configuration saved."}
}

func destinationArg(args []string) (string, error) {
	dest := arg(args, 0)
	if dest == "" {
		return "", fmt.Errorf("%w: pass the destination chat id or @handle", ErrUsage)
	}
	return store.CanonicalDestinationID(dest)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
